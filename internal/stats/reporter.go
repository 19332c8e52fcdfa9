package stats

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/1ureka/rudp/internal/util"
)

// Counters accumulates traffic seen by one server or client. Unlike engine
// snapshots these count application payload bytes, and they are owned by the
// session that creates them.
type Counters struct {
	TotalConns  atomic.Int64 // connections admitted since start
	ClosedConns atomic.Int64 // connections torn down since start
	BytesSent   atomic.Int64 // payload bytes handed to the engine
	BytesRecv   atomic.Int64 // payload bytes delivered to inbound queues
}

func (c *Counters) AddConn()      { c.TotalConns.Add(1) }
func (c *Counters) RemoveConn()   { c.ClosedConns.Add(1) }
func (c *Counters) AddSent(n int) { c.BytesSent.Add(int64(n)) }
func (c *Counters) AddRecv(n int) { c.BytesRecv.Add(int64(n)) }

// Live returns the number of connections currently open.
func (c *Counters) Live() int64 {
	return c.TotalConns.Load() - c.ClosedConns.Load()
}

// StartReporter launches a goroutine that logs throughput and connection
// churn for counters every interval. It stops when ctx is cancelled. Quiet
// periods are not logged.
func StartReporter(ctx context.Context, clk clock.Clock, interval time.Duration, counters *Counters) {
	if interval <= 0 {
		return
	}
	if clk == nil {
		clk = clock.New()
	}

	go func() {
		ticker := clk.Ticker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		var prevSent, prevRecv, prevTotal, prevClosed int64
		for {
			select {
			case <-ticker.C:
				total := counters.TotalConns.Load()
				closed := counters.ClosedConns.Load()
				sent := counters.BytesSent.Load()
				recv := counters.BytesRecv.Load()

				inS := float64(recv-prevRecv) / secs
				outS := float64(sent-prevSent) / secs
				inC := total - prevTotal
				outC := closed - prevClosed

				if inC > 0 || outC > 0 || inS > 10 || outS > 10 {
					util.LogInfo("%s", formatStats(inS, outS, inC, outC))
				}

				prevSent = sent
				prevRecv = recv
				prevTotal = total
				prevClosed = closed

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a fixed-width (8 chars) string,
// for example "99.0   B", " 1.5 KiB", "98.9 GiB".
func formatBytes(b float64) string {
	unitIdx := 0

	// keep it to 4 digits so "100.0 KiB" never happens
	for b > 99 && unitIdx < len(byteUnits)-1 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats renders one report line.
func formatStats(inS, outS float64, inC, outC int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Conn: %2d↑ %2d↓",
		formatBytes(inS),
		formatBytes(outS),
		inC,
		outC,
	)
}
