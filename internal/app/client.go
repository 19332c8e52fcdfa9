package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/rudp/internal/protocol"
	"github.com/1ureka/rudp/internal/stats"
	"github.com/1ureka/rudp/internal/transport"
	"github.com/1ureka/rudp/internal/util"
)

// Channels used by the demo. Chat needs every line delivered in order; pings
// are disposable.
const (
	ChatChannel = 0
	PingChannel = 1
)

const (
	// PingInterval is how often the client probes latency.
	PingInterval = time.Second
	// EchoWait bounds how long the client waits for outstanding echoes once
	// its input is exhausted.
	EchoWait = 2 * time.Second
)

// errPeerGone ends the client's goroutine group once the connection closes.
var errPeerGone = errors.New("connection closed")

// RunClient orchestrates the client lifecycle:
//  1. Dial the host
//  2. Send every line of in as a chat frame
//  3. Ping the host periodically
//  4. Print echoes and round-trip times to out
//
// It returns when in is exhausted, the connection drops, or ctx is cancelled.
func RunClient(ctx context.Context, address string, port int, opts transport.Options, in io.Reader, out io.Writer) error {
	c, err := transport.Dial(ctx, address, port, opts)
	if err != nil {
		return err
	}
	defer c.Disconnect()

	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	counters := opts.Counters
	if counters == nil {
		counters = &stats.Counters{}
	}
	stats.StartReporter(ctx, clk, ReportInterval, counters)

	g, gctx := errgroup.WithContext(ctx)

	lines := make(chan string)
	go scanLines(in, lines)

	var sent, echoed atomic.Int64

	g.Go(func() error {
		var seq uint32
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					awaitEchoes(gctx, &sent, &echoed)
					c.Disconnect()
					return errPeerGone
				}
				seq++
				f := &protocol.Frame{Type: protocol.TypeChat, Seq: seq, SentAt: clk.Now().UnixNano(), Payload: []byte(line)}
				if !c.Send(ChatChannel, protocol.Encode(f)) {
					util.LogWarning("line %d not sent", seq)
					continue
				}
				sent.Add(1)
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		ticker := clk.Ticker(PingInterval)
		defer ticker.Stop()
		var seq uint32
		for {
			select {
			case <-ticker.C:
				seq++
				c.Send(PingChannel, protocol.Encode(&protocol.Frame{Type: protocol.TypePing, Seq: seq, SentAt: clk.Now().UnixNano()}))
			case <-gctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		for {
			msg, err := c.Receive(gctx)
			if err != nil {
				if errors.Is(err, io.EOF) {
					return errPeerGone
				}
				return nil
			}
			f, err := protocol.Decode(msg.Payload)
			if err != nil {
				util.LogWarning("bad frame from host: %v", err)
				continue
			}
			switch f.Type {
			case protocol.TypeChat:
				fmt.Fprintf(out, "echo #%d: %s\n", f.Seq, f.Payload)
				echoed.Add(1)
			case protocol.TypePong:
				rtt := clk.Now().Sub(time.Unix(0, f.SentAt))
				util.LogDebug("pong #%d rtt=%s engine=%s", f.Seq, rtt, c.Stats().RoundTripTime)
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errPeerGone) {
		return err
	}
	return nil
}

// awaitEchoes waits until every sent line has been echoed, EchoWait passes,
// or ctx ends.
func awaitEchoes(ctx context.Context, sent, echoed *atomic.Int64) {
	deadline := time.NewTimer(EchoWait)
	defer deadline.Stop()
	poll := time.NewTicker(10 * time.Millisecond)
	defer poll.Stop()

	for echoed.Load() < sent.Load() {
		select {
		case <-poll.C:
		case <-deadline.C:
			util.LogWarning("%d lines never echoed", sent.Load()-echoed.Load())
			return
		case <-ctx.Done():
			return
		}
	}
}

// scanLines feeds non-empty lines of r into lines and closes it at EOF.
func scanLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines <- line
		}
	}
}
