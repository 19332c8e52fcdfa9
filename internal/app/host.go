// Package app contains the top-level orchestration for host and client roles
// of the demo: the host echoes chat lines and answers pings, the client
// sends stdin lines and measures latency.
package app

import (
	"context"
	"errors"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/1ureka/rudp/internal/protocol"
	"github.com/1ureka/rudp/internal/stats"
	"github.com/1ureka/rudp/internal/transport"
	"github.com/1ureka/rudp/internal/util"
)

// ReportInterval is how often traffic totals are logged.
const ReportInterval = time.Second

// RunHost orchestrates the host lifecycle:
//  1. Start the server on the configured address
//  2. Accept connections until ctx is cancelled
//  3. Serve every connection on its own goroutine
//  4. Shut the server down, dropping every peer
//
// ready, if non-nil, receives the started server before connections are
// accepted.
func RunHost(ctx context.Context, opts transport.Options, ready func(*transport.Server)) error {
	srv, err := transport.Listen(opts)
	if err != nil {
		return err
	}
	defer srv.Shutdown()

	if ready != nil {
		ready(srv)
	}

	stats.StartReporter(ctx, opts.Clock, ReportInterval, srv.Counters())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		srv.Shutdown()
		return nil
	})

	g.Go(func() error {
		for {
			c, err := srv.Accept(gctx)
			switch {
			case errors.Is(err, transport.ErrServerClosed), gctx.Err() != nil:
				return nil
			case err != nil:
				return err
			}
			g.Go(func() error {
				serve(gctx, c)
				return nil
			})
		}
	})

	return g.Wait()
}

// serve echoes chat frames and answers pings on the channel they came in on.
func serve(ctx context.Context, c *transport.Connection) {
	util.LogInfo("serving peer %d from %s", c.ID(), c.RemoteAddr())

	for {
		msg, err := c.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				util.LogInfo("peer %d left", c.ID())
			}
			return
		}

		f, err := protocol.Decode(msg.Payload)
		if err != nil {
			util.LogWarning("peer %d: %v", c.ID(), err)
			continue
		}

		switch f.Type {
		case protocol.TypeChat:
			util.LogDebug("peer %d says %q", c.ID(), f.Payload)
			c.Send(int(msg.Channel), protocol.Encode(f))
		case protocol.TypePing:
			c.Send(int(msg.Channel), protocol.Encode(protocol.Pong(f)))
		default:
			util.LogDebug("peer %d: unexpected %s frame", c.ID(), protocol.TypeName(f.Type))
		}
	}
}
