package transport

import (
	"fmt"

	"github.com/benbjohnson/clock"

	"github.com/1ureka/rudp/engine"
	"github.com/1ureka/rudp/internal/channel"
	"github.com/1ureka/rudp/internal/config"
	"github.com/1ureka/rudp/internal/packet"
	"github.com/1ureka/rudp/internal/stats"
	"github.com/1ureka/rudp/internal/util"
)

// Options configures Dial and Listen.
type Options struct {
	Config config.Config
	Engine engine.Engine

	// Clock drives the statistics sampler. Nil means the wall clock.
	Clock clock.Clock
	// Metrics receives every sampled snapshot. Nil disables export.
	Metrics *stats.Metrics
	// Counters accumulates traffic totals. Nil allocates a private set.
	Counters *stats.Counters
}

// resolved is Options after validation, shared by client and server setup.
type resolved struct {
	Options
	policy *channel.Policy
	guard  *packet.Guard
}

func (o Options) resolve() (resolved, error) {
	if o.Engine == nil {
		return resolved{}, ErrNoEngine
	}
	if err := o.Config.Validate(); err != nil {
		return resolved{}, fmt.Errorf("invalid config: %w", err)
	}
	policy, err := o.Config.Policy()
	if err != nil {
		return resolved{}, err
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Counters == nil {
		o.Counters = &stats.Counters{}
	}
	if o.Config.Debug {
		util.EnableDebug()
	}
	return resolved{
		Options: o,
		policy:  policy,
		guard:   packet.NewGuard(o.Config.MaxPacketSize),
	}, nil
}
