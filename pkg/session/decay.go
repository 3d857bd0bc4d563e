package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/eventstream"
	"github.com/papercomputeco/strata/pkg/eventstream/nop"
	"github.com/papercomputeco/strata/pkg/ingest"
	"github.com/papercomputeco/strata/pkg/logger"
	"github.com/papercomputeco/strata/pkg/tree"
	"github.com/papercomputeco/strata/pkg/uri"
)

// DecayAction is what happens to an expired memory.
type DecayAction string

const (
	DecayDemote DecayAction = "demote"
	DecayDelete DecayAction = "delete"
)

// ParseDecayAction validates a configured action; empty means demote.
func ParseDecayAction(s string) (DecayAction, error) {
	switch a := DecayAction(s); a {
	case "":
		return DecayDemote, nil
	case DecayDemote, DecayDelete:
		return a, nil
	}
	return "", errs.Invalid("decay_action", s, "expected demote or delete")
}

// DecayConfig is the age policy for session-derived memories.
type DecayConfig struct {
	// MaxAge is how long a memory may go unreferenced. Defaults to 30 days.
	MaxAge time.Duration

	// Interval between runs started by Start. Defaults to one hour.
	Interval time.Duration

	Action DecayAction
}

// DecayReport lists the memories a run acted on.
type DecayReport struct {
	Action   DecayAction `json:"action"`
	Affected []string    `json:"affected"`
}

// Decayer demotes or removes memories that no retrieval ever returned.
// Resource-origin nodes are never touched.
type Decayer struct {
	tree      *tree.Tree
	ingest    *ingest.Pipeline
	publisher eventstream.Publisher
	cfg       DecayConfig
	logger    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDecayer creates a decayer. A nil publisher drops events.
func NewDecayer(t *tree.Tree, p *ingest.Pipeline, pub eventstream.Publisher, cfg DecayConfig, log *slog.Logger) (*Decayer, error) {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * 24 * time.Hour
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	action, err := ParseDecayAction(string(cfg.Action))
	if err != nil {
		return nil, err
	}
	cfg.Action = action
	if pub == nil {
		pub = nop.NewPublisher()
	}
	return &Decayer{
		tree:      t,
		ingest:    p,
		publisher: pub,
		cfg:       cfg,
		logger:    logger.Component(log, "decay"),
	}, nil
}

// expired reports whether n is a session memory past the age policy.
func (d *Decayer) expired(n *tree.Node, now time.Time) bool {
	if n.Kind != tree.KindMemory || n.Provenance.Origin != tree.OriginSession {
		return false
	}
	if !n.ReferencedAt.IsZero() || now.Sub(n.Provenance.CreatedAt) <= d.cfg.MaxAge {
		return false
	}
	return d.cfg.Action == DecayDelete || !n.Demoted
}

// Run applies the policy once, as of now.
func (d *Decayer) Run(ctx context.Context, now time.Time) (*DecayReport, error) {
	nodes, err := d.tree.List(uri.Root, true)
	if err != nil {
		return nil, err
	}

	report := &DecayReport{Action: d.cfg.Action, Affected: []string{}}
	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !d.expired(n, now) {
			continue
		}

		var err error
		switch d.cfg.Action {
		case DecayDelete:
			_, err = d.ingest.Remove(ctx, n.URI)
		default:
			err = d.demote(ctx, n.URI)
		}
		if errs.IsNotFound(err) {
			continue
		}
		if err != nil {
			return report, fmt.Errorf("decaying %s: %w", n.URI, err)
		}

		report.Affected = append(report.Affected, n.URI)
		d.publish(ctx, n.URI)
	}

	if len(report.Affected) > 0 {
		d.logger.Info("memories decayed", "action", d.cfg.Action, "count", len(report.Affected))
	}
	return report, nil
}

func (d *Decayer) demote(ctx context.Context, u string) error {
	return tree.RetryOnConflict(ctx, 5, func() error {
		n, err := d.tree.Resolve(u)
		if err != nil {
			return err
		}
		_, err = d.tree.Update(ctx, u, n.Version, func(n *tree.Node) error {
			n.Demoted = true
			return nil
		})
		return err
	})
}

func (d *Decayer) publish(ctx context.Context, u string) {
	ev := eventstream.NewEvent(eventstream.EventTypeMemoryDecayed, u, map[string]string{"action": string(d.cfg.Action)})
	if err := d.publisher.Publish(ctx, ev); err != nil {
		d.logger.Warn("publishing event failed", "event_type", ev.EventType, "err", err)
	}
}

// Start runs the policy every Interval until ctx ends or Stop is called.
// Starting a running decayer is a no-op.
func (d *Decayer) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done != nil {
		return
	}

	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	go d.loop(ctx, d.done)
}

func (d *Decayer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := d.Run(ctx, now); err != nil && ctx.Err() == nil {
				d.logger.Error("decay run failed", "err", err)
			}
		}
	}
}

// Stop halts a started decayer and waits for an in-flight run.
func (d *Decayer) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
