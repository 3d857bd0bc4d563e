// Package jobgraph schedules background processing as an explicit dependency
// graph. Jobs live in an arena and are addressed by generation-checked ids;
// a job becomes ready once every job it runs after has finished, is handed to
// the worker pool of its kind, and is retried with exponential backoff when
// it fails with a provider error.
package jobgraph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/papercomputeco/strata/pkg/errs"
	"github.com/papercomputeco/strata/pkg/logger"
	"github.com/papercomputeco/strata/pkg/uri"
	"github.com/papercomputeco/strata/pkg/worker"
)

// Kind selects the worker pool a job runs on.
type Kind string

const (
	KindParse Kind = "parse"
	KindTier  Kind = "tier"
	KindEmbed Kind = "embed"
)

// State of a job in the graph.
type State int

const (
	StateWaiting State = iota
	StateReady
	StateRunning
	StateRetrying
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateRetrying:
		return "retrying"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) active() bool {
	return s < StateDone
}

// ID addresses a job in the arena. The zero ID is never issued.
type ID struct {
	index uint32
	gen   uint32
}

// Valid reports whether id was issued by a graph.
func (id ID) Valid() bool {
	return id.gen != 0
}

func (id ID) String() string {
	return fmt.Sprintf("%d.%d", id.index, id.gen)
}

// Spec describes a job.
type Spec struct {
	Kind Kind

	// Key identifies the work. Adding a job whose key matches one that has
	// not started yet returns the existing job instead.
	Key string

	// URI scopes the job for Wait and Failures.
	URI string

	// After lists jobs that must finish, successfully or not, first.
	After []ID

	// Run performs the work. Only errors satisfying errs.IsProvider are
	// retried.
	Run func(ctx context.Context) error

	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(ctx context.Context, err error, attempt int)

	// OnFail is called once when the job gives up.
	OnFail func(ctx context.Context, err error)
}

// Failure records a job that gave up.
type Failure struct {
	Key      string
	Kind     Kind
	URI      string
	Err      string
	Attempts int
	At       time.Time
}

// Info is a snapshot of an active job.
type Info struct {
	ID       ID
	Kind     Kind
	Key      string
	URI      string
	State    State
	Attempts int
}

// Config holds the graph's pools and retry policy.
type Config struct {
	// Pools maps each job kind to the pool that executes it.
	Pools map[Kind]*worker.Pool

	// MaxPending bounds unfinished jobs; Add fails with errs.ErrCapacity
	// beyond it. Defaults to 10000.
	MaxPending int

	// MaxRetries is the number of retries after the first attempt.
	// Defaults to 3; negative disables retries.
	MaxRetries int

	// InitialBackoff defaults to 200ms, MaxBackoff to 10s.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Logger *slog.Logger
}

type job struct {
	gen        uint32
	spec       Spec
	state      State
	waitingOn  int
	dependents []ID
	attempts   int
	backoff    backoff.BackOff
	timer      *time.Timer
}

type lane struct {
	pool   *worker.Pool
	ready  []ID
	signal chan struct{}
}

// Graph is the job scheduler.
type Graph struct {
	mu       sync.Mutex
	jobs     []job
	free     []uint32
	byKey    map[string]ID
	lanes    map[Kind]*lane
	pending  int
	changed  chan struct{}
	failures map[string]Failure
	closed   bool

	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// New creates a graph and starts one dispatcher per pool.
func New(cfg Config) (*Graph, error) {
	if len(cfg.Pools) == 0 {
		return nil, fmt.Errorf("jobgraph: no worker pools configured")
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 10000
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Graph{
		// index 0 is reserved so the zero ID stays invalid
		jobs:     make([]job, 1),
		byKey:    make(map[string]ID),
		lanes:    make(map[Kind]*lane, len(cfg.Pools)),
		changed:  make(chan struct{}),
		failures: make(map[string]Failure),
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.Component(cfg.Logger, "jobgraph"),
	}

	for kind, pool := range cfg.Pools {
		l := &lane{pool: pool, signal: make(chan struct{}, 1)}
		g.lanes[kind] = l
		g.wg.Add(1)
		go g.dispatch(kind, l)
	}

	return g, nil
}

// Add inserts a job. It returns the id of an equivalent not-yet-started job
// when Key matches one.
func (g *Graph) Add(spec Spec) (ID, error) {
	if spec.Run == nil {
		return ID{}, errs.Invalid("job", spec.Key, "missing run function")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ID{}, errs.ErrClosed
	}
	if _, ok := g.lanes[spec.Kind]; !ok {
		return ID{}, errs.Invalid("job kind", string(spec.Kind), "no pool configured")
	}

	if spec.Key != "" {
		if prev, ok := g.byKey[spec.Key]; ok {
			if id, ok := g.coalesce(prev, spec); ok {
				return id, nil
			}
			// prev already started: run again after it
			spec.After = append(spec.After, prev)
		}
	}

	if g.pending >= g.cfg.MaxPending {
		return ID{}, fmt.Errorf("%w: %d pending jobs", errs.ErrCapacity, g.pending)
	}

	id := g.alloc()
	j := g.slot(id)
	j.spec = spec
	j.state = StateWaiting
	j.backoff = g.newBackoff()

	for _, dep := range spec.After {
		d := g.slot(dep)
		if d == nil || !d.state.active() {
			continue
		}
		d.dependents = append(d.dependents, id)
		j.waitingOn++
	}

	g.pending++
	if spec.Key != "" {
		g.byKey[spec.Key] = id
	}
	if j.waitingOn == 0 {
		g.makeReady(id, j)
	}

	return id, nil
}

// coalesce merges spec into prev when prev has not started. Runs under g.mu.
func (g *Graph) coalesce(prev ID, spec Spec) (ID, bool) {
	j := g.slot(prev)
	if j == nil {
		return ID{}, false
	}

	switch j.state {
	case StateWaiting:
		for _, dep := range spec.After {
			d := g.slot(dep)
			if d == nil || !d.state.active() || dep == prev {
				continue
			}
			d.dependents = append(d.dependents, prev)
			j.waitingOn++
		}
		j.spec.Run, j.spec.OnFail = spec.Run, spec.OnFail
		return prev, true
	case StateReady:
		for _, dep := range spec.After {
			if d := g.slot(dep); d != nil && d.state.active() {
				return ID{}, false
			}
		}
		j.spec.Run, j.spec.OnFail = spec.Run, spec.OnFail
		return prev, true
	}

	return ID{}, false
}

func (g *Graph) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.InitialBackoff
	b.MaxInterval = g.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// alloc reserves an arena slot. Runs under g.mu.
func (g *Graph) alloc() ID {
	if n := len(g.free); n > 0 {
		idx := g.free[n-1]
		g.free = g.free[:n-1]
		gen := g.jobs[idx].gen + 1
		g.jobs[idx] = job{gen: gen}
		return ID{index: idx, gen: gen}
	}

	g.jobs = append(g.jobs, job{gen: 1})
	return ID{index: uint32(len(g.jobs) - 1), gen: 1}
}

// slot returns the live job for id, or nil once it was recycled.
// Runs under g.mu.
func (g *Graph) slot(id ID) *job {
	if !id.Valid() || int(id.index) >= len(g.jobs) {
		return nil
	}
	j := &g.jobs[id.index]
	if j.gen != id.gen {
		return nil
	}
	return j
}

// makeReady queues id on its lane. Runs under g.mu.
func (g *Graph) makeReady(id ID, j *job) {
	j.state = StateReady
	l := g.lanes[j.spec.Kind]
	l.ready = append(l.ready, id)
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

func (g *Graph) dispatch(kind Kind, l *lane) {
	defer g.wg.Done()

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-l.signal:
		}

		g.mu.Lock()
		batch := l.ready
		l.ready = nil
		g.mu.Unlock()

		for i, id := range batch {
			err := l.pool.Submit(g.ctx, func(ctx context.Context) { g.execute(ctx, id) })
			if err != nil {
				g.logger.Debug("dispatch stopped", "kind", kind, "err", err)
				g.abandon(batch[i:], err)
				return
			}
		}
	}
}

// abandon finishes ids that can no longer be dispatched.
func (g *Graph) abandon(ids []ID, cause error) {
	for _, id := range ids {
		g.finish(id, cause)
	}
}

func (g *Graph) execute(ctx context.Context, id ID) {
	g.mu.Lock()
	j := g.slot(id)
	if j == nil || j.state != StateReady {
		g.mu.Unlock()
		return
	}
	if g.closed {
		g.mu.Unlock()
		g.finish(id, errs.ErrClosed)
		return
	}
	j.state = StateRunning
	j.attempts++
	spec, attempts := j.spec, j.attempts
	g.mu.Unlock()

	err := spec.Run(ctx)
	if err == nil {
		g.finish(id, nil)
		return
	}

	if errs.IsProvider(err) && attempts <= g.cfg.MaxRetries && ctx.Err() == nil && g.retry(id, err) {
		if spec.OnRetry != nil {
			spec.OnRetry(ctx, err, attempts)
		}
		return
	}

	g.logger.Error("job failed",
		"job", spec.Key,
		"kind", spec.Kind,
		"uri", spec.URI,
		"attempt", attempts,
		"err", err,
	)
	if spec.OnFail != nil {
		spec.OnFail(ctx, err)
	}
	g.finish(id, err)
}

// retry schedules id again after its next backoff delay.
func (g *Graph) retry(id ID, cause error) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	j := g.slot(id)
	if j == nil || g.closed {
		return false
	}

	delay := j.backoff.NextBackOff()
	if delay == backoff.Stop {
		return false
	}

	j.state = StateRetrying
	j.timer = time.AfterFunc(delay, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if j := g.slot(id); j != nil && j.state == StateRetrying && !g.closed {
			j.timer = nil
			g.makeReady(id, j)
		}
	})

	g.logger.Warn("job retrying",
		"job", j.spec.Key,
		"uri", j.spec.URI,
		"attempt", j.attempts,
		"delay", delay,
		"err", cause,
	)
	return true
}

// finish completes id, releases its dependents and recycles its slot.
func (g *Graph) finish(id ID, cause error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	j := g.slot(id)
	if j == nil || !j.state.active() {
		return
	}

	if j.timer != nil {
		j.timer.Stop()
		j.timer = nil
	}
	if cause != nil {
		j.state = StateFailed
		if j.spec.Key != "" {
			g.failures[j.spec.Key] = Failure{
				Key:      j.spec.Key,
				Kind:     j.spec.Kind,
				URI:      j.spec.URI,
				Err:      cause.Error(),
				Attempts: j.attempts,
				At:       time.Now().UTC(),
			}
		}
	} else {
		j.state = StateDone
		delete(g.failures, j.spec.Key)
	}

	if cur, ok := g.byKey[j.spec.Key]; ok && cur == id {
		delete(g.byKey, j.spec.Key)
	}

	for _, dep := range j.dependents {
		d := g.slot(dep)
		if d == nil || d.state != StateWaiting {
			continue
		}
		d.waitingOn--
		if d.waitingOn == 0 {
			if g.closed {
				continue
			}
			g.makeReady(dep, d)
		}
	}

	g.pending--
	g.jobs[id.index] = job{gen: j.gen}
	g.free = append(g.free, id.index)

	close(g.changed)
	g.changed = make(chan struct{})
}

// Wait blocks until no unfinished job lies within scope, or ctx ends.
func (g *Graph) Wait(ctx context.Context, scope string) error {
	for {
		g.mu.Lock()
		n := g.countActive(scope)
		changed := g.changed
		closed := g.closed
		g.mu.Unlock()

		if n == 0 {
			return nil
		}
		if closed {
			return errs.ErrClosed
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// countActive runs under g.mu.
func (g *Graph) countActive(scope string) int {
	n := 0
	for i := 1; i < len(g.jobs); i++ {
		j := &g.jobs[i]
		if j.spec.Run != nil && j.state.active() && inScope(j.spec.URI, scope) {
			n++
		}
	}
	return n
}

func inScope(u, scope string) bool {
	return scope == "" || uri.Within(u, scope)
}

// Pending is the number of unfinished jobs within scope.
func (g *Graph) Pending(scope string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.countActive(scope)
}

// Jobs returns a snapshot of unfinished jobs within scope.
func (g *Graph) Jobs(scope string) []Info {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []Info
	for i := 1; i < len(g.jobs); i++ {
		j := &g.jobs[i]
		if j.spec.Run == nil || !j.state.active() || !inScope(j.spec.URI, scope) {
			continue
		}
		out = append(out, Info{
			ID:       ID{index: uint32(i), gen: j.gen},
			Kind:     j.spec.Kind,
			Key:      j.spec.Key,
			URI:      j.spec.URI,
			State:    j.state,
			Attempts: j.attempts,
		})
	}
	return out
}

// Failures returns jobs within scope that gave up and have not since
// succeeded.
func (g *Graph) Failures(scope string) []Failure {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []Failure
	for _, f := range g.failures {
		if inScope(f.URI, scope) {
			out = append(out, f)
		}
	}
	return out
}

// ClearFailures forgets recorded failures within scope.
func (g *Graph) ClearFailures(scope string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for k, f := range g.failures {
		if inScope(f.URI, scope) {
			delete(g.failures, k)
		}
	}
}

// Close stops dispatching. Jobs not yet running are abandoned with
// errs.ErrClosed; the pools themselves are owned by the caller.
func (g *Graph) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true

	var abandoned []ID
	for i := 1; i < len(g.jobs); i++ {
		j := &g.jobs[i]
		if j.spec.Run == nil {
			continue
		}
		switch j.state {
		case StateWaiting, StateReady, StateRetrying:
			abandoned = append(abandoned, ID{index: uint32(i), gen: j.gen})
		}
	}
	g.mu.Unlock()

	g.cancel()
	g.wg.Wait()
	g.abandon(abandoned, errs.ErrClosed)

	g.mu.Lock()
	close(g.changed)
	g.changed = make(chan struct{})
	g.mu.Unlock()
}
