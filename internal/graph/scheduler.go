package graph

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/pyrometer/config"
	"github.com/xtxerr/pyrometer/internal/errors"
	"github.com/xtxerr/pyrometer/internal/storage/metricsdb"
	"github.com/xtxerr/pyrometer/internal/storage/query"
	"github.com/xtxerr/pyrometer/internal/stats"
)

// WindowFunc opens a read handle on the current window. The scheduler opens
// one handle per component per tick and closes it when the component's
// evaluations finish; handles never survive a tick. Returning a not-found
// error means no window exists yet, which skips the tick quietly.
type WindowFunc func() (*metricsdb.DB, error)

// SchedulerConfig holds scheduler tuning.
type SchedulerConfig struct {
	// TickInterval is how often due nodes are checked.
	TickInterval time.Duration

	// EvalTimeout bounds one tick's evaluations.
	EvalTimeout time.Duration

	// ResultsSize is the results channel capacity.
	ResultsSize int
}

// DefaultSchedulerConfig returns default scheduler tuning.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		TickInterval: config.DefaultGraphTickInterval,
		EvalTimeout:  config.DefaultEvalTimeout,
		ResultsSize:  64,
	}
}

// Scheduler drives recurring evaluation of an analysis graph. Each tick it
// collects the nodes whose interval has elapsed and evaluates them in
// dependency order within their connected component; independent components
// run in parallel.
type Scheduler struct {
	graph    *Graph
	window   WindowFunc
	reporter stats.Reporter

	mu        sync.Mutex
	next      map[string]int64 // node -> next due time, unix ms
	overrides map[string]time.Duration

	results  chan *Result
	shutdown chan struct{}
	wg       sync.WaitGroup

	tickInterval time.Duration
	evalTimeout  time.Duration

	ticks   atomic.Int64
	evals   atomic.Int64
	dropped atomic.Int64
}

// NewScheduler creates a scheduler over a graph. The window function
// supplies read handles on the current window.
func NewScheduler(g *Graph, window WindowFunc, reporter stats.Reporter, cfg *SchedulerConfig) *Scheduler {
	if cfg == nil {
		cfg = DefaultSchedulerConfig()
	}
	if reporter == nil {
		reporter = stats.Nop{}
	}
	return &Scheduler{
		graph:        g,
		window:       window,
		reporter:     reporter,
		next:         make(map[string]int64),
		overrides:    make(map[string]time.Duration),
		results:      make(chan *Result, cfg.ResultsSize),
		shutdown:     make(chan struct{}),
		tickInterval: cfg.TickInterval,
		evalTimeout:  cfg.EvalTimeout,
	}
}

// Results returns the channel of evaluation results. Results are dropped,
// not blocked on, when the consumer falls behind.
func (s *Scheduler) Results() <-chan *Result {
	return s.results
}

// OverrideInterval replaces a node's declared evaluation interval without
// touching graph topology. Meant for tests and debugging.
func (s *Scheduler) OverrideInterval(node string, interval time.Duration) error {
	if _, err := s.graph.Node(node); err != nil {
		return err
	}
	if interval <= 0 {
		return errors.Wrapf(errors.ErrInvalidInterval, "override %v", interval)
	}

	s.mu.Lock()
	s.overrides[node] = interval
	s.mu.Unlock()

	log.Debug("interval override set", "node", node, "interval", interval)
	return nil
}

// ClearOverride restores a node's declared interval.
func (s *Scheduler) ClearOverride(node string) {
	s.mu.Lock()
	delete(s.overrides, node)
	s.mu.Unlock()
}

// interval returns the node's effective interval. Caller holds s.mu.
func (s *Scheduler) interval(n *Node) time.Duration {
	if override, ok := s.overrides[n.Name]; ok {
		return override
	}
	return time.Duration(n.IntervalSec) * time.Second
}

// Start begins the tick loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
	log.Info("graph scheduler started",
		"nodes", s.graph.Len(),
		"tick_interval", s.tickInterval)
}

// Stop halts the tick loop and waits for in-flight evaluations.
func (s *Scheduler) Stop() {
	log.Info("graph scheduler stopping")
	close(s.shutdown)
	s.wg.Wait()
	close(s.results)
	log.Info("graph scheduler stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick(time.Now())
		case <-s.shutdown:
			return
		}
	}
}

// Tick evaluates every node due at the given instant. Exposed so tests and
// callers with their own timing source can drive the graph directly.
func (s *Scheduler) Tick(now time.Time) {
	s.ticks.Add(1)
	nowMs := now.UnixMilli()

	due := make(map[string]bool)
	s.mu.Lock()
	for _, component := range s.graph.Components() {
		for _, n := range component {
			next, ok := s.next[n.Name]
			if !ok || next <= nowMs {
				due[n.Name] = true
				s.next[n.Name] = nowMs + s.interval(n).Milliseconds()
			}
		}
	}
	s.mu.Unlock()
	if len(due) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.evalTimeout)
	defer cancel()

	var eg errgroup.Group
	for _, component := range s.graph.Components() {
		runnable := false
		for _, n := range component {
			if due[n.Name] {
				runnable = true
				break
			}
		}
		if !runnable {
			continue
		}
		component := component
		eg.Go(func() error {
			s.evaluateComponent(ctx, component, due)
			return nil
		})
	}
	eg.Wait()
}

// evaluateComponent runs one component's due nodes in topological order
// against a fresh read handle on the current window.
func (s *Scheduler) evaluateComponent(ctx context.Context, component []*Node, due map[string]bool) {
	db, err := s.window()
	if err != nil {
		if errors.IsNotFound(err) {
			log.Debug("no window available, skipping component")
			return
		}
		log.Error("window open failed", "error", err)
		s.reporter.Record(errors.KindGraphEvalError)
		return
	}
	defer db.Close()

	engine := query.New(db, s.reporter)
	for _, n := range component {
		if !due[n.Name] {
			continue
		}
		if !n.tryBegin() {
			log.Warn("node still evaluating, skipped", "node", n.Name)
			continue
		}
		res, err := n.Evaluate(ctx, engine)
		n.finish()
		s.evals.Add(1)

		if err != nil {
			log.Error("node evaluation failed", "node", n.Name, "error", err)
			s.reporter.Record(errors.KindGraphEvalError)
			continue
		}
		n.setLast(res)
		if res == nil {
			continue
		}
		select {
		case s.results <- res:
		default:
			s.dropped.Add(1)
		}
	}
}

// Stats returns tick, evaluation and dropped-result counts.
func (s *Scheduler) Stats() (ticks, evals, dropped int64) {
	return s.ticks.Load(), s.evals.Load(), s.dropped.Load()
}
