package system

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner executes systems in phase order each tick. Within a phase, systems
// are grouped into stages of mutually compatible accesses. A stage runs its
// worker systems concurrently and its host systems one after another through
// the HostExecutor; the next stage starts when all of them are done.
type Runner struct {
	systems    []System
	sorted     bool
	stages     map[Phase][]stage
	host       HostExecutor
	maxWorkers int
	log        *zap.Logger
}

type stage struct {
	access  []Access
	workers []System
	host    []System
}

// Option configures a Runner.
type Option func(*Runner)

// WithHostExecutor routes host systems through exec. Defaults to Inline.
func WithHostExecutor(exec HostExecutor) Option {
	return func(r *Runner) { r.host = exec }
}

// WithMaxWorkers bounds the worker goroutines of a stage. Defaults to GOMAXPROCS.
func WithMaxWorkers(n int) Option {
	return func(r *Runner) { r.maxWorkers = n }
}

func NewRunner(log *zap.Logger, opts ...Option) *Runner {
	r := &Runner{
		systems:    make([]System, 0, 16),
		host:       Inline{},
		maxWorkers: runtime.GOMAXPROCS(0),
		log:        log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Register(s System) {
	r.systems = append(r.systems, s)
	r.sorted = false
}

// Tick runs every phase. A panicking system is recovered and logged; the
// tick continues and the joined errors are returned.
func (r *Runner) Tick(dt time.Duration) error {
	r.ensureSorted()
	var errs []error
	for p := PhaseFirst; p <= PhaseCleanup; p++ {
		if err := r.runPhase(p, dt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TickPhase runs only the systems of the given phase.
func (r *Runner) TickPhase(phase Phase, dt time.Duration) error {
	r.ensureSorted()
	return r.runPhase(phase, dt)
}

func (r *Runner) runPhase(p Phase, dt time.Duration) error {
	var errs []error
	for i := range r.stages[p] {
		if err := r.runStage(&r.stages[p][i], dt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) runStage(st *stage, dt time.Duration) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		if err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	}

	if len(st.workers) == 1 && len(st.host) == 0 {
		record(r.safeUpdate(st.workers[0], dt))
		return errors.Join(errs...)
	}

	var g errgroup.Group
	if r.maxWorkers > 0 {
		g.SetLimit(r.maxWorkers)
	}
	for _, s := range st.workers {
		s := s
		g.Go(func() error {
			record(r.safeUpdate(s, dt))
			return nil
		})
	}
	if len(st.host) > 0 {
		r.host.Do(func() {
			for _, s := range st.host {
				record(r.safeUpdate(s, dt))
			}
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// safeUpdate executes a system with panic recovery so one failing system
// cannot take the whole loop down.
func (r *Runner) safeUpdate(s System, dt time.Duration) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			name := systemName(s)
			r.log.Error("system panic recovered",
				zap.String("system", name),
				zap.String("phase", s.Phase().String()),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("system %s panicked: %v", name, rec)
		}
	}()
	s.Update(dt)
	return nil
}

func (r *Runner) ensureSorted() {
	if r.sorted {
		return
	}
	sort.SliceStable(r.systems, func(i, j int) bool {
		return r.systems[i].Phase() < r.systems[j].Phase()
	})
	r.stages = make(map[Phase][]stage)
	for _, s := range r.systems {
		p := s.Phase()
		acc := accessOf(s)
		stages := r.stages[p]
		if n := len(stages); n == 0 || stages[n-1].conflictsWith(acc) {
			stages = append(stages, stage{})
		}
		st := &stages[len(stages)-1]
		st.access = append(st.access, acc)
		if acc.Host {
			st.host = append(st.host, s)
		} else {
			st.workers = append(st.workers, s)
		}
		r.stages[p] = stages
	}
	r.sorted = true
}

func (st *stage) conflictsWith(acc Access) bool {
	for _, other := range st.access {
		if conflicts(other, acc) {
			return true
		}
	}
	return false
}

// Stages reports the stage layout of a phase as system names, host systems
// last within each stage. Used for diagnostics.
func (r *Runner) Stages(p Phase) [][]string {
	r.ensureSorted()
	out := make([][]string, 0, len(r.stages[p]))
	for _, st := range r.stages[p] {
		names := make([]string, 0, len(st.workers)+len(st.host))
		for _, s := range st.workers {
			names = append(names, systemName(s))
		}
		for _, s := range st.host {
			names = append(names, systemName(s))
		}
		out = append(out, names)
	}
	return out
}

func systemName(s System) string {
	if n, ok := s.(Namer); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}
