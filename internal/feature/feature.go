// Package feature implements the lifecycle manager: a registry of named,
// dependency-ordered subsystems started and stopped together by the
// composition root in internal/daemon.
package feature

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Health is the externally observable state of a registered feature.
type Health string

const (
	HealthUnknown  Health = "unknown"
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthFailed   Health = "failed"
)

// Stage tracks a feature's position in the registered → initialized →
// started → stopped lifecycle; degraded/healthy is orthogonal and
// reported separately via Health.
type Stage string

const (
	StageRegistered  Stage = "registered"
	StageInitialized Stage = "initialized"
	StageStarted     Stage = "started"
	StageStopped     Stage = "stopped"
	StageFailed      Stage = "failed"
)

// DefaultInitTimeout and DefaultStopTimeout are the per-feature
// cancellation deadlines the spec mandates.
const (
	DefaultInitTimeout = 30 * time.Second
	DefaultStopTimeout = 10 * time.Second
)

// Feature is implemented by every subsystem the composition root wires
// through the manager (CAN Transport, Dispatcher, Entity Store,
// Broadcaster, the API server, ...).
type Feature interface {
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// Health reports the feature's current health; HealthUnknown before
	// it has started sampling anything meaningful.
	Health() Health
}

// registration is the manager's internal record for one feature.
type registration struct {
	name     string
	feature  Feature
	deps     []string
	hardDeps map[string]bool // subset of deps declared hard; recorded only, see Register
	enabled  bool

	stage    Stage
	unclean  bool
	mu       sync.Mutex
}

// Manager is the registry plus the topological scheduler.
type Manager struct {
	log  *slog.Logger
	regs map[string]*registration
	// waves is populated by Resolve and consumed by Start/Stop.
	waves [][]string
}

// New constructs an empty Manager.
func New(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{log: log, regs: make(map[string]*registration)}
}

// Register adds a feature to the registry. deps names every feature this
// one depends on and drives start order and pruning. hardDeps is recorded
// on the registration but nothing reads it: the manager stops no feature
// when one of its dependencies reports a failed health.
func (m *Manager) Register(name string, f Feature, deps []string, hardDeps []string, enabledDefault bool) {
	hd := make(map[string]bool, len(hardDeps))
	for _, h := range hardDeps {
		hd[h] = true
	}
	m.regs[name] = &registration{
		name: name, feature: f, deps: deps, hardDeps: hd,
		enabled: enabledDefault, stage: StageRegistered,
	}
}

// ApplyOverrides layers environment-sourced enabled/disabled overrides on
// top of each feature's file default; overrides supersede defaults.
func (m *Manager) ApplyOverrides(overrides map[string]bool) {
	for name, enabled := range overrides {
		if r, ok := m.regs[name]; ok {
			r.enabled = enabled
		}
	}
}

// Resolve computes the topological wave order and prunes features whose
// dependency is disabled, logging each pruning decision. Must be called
// before Start.
func (m *Manager) Resolve() error {
	deps := make(map[string][]string, len(m.regs))
	for name, r := range m.regs {
		deps[name] = r.deps
	}
	waves, err := topoSort(deps)
	if err != nil {
		return err
	}
	m.waves = waves

	// Pruning must respect wave order: a dependency disabled in an
	// earlier wave must propagate before we evaluate a later wave.
	for _, wave := range waves {
		for _, name := range wave {
			r := m.regs[name]
			if !r.enabled {
				continue
			}
			for _, dep := range r.deps {
				if !m.regs[dep].enabled {
					r.enabled = false
					m.log.Info("feature: pruned, dependency disabled", "feature", name, "dependency", dep)
					break
				}
			}
		}
	}
	return nil
}

// Start initializes and starts every enabled feature, wave by wave; all
// features within a wave run concurrently via errgroup, and the next
// wave waits for the current one via errgroup's implicit barrier. If any
// feature in a wave fails to initialize or start, already-started
// features are stopped in reverse order and the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	var started []string

	for _, wave := range m.waves {
		g, gctx := errgroup.WithContext(ctx)
		for _, name := range wave {
			r := m.regs[name]
			if !r.enabled {
				continue
			}
			g.Go(func() error {
				initCtx, cancel := context.WithTimeout(gctx, DefaultInitTimeout)
				defer cancel()
				if err := r.feature.Init(initCtx); err != nil {
					m.setStage(r, StageFailed)
					return fmt.Errorf("feature %q: init: %w", r.name, err)
				}
				m.setStage(r, StageInitialized)
				// Start gets ctx, not initCtx or gctx: both are cancelled once
				// this wave is done, and started components keep their context.
				if err := r.feature.Start(ctx); err != nil {
					m.setStage(r, StageFailed)
					return fmt.Errorf("feature %q: start: %w", r.name, err)
				}
				m.setStage(r, StageStarted)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			for _, name := range wave {
				if m.regs[name].stage == StageStarted {
					started = append(started, name)
				}
			}
			reversed := make([]string, len(started))
			for i, n := range started {
				reversed[len(started)-1-i] = n
			}
			m.stopInOrder(ctx, reversed)
			return err
		}
		for _, name := range wave {
			if m.regs[name].enabled {
				started = append(started, name)
			}
		}
	}
	return nil
}

// Stop stops every started feature in reverse topological order, each
// bounded by DefaultStopTimeout; a feature that exceeds its timeout is
// recorded unclean and the process continues rather than blocking
// shutdown indefinitely.
func (m *Manager) Stop(ctx context.Context) {
	var all []string
	for _, wave := range reverseWaves(m.waves) {
		all = append(all, wave...)
	}
	m.stopInOrder(ctx, all)
}

// stopInOrder stops each named feature in the given order (the caller is
// responsible for passing names in reverse-start order).
func (m *Manager) stopInOrder(ctx context.Context, names []string) {
	for _, name := range names {
		r := m.regs[name]
		if r.stage != StageStarted {
			continue
		}
		stopCtx, cancel := context.WithTimeout(ctx, DefaultStopTimeout)
		done := make(chan error, 1)
		go func() { done <- r.feature.Stop(stopCtx) }()

		select {
		case err := <-done:
			if err != nil {
				m.log.Warn("feature: stop returned error", "feature", r.name, "error", err)
			}
		case <-stopCtx.Done():
			r.mu.Lock()
			r.unclean = true
			r.mu.Unlock()
			m.log.Warn("feature: stop exceeded timeout, marking unclean", "feature", r.name, "timeout", DefaultStopTimeout)
		}
		cancel()
		m.setStage(r, StageStopped)
	}
}

func (m *Manager) setStage(r *registration, s Stage) {
	r.mu.Lock()
	r.stage = s
	r.mu.Unlock()
}

// Status is a point-in-time snapshot of one feature's lifecycle state,
// surfaced on the /features endpoint.
type Status struct {
	Name    string
	Enabled bool
	Stage   Stage
	Health  Health
	Unclean bool
}

// Statuses returns every registered feature's current status.
func (m *Manager) Statuses() []Status {
	out := make([]Status, 0, len(m.regs))
	for _, wave := range m.waves {
		for _, name := range wave {
			r := m.regs[name]
			r.mu.Lock()
			out = append(out, Status{
				Name: r.name, Enabled: r.enabled, Stage: r.stage,
				Health: r.feature.Health(), Unclean: r.unclean,
			})
			r.mu.Unlock()
		}
	}
	return out
}
