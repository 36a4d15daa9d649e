package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appruntime/internal/domain/lifecycle"
)

// ErrStopped is returned by Do once the loop has exited
var ErrStopped = errors.New("loop stopped")

// MemoryProbe reports available system memory in bytes
type MemoryProbe func() (uint64, error)

// SystemMemory reads available memory through gopsutil
func SystemMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("failed to read memory stats: %w", err)
	}
	return vm.Available, nil
}

// Settings configures the loop
type Settings struct {
	FrameInterval time.Duration // Tick period for Frame and Step
	MemoryFloor   uint64        // Reclaim background instances below this many free bytes; 0 disables
	PressureEvery time.Duration // How often memory is checked
	Memory        MemoryProbe
}

// Stats describes loop activity
type Stats struct {
	Ticks    uint64 `json:"ticks"`
	Overruns uint64 `json:"overruns"` // Ticks whose work outlasted the frame interval
	Posted   uint64 `json:"posted"`
	Reclaims uint64 `json:"reclaims"`
	Running  bool   `json:"running"`
}

// Loop is the single goroutine that owns the controller. Everything else
// reaches the controller by posting closures through Do.
type Loop struct {
	ctl      *lifecycle.Controller
	settings Settings
	logger   *zap.Logger
	posted   chan func()
	stopped  chan struct{}

	started  atomic.Bool
	running  atomic.Bool
	ticks    atomic.Uint64
	overruns atomic.Uint64
	posts    atomic.Uint64
	reclaims atomic.Uint64
}

// New creates a loop driving ctl
func New(ctl *lifecycle.Controller, settings Settings, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.FrameInterval <= 0 {
		settings.FrameInterval = 33 * time.Millisecond
	}
	if settings.PressureEvery <= 0 {
		settings.PressureEvery = time.Second
	}
	if settings.Memory == nil {
		settings.Memory = SystemMemory
	}
	return &Loop{
		ctl:      ctl,
		settings: settings,
		logger:   logger,
		posted:   make(chan func(), 64),
		stopped:  make(chan struct{}),
	}
}

// Run drives the controller until ctx is cancelled. It boots home first.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return fmt.Errorf("loop already started")
	}
	l.running.Store(true)
	defer close(l.stopped)
	defer l.running.Store(false)

	if err := l.ctl.Boot(ctx); err != nil {
		l.logger.Warn("failed to launch home", zap.Error(err))
	}

	frames := time.NewTicker(l.settings.FrameInterval)
	defer frames.Stop()

	var pressure <-chan time.Time
	if l.settings.MemoryFloor > 0 {
		t := time.NewTicker(l.settings.PressureEvery)
		defer t.Stop()
		pressure = t.C
	}

	l.logger.Info("loop started", zap.Duration("frame_interval", l.settings.FrameInterval))
	for {
		select {
		case <-ctx.Done():
			l.drainPosted()
			l.ctl.Shutdown()
			l.logger.Info("loop stopped")
			return nil
		case fn := <-l.posted:
			fn()
		case now := <-frames.C:
			l.tick(now)
		case <-pressure:
			l.checkMemory()
		}
	}
}

// tick runs one frame and one step
func (l *Loop) tick(now time.Time) {
	start := time.Now()
	l.ctl.Frame(now)
	stats := l.ctl.Step()
	l.ticks.Add(1)

	if elapsed := time.Since(start); elapsed > l.settings.FrameInterval {
		l.overruns.Add(1)
		l.logger.Debug("frame overrun",
			zap.Duration("elapsed", elapsed),
			zap.Int("timers", stats.Timers),
			zap.Int("drained", stats.Drained))
	}
}

func (l *Loop) checkMemory() {
	free, err := l.settings.Memory()
	if err != nil {
		l.logger.Warn("memory probe failed", zap.Error(err))
		return
	}
	if free >= l.settings.MemoryFloor {
		return
	}
	if n := l.ctl.Reclaim(1); n > 0 {
		l.reclaims.Add(uint64(n))
		l.logger.Info("reclaimed background instance",
			zap.Uint64("free", free),
			zap.Uint64("floor", l.settings.MemoryFloor))
	}
}

// drainPosted fails closures still queued at shutdown
func (l *Loop) drainPosted() {
	for {
		select {
		case fn := <-l.posted:
			fn()
		default:
			return
		}
	}
}

// Do runs fn on the loop goroutine and waits for its result
func (l *Loop) Do(ctx context.Context, fn func(ctl *lifecycle.Controller) error) error {
	done := make(chan error, 1)
	job := func() {
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error("posted closure panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				done <- fmt.Errorf("posted closure panicked: %v", r)
			}
		}()
		done <- fn(l.ctl)
	}

	select {
	case l.posted <- job:
		l.posts.Add(1)
	case <-l.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-l.stopped:
		// The job may have run during the final drain
		select {
		case err := <-done:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TerminatePackage destroys a package's instances on the loop, for the installer
func (l *Loop) TerminatePackage(ctx context.Context, pkg string) error {
	return l.Do(ctx, func(ctl *lifecycle.Controller) error {
		return ctl.TerminatePackage(ctx, pkg)
	})
}

// ReleasePackage lets a terminated package launch again
func (l *Loop) ReleasePackage(ctx context.Context, pkg string) error {
	return l.Do(ctx, func(ctl *lifecycle.Controller) error {
		return ctl.ReleasePackage(ctx, pkg)
	})
}

// Stats returns loop counters
func (l *Loop) Stats() Stats {
	return Stats{
		Ticks:    l.ticks.Load(),
		Overruns: l.overruns.Load(),
		Posted:   l.posts.Load(),
		Reclaims: l.reclaims.Load(),
		Running:  l.running.Load(),
	}
}
