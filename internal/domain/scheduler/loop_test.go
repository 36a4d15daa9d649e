package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/appruntime/internal/domain/lifecycle"
	"github.com/GriffinCanCode/appruntime/internal/shared/types"
)

type registry map[string]types.Package

func (r registry) Get(pkg string) (types.Package, error) {
	p, ok := r[pkg]
	if !ok {
		return types.Package{}, types.NotFoundf("package %s", pkg)
	}
	return p, nil
}

func (r registry) Launcher() (types.Package, error) {
	return r.Get("com.example.home")
}

type resolver struct {
	reg registry
}

func (r resolver) Resolve(req types.LaunchRequest) (types.Resolution, error) {
	pkg, err := r.reg.Get(req.Package)
	if err != nil {
		return types.Resolution{}, err
	}
	entry, ok := pkg.Entry(req.Entry)
	if !ok {
		return types.Resolution{}, types.NotFoundf("entry %s", req.Entry)
	}
	return types.Resolution{PackageID: pkg.ID, Entry: entry}, nil
}

type ticker struct {
	lifecycle.Base
	frames *atomic.Int64
}

func (a *ticker) OnCreate(inst *lifecycle.Instance) error {
	inst.OnFrame(func(time.Time) { a.frames.Add(1) })
	return nil
}

func newController(t *testing.T, frames *atomic.Int64) *lifecycle.Controller {
	t.Helper()
	reg := registry{
		"com.example.home": {ID: "com.example.home", EntryPoints: []types.EntryPoint{{Name: "main", Class: "ticker"}}},
		"com.example.a": {ID: "com.example.a", EntryPoints: []types.EntryPoint{
			{Name: "main", Class: "plain"},
			{Name: "keep", Class: "plain", Persistent: true},
		}},
	}
	catalog := lifecycle.NewCatalog()
	catalog.Register("ticker", func() lifecycle.Activity { return &ticker{frames: frames} })
	catalog.Register("plain", func() lifecycle.Activity { return lifecycle.Base{} })

	tasks, err := lifecycle.NewTasks(1, nil, nil)
	require.NoError(t, err)
	return lifecycle.NewController(reg, resolver{reg}, catalog, tasks, lifecycle.Settings{}, nil)
}

func startLoop(t *testing.T, l *Loop) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()
	t.Cleanup(cancel)
	require.Eventually(t, func() bool { return l.Stats().Running }, time.Second, time.Millisecond)
	return cancel, errc
}

func TestLoopTicksFrames(t *testing.T) {
	var frames atomic.Int64
	l := New(newController(t, &frames), Settings{FrameInterval: time.Millisecond}, nil)
	cancel, errc := startLoop(t, l)

	require.Eventually(t, func() bool { return frames.Load() >= 3 }, time.Second, time.Millisecond)
	assert.Positive(t, l.Stats().Ticks)

	cancel()
	require.NoError(t, <-errc)
	assert.False(t, l.Stats().Running)
}

func TestDoRunsOnLoop(t *testing.T) {
	var frames atomic.Int64
	l := New(newController(t, &frames), Settings{FrameInterval: 10 * time.Millisecond}, nil)
	startLoop(t, l)

	var depth int
	err := l.Do(context.Background(), func(ctl *lifecycle.Controller) error {
		if _, err := ctl.Start(context.Background(), types.Explicit("com.example.a", "main")); err != nil {
			return err
		}
		depth = ctl.Stats().StackDepth
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
	assert.EqualValues(t, 1, l.Stats().Posted)

	boom := errors.New("boom")
	assert.ErrorIs(t, l.Do(context.Background(), func(*lifecycle.Controller) error { return boom }), boom)

	err = l.Do(context.Background(), func(*lifecycle.Controller) error { panic("bad closure") })
	assert.ErrorContains(t, err, "panicked")
}

func TestDoAfterStop(t *testing.T) {
	var frames atomic.Int64
	l := New(newController(t, &frames), Settings{}, nil)
	cancel, errc := startLoop(t, l)
	cancel()
	require.NoError(t, <-errc)

	err := l.Do(context.Background(), func(*lifecycle.Controller) error { return nil })
	assert.ErrorIs(t, err, ErrStopped)
	assert.Error(t, l.Run(context.Background()), "a loop runs once")
}

func TestDoHonorsContext(t *testing.T) {
	var frames atomic.Int64
	l := New(newController(t, &frames), Settings{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Do(ctx, func(*lifecycle.Controller) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTerminatePackageThroughLoop(t *testing.T) {
	var frames atomic.Int64
	l := New(newController(t, &frames), Settings{FrameInterval: 10 * time.Millisecond}, nil)
	startLoop(t, l)

	require.NoError(t, l.Do(context.Background(), func(ctl *lifecycle.Controller) error {
		_, err := ctl.Start(context.Background(), types.Explicit("com.example.a", "main"))
		return err
	}))
	require.NoError(t, l.TerminatePackage(context.Background(), "com.example.a"))

	var stats types.RuntimeStats
	require.NoError(t, l.Do(context.Background(), func(ctl *lifecycle.Controller) error {
		stats = ctl.Stats()
		return nil
	}))
	assert.Equal(t, 1, stats.StackDepth)
	assert.Equal(t, "com.example.home", *stats.ForegroundPkg)

	start := func(ctl *lifecycle.Controller) error {
		_, err := ctl.Start(context.Background(), types.Explicit("com.example.a", "main"))
		return err
	}
	assert.ErrorIs(t, l.Do(context.Background(), start), types.ErrPackageBusy)
	require.NoError(t, l.ReleasePackage(context.Background(), "com.example.a"))
	assert.NoError(t, l.Do(context.Background(), start))
}

func TestMemoryPressureReclaims(t *testing.T) {
	var frames atomic.Int64
	var free atomic.Uint64
	free.Store(1 << 30)

	l := New(newController(t, &frames), Settings{
		FrameInterval: 10 * time.Millisecond,
		MemoryFloor:   1 << 20,
		PressureEvery: time.Millisecond,
		Memory:        func() (uint64, error) { return free.Load(), nil },
	}, nil)
	startLoop(t, l)

	require.NoError(t, l.Do(context.Background(), func(ctl *lifecycle.Controller) error {
		if _, err := ctl.Start(context.Background(), types.Explicit("com.example.a", "keep")); err != nil {
			return err
		}
		return ctl.Back()
	}))
	assert.Zero(t, l.Stats().Reclaims)

	free.Store(1 << 10)
	require.Eventually(t, func() bool { return l.Stats().Reclaims == 1 }, time.Second, time.Millisecond)

	var background int
	require.NoError(t, l.Do(context.Background(), func(ctl *lifecycle.Controller) error {
		background = ctl.Stats().Background
		return nil
	}))
	assert.Zero(t, background)
}

func TestSystemMemory(t *testing.T) {
	free, err := SystemMemory()
	require.NoError(t, err)
	assert.Positive(t, free)
}
