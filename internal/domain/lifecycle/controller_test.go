package lifecycle

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appruntime/internal/domain/navigation"
	"github.com/GriffinCanCode/appruntime/internal/infrastructure/display"
	"github.com/GriffinCanCode/appruntime/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/appruntime/internal/shared/id"
	"github.com/GriffinCanCode/appruntime/internal/shared/types"
)

// ============================================================================
// Fixture
// ============================================================================

type fakeRegistry struct {
	packages map[string]types.Package
	launcher string
}

func (r *fakeRegistry) Get(pkg string) (types.Package, error) {
	p, ok := r.packages[pkg]
	if !ok {
		return types.Package{}, types.NotFoundf("package %s", pkg)
	}
	return p, nil
}

func (r *fakeRegistry) Launcher() (types.Package, error) {
	return r.Get(r.launcher)
}

// fakeResolver resolves explicit requests and reuses live singletons
type fakeResolver struct {
	reg  *fakeRegistry
	ctl  *Controller
	hits int
}

func (r *fakeResolver) Resolve(req types.LaunchRequest) (types.Resolution, error) {
	r.hits++
	pkg, err := r.reg.Get(req.Package)
	if err != nil {
		return types.Resolution{}, err
	}
	entry, ok := pkg.Entry(req.Entry)
	if !ok {
		return types.Resolution{}, types.NotFoundf("entry %s", req.Entry)
	}
	res := types.Resolution{PackageID: pkg.ID, Entry: entry}
	if entry.Singleton {
		if instanceID, live := r.ctl.LiveInstance(pkg.ID, entry.Name); live {
			res.Mode = types.ReuseExisting
			res.InstanceID = instanceID
		}
	}
	return res, nil
}

type recordingNotifier struct {
	events []types.Notification
}

func (n *recordingNotifier) Notify(ev types.Notification) {
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) kinds() []types.NotificationKind {
	out := []types.NotificationKind{}
	for _, ev := range n.events {
		if ev.Kind != types.NotifyForeground {
			out = append(out, ev.Kind)
		}
	}
	return out
}

// recorder records every callback and can be told to fail in one of them
type recorder struct {
	class   string
	log     *[]string
	failOn  string
	panicOn string
	results []types.Result
	slots   []uint32
	intents int
	inputs  int
	hook    func(inst *Instance, what string)
}

func (p *recorder) record(inst *Instance, what string) error {
	*p.log = append(*p.log, p.class+"."+what)
	if p.hook != nil {
		p.hook(inst, what)
	}
	if p.panicOn == what {
		panic("boom")
	}
	if p.failOn == what {
		return errors.New("broken " + what)
	}
	return nil
}

func (p *recorder) OnCreate(i *Instance) error  { return p.record(i, "create") }
func (p *recorder) OnStart(i *Instance) error   { return p.record(i, "start") }
func (p *recorder) OnResume(i *Instance) error  { return p.record(i, "resume") }
func (p *recorder) OnPause(i *Instance) error   { return p.record(i, "pause") }
func (p *recorder) OnStop(i *Instance) error    { return p.record(i, "stop") }
func (p *recorder) OnDestroy(i *Instance) error { return p.record(i, "destroy") }

func (p *recorder) OnResult(i *Instance, slot uint32, res types.Result) error {
	p.slots = append(p.slots, slot)
	p.results = append(p.results, res)
	return p.record(i, "result")
}

func (p *recorder) OnNewIntent(i *Instance, req types.LaunchRequest) error {
	p.intents++
	return p.record(i, "intent")
}

func (p *recorder) OnInput(i *Instance, ev InputEvent) error {
	p.inputs++
	return p.record(i, "input")
}

type fixture struct {
	t         *testing.T
	ctl       *Controller
	reg       *fakeRegistry
	resolver  *fakeResolver
	toolkit   *display.Headless
	notifier  *recordingNotifier
	guard     *resilience.Guard
	tasks     *Tasks
	log       []string
	recorders map[string][]*recorder
	setup     map[string]func(p *recorder)
	now       time.Time
}

func entryPoint(name, class string) types.EntryPoint {
	return types.EntryPoint{Name: name, Class: class}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		t:         t,
		toolkit:   display.NewHeadless(nil),
		notifier:  &recordingNotifier{},
		recorders: make(map[string][]*recorder),
		setup:     make(map[string]func(p *recorder)),
		now:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	home := entryPoint("main", "home")
	home.Filters = []types.IntentFilter{{Action: types.ActionMain, Category: types.CategoryLauncher}}
	single := entryPoint("single", "single")
	single.Singleton = true
	keep := entryPoint("keep", "keep")
	keep.Persistent = true

	f.reg = &fakeRegistry{
		launcher: "com.example.home",
		packages: map[string]types.Package{
			"com.example.home": {ID: "com.example.home", Category: types.CategoryLauncher, EntryPoints: []types.EntryPoint{home}},
			"com.example.a":    {ID: "com.example.a", EntryPoints: []types.EntryPoint{entryPoint("main", "a"), single, keep}},
			"com.example.b":    {ID: "com.example.b", EntryPoints: []types.EntryPoint{entryPoint("main", "b"), entryPoint("picker", "picker")}},
			"com.example.c":    {ID: "com.example.c", EntryPoints: []types.EntryPoint{entryPoint("main", "missing")}},
		},
	}

	catalog := NewCatalog()
	for _, class := range []string{"home", "a", "single", "keep", "b", "picker"} {
		class := class
		catalog.Register(class, func() Activity {
			p := &recorder{class: class, log: &f.log}
			if s := f.setup[class]; s != nil {
				s(p)
			}
			f.recorders[class] = append(f.recorders[class], p)
			return p
		})
	}

	tasks, err := NewTasks(2, zap.NewNop(), nil)
	require.NoError(t, err)
	f.tasks = tasks

	clock := func() time.Time { return f.now }
	f.guard = resilience.NewGuard(resilience.Settings{Limit: 3, Window: time.Minute, Cooldown: 30 * time.Second, Now: clock})
	f.resolver = &fakeResolver{reg: f.reg}
	f.ctl = NewController(f.reg, f.resolver, catalog, tasks, Settings{DebugLeaks: true, Now: clock}, zap.NewNop()).
		WithToolkit(f.toolkit).
		WithNotifier(f.notifier).
		WithGuard(f.guard)
	f.resolver.ctl = f.ctl

	t.Cleanup(f.ctl.Shutdown)
	return f
}

func (f *fixture) boot() *Instance {
	f.t.Helper()
	require.NoError(f.t, f.ctl.Boot(context.Background()))
	home, ok := f.ctl.stack.Home()
	require.True(f.t, ok)
	f.log = nil
	return home.Instance.(*Instance)
}

func (f *fixture) start(pkg, name string) *Instance {
	f.t.Helper()
	res, err := f.ctl.Start(context.Background(), types.Explicit(pkg, name))
	require.NoError(f.t, err)
	inst, ok := f.ctl.Instance(res.InstanceID)
	require.True(f.t, ok, "instance %s should be live", res.InstanceID)
	return inst
}

func (f *fixture) top() *Instance {
	f.t.Helper()
	e, ok := f.ctl.stack.Top()
	require.True(f.t, ok)
	return e.Instance.(*Instance)
}

// resumed counts live instances in the Resumed state
func (f *fixture) resumed() int {
	n := 0
	for _, info := range f.ctl.Instances() {
		if info.State == types.StateResumed {
			n++
		}
	}
	return n
}

// ============================================================================
// Transitions
// ============================================================================

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(types.StateNone, types.StateCreated))
	assert.True(t, CanTransition(types.StatePaused, types.StateResumed))
	assert.True(t, CanTransition(types.StateStopped, types.StateStarted))
	assert.False(t, CanTransition(types.StateNone, types.StateResumed))
	assert.False(t, CanTransition(types.StateResumed, types.StateStopped))
	assert.False(t, CanTransition(types.StateDestroyed, types.StateCreated))
}

func TestBootLaunchesHome(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctl.Boot(context.Background()))

	assert.Equal(t, []string{"home.create", "home.start", "home.resume"}, f.log)
	home := f.top()
	assert.Equal(t, "com.example.home", home.PackageID())
	assert.Equal(t, types.StateResumed, home.State())
	root, owner := f.toolkit.Mounted()
	assert.Equal(t, home.Root(), root)
	assert.Equal(t, home.ID(), owner)

	// Booting again is a no-op
	require.NoError(t, f.ctl.Boot(context.Background()))
	assert.Len(t, f.ctl.Instances(), 1)
}

func TestLaunchCallbackOrder(t *testing.T) {
	f := newFixture(t)
	home := f.boot()

	a := f.start("com.example.a", "main")

	assert.Equal(t, []string{
		"home.pause",
		"a.create", "a.start", "a.resume",
		"home.stop",
	}, f.log)
	assert.Equal(t, types.StateStopped, home.State())
	assert.Equal(t, types.StateResumed, a.State())
	root, _ := f.toolkit.Mounted()
	assert.Equal(t, a.Root(), root)
	assert.Equal(t, 1, f.resumed())
}

func TestExactlyOneResumed(t *testing.T) {
	f := newFixture(t)
	f.boot()

	f.start("com.example.a", "main")
	assert.Equal(t, 1, f.resumed())
	f.start("com.example.b", "main")
	assert.Equal(t, 1, f.resumed())
	require.NoError(t, f.ctl.Back())
	assert.Equal(t, 1, f.resumed())
	require.NoError(t, f.ctl.Home())
	assert.Equal(t, 1, f.resumed())
	assert.Equal(t, 1, f.ctl.stack.Len())
}

func TestRandomNavigationKeepsOneResumed(t *testing.T) {
	f := newFixture(t)
	f.boot()
	rng := rand.New(rand.NewSource(20261018))

	for step := 0; step < 300; step++ {
		op := rng.Intn(8)
		switch op {
		case 0:
			f.start("com.example.a", "main")
		case 1:
			f.start("com.example.b", "main")
		case 2:
			f.start("com.example.a", "single")
		case 3:
			f.start("com.example.a", "keep")
		case 4:
			if err := f.ctl.Back(); err != nil {
				require.ErrorIs(t, err, types.ErrHomeEntry, "step %d", step)
			}
		case 5:
			require.NoError(t, f.ctl.Home(), "step %d", step)
		case 6:
			if err := f.ctl.Finish(f.top().ID()); err != nil {
				require.ErrorIs(t, err, types.ErrHomeEntry, "step %d", step)
			}
		case 7:
			f.ctl.Reclaim(1)
		}

		require.Equal(t, 1, f.resumed(), "step %d op %d", step, op)
		require.Equal(t, types.StateResumed, f.top().State(), "step %d op %d", step, op)
		home, ok := f.ctl.stack.Home()
		require.True(t, ok)
		require.Equal(t, "com.example.home", home.Instance.PackageID(), "step %d op %d", step, op)
	}
}

func TestBackOrderAndHomeRefusal(t *testing.T) {
	f := newFixture(t)
	f.boot()
	f.start("com.example.a", "main")
	f.log = nil

	require.NoError(t, f.ctl.Back())
	assert.Equal(t, []string{
		"a.pause",
		"home.start", "home.resume",
		"a.stop", "a.destroy",
	}, f.log)

	err := f.ctl.Back()
	assert.ErrorIs(t, err, types.ErrHomeEntry)
	assert.Equal(t, 1, f.ctl.stack.Len())
}

func TestScenarioLaunchExplicitEntry(t *testing.T) {
	f := newFixture(t)
	f.boot()

	res, err := f.ctl.Start(context.Background(), types.Explicit("com.example.a", "main"))
	require.NoError(t, err)
	assert.Equal(t, types.CreateNew, res.Mode)

	stats := f.ctl.Stats()
	require.NotNil(t, stats.ForegroundPkg)
	assert.Equal(t, "com.example.a", *stats.ForegroundPkg)
	assert.Equal(t, res.InstanceID, *stats.ForegroundID)
	assert.Equal(t, 2, stats.StackDepth)
	assert.Equal(t, 2, stats.LiveInstances)
}

func TestStartUnknownClassFails(t *testing.T) {
	f := newFixture(t)
	f.boot()

	_, err := f.ctl.Start(context.Background(), types.Explicit("com.example.c", "main"))
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, 1, f.ctl.stack.Len())
}

// ============================================================================
// Crashes
// ============================================================================

func TestCrashOnError(t *testing.T) {
	f := newFixture(t)
	home := f.boot()
	f.setup["a"] = func(p *recorder) { p.failOn = "resume" }

	res, err := f.ctl.Start(context.Background(), types.Explicit("com.example.a", "main"))
	require.NoError(t, err)

	_, live := f.ctl.Instance(res.InstanceID)
	assert.False(t, live)
	assert.Equal(t, 1, f.ctl.stack.Len())
	assert.Equal(t, home, f.top())
	assert.Equal(t, types.StateResumed, home.State())
	assert.Equal(t, []types.NotificationKind{types.NotifyCrash}, f.notifier.kinds())
	assert.Equal(t, 1, f.toolkit.Live(), "crashed root must be destroyed")
}

func TestCrashOnPanic(t *testing.T) {
	f := newFixture(t)
	home := f.boot()
	a := f.start("com.example.a", "main")
	f.recorders["a"][0].panicOn = "input"

	require.NoError(t, f.ctl.DispatchInput(InputEvent{Kind: "touch", X: 1, Y: 2}))

	assert.Equal(t, types.StateDestroyed, a.State())
	assert.Equal(t, home, f.top())
	assert.Equal(t, types.StateResumed, home.State())
	require.Len(t, f.notifier.kinds(), 1)
	assert.Equal(t, types.NotifyCrash, f.notifier.kinds()[0])
	assert.True(t, a.res.Empty())
}

func TestHomeCrashRelaunches(t *testing.T) {
	f := newFixture(t)
	home := f.boot()
	f.recorders["home"][0].panicOn = "input"

	require.NoError(t, f.ctl.DispatchInput(InputEvent{Kind: "key", Key: "enter"}))
	assert.Equal(t, types.StateDestroyed, home.State())
	assert.Equal(t, 0, f.ctl.stack.Len())

	f.ctl.Step()
	assert.Equal(t, 1, f.ctl.stack.Len())
	assert.NotEqual(t, home.ID(), f.top().ID())
	assert.Equal(t, types.StateResumed, f.top().State())
}

func TestHomeCrashWhileCoveredIsRestored(t *testing.T) {
	f := newFixture(t)
	home := f.boot()
	home.Every(time.Millisecond, func() { panic("boom") })
	a := f.start("com.example.a", "main")

	f.now = f.now.Add(time.Second)
	f.ctl.Step()
	assert.Equal(t, types.StateDestroyed, home.State())
	assert.Equal(t, []types.NotificationKind{types.NotifyCrash}, f.notifier.kinds())

	f.ctl.Step()
	require.Equal(t, 2, f.ctl.stack.Len())
	bottom, _ := f.ctl.stack.Home()
	restored := bottom.Instance.(*Instance)
	assert.Equal(t, "com.example.home", restored.PackageID())
	assert.NotEqual(t, home.ID(), restored.ID())
	assert.Equal(t, types.StateStopped, restored.State())
	assert.Equal(t, a, f.top())
	assert.Equal(t, types.StateResumed, a.State())
	assert.Equal(t, 1, f.resumed())

	require.NoError(t, f.ctl.Back())
	assert.Equal(t, restored, f.top())
	assert.Equal(t, types.StateResumed, restored.State())
}

func TestBackRestoresLostHomeBeforeStep(t *testing.T) {
	f := newFixture(t)
	home := f.boot()
	a := f.start("com.example.a", "main")
	f.recorders["home"][0].panicOn = "result"

	// Deliver to the covered home so it crashes without a Step in between
	require.NoError(t, f.ctl.stack.Results().Open(home.ID(), 1, a.ID()))
	delivered, err := f.ctl.DeliverResult(home.ID(), 1, types.Result{Code: types.ResultOK})
	require.NoError(t, err)
	require.True(t, delivered)
	assert.Equal(t, types.StateDestroyed, home.State())

	require.NoError(t, f.ctl.Back())
	assert.Equal(t, "com.example.home", f.top().PackageID())
	assert.Equal(t, types.StateResumed, f.top().State())
	assert.Equal(t, 1, f.ctl.stack.Len())
}

func TestCrashLoopRefusesLaunch(t *testing.T) {
	f := newFixture(t)
	f.boot()
	f.setup["a"] = func(p *recorder) { p.failOn = "create" }

	for i := 0; i < 3; i++ {
		_, err := f.ctl.Start(context.Background(), types.Explicit("com.example.a", "main"))
		require.NoError(t, err)
	}
	assert.Equal(t, resilience.StateOpen, f.guard.State("com.example.a"))

	_, err := f.ctl.Start(context.Background(), types.Explicit("com.example.a", "main"))
	assert.ErrorIs(t, err, types.ErrCrashLoop)
	assert.Contains(t, f.notifier.kinds(), types.NotifyRefused)

	// A trial launch is admitted after the cooldown and a healthy resume closes the guard
	f.now = f.now.Add(time.Minute)
	f.setup["a"] = nil
	f.start("com.example.a", "main")
	assert.Equal(t, resilience.StateClosed, f.guard.State("com.example.a"))
}

// illegal is an activity that asks the controller for an out-of-order move
type illegal struct {
	Base
	ctl *Controller
}

func (a *illegal) OnStart(inst *Instance) error {
	a.ctl.move(inst, types.StateCreated)
	return nil
}

func TestIllegalTransitionIsDefect(t *testing.T) {
	f := newFixture(t)
	f.boot()
	f.ctl.catalog.Register("a", func() Activity { return &illegal{ctl: f.ctl} })

	res, err := f.ctl.Start(context.Background(), types.Explicit("com.example.a", "main"))
	require.NoError(t, err)

	_, live := f.ctl.Instance(res.InstanceID)
	assert.False(t, live)
	assert.Equal(t, []types.NotificationKind{types.NotifyDefect}, f.notifier.kinds())
	assert.Equal(t, 1, f.ctl.stack.Len())
}

// ============================================================================
// Resources
// ============================================================================

func TestDestroyReleasesResources(t *testing.T) {
	f := newFixture(t)
	f.boot()
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	f.setup["a"] = func(p *recorder) {
		p.hook = func(inst *Instance, what string) {
			if what != "create" {
				return
			}
			inst.OnFrame(func(time.Time) {})
			inst.Every(time.Second, func() {})
			_, err := inst.Go(func(ctx context.Context) (any, error) {
				select {
				case <-ctx.Done():
				case <-release:
				}
				return nil, ctx.Err()
			}, nil)
			require.NoError(t, err)
		}
	}
	a := f.start("com.example.a", "main")
	counts := a.Resources()
	assert.Equal(t, 1, counts[ResourceRoot])
	assert.Equal(t, 1, counts[ResourceFrames])
	assert.Equal(t, 1, counts[ResourceTimers])
	assert.Equal(t, 1, counts[ResourceTasks])

	require.NoError(t, f.ctl.Back())

	assert.True(t, a.res.Empty())
	for kind, n := range a.Resources() {
		assert.Zero(t, n, kind)
	}
	assert.NotContains(t, f.notifier.kinds(), types.NotifyLeak)
	assert.Equal(t, 1, f.toolkit.Live())
}

// brokenToolkit fails to destroy roots so the leak check fires
type brokenToolkit struct {
	*display.Headless
}

func (brokenToolkit) Destroy(string) error { return errors.New("device busy") }

func TestLeakReported(t *testing.T) {
	f := newFixture(t)
	f.ctl.WithToolkit(brokenToolkit{f.toolkit})
	f.boot()
	f.start("com.example.a", "main")

	require.NoError(t, f.ctl.Back())
	assert.Equal(t, []types.NotificationKind{types.NotifyLeak}, f.notifier.kinds())
}

func TestFramesOnlyWhileResumed(t *testing.T) {
	f := newFixture(t)
	f.boot()

	frames := 0
	f.setup["a"] = func(p *recorder) {
		p.hook = func(inst *Instance, what string) {
			if what == "create" {
				inst.OnFrame(func(time.Time) { frames++ })
			}
		}
	}
	a := f.start("com.example.a", "main")

	f.ctl.Frame(f.now)
	f.ctl.Frame(f.now)
	assert.Equal(t, 2, frames)

	f.start("com.example.b", "main")
	assert.Equal(t, types.StateStopped, a.State())
	f.ctl.Frame(f.now)
	assert.Equal(t, 2, frames)

	require.NoError(t, f.ctl.Back())
	f.ctl.Frame(f.now)
	assert.Equal(t, 3, frames)
}

func TestTimersFireOnStep(t *testing.T) {
	f := newFixture(t)
	f.boot()

	fired := 0
	var timerID id.TimerID
	f.setup["a"] = func(p *recorder) {
		p.hook = func(inst *Instance, what string) {
			if what == "create" {
				timerID = inst.Every(time.Second, func() { fired++ })
			}
		}
	}
	a := f.start("com.example.a", "main")

	f.ctl.Step()
	assert.Equal(t, 0, fired)

	f.now = f.now.Add(time.Second)
	stats := f.ctl.Step()
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, stats.Timers)

	f.now = f.now.Add(2 * time.Second)
	f.ctl.Step()
	assert.Equal(t, 2, fired)

	a.CancelTimer(timerID)
	f.now = f.now.Add(time.Second)
	f.ctl.Step()
	assert.Equal(t, 2, fired)
}

// ============================================================================
// Background work
// ============================================================================

func TestTaskCompletionRunsOnStep(t *testing.T) {
	f := newFixture(t)
	f.boot()

	var got []any
	f.setup["a"] = func(p *recorder) {
		p.hook = func(inst *Instance, what string) {
			if what != "create" {
				return
			}
			for i := 0; i < 3; i++ {
				n := i
				_, err := inst.Go(func(context.Context) (any, error) { return n, nil }, func(v any, err error) {
					got = append(got, v)
				})
				require.NoError(t, err)
			}
		}
	}
	a := f.start("com.example.a", "main")
	require.Eventually(t, func() bool { return f.tasks.Queued() == 3 }, time.Second, time.Millisecond)
	assert.Empty(t, got, "completions only run on the loop")

	f.ctl.settings.Drain = Budget{Count: 2}
	stats := f.ctl.Step()
	assert.Equal(t, 2, stats.Drained)
	assert.Len(t, got, 2)

	f.ctl.Step()
	assert.Len(t, got, 3)
	assert.ElementsMatch(t, []any{0, 1, 2}, got)
	assert.Zero(t, a.Resources()[ResourceTasks])
	assert.Zero(t, f.tasks.Pending())
}

func TestCancelledTaskIsDropped(t *testing.T) {
	f := newFixture(t)
	f.boot()

	delivered := false
	f.setup["a"] = func(p *recorder) {
		p.hook = func(inst *Instance, what string) {
			if what != "create" {
				return
			}
			taskID, err := inst.Go(func(context.Context) (any, error) { return "late", nil }, func(any, error) {
				delivered = true
			})
			require.NoError(t, err)
			inst.CancelTask(taskID)
		}
	}
	f.start("com.example.a", "main")
	require.Eventually(t, func() bool { return f.tasks.Queued() == 1 }, time.Second, time.Millisecond)

	stats := f.ctl.Step()
	assert.Equal(t, 1, stats.Drained)
	assert.False(t, delivered)
}

func TestTaskOfDestroyedInstanceIsDropped(t *testing.T) {
	f := newFixture(t)
	f.boot()

	gate := make(chan struct{})
	delivered := false
	f.setup["a"] = func(p *recorder) {
		p.hook = func(inst *Instance, what string) {
			if what != "create" {
				return
			}
			_, err := inst.Go(func(context.Context) (any, error) {
				<-gate
				return nil, nil
			}, func(any, error) { delivered = true })
			require.NoError(t, err)
		}
	}
	f.start("com.example.a", "main")
	require.NoError(t, f.ctl.Back())
	close(gate)

	require.Eventually(t, func() bool { return f.tasks.Queued() == 1 }, time.Second, time.Millisecond)
	f.ctl.Step()
	assert.False(t, delivered)
}

func TestGoRejectsDestroyedInstance(t *testing.T) {
	f := newFixture(t)
	f.boot()
	a := f.start("com.example.a", "main")
	require.NoError(t, f.ctl.Back())

	_, err := a.Go(func(context.Context) (any, error) { return nil, nil }, nil)
	assert.Error(t, err)
}

// ============================================================================
// Results
// ============================================================================

func TestResultDeliveredOnFinish(t *testing.T) {
	f := newFixture(t)
	f.boot()
	a := f.start("com.example.a", "main")

	require.NoError(t, a.StartForResult(types.Explicit("com.example.b", "picker"), 7))
	picker := f.top()
	assert.Equal(t, "picker", picker.EntryName())

	picker.SetResult(types.ResultOK, map[string]any{"uri": "content://photo/1"})
	picker.Finish()

	caller := f.recorders["a"][0]
	require.Len(t, caller.results, 1)
	assert.Equal(t, []uint32{7}, caller.slots)
	assert.Equal(t, types.ResultOK, caller.results[0].Code)
	assert.Equal(t, "content://photo/1", caller.results[0].Data["uri"])
	assert.Equal(t, a, f.top())
	assert.Zero(t, f.ctl.Stats().PendingSlots)

	delivered, err := f.ctl.DeliverResult(a.ID(), 7, types.Result{Code: types.ResultOK})
	require.NoError(t, err)
	assert.False(t, delivered, "a slot is delivered at most once")
	assert.Len(t, caller.results, 1)
}

func TestResultCanceledOnBack(t *testing.T) {
	f := newFixture(t)
	f.boot()
	a := f.start("com.example.a", "main")
	require.NoError(t, a.StartForResult(types.Explicit("com.example.b", "picker"), 1))
	f.log = nil

	require.NoError(t, f.ctl.Back())

	caller := f.recorders["a"][0]
	require.Len(t, caller.results, 1)
	assert.True(t, caller.results[0].Code == types.ResultCanceled)
	assert.Equal(t, []string{
		"picker.pause",
		"a.result", "a.start", "a.resume",
		"picker.stop", "picker.destroy",
	}, f.log)
}

func TestStartForResultFromCallback(t *testing.T) {
	f := newFixture(t)
	f.boot()
	f.setup["a"] = func(p *recorder) {
		p.hook = func(inst *Instance, what string) {
			if what == "create" {
				require.NoError(t, inst.StartForResult(types.Explicit("com.example.b", "picker"), 3))
			}
		}
	}

	a := f.start("com.example.a", "main")

	// The nested launch runs once a is resumed on top
	assert.Equal(t, "picker", f.top().EntryName())
	assert.Equal(t, types.StateStopped, a.State())
	assert.Equal(t, 1, f.ctl.Stats().PendingSlots)
	assert.Equal(t, 1, f.resumed())
}

func TestQueuedResultRequestFromCoveredCallerIsCanceled(t *testing.T) {
	f := newFixture(t)
	f.boot()
	f.setup["a"] = func(p *recorder) {
		p.hook = func(inst *Instance, what string) {
			if what == "create" {
				inst.Every(time.Second, func() {
					require.NoError(t, inst.StartForResult(types.Explicit("com.example.b", "picker"), 5))
				})
			}
		}
	}
	a := f.start("com.example.a", "main")
	b := f.start("com.example.b", "main")

	f.now = f.now.Add(time.Second)
	f.ctl.Step()

	rec := f.recorders["a"][0]
	require.Len(t, rec.results, 1)
	assert.Equal(t, []uint32{5}, rec.slots)
	assert.Equal(t, types.ResultCanceled, rec.results[0].Code)
	assert.Equal(t, b, f.top())
	assert.Equal(t, 3, f.ctl.stack.Len())
	assert.Equal(t, types.StateStopped, a.State())
	assert.Zero(t, f.ctl.Stats().PendingSlots)
}

func TestFinishMiddleEntry(t *testing.T) {
	f := newFixture(t)
	f.boot()
	a := f.start("com.example.a", "main")
	b := f.start("com.example.b", "main")

	require.NoError(t, f.ctl.Finish(a.ID()))
	assert.Equal(t, types.StateDestroyed, a.State())
	assert.Equal(t, b, f.top())
	assert.Equal(t, 2, f.ctl.stack.Len())

	home, _ := f.ctl.stack.Home()
	assert.ErrorIs(t, f.ctl.Finish(home.Instance.ID()), types.ErrHomeEntry)
	assert.ErrorIs(t, f.ctl.Finish("inst_missing"), types.ErrNotFound)
}

// ============================================================================
// Reuse
// ============================================================================

func TestSingletonReuseOnTop(t *testing.T) {
	f := newFixture(t)
	f.boot()
	s := f.start("com.example.a", "single")
	f.log = nil

	res, err := f.ctl.Start(context.Background(), types.Explicit("com.example.a", "single"))
	require.NoError(t, err)
	assert.Equal(t, types.ReuseExisting, res.Mode)
	assert.Equal(t, s.ID(), res.InstanceID)

	assert.Equal(t, []string{"single.pause", "single.intent", "single.resume"}, f.log)
	assert.Len(t, f.recorders["single"], 1, "a singleton is created once")
	assert.Equal(t, 2, f.ctl.stack.Len())
}

func TestSingletonReuseClearsAbove(t *testing.T) {
	f := newFixture(t)
	f.boot()
	s := f.start("com.example.a", "single")
	b := f.start("com.example.b", "main")

	res, err := f.ctl.Start(context.Background(), types.Explicit("com.example.a", "single"))
	require.NoError(t, err)
	assert.Equal(t, s.ID(), res.InstanceID)

	assert.Equal(t, s, f.top())
	assert.Equal(t, types.StateDestroyed, b.State())
	assert.Equal(t, 1, f.recorders["single"][0].intents)
	assert.Len(t, f.recorders["single"], 1)
	assert.Equal(t, 1, f.resumed())
}

func TestClearTopReusesExisting(t *testing.T) {
	f := newFixture(t)
	f.boot()
	a := f.start("com.example.a", "main")
	f.start("com.example.b", "main")

	req := types.Explicit("com.example.a", "main")
	req.Flags.ClearTop = true
	res, err := f.ctl.Start(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, types.ReuseExisting, res.Mode)
	assert.Equal(t, a, f.top())
	assert.Equal(t, 2, f.ctl.stack.Len())
	assert.Len(t, f.recorders["a"], 1)
}

func TestNoHistoryEntryDropped(t *testing.T) {
	f := newFixture(t)
	f.boot()
	req := types.Explicit("com.example.a", "main")
	req.Flags.NoHistory = true
	_, err := f.ctl.Start(context.Background(), req)
	require.NoError(t, err)
	a := f.top()

	f.start("com.example.b", "main")
	assert.Equal(t, types.StateDestroyed, a.State())
	assert.Equal(t, 2, f.ctl.stack.Len())

	require.NoError(t, f.ctl.Back())
	assert.Equal(t, "com.example.home", f.top().PackageID())
}

func TestPersistentInstanceSurvivesPop(t *testing.T) {
	f := newFixture(t)
	f.boot()
	k := f.start("com.example.a", "keep")

	require.NoError(t, f.ctl.Back())
	assert.Equal(t, types.StateStopped, k.State())
	assert.Equal(t, 1, f.ctl.Stats().Background)
	assert.Equal(t, 2, f.ctl.Stats().LiveInstances)

	assert.Equal(t, 1, f.ctl.Reclaim(5))
	assert.Equal(t, types.StateDestroyed, k.State())
	assert.Zero(t, f.ctl.Stats().Background)
}

func TestReclaimSparesHomeAndForeground(t *testing.T) {
	f := newFixture(t)
	f.boot()
	a := f.start("com.example.a", "main")
	b := f.start("com.example.b", "main")
	top := f.start("com.example.b", "picker")

	assert.Equal(t, 1, f.ctl.Reclaim(1))
	assert.Equal(t, types.StateDestroyed, a.State())
	assert.Equal(t, types.StateStopped, b.State())
	assert.Equal(t, top, f.top())
	assert.Equal(t, 3, f.ctl.stack.Len())
}

// ============================================================================
// Package coordination and input
// ============================================================================

func TestTerminatePackage(t *testing.T) {
	f := newFixture(t)
	f.boot()
	k := f.start("com.example.a", "keep")
	require.NoError(t, f.ctl.Back())
	a := f.start("com.example.a", "main")
	b := f.start("com.example.b", "main")
	a2 := f.start("com.example.a", "main")

	require.NoError(t, f.ctl.TerminatePackage(context.Background(), "com.example.a"))

	for _, inst := range []*Instance{k, a, a2} {
		assert.Equal(t, types.StateDestroyed, inst.State())
	}
	assert.Equal(t, b, f.top())
	assert.Equal(t, types.StateResumed, b.State())
	assert.Equal(t, 2, f.ctl.stack.Len())
	assert.Equal(t, 1, f.resumed())
	assert.Empty(t, f.notifier.kinds(), "termination is not a crash")
}

func TestTerminateHomePackageRelaunches(t *testing.T) {
	f := newFixture(t)
	home := f.boot()

	require.NoError(t, f.ctl.TerminatePackage(context.Background(), "com.example.home"))
	assert.Equal(t, types.StateDestroyed, home.State())
	assert.Zero(t, f.ctl.stack.Len())

	// Held until the installer releases it
	f.ctl.Step()
	assert.Zero(t, f.ctl.stack.Len())

	require.NoError(t, f.ctl.ReleasePackage(context.Background(), "com.example.home"))
	f.ctl.Step()
	assert.Equal(t, 1, f.ctl.stack.Len())
	assert.Equal(t, types.StateResumed, f.top().State())
}

func TestTerminateCoveredHomeRestoresIt(t *testing.T) {
	f := newFixture(t)
	home := f.boot()
	a := f.start("com.example.a", "main")

	require.NoError(t, f.ctl.TerminatePackage(context.Background(), "com.example.home"))
	assert.Equal(t, types.StateDestroyed, home.State())
	assert.Equal(t, a, f.top())
	assert.Equal(t, 1, f.ctl.stack.Len())

	f.ctl.Step()
	bottom, _ := f.ctl.stack.Home()
	assert.Equal(t, a.ID(), bottom.Instance.ID(), "home stays away while held")

	require.NoError(t, f.ctl.ReleasePackage(context.Background(), "com.example.home"))
	f.ctl.Step()

	bottom, ok := f.ctl.stack.Home()
	require.True(t, ok)
	restored := bottom.Instance.(*Instance)
	assert.Equal(t, "com.example.home", restored.PackageID())
	assert.NotEqual(t, home.ID(), restored.ID())
	assert.Equal(t, types.StateStopped, restored.State())
	assert.Equal(t, a, f.top())
	assert.Equal(t, 1, f.resumed())

	require.NoError(t, f.ctl.Back())
	assert.Equal(t, restored, f.top())
	assert.Equal(t, types.StateResumed, restored.State())
	assert.Equal(t, types.StateDestroyed, a.State())
}

func TestPackageHeldBetweenTerminateAndRelease(t *testing.T) {
	f := newFixture(t)
	f.boot()
	f.start("com.example.a", "main")

	require.NoError(t, f.ctl.TerminatePackage(context.Background(), "com.example.a"))

	_, err := f.ctl.Start(context.Background(), types.Explicit("com.example.a", "main"))
	require.ErrorIs(t, err, types.ErrPackageBusy)
	assert.True(t, types.IsRecoverable(err))
	assert.Equal(t, 1, f.ctl.stack.Len())

	// Other packages are unaffected
	f.start("com.example.b", "main")

	require.NoError(t, f.ctl.ReleasePackage(context.Background(), "com.example.a"))
	a := f.start("com.example.a", "main")
	assert.Equal(t, a, f.top())
	assert.Equal(t, 1, f.resumed())
}

func TestHeldPackageLaunchFromCallbackFails(t *testing.T) {
	f := newFixture(t)
	home := f.boot()

	var launchErr error
	f.recorders["home"][0].hook = func(inst *Instance, what string) {
		if what == "input" {
			launchErr = inst.StartActivity(types.Explicit("com.example.a", "main"))
		}
	}
	require.NoError(t, f.ctl.TerminatePackage(context.Background(), "com.example.a"))
	require.NoError(t, f.ctl.DispatchInput(InputEvent{Kind: "key", Key: "enter"}))

	assert.ErrorIs(t, launchErr, types.ErrPackageBusy)
	assert.Equal(t, home, f.top())
	assert.Equal(t, types.StateResumed, home.State())
}

func TestDispatchInputReachesForeground(t *testing.T) {
	f := newFixture(t)
	f.boot()
	f.start("com.example.a", "main")

	require.NoError(t, f.ctl.DispatchInput(InputEvent{Kind: "touch"}))
	assert.Equal(t, 1, f.recorders["a"][0].inputs)
	assert.Zero(t, f.recorders["home"][0].inputs)
}

func TestStackSnapshot(t *testing.T) {
	f := newFixture(t)
	f.boot()
	f.start("com.example.a", "main")

	entries := f.ctl.Stack()
	require.Len(t, entries, 2)
	assert.Equal(t, "com.example.home", entries[0].Instance.Package)
	assert.Equal(t, "com.example.a", entries[1].Instance.Package)
	assert.Equal(t, types.StateResumed, entries[1].Instance.State)
	assert.NotEmpty(t, entries[1].EntryID)
	assert.Equal(t, navigation.ViewState{}, entries[1].View)
}
