package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/appruntime/internal/domain/navigation"
	"github.com/GriffinCanCode/appruntime/internal/domain/prefs"
	"github.com/GriffinCanCode/appruntime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/appruntime/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/appruntime/internal/shared/id"
	"github.com/GriffinCanCode/appruntime/internal/shared/types"
)

// Registry is the part of the package registry the controller reads
type Registry interface {
	Get(id string) (types.Package, error)
	Launcher() (types.Package, error)
}

// Resolver maps launch requests to entry points
type Resolver interface {
	Resolve(req types.LaunchRequest) (types.Resolution, error)
}

// Notifier receives crash, defect and foreground notifications
type Notifier interface {
	Notify(n types.Notification)
}

// Settings tune the controller
type Settings struct {
	HomePackage  string // Empty selects the registry's launcher
	ChooserEntry string // Entry of the home package offered for ambiguous in-app launches
	DebugLeaks   bool   // Verify resource sets are empty after destroy
	Drain        Budget
	Now          func() time.Time
}

// Extras set on the chooser's intent
const (
	ExtraCandidates = "candidates" // []types.Match
	ExtraRequest    = "request"    // types.LaunchRequest
)

// Controller owns every instance and drives them through their lifecycle.
// It is single-threaded: all methods must be called from the loop goroutine.
// Calls made from inside activity callbacks are queued and run once the
// current operation returns.
type Controller struct {
	registry Registry
	resolver Resolver
	catalog  *Catalog
	tasks    *Tasks
	toolkit  Toolkit
	stack    *navigation.Stack
	prefs    *prefs.Manager
	guard    *resilience.Guard
	notifier Notifier
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	settings Settings

	instances map[string]*Instance
	blocked   map[string]bool // Packages held by the installer
	homeID    string
	busy      bool
	deferred  []func()
	needHome  atomic.Bool
}

// NewController creates a controller with no rendering toolkit and a
// default crash-loop guard
func NewController(reg Registry, res Resolver, catalog *Catalog, tasks *Tasks, settings Settings, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}

	c := &Controller{
		registry:  reg,
		resolver:  res,
		catalog:   catalog,
		tasks:     tasks,
		toolkit:   noToolkit{},
		guard:     resilience.NewGuard(resilience.Settings{}),
		logger:    logger,
		settings:  settings,
		instances: make(map[string]*Instance),
		blocked:   make(map[string]bool),
	}
	c.stack = navigation.New(driver{c}, logger.Named("navigation"))
	return c
}

// WithToolkit sets the rendering toolkit
func (c *Controller) WithToolkit(t Toolkit) *Controller {
	c.toolkit = t
	return c
}

// WithPrefs sets the preferences manager handed to instances
func (c *Controller) WithPrefs(p *prefs.Manager) *Controller {
	c.prefs = p
	return c
}

// WithGuard sets the crash-loop guard
func (c *Controller) WithGuard(g *resilience.Guard) *Controller {
	c.guard = g
	return c
}

// WithNotifier sets the notification sink
func (c *Controller) WithNotifier(n Notifier) *Controller {
	c.notifier = n
	return c
}

// WithMetrics attaches a metrics collector
func (c *Controller) WithMetrics(m *monitoring.Metrics) *Controller {
	c.metrics = m
	return c
}

// ============================================================================
// Launch surface
// ============================================================================

// Start resolves req and launches it. The returned resolution carries the id
// of the new or reused instance. Resolution errors are returned directly;
// when called from an activity callback the launch itself runs after the
// callback returns.
func (c *Controller) Start(ctx context.Context, req types.LaunchRequest) (types.Resolution, error) {
	if err := ctx.Err(); err != nil {
		return types.Resolution{}, err
	}

	res, err := c.resolver.Resolve(req)
	if err != nil {
		c.metrics.RecordLaunch(launchOutcome(err))
		var ambiguous *types.AmbiguousError
		if errors.As(err, &ambiguous) && req.Caller != "" {
			if chooser, ok := c.chooserRequest(req, ambiguous.Candidates); ok {
				return c.Start(ctx, chooser)
			}
		}
		return types.Resolution{}, err
	}
	if req.Caller != "" {
		if _, ok := c.instances[req.Caller]; !ok {
			return types.Resolution{}, types.NotFoundf("caller instance %s", req.Caller)
		}
	}

	pkg, err := c.registry.Get(res.PackageID)
	if err != nil {
		c.metrics.RecordLaunch(launchOutcome(err))
		return types.Resolution{}, err
	}
	if c.blocked[pkg.ID] {
		c.metrics.RecordLaunch("busy")
		return types.Resolution{}, fmt.Errorf("%s: %w", pkg.ID, types.ErrPackageBusy)
	}

	if res.Mode == types.CreateNew && req.Flags.ClearTop {
		if e, ok := c.stack.FindEntryPoint(pkg.ID, res.Entry.Name); ok {
			res.Mode = types.ReuseExisting
			res.InstanceID = e.Instance.ID()
		}
	}

	if res.Mode == types.ReuseExisting {
		if inst, ok := c.instances[res.InstanceID]; ok {
			return res, c.run(func() error { return c.reuse(inst, req) })
		}
		res.Mode = types.CreateNew
		res.InstanceID = ""
	}

	if err := c.guard.Allow(pkg.ID); err != nil {
		c.metrics.RecordLaunch("refused")
		c.notifyPackage(types.NotifyRefused, pkg.ID, err.Error())
		return types.Resolution{}, err
	}

	activity, err := c.catalog.New(pkg, res.Entry)
	if err != nil {
		c.metrics.RecordLaunch("error")
		return types.Resolution{}, err
	}

	inst := c.newInstance(pkg, res.Entry, activity, req)
	res.InstanceID = inst.ID()
	return res, c.run(func() error { return c.launch(inst, req) })
}

func (c *Controller) newInstance(pkg types.Package, entry types.EntryPoint, activity Activity, req types.LaunchRequest) *Instance {
	inst := &Instance{
		id:       id.NewInstanceID(),
		pkg:      pkg,
		entry:    entry,
		activity: activity,
		state:    types.StateNone,
		intent:   req,
		res:      newResources(),
		ctl:      c,
		created:  c.now(),
	}
	c.instances[inst.ID()] = inst
	return inst
}

// launch places a new instance on the stack, which brings it to the foreground
func (c *Controller) launch(inst *Instance, req types.LaunchRequest) error {
	if _, ok := c.instances[inst.ID()]; !ok {
		// Terminated before its launch ran
		return nil
	}

	if req.ExpectResult {
		top, ok := c.stack.Top()
		if !ok || (req.Caller != "" && top.Instance.ID() != req.Caller) {
			delete(c.instances, inst.ID())
			c.metrics.RecordLaunch("error")
			if req.Caller != "" {
				driver{c}.Deliver(req.Caller, req.ResultSlot, types.Canceled())
			}
			return fmt.Errorf("only the foreground instance can wait for a result")
		}
	}

	entry, err := c.stack.Push(inst, req.ExpectResult, req.ResultSlot)
	if err != nil {
		delete(c.instances, inst.ID())
		c.metrics.RecordLaunch("error")
		return err
	}
	entry.NoHistory = req.Flags.NoHistory

	c.metrics.RecordLaunch("created")
	c.logger.Info("instance launched",
		zap.String("instance", inst.ID()),
		zap.String("package", inst.pkg.ID),
		zap.String("entry", inst.entry.Name),
		zap.Int("depth", c.stack.Len()))
	c.updateGauges()
	return nil
}

// reuse routes a request to a live instance without creating it again
func (c *Controller) reuse(inst *Instance, req types.LaunchRequest) error {
	inst.intent = req
	if inst.state == types.StateNone {
		// Launch still queued; it will see the new intent
		c.metrics.RecordLaunch("reused")
		return nil
	}
	if !inst.state.Live() {
		return types.NotFoundf("instance %s", inst.ID())
	}

	deliver := func() bool {
		r, ok := inst.activity.(IntentReceiver)
		if !ok {
			return true
		}
		return c.invoke(inst, "new_intent", func() error { return r.OnNewIntent(inst, req) })
	}

	top, hasTop := c.stack.Top()
	_, onStack := c.stack.Find(inst.ID())
	switch {
	case hasTop && top.Instance.ID() == inst.ID():
		// Already foreground: re-enter Resumed around the new intent
		if inst.state == types.StateResumed && !c.move(inst, types.StatePaused) {
			return nil
		}
		if !deliver() {
			return nil
		}
		c.move(inst, types.StateResumed)
	case onStack:
		if !deliver() {
			return nil
		}
		if err := c.stack.ClearAbove(inst.ID()); err != nil {
			return err
		}
	default:
		if !deliver() {
			return nil
		}
		if _, err := c.stack.Push(inst, req.ExpectResult, req.ResultSlot); err != nil {
			return err
		}
	}

	c.metrics.RecordLaunch("reused")
	c.logger.Info("instance reused",
		zap.String("instance", inst.ID()),
		zap.String("package", inst.pkg.ID),
		zap.String("entry", inst.entry.Name))
	c.updateGauges()
	return nil
}

// ============================================================================
// Navigation
// ============================================================================

// Boot launches the home entry when the stack is empty
func (c *Controller) Boot(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.run(func() error {
		if c.stack.Len() > 0 {
			return nil
		}
		return c.launchHome()
	})
}

// Back pops the foreground entry. Popping home fails with ErrHomeEntry.
func (c *Controller) Back() error {
	return c.run(func() error {
		if c.homeMissing() {
			if err := c.insertHome(); err != nil {
				c.logger.Warn("failed to restore home", zap.Error(err))
			}
		}
		_, err := c.stack.Pop()
		c.updateGauges()
		return err
	})
}

// Home destroys everything above the home entry
func (c *Controller) Home() error {
	return c.run(func() error {
		if err := c.restoreHome(); err != nil {
			return err
		}
		err := c.stack.ResetToHome()
		c.updateGauges()
		return err
	})
}

// Finish closes an instance and delivers its result to a waiting caller
func (c *Controller) Finish(instanceID string) error {
	return c.run(func() error {
		inst, ok := c.instances[instanceID]
		if !ok {
			return types.NotFoundf("instance %s", instanceID)
		}

		if home, ok := c.stack.Home(); ok && home.Instance.ID() == instanceID {
			return types.ErrHomeEntry
		}
		if top, ok := c.stack.Top(); ok && top.Instance.ID() == instanceID {
			_, err := c.stack.Pop()
			c.updateGauges()
			return err
		}

		if _, onStack := c.stack.Find(instanceID); onStack {
			if caller, slot, owes := c.stack.Awaiting(instanceID); owes {
				c.stack.DeliverResult(caller, slot, resultOf(inst))
			}
			c.destroy(inst)
			c.stack.Remove(instanceID)
		} else if err := c.stack.Evict(instanceID); err != nil {
			return err
		}
		c.updateGauges()
		return nil
	})
}

// SetResult records the result an instance will deliver when it finishes
func (c *Controller) SetResult(instanceID string, res types.Result) error {
	return c.run(func() error {
		inst, ok := c.instances[instanceID]
		if !ok {
			return types.NotFoundf("instance %s", instanceID)
		}
		inst.result = &res
		return nil
	})
}

// DeliverResult hands a result to the instance waiting on slot, once
func (c *Controller) DeliverResult(caller string, slot uint32, res types.Result) (bool, error) {
	delivered := false
	err := c.run(func() error {
		delivered = c.stack.DeliverResult(caller, slot, res)
		return nil
	})
	return delivered, err
}

// DispatchInput delivers an input event to the foreground instance
func (c *Controller) DispatchInput(ev InputEvent) error {
	return c.run(func() error {
		top, ok := c.stack.Top()
		if !ok {
			return types.NotFoundf("foreground instance")
		}
		inst := top.Instance.(*Instance)
		if inst.state != types.StateResumed {
			return fmt.Errorf("instance %s is %s, input needs resumed", inst.ID(), inst.state)
		}
		h, ok := inst.activity.(InputHandler)
		if !ok {
			return nil
		}
		c.invoke(inst, "input", func() error { return h.OnInput(inst, ev) })
		return nil
	})
}

// ============================================================================
// Loop hooks
// ============================================================================

// Frame runs the frame callbacks of the foreground instance
func (c *Controller) Frame(now time.Time) {
	_ = c.run(func() error {
		top, ok := c.stack.Top()
		if !ok {
			return nil
		}
		inst := top.Instance.(*Instance)
		if inst.state != types.StateResumed || !inst.res.framesOn {
			return nil
		}

		start := time.Now()
		for _, f := range inst.res.frameList() {
			if !inst.res.framesOn {
				break
			}
			if _, still := inst.res.frames[f.seq]; !still {
				continue
			}
			fn := f.fn
			if !c.invoke(inst, "frame", func() error { fn(now); return nil }) {
				break
			}
		}
		c.metrics.ObserveFrame(time.Since(start))
		return nil
	})
}

// StepStats reports the work done by one Step
type StepStats struct {
	Timers  int `json:"timers"`
	Drained int `json:"drained"`
}

// Step fires due timers, drains background completions within the budget
// and relaunches home if it was lost
func (c *Controller) Step() StepStats {
	var stats StepStats
	_ = c.run(func() error {
		now := c.now()
		for _, inst := range c.live() {
			for _, t := range inst.res.dueTimers(now) {
				if !inst.state.Live() {
					break
				}
				if _, still := inst.res.timers[t.id]; !still {
					continue
				}
				fn := t.fn
				stats.Timers++
				c.invoke(inst, "timer", func() error { fn(); return nil })
			}
		}

		stats.Drained = c.tasks.Drain(c.settings.Drain, c.complete)

		if c.needHome.CompareAndSwap(true, false) {
			if err := c.restoreHome(); errors.Is(err, types.ErrPackageBusy) {
				c.needHome.Store(true)
				c.logger.Debug("home relaunch waits for package", zap.Error(err))
			} else if err != nil {
				c.logger.Warn("failed to relaunch home", zap.Error(err))
			}
		}
		c.updateGauges()
		return nil
	})
	return stats
}

// complete runs the done callback of a drained task on its owner
func (c *Controller) complete(comp Completion) {
	inst, ok := c.instances[comp.Task.Owner]
	if !ok || !inst.state.Live() {
		return
	}
	if _, owned := inst.res.tasks[comp.Task.ID]; !owned {
		return
	}
	delete(inst.res.tasks, comp.Task.ID)

	if done := comp.Task.done; done != nil {
		c.invoke(inst, "task", func() error { done(comp.Value, comp.Err); return nil })
	}
}

// ============================================================================
// Package coordination
// ============================================================================

// TerminatePackage destroys every instance of a package, for the installer.
// The package cannot launch again until ReleasePackage.
func (c *Controller) TerminatePackage(ctx context.Context, pkg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.run(func() error {
		c.blocked[pkg] = true
		n := c.terminate(pkg)
		if c.prefs != nil {
			c.prefs.Forget(pkg)
		}
		c.guard.Reset(pkg)
		if n > 0 {
			c.logger.Info("package terminated", zap.String("package", pkg), zap.Int("instances", n))
		}
		return nil
	})
}

func (c *Controller) terminate(pkg string) int {
	n := 0
	if top, ok := c.stack.Top(); ok && top.Instance.PackageID() == pkg {
		driver{c}.Pause(top.Instance)
	}

	entries := c.stack.Entries()
	for i := len(entries) - 1; i >= 0; i-- {
		inst := entries[i].Instance.(*Instance)
		if inst.pkg.ID != pkg {
			continue
		}
		c.destroy(inst)
		c.stack.Remove(inst.ID())
		n++
	}
	for _, d := range c.stack.Detached() {
		if d.PackageID() == pkg {
			_ = c.stack.Evict(d.ID())
			n++
		}
	}
	for instanceID, inst := range c.instances {
		if inst.pkg.ID == pkg && inst.state == types.StateNone {
			delete(c.instances, instanceID)
		}
	}

	c.requestHome()
	c.updateGauges()
	return n
}

// ReleasePackage lets a terminated package launch again
func (c *Controller) ReleasePackage(ctx context.Context, pkg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.run(func() error {
		delete(c.blocked, pkg)
		c.requestHome()
		return nil
	})
}

// Reclaim destroys up to n background instances, oldest first, and returns
// how many were destroyed. Home and the foreground are never reclaimed.
func (c *Controller) Reclaim(n int) int {
	reclaimed := 0
	_ = c.run(func() error {
		for _, inst := range c.stack.Background() {
			if reclaimed >= n {
				break
			}
			if err := c.stack.Evict(inst.ID()); err == nil {
				reclaimed++
			}
		}
		c.updateGauges()
		return nil
	})
	return reclaimed
}

// Shutdown destroys every instance and stops the worker pool
func (c *Controller) Shutdown() {
	_ = c.run(func() error {
		if top, ok := c.stack.Top(); ok {
			driver{c}.Pause(top.Instance)
		}
		entries := c.stack.Entries()
		for i := len(entries) - 1; i >= 0; i-- {
			inst := entries[i].Instance.(*Instance)
			c.destroy(inst)
			c.stack.Remove(inst.ID())
		}
		for _, d := range c.stack.Detached() {
			_ = c.stack.Evict(d.ID())
		}
		return nil
	})
	c.tasks.Close()
	c.updateGauges()
}

// ============================================================================
// Introspection
// ============================================================================

// LiveInstance finds the instance of a singleton entry point
func (c *Controller) LiveInstance(pkg, entry string) (string, bool) {
	for _, inst := range c.instances {
		if inst.pkg.ID == pkg && inst.entry.Name == entry && inst.state != types.StateDestroyed {
			return inst.ID(), true
		}
	}
	return "", false
}

// Instance returns a live instance by id
func (c *Controller) Instance(instanceID string) (*Instance, bool) {
	inst, ok := c.instances[instanceID]
	return inst, ok
}

// Instances returns snapshots of every live instance, oldest first
func (c *Controller) Instances() []Info {
	live := c.live()
	out := make([]Info, len(live))
	for i, inst := range live {
		out[i] = inst.Info()
	}
	return out
}

// StackEntry is a serializable navigation entry
type StackEntry struct {
	EntryID   string               `json:"entry_id"`
	Instance  Info                 `json:"instance"`
	View      navigation.ViewState `json:"view"`
	NoHistory bool                 `json:"no_history,omitempty"`
}

// Stack returns the navigation history, home first
func (c *Controller) Stack() []StackEntry {
	entries := c.stack.Entries()
	out := make([]StackEntry, len(entries))
	for i, e := range entries {
		out[i] = StackEntry{
			EntryID:   e.ID.String(),
			Instance:  e.Instance.(*Instance).Info(),
			View:      e.View,
			NoHistory: e.NoHistory,
		}
	}
	return out
}

// Stats returns controller statistics
func (c *Controller) Stats() types.RuntimeStats {
	stats := types.RuntimeStats{
		LiveInstances: len(c.live()),
		StackDepth:    c.stack.Len(),
		Background:    len(c.stack.Detached()),
		PendingTasks:  c.tasks.Pending(),
		PendingSlots:  c.stack.PendingResults(),
	}
	if top, ok := c.stack.Top(); ok {
		instanceID, pkg := top.Instance.ID(), top.Instance.PackageID()
		stats.ForegroundID = &instanceID
		stats.ForegroundPkg = &pkg
	}
	if home, ok := c.stack.Home(); ok {
		homeID := home.Instance.ID()
		stats.HomeInstanceID = &homeID
	}
	return stats
}

// ============================================================================
// Internals
// ============================================================================

// run executes fn now, or queues it when called from inside another operation
func (c *Controller) run(fn func() error) error {
	if c.busy {
		c.deferred = append(c.deferred, func() {
			if err := fn(); err != nil {
				c.logger.Warn("queued operation failed", zap.Error(err))
			}
		})
		return nil
	}

	c.busy = true
	defer func() { c.busy = false }()

	err := fn()
	for len(c.deferred) > 0 {
		next := c.deferred[0]
		c.deferred = c.deferred[1:]
		next()
	}
	return err
}

// later queues fn after the current operation
func (c *Controller) later(fn func()) {
	if !c.busy {
		fn()
		return
	}
	c.deferred = append(c.deferred, fn)
}

// homePackage returns the configured home package or the registry's launcher
func (c *Controller) homePackage() (types.Package, error) {
	if c.settings.HomePackage != "" {
		return c.registry.Get(c.settings.HomePackage)
	}
	return c.registry.Launcher()
}

// chooserRequest builds the explicit launch of the home package's chooser
// for an ambiguous request issued by an instance. The chooser takes over the
// caller and result slot of req.
func (c *Controller) chooserRequest(req types.LaunchRequest, candidates []types.Match) (types.LaunchRequest, bool) {
	if c.settings.ChooserEntry == "" {
		return types.LaunchRequest{}, false
	}
	pkg, err := c.homePackage()
	if err != nil {
		return types.LaunchRequest{}, false
	}
	if _, ok := pkg.Entry(c.settings.ChooserEntry); !ok {
		return types.LaunchRequest{}, false
	}

	chooser := types.Explicit(pkg.ID, c.settings.ChooserEntry)
	chooser.Caller = req.Caller
	chooser.ExpectResult = req.ExpectResult
	chooser.ResultSlot = req.ResultSlot
	chooser.Extras = map[string]any{
		ExtraCandidates: append([]types.Match(nil), candidates...),
		ExtraRequest:    req,
	}
	c.logger.Debug("offering chooser",
		zap.String("caller", req.Caller),
		zap.String("action", req.Action),
		zap.Int("candidates", len(candidates)))
	return chooser, true
}

// homeInstance creates an unlaunched instance of the home package
func (c *Controller) homeInstance() (*Instance, error) {
	pkg, err := c.homePackage()
	if err != nil {
		return nil, fmt.Errorf("failed to find home package: %w", err)
	}
	if c.blocked[pkg.ID] {
		return nil, fmt.Errorf("%s: %w", pkg.ID, types.ErrPackageBusy)
	}
	if err := c.guard.Allow(pkg.ID); err != nil {
		c.notifyPackage(types.NotifyRefused, pkg.ID, err.Error())
		return nil, err
	}

	entry, ok := pkg.MainEntry()
	if !ok {
		return nil, types.NotFoundf("entry point in %s", pkg.ID)
	}
	activity, err := c.catalog.New(pkg, entry)
	if err != nil {
		return nil, err
	}
	return c.newInstance(pkg, entry, activity, types.Explicit(pkg.ID, entry.Name)), nil
}

// launchHome starts home in the foreground, replacing any history
func (c *Controller) launchHome() error {
	inst, err := c.homeInstance()
	if err != nil {
		return err
	}

	c.homeID = inst.ID()
	if c.stack.Len() == 0 {
		_, err = c.stack.Push(inst, false, 0)
	} else {
		_, err = c.stack.ReplaceHome(inst)
	}
	if err != nil {
		delete(c.instances, inst.ID())
		return err
	}

	c.metrics.RecordLaunch("created")
	c.logger.Info("home launched", zap.String("package", inst.pkg.ID), zap.String("instance", inst.ID()))
	c.updateGauges()
	return nil
}

// insertHome slides a new home beneath the history and leaves it stopped
func (c *Controller) insertHome() error {
	inst, err := c.homeInstance()
	if err != nil {
		return err
	}

	c.homeID = inst.ID()
	if _, err := c.stack.InsertHome(inst); err != nil {
		delete(c.instances, inst.ID())
		return err
	}
	for _, to := range []types.State{types.StateCreated, types.StateStarted, types.StateStopped} {
		if !c.move(inst, to) {
			return fmt.Errorf("home %s failed while starting", inst.ID())
		}
	}

	c.metrics.RecordLaunch("created")
	c.logger.Info("home restored beneath history",
		zap.String("package", inst.pkg.ID),
		zap.String("instance", inst.ID()),
		zap.Int("depth", c.stack.Len()))
	c.updateGauges()
	return nil
}

// restoreHome launches home on an empty stack, or inserts it when the bottom
// entry is no longer the home instance
func (c *Controller) restoreHome() error {
	switch {
	case c.stack.Len() == 0:
		return c.launchHome()
	case c.homeMissing():
		return c.insertHome()
	}
	return nil
}

// homeMissing reports whether the bottom entry is an ordinary instance
func (c *Controller) homeMissing() bool {
	home, ok := c.stack.Home()
	return ok && home.Instance.ID() != c.homeID
}

// requestHome schedules a home relaunch if the stack emptied or lost its home
func (c *Controller) requestHome() {
	if c.stack.Len() == 0 || c.homeMissing() {
		c.needHome.Store(true)
	}
}

// destroy walks an instance down to Destroyed, invoking each callback
func (c *Controller) destroy(inst *Instance) {
	switch inst.state {
	case types.StateDestroyed:
		c.release(inst)
		return
	case types.StateNone:
		delete(c.instances, inst.ID())
		return
	case types.StateResumed:
		if !c.move(inst, types.StatePaused) {
			return
		}
	}
	if inst.state == types.StatePaused || inst.state == types.StateStarted {
		if !c.move(inst, types.StateStopped) {
			return
		}
	}
	c.move(inst, types.StateDestroyed)
	c.release(inst)
}

// release frees everything an instance owns. It is safe to call repeatedly.
func (c *Controller) release(inst *Instance) {
	r := inst.res
	r.framesOn = false
	for seq := range r.frames {
		delete(r.frames, seq)
	}
	for timerID := range r.timers {
		delete(r.timers, timerID)
	}
	for taskID := range r.tasks {
		c.tasks.Cancel(taskID)
		delete(r.tasks, taskID)
	}
	if r.hasRoot {
		if err := c.toolkit.Destroy(r.root); err != nil {
			c.logger.Warn("failed to destroy root container", zap.String("instance", inst.ID()), zap.Error(err))
		} else {
			r.hasRoot = false
		}
	}

	if _, tracked := c.instances[inst.ID()]; tracked {
		delete(c.instances, inst.ID())
		c.logger.Debug("instance destroyed", zap.String("instance", inst.ID()), zap.String("package", inst.pkg.ID))

		if c.settings.DebugLeaks && !r.Empty() {
			leak := &types.LeakError{InstanceID: inst.ID(), Resources: r.Counts()}
			c.metrics.RecordLeak()
			c.logger.Error("resource leak", zap.Error(leak))
			c.notify(types.NotifyLeak, inst, leak.Error())
		}
	}
	c.updateGauges()
}

// live returns live instances ordered by creation
func (c *Controller) live() []*Instance {
	out := make([]*Instance, 0, len(c.instances))
	for _, inst := range c.instances {
		if inst.state.Live() {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (c *Controller) updateGauges() {
	c.metrics.SetRuntime(len(c.instances), c.stack.Len())
}

func (c *Controller) now() time.Time {
	return c.settings.Now()
}

func (c *Controller) notify(kind types.NotificationKind, inst *Instance, message string) {
	if c.notifier == nil {
		return
	}
	c.notifier.Notify(types.Notification{
		Kind:      kind,
		Package:   inst.pkg.ID,
		Instance:  inst.ID(),
		Message:   message,
		Timestamp: c.now(),
	})
}

func (c *Controller) notifyPackage(kind types.NotificationKind, pkg, message string) {
	if c.notifier == nil {
		return
	}
	c.notifier.Notify(types.Notification{Kind: kind, Package: pkg, Message: message, Timestamp: c.now()})
}

// resultOf returns the result an instance hands back, canceled when unset
func resultOf(inst *Instance) types.Result {
	if res, ok := inst.Result(); ok {
		return res
	}
	return types.Canceled()
}

func launchOutcome(err error) string {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return "not_found"
	case errors.Is(err, types.ErrAmbiguous):
		return "ambiguous"
	case errors.Is(err, types.ErrCrashLoop):
		return "refused"
	case errors.Is(err, types.ErrPackageBusy):
		return "busy"
	default:
		return "error"
	}
}

// driver performs the moves the navigation stack asks for
type driver struct {
	c *Controller
}

func (d driver) Foreground(ni navigation.Instance) {
	c, inst := d.c, ni.(*Instance)
	switch inst.state {
	case types.StateNone:
		if !c.move(inst, types.StateCreated) {
			return
		}
		fallthrough
	case types.StateCreated, types.StateStopped:
		if !c.move(inst, types.StateStarted) {
			return
		}
		fallthrough
	case types.StateStarted, types.StatePaused:
		c.move(inst, types.StateResumed)
	}
}

func (d driver) Pause(ni navigation.Instance) {
	inst := ni.(*Instance)
	if inst.state == types.StateResumed {
		d.c.move(inst, types.StatePaused)
	}
}

func (d driver) Stop(ni navigation.Instance) {
	c, inst := d.c, ni.(*Instance)
	if inst.state == types.StateResumed && !c.move(inst, types.StatePaused) {
		return
	}
	if inst.state == types.StatePaused || inst.state == types.StateStarted {
		c.move(inst, types.StateStopped)
	}
}

func (d driver) Destroy(ni navigation.Instance) {
	d.c.destroy(ni.(*Instance))
}

func (d driver) Deliver(caller string, slot uint32, res types.Result) {
	inst, ok := d.c.instances[caller]
	if !ok || !inst.state.Live() {
		return
	}
	r, ok := inst.activity.(ResultReceiver)
	if !ok {
		return
	}
	d.c.invoke(inst, "result", func() error { return r.OnResult(inst, slot, res) })
}
