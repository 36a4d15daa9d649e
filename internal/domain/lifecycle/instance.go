package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/GriffinCanCode/appruntime/internal/domain/prefs"
	"github.com/GriffinCanCode/appruntime/internal/shared/id"
	"github.com/GriffinCanCode/appruntime/internal/shared/types"
)

// Instance is one running occurrence of an entry point. It is the handle an
// activity uses to reach the runtime; all methods must be called on the loop.
type Instance struct {
	id       id.InstanceID
	pkg      types.Package
	entry    types.EntryPoint
	activity Activity
	state    types.State
	intent   types.LaunchRequest
	result   *types.Result
	res      *resources
	ctl      *Controller
	created  time.Time
	crashed  bool
}

// Info is a serializable snapshot of an instance
type Info struct {
	ID        string         `json:"id"`
	Package   string         `json:"package"`
	Entry     string         `json:"entry"`
	State     types.State    `json:"state"`
	Created   time.Time      `json:"created"`
	Resources map[string]int `json:"resources"`
}

func (i *Instance) ID() string         { return i.id.String() }
func (i *Instance) PackageID() string  { return i.pkg.ID }
func (i *Instance) EntryName() string  { return i.entry.Name }
func (i *Instance) State() types.State { return i.state }
func (i *Instance) Persistent() bool   { return i.entry.Persistent }

// Package returns the package the instance runs from
func (i *Instance) Package() types.Package { return i.pkg }

// Entry returns the entry point the instance runs
func (i *Instance) Entry() types.EntryPoint { return i.entry }

// Activity returns the code behind the instance
func (i *Instance) Activity() Activity { return i.activity }

// Intent returns the request that launched, or last reused, the instance
func (i *Instance) Intent() types.LaunchRequest { return i.intent }

// Root returns the handle of the instance's root visual container
func (i *Instance) Root() string { return i.res.root }

// Result returns the result set by the instance, if any
func (i *Instance) Result() (types.Result, bool) {
	if i.result == nil {
		return types.Result{}, false
	}
	return *i.result, true
}

// SetResult records the result delivered to the caller when the instance finishes
func (i *Instance) SetResult(code int, data map[string]any) {
	i.result = &types.Result{Code: code, Data: data}
}

// Finish asks the runtime to close the instance and deliver its result
func (i *Instance) Finish() {
	i.ctl.Finish(i.ID())
}

// StartActivity launches another entry point on top of this instance
func (i *Instance) StartActivity(req types.LaunchRequest) error {
	req.Caller = i.ID()
	req.ExpectResult = false
	_, err := i.ctl.Start(context.Background(), req)
	return err
}

// StartForResult launches req and routes its result to OnResult with slot
func (i *Instance) StartForResult(req types.LaunchRequest, slot uint32) error {
	req.Caller = i.ID()
	req.ExpectResult = true
	req.ResultSlot = slot
	_, err := i.ctl.Start(context.Background(), req)
	return err
}

// OnFrame registers fn to run every frame while the instance is resumed.
// The returned function unregisters it.
func (i *Instance) OnFrame(fn func(now time.Time)) func() {
	seq := i.res.addFrame(fn)
	return func() { delete(i.res.frames, seq) }
}

// Every runs fn on the loop each interval until cancelled or destroyed
func (i *Instance) Every(interval time.Duration, fn func()) id.TimerID {
	if interval <= 0 {
		interval = time.Millisecond
	}
	t := &timer{
		id:       id.NewTimerID(),
		interval: interval,
		next:     i.ctl.now().Add(interval),
		fn:       fn,
	}
	i.res.timers[t.id] = t
	return t.id
}

// CancelTimer stops a timer
func (i *Instance) CancelTimer(timerID id.TimerID) {
	delete(i.res.timers, timerID)
}

// Go runs work in the background. done runs on the loop after completion,
// unless the task was cancelled or the instance destroyed.
func (i *Instance) Go(work Work, done func(value any, err error)) (id.TaskID, error) {
	if !i.state.Live() {
		return "", fmt.Errorf("instance %s is not live", i.id)
	}
	task, err := i.ctl.tasks.Submit(i.ID(), work, done)
	if err != nil {
		return "", err
	}
	i.res.tasks[task.ID] = struct{}{}
	return task.ID, nil
}

// CancelTask requests cancellation of a background unit
func (i *Instance) CancelTask(taskID id.TaskID) {
	if _, ok := i.res.tasks[taskID]; !ok {
		return
	}
	delete(i.res.tasks, taskID)
	i.ctl.tasks.Cancel(taskID)
}

// Prefs returns the package's default preferences store
func (i *Instance) Prefs() (*prefs.Store, error) {
	if i.ctl.prefs == nil {
		return nil, fmt.Errorf("preferences are not configured")
	}
	return i.ctl.prefs.Open(i.pkg.ID, "")
}

// Resources returns the live resource counts
func (i *Instance) Resources() map[string]int {
	return i.res.Counts()
}

// Info returns a snapshot of the instance
func (i *Instance) Info() Info {
	return Info{
		ID:        i.ID(),
		Package:   i.pkg.ID,
		Entry:     i.entry.Name,
		State:     i.state,
		Created:   i.created,
		Resources: i.res.Counts(),
	}
}
