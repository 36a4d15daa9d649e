package lifecycle

import (
	"errors"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/appruntime/internal/shared/types"
)

// legal lists the states reachable from each state
var legal = map[types.State][]types.State{
	types.StateNone:    {types.StateCreated},
	types.StateCreated: {types.StateStarted, types.StateDestroyed},
	types.StateStarted: {types.StateResumed, types.StateStopped, types.StateDestroyed},
	types.StateResumed: {types.StatePaused},
	types.StatePaused:  {types.StateResumed, types.StateStopped, types.StateDestroyed},
	types.StateStopped: {types.StateStarted, types.StateDestroyed},
}

// CanTransition reports whether from -> to is a legal lifecycle move
func CanTransition(from, to types.State) bool {
	for _, s := range legal[from] {
		if s == to {
			return true
		}
	}
	return false
}

// errPanic marks a callback that panicked
var errPanic = errors.New("callback panicked")

// move performs one legal transition and its callback. It reports false when
// the instance did not survive the move.
func (c *Controller) move(inst *Instance, to types.State) bool {
	if inst.state == types.StateDestroyed {
		return false
	}
	if !CanTransition(inst.state, to) {
		c.fail(inst, "illegal_transition", &types.TransitionError{
			InstanceID: inst.ID(),
			From:       inst.state,
			To:         to,
		})
		return false
	}

	from := inst.state
	switch to {
	case types.StateCreated:
		root, err := c.toolkit.CreateRoot(inst.ID())
		if err != nil {
			c.fail(inst, "toolkit", fmt.Errorf("failed to create root container: %w", err))
			return false
		}
		inst.res.root = root
		inst.res.hasRoot = true
	case types.StatePaused:
		// Frames stop before OnPause so nothing draws into an outgoing root
		inst.res.framesOn = false
		if kept, ok := inst.activity.(ViewKeeper); ok {
			c.stack.SaveView(inst.ID(), kept.SaveView(inst))
		}
	case types.StateResumed:
		if err := c.toolkit.Mount(inst.res.root); err != nil {
			c.fail(inst, "toolkit", fmt.Errorf("failed to mount root container: %w", err))
			return false
		}
		if kept, ok := inst.activity.(ViewKeeper); ok {
			if e, found := c.stack.Find(inst.ID()); found {
				kept.RestoreView(inst, e.View)
			}
		}
	}

	inst.state = to
	c.metrics.RecordTransition(to.String())
	c.logger.Debug("transition",
		zap.String("instance", inst.ID()),
		zap.String("package", inst.pkg.ID),
		zap.Stringer("from", from),
		zap.Stringer("to", to))

	if !c.invoke(inst, to.String(), func() error { return callback(inst, to) }) {
		return false
	}

	switch to {
	case types.StatePaused:
		if err := c.toolkit.Unmount(inst.res.root); err != nil {
			c.logger.Warn("failed to unmount root container", zap.String("instance", inst.ID()), zap.Error(err))
		}
	case types.StateResumed:
		inst.res.framesOn = true
		c.guard.Healthy(inst.pkg.ID)
		c.notify(types.NotifyForeground, inst, "")
	}
	return true
}

// callback dispatches the single callback for entering state to
func callback(inst *Instance, to types.State) error {
	a := inst.activity
	switch to {
	case types.StateCreated:
		return a.OnCreate(inst)
	case types.StateStarted:
		return a.OnStart(inst)
	case types.StateResumed:
		return a.OnResume(inst)
	case types.StatePaused:
		return a.OnPause(inst)
	case types.StateStopped:
		return a.OnStop(inst)
	case types.StateDestroyed:
		return a.OnDestroy(inst)
	}
	return nil
}

// invoke runs activity code, turning a panic or error into a crash.
// It reports whether the instance is still live.
func (c *Controller) invoke(inst *Instance, what string, fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("activity panic",
				zap.String("instance", inst.ID()),
				zap.String("package", inst.pkg.ID),
				zap.String("callback", what),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			c.fail(inst, "panic", fmt.Errorf("%s: %w: %v", what, errPanic, r))
			ok = false
		}
	}()

	if err := fn(); err != nil {
		c.fail(inst, "error", fmt.Errorf("%s: %w", what, err))
		return false
	}
	return !inst.crashed
}

// fail force-destroys an instance after a crash or defect. Its stack entry is
// removed once the current operation finishes.
func (c *Controller) fail(inst *Instance, cause string, err error) {
	if inst.crashed {
		return
	}
	inst.crashed = true

	kind := types.NotifyCrash
	if errors.Is(err, types.ErrIllegalTransition) {
		kind = types.NotifyDefect
	}
	c.logger.Error("instance failed",
		zap.String("instance", inst.ID()),
		zap.String("package", inst.pkg.ID),
		zap.String("cause", cause),
		zap.Error(err))
	c.metrics.RecordCrash(cause)
	c.guard.Crash(inst.pkg.ID)
	c.notify(kind, inst, err.Error())

	if inst.state != types.StateDestroyed {
		inst.state = types.StateDestroyed
		c.metrics.RecordTransition(types.StateDestroyed.String())
	}
	c.release(inst)

	id := inst.ID()
	c.later(func() {
		c.stack.Remove(id)
		c.requestHome()
	})
}
