package script

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appruntime/internal/domain/lifecycle"
	"github.com/GriffinCanCode/appruntime/internal/domain/navigation"
	"github.com/GriffinCanCode/appruntime/internal/shared/types"
)

// Callback names a script may define as globals
const (
	fnCreate    = "onCreate"
	fnStart     = "onStart"
	fnResume    = "onResume"
	fnPause     = "onPause"
	fnStop      = "onStop"
	fnDestroy   = "onDestroy"
	fnResult    = "onResult"
	fnNewIntent = "onNewIntent"
	fnInput     = "onInput"
	fnSaveView  = "onSaveView"
	fnRestore   = "onRestoreView"
)

// ErrTimeout is returned when a callback exceeds the configured timeout
var ErrTimeout = errors.New("script callback timed out")

// Activity runs lifecycle callbacks defined by a script. One VM per instance.
type Activity struct {
	vm     *goja.Runtime
	config Config
	logger *zap.Logger
	app    *goja.Object
	inst   *lifecycle.Instance
}

func newActivity(program *goja.Program, config Config, logger *zap.Logger) (*Activity, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if config.MaxCallStack > 0 {
		vm.SetMaxCallStackSize(config.MaxCallStack)
	}

	a := &Activity{
		vm:     vm,
		config: config,
		logger: logger,
	}
	a.setupGlobals()

	if _, err := a.guard(func() (goja.Value, error) { return vm.RunProgram(program) }); err != nil {
		return nil, err
	}
	return a, nil
}

// setupGlobals removes host escape hatches and installs console
func (a *Activity) setupGlobals() {
	for _, name := range []string{"require", "process", "module", "exports"} {
		a.vm.Set(name, goja.Undefined())
	}

	console := a.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error"} {
		console.Set(level, a.consoleFunc(level))
	}
	a.vm.Set("console", console)
}

func (a *Activity) consoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if !a.config.EnableConsole {
			return goja.Undefined()
		}
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")
		switch level {
		case "warn":
			a.logger.Warn(msg, zap.String("source", "script"))
		case "error":
			a.logger.Error(msg, zap.String("source", "script"))
		default:
			a.logger.Info(msg, zap.String("source", "script"))
		}
		return goja.Undefined()
	}
}

// guard runs fn with the callback timeout armed
func (a *Activity) guard(fn func() (goja.Value, error)) (goja.Value, error) {
	if a.config.Timeout > 0 {
		t := time.AfterFunc(a.config.Timeout, func() { a.vm.Interrupt(ErrTimeout) })
		defer func() {
			t.Stop()
			a.vm.ClearInterrupt()
		}()
	}

	v, err := fn()
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, a.config.Timeout)
		}
		return nil, err
	}
	return v, nil
}

// call invokes a global function if the script defines it
func (a *Activity) call(name string, args ...any) (goja.Value, error) {
	fn, ok := goja.AssertFunction(a.vm.Get(name))
	if !ok {
		return goja.Undefined(), nil
	}
	values := make([]goja.Value, len(args))
	for i, arg := range args {
		values[i] = a.vm.ToValue(arg)
	}
	v, err := a.guard(func() (goja.Value, error) { return fn(goja.Undefined(), values...) })
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

// state invokes a lifecycle callback; the first one binds the app object
func (a *Activity) state(inst *lifecycle.Instance, name string) error {
	if a.inst == nil {
		a.inst = inst
		a.app = newBridge(a, inst)
	}
	_, err := a.call(name, a.app)
	return err
}

func (a *Activity) OnCreate(inst *lifecycle.Instance) error  { return a.state(inst, fnCreate) }
func (a *Activity) OnStart(inst *lifecycle.Instance) error   { return a.state(inst, fnStart) }
func (a *Activity) OnResume(inst *lifecycle.Instance) error  { return a.state(inst, fnResume) }
func (a *Activity) OnPause(inst *lifecycle.Instance) error   { return a.state(inst, fnPause) }
func (a *Activity) OnStop(inst *lifecycle.Instance) error    { return a.state(inst, fnStop) }
func (a *Activity) OnDestroy(inst *lifecycle.Instance) error { return a.state(inst, fnDestroy) }

// OnResult passes a launched entry's result to onResult(app, slot, result)
func (a *Activity) OnResult(inst *lifecycle.Instance, slot uint32, res types.Result) error {
	_, err := a.call(fnResult, a.app, slot, res)
	return err
}

// OnNewIntent passes a reused singleton's new request to onNewIntent(app, intent)
func (a *Activity) OnNewIntent(inst *lifecycle.Instance, req types.LaunchRequest) error {
	_, err := a.call(fnNewIntent, a.app, req)
	return err
}

// OnInput passes an input event to onInput(app, event)
func (a *Activity) OnInput(inst *lifecycle.Instance, ev lifecycle.InputEvent) error {
	_, err := a.call(fnInput, a.app, ev)
	return err
}

// SaveView reads {scroll, focus} from onSaveView(app)
func (a *Activity) SaveView(inst *lifecycle.Instance) navigation.ViewState {
	var vs navigation.ViewState
	v, err := a.call(fnSaveView, a.app)
	if err != nil {
		a.logger.Warn("failed to save view state", zap.Error(err))
		return vs
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return vs
	}
	if err := a.vm.ExportTo(v, &vs); err != nil {
		a.logger.Warn("invalid view state", zap.Error(err))
	}
	return vs
}

// RestoreView hands the saved view state to onRestoreView(app, view)
func (a *Activity) RestoreView(inst *lifecycle.Instance, vs navigation.ViewState) {
	if _, err := a.call(fnRestore, a.app, vs); err != nil {
		a.logger.Warn("failed to restore view state", zap.Error(err))
	}
}
