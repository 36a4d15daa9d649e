package script

import (
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/appruntime/internal/domain/lifecycle"
	"github.com/GriffinCanCode/appruntime/internal/shared/id"
	"github.com/GriffinCanCode/appruntime/internal/shared/types"
)

// newBridge builds the app object handed to every script callback
func newBridge(a *Activity, inst *lifecycle.Instance) *goja.Object {
	vm := a.vm
	app := vm.NewObject()

	_ = app.Set("id", inst.ID())
	_ = app.Set("package", inst.PackageID())
	_ = app.Set("entry", inst.EntryName())
	_ = app.Set("root", func() string { return inst.Root() })
	_ = app.Set("intent", func() types.LaunchRequest { return inst.Intent() })

	_ = app.Set("setResult", func(code int, data map[string]any) { inst.SetResult(code, data) })
	_ = app.Set("finish", func() { inst.Finish() })
	_ = app.Set("startActivity", func(req types.LaunchRequest) error { return inst.StartActivity(req) })
	_ = app.Set("startForResult", func(req types.LaunchRequest, slot uint32) error {
		return inst.StartForResult(req, slot)
	})

	// Timer and frame callbacks run outside a lifecycle callback; a script
	// error there panics so the controller crashes the instance.
	_ = app.Set("every", func(ms int64, fn goja.Callable) string {
		timerID := inst.Every(time.Duration(ms)*time.Millisecond, func() {
			a.mustRun(fn)
		})
		return timerID.String()
	})
	_ = app.Set("cancelTimer", func(timerID string) { inst.CancelTimer(id.TimerID(timerID)) })
	_ = app.Set("onFrame", func(fn goja.Callable) func() {
		return inst.OnFrame(func(now time.Time) {
			a.mustRun(fn, now.UnixMilli())
		})
	})

	_ = app.Set("prefs", newPrefs(vm, inst))
	return app
}

func (a *Activity) mustRun(fn goja.Callable, args ...any) {
	values := make([]goja.Value, len(args))
	for i, arg := range args {
		values[i] = a.vm.ToValue(arg)
	}
	if _, err := a.guard(func() (goja.Value, error) { return fn(goja.Undefined(), values...) }); err != nil {
		panic(err)
	}
}

// newPrefs exposes the package's default store as get/set/remove
func newPrefs(vm *goja.Runtime, inst *lifecycle.Instance) *goja.Object {
	p := vm.NewObject()

	_ = p.Set("get", func(key string, def goja.Value) (any, error) {
		store, err := inst.Prefs()
		if err != nil {
			return nil, err
		}
		if def == nil || goja.IsUndefined(def) || goja.IsNull(def) {
			v, _ := store.Get(key)
			return v, nil
		}
		switch d := def.Export().(type) {
		case bool:
			return store.Bool(key, d), nil
		case int64:
			return store.Int(key, int(d)), nil
		case float64:
			return store.Int(key, int(d)), nil
		case string:
			return store.String(key, d), nil
		case []any:
			return store.List(key, d), nil
		case map[string]any:
			return store.Map(key, d), nil
		default:
			return nil, fmt.Errorf("unsupported default for %s: %T", key, d)
		}
	})

	_ = p.Set("set", func(key string, value goja.Value) error {
		store, err := inst.Prefs()
		if err != nil {
			return err
		}
		e := store.Edit()
		switch v := value.Export().(type) {
		case bool:
			e.PutBool(key, v)
		case int64:
			e.PutInt(key, int(v))
		case float64:
			e.PutInt(key, int(v))
		case string:
			e.PutString(key, v)
		case []any:
			e.PutList(key, v)
		case map[string]any:
			e.PutMap(key, v)
		default:
			return fmt.Errorf("unsupported value for %s: %T", key, v)
		}
		return e.Commit()
	})

	_ = p.Set("remove", func(key string) error {
		store, err := inst.Prefs()
		if err != nil {
			return err
		}
		return store.Edit().Remove(key).Commit()
	})
	return p
}
