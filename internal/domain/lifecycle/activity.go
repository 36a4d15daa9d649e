package lifecycle

import (
	"sync"

	"github.com/GriffinCanCode/appruntime/internal/domain/navigation"
	"github.com/GriffinCanCode/appruntime/internal/shared/types"
)

// Activity is the code behind an entry point. Each state entry invokes
// exactly one callback. A returned error or panic destroys the instance.
type Activity interface {
	OnCreate(inst *Instance) error
	OnStart(inst *Instance) error
	OnResume(inst *Instance) error
	OnPause(inst *Instance) error
	OnStop(inst *Instance) error
	OnDestroy(inst *Instance) error
}

// ResultReceiver is implemented by activities that launch others for a result
type ResultReceiver interface {
	OnResult(inst *Instance, slot uint32, res types.Result) error
}

// IntentReceiver is implemented by singleton activities that accept new requests
type IntentReceiver interface {
	OnNewIntent(inst *Instance, req types.LaunchRequest) error
}

// InputHandler is implemented by activities that take input while resumed
type InputHandler interface {
	OnInput(inst *Instance, ev InputEvent) error
}

// ViewKeeper is implemented by activities that restore scroll and focus on return
type ViewKeeper interface {
	SaveView(inst *Instance) navigation.ViewState
	RestoreView(inst *Instance, vs navigation.ViewState)
}

// InputEvent is a touch or key event delivered to the foreground instance
type InputEvent struct {
	Kind string         `json:"kind"` // "touch", "key", "gesture"
	X    int            `json:"x,omitempty"`
	Y    int            `json:"y,omitempty"`
	Key  string         `json:"key,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// Base implements every Activity callback as a no-op
type Base struct{}

func (Base) OnCreate(*Instance) error  { return nil }
func (Base) OnStart(*Instance) error   { return nil }
func (Base) OnResume(*Instance) error  { return nil }
func (Base) OnPause(*Instance) error   { return nil }
func (Base) OnStop(*Instance) error    { return nil }
func (Base) OnDestroy(*Instance) error { return nil }

// Factory creates a fresh activity for one instance
type Factory func() Activity

// ScriptFactory creates activities for entry points backed by a script asset
type ScriptFactory func(pkg types.Package, entry types.EntryPoint) (Activity, error)

// Catalog maps activity class names to the code implementing them
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
	scripts   ScriptFactory
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Register binds a class name to a factory
func (c *Catalog) Register(class string, f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[class] = f
}

// WithScripts sets the factory used for script entry points
func (c *Catalog) WithScripts(f ScriptFactory) *Catalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts = f
	return c
}

// Classes returns the number of registered classes
func (c *Catalog) Classes() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.factories)
}

// New instantiates the activity for an entry point. Registered classes win
// over scripts so built-in code can shadow a bundled script.
func (c *Catalog) New(pkg types.Package, entry types.EntryPoint) (Activity, error) {
	c.mu.RLock()
	f, ok := c.factories[entry.Class]
	scripts := c.scripts
	c.mu.RUnlock()

	if ok {
		return f(), nil
	}
	if entry.Script != "" && scripts != nil {
		return scripts(pkg, entry)
	}
	return nil, types.NotFoundf("activity class %s of %s", entry.Class, pkg.ID)
}
