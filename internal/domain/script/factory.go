package script

import (
	"fmt"
	"os"
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appruntime/internal/domain/lifecycle"
	"github.com/GriffinCanCode/appruntime/internal/shared/paths"
	"github.com/GriffinCanCode/appruntime/internal/shared/types"
)

// Factory creates goja-backed activities from script assets.
// Compiled programs are cached per file and modification time.
type Factory struct {
	config Config
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]compiled
}

type compiled struct {
	program *goja.Program
	modTime int64
}

// NewFactory creates a script factory
func NewFactory(config Config, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		config: config,
		logger: logger,
		cache:  make(map[string]compiled),
	}
}

// New loads the entry's script and returns an activity running it.
// It matches lifecycle.ScriptFactory.
func (f *Factory) New(pkg types.Package, entry types.EntryPoint) (lifecycle.Activity, error) {
	if entry.Script == "" {
		return nil, fmt.Errorf("entry %s of %s has no script", entry.Name, pkg.ID)
	}
	path, err := paths.Within(pkg.Dir, entry.Script)
	if err != nil {
		return nil, fmt.Errorf("invalid script path: %w", err)
	}

	program, err := f.load(path)
	if err != nil {
		return nil, err
	}

	a, err := newActivity(program, f.config, f.logger.With(
		zap.String("package", pkg.ID),
		zap.String("entry", entry.Name)))
	if err != nil {
		return nil, fmt.Errorf("failed to start script %s: %w", entry.Script, err)
	}
	return a, nil
}

// Forget drops cached programs, for example after a package is replaced
func (f *Factory) Forget() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache = make(map[string]compiled)
}

func (f *Factory) load(path string) (*goja.Program, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, types.NotFoundf("script %s", path)
	}
	if f.config.MaxScriptSize > 0 && info.Size() > f.config.MaxScriptSize {
		return nil, fmt.Errorf("script %s is %d bytes, limit is %d", path, info.Size(), f.config.MaxScriptSize)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.cache[path]; ok && c.modTime == info.ModTime().UnixNano() {
		return c.program, nil
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	program, err := goja.Compile(path, string(src), true)
	if err != nil {
		return nil, fmt.Errorf("failed to compile script: %w", err)
	}

	f.cache[path] = compiled{program: program, modTime: info.ModTime().UnixNano()}
	return program, nil
}
