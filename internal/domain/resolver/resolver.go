package resolver

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/appruntime/internal/domain/registry"
	"github.com/GriffinCanCode/appruntime/internal/shared/types"
)

// Registry is the read side of the package registry
type Registry interface {
	Get(id string) (types.Package, error)
	FindEntryPoints(f types.Filter) []types.Match
}

// LiveIndex finds live instances of an entry point
type LiveIndex interface {
	LiveInstance(pkg, entry string) (string, bool)
}

// Resolver turns launch requests into concrete entry points
type Resolver struct {
	registry Registry
	live     LiveIndex
	logger   *zap.Logger
}

// New creates a resolver over reg
func New(reg Registry, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{registry: reg, logger: logger}
}

// WithLiveIndex enables singleton reuse
func (r *Resolver) WithLiveIndex(idx LiveIndex) *Resolver {
	r.live = idx
	return r
}

// Resolve picks the entry point a request targets. Implicit requests with
// several answers fail with *types.AmbiguousError rather than guessing.
func (r *Resolver) Resolve(req types.LaunchRequest) (types.Resolution, error) {
	var (
		pkgID string
		entry types.EntryPoint
		err   error
	)
	if req.IsExplicit() {
		pkgID, entry, err = r.explicit(req)
	} else {
		pkgID, entry, err = r.implicit(req)
	}
	if err != nil {
		return types.Resolution{}, err
	}

	res := types.Resolution{PackageID: pkgID, Entry: entry, Mode: types.CreateNew}
	if entry.Singleton && r.live != nil {
		if instanceID, ok := r.live.LiveInstance(pkgID, entry.Name); ok {
			res.Mode = types.ReuseExisting
			res.InstanceID = instanceID
		}
	}

	r.logger.Debug("resolved launch request",
		zap.String("package", pkgID),
		zap.String("entry", entry.Name),
		zap.Stringer("mode", res.Mode))
	return res, nil
}

func (r *Resolver) explicit(req types.LaunchRequest) (string, types.EntryPoint, error) {
	pkg, err := r.registry.Get(req.Package)
	if err != nil {
		return "", types.EntryPoint{}, err
	}

	if req.Entry == "" {
		entry, ok := pkg.MainEntry()
		if !ok {
			return "", types.EntryPoint{}, types.NotFoundf("entry point in %s", pkg.ID)
		}
		return pkg.ID, entry, nil
	}

	entry, ok := pkg.Entry(req.Entry)
	if !ok {
		return "", types.EntryPoint{}, types.NotFoundf("entry point %s in %s", req.Entry, pkg.ID)
	}
	return pkg.ID, entry, nil
}

func (r *Resolver) implicit(req types.LaunchRequest) (string, types.EntryPoint, error) {
	filter := req.Filter()
	if filter.Action == "" && filter.Category == "" && filter.DataType == "" && req.Data == "" {
		return "", types.EntryPoint{}, errors.New("launch request names neither a package nor an action")
	}
	if filter.DataType == "" && req.Data != "" {
		filter.DataType = sniff(req.Data)
	}

	matches := r.registry.FindEntryPoints(filter)
	switch len(matches) {
	case 0:
		return "", types.EntryPoint{}, fmt.Errorf("no entry point for action %q category %q type %q: %w",
			filter.Action, filter.Category, filter.DataType, types.ErrNotFound)
	case 1:
		return matches[0].PackageID, matches[0].Entry, nil
	default:
		return "", types.EntryPoint{}, &types.AmbiguousError{Candidates: matches}
	}
}

// sniff detects the type of a local data path, returning "" for anything else
func sniff(data string) string {
	st, err := os.Stat(data)
	if err != nil || !st.Mode().IsRegular() {
		return ""
	}
	dataType, err := registry.DetectDataType(data)
	if err != nil {
		return ""
	}
	return dataType
}
