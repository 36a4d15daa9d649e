package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/appruntime/internal/shared/paths"
	"github.com/GriffinCanCode/appruntime/internal/shared/types"
)

// scanResult holds the packages found in one location
type scanResult struct {
	packages map[string]types.Package
	skipped  int
}

// scanLocation loads every app directory under root.
// A bad manifest skips that one package and is logged as a defect.
func (m *Manager) scanLocation(loc types.Location, root string) (scanResult, error) {
	res := scanResult{packages: make(map[string]types.Package)}

	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return res, nil
		}
		return res, fmt.Errorf("failed to list %s: %w", root, err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		pkg, err := LoadPackage(loc, dir)
		if err != nil {
			res.skipped++
			m.logger.Warn("skipping package",
				zap.String("location", string(loc)),
				zap.String("dir", dir),
				zap.Error(err))
			continue
		}
		res.packages[pkg.ID] = pkg
	}
	return res, nil
}

// LoadPackage reads and validates the package stored in dir
func LoadPackage(loc types.Location, dir string) (types.Package, error) {
	path, ok := paths.FindManifest(dir)
	if !ok {
		return types.Package{}, fmt.Errorf("no manifest in %s", filepath.Join(dir, paths.ManifestDir))
	}

	manifest, err := ReadManifest(path)
	if err != nil {
		return types.Package{}, err
	}
	if err := manifest.Validate(); err != nil {
		return types.Package{}, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	if manifest.ID != filepath.Base(dir) {
		return types.Package{}, fmt.Errorf("manifest id %q does not match directory %q", manifest.ID, filepath.Base(dir))
	}

	pkg := manifest.ToPackage(loc, dir)
	if info, err := os.Stat(path); err == nil {
		pkg.InstalledAt = info.ModTime()
	}
	return pkg, nil
}
