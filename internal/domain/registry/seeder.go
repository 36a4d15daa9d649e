package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appruntime/internal/shared/paths"
	"github.com/GriffinCanCode/appruntime/internal/shared/types"
	"github.com/GriffinCanCode/appruntime/internal/shared/utils"
)

// DefaultLauncherID is the package id of the seeded home screen
const DefaultLauncherID = "com.micropythonos.launcher"

// ChooserEntry names the seeded launcher's app chooser entry point
const ChooserEntry = "Chooser"

// Seeder populates the built-in location of a fresh storage root
type Seeder struct {
	layout paths.Layout
	logger *zap.Logger
}

// NewSeeder creates a seeder writing into layout's built-in location
func NewSeeder(layout paths.Layout, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{layout: layout, logger: logger}
}

// SeedFrom copies every unpacked app directory under src into the built-in
// location. Apps already present are left alone.
func (s *Seeder) SeedFrom(src string) (int, error) {
	entries, err := os.ReadDir(src)
	if os.IsNotExist(err) {
		s.logger.Warn("seed directory not found", zap.String("dir", src))
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read seed directory: %w", err)
	}
	if err := os.MkdirAll(s.layout.Builtin(), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create built-in directory: %w", err)
	}

	var seeded, failed int
	for _, e := range entries {
		if !e.IsDir() || utils.ValidatePackageID(e.Name()) != nil {
			continue
		}
		from := filepath.Join(src, e.Name())
		if _, ok := paths.FindManifest(from); !ok {
			continue
		}
		to := s.layout.AppDir(types.LocationBuiltin, e.Name())
		if _, err := os.Stat(to); err == nil {
			continue
		}
		if err := os.CopyFS(to, os.DirFS(from)); err != nil {
			s.logger.Warn("failed to seed app", zap.String("package", e.Name()), zap.Error(err))
			os.RemoveAll(to)
			failed++
			continue
		}
		seeded++
	}

	s.logger.Info("seeding complete", zap.Int("seeded", seeded), zap.Int("failed", failed))
	return seeded, nil
}

// SeedLauncher writes a built-in home screen package backed by class when
// the built-in location has no launcher. A non-empty chooser adds the
// ChooserEntry entry point, which has no filters and is only launched
// explicitly. It reports whether a package was written.
func (s *Seeder) SeedLauncher(class, chooser string) (bool, error) {
	has, err := s.hasLauncher()
	if err != nil || has {
		return false, err
	}

	m := Manifest{
		ID:               DefaultLauncherID,
		Name:             "Launcher",
		Version:          "1.0.0",
		Publisher:        "MicroPythonOS",
		Category:         types.CategoryLauncher,
		ShortDescription: "Home screen",
		Activities: []Activity{{
			Name:      "Home",
			Classname: class,
			Singleton: true,
			Filters:   []Filter{{Action: types.ActionMain, Category: types.CategoryLauncher}},
		}},
	}
	if chooser != "" {
		m.Activities = append(m.Activities, Activity{Name: ChooserEntry, Classname: chooser})
	}
	data, err := sonic.ConfigStd.MarshalIndent(&m, "", "  ")
	if err != nil {
		return false, fmt.Errorf("failed to encode launcher manifest: %w", err)
	}

	path := paths.Manifest(s.layout.AppDir(types.LocationBuiltin, m.ID))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create launcher directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("failed to write launcher manifest: %w", err)
	}

	s.logger.Info("seeded default launcher", zap.String("package", m.ID), zap.String("class", class))
	return true, nil
}

func (s *Seeder) hasLauncher() (bool, error) {
	entries, err := os.ReadDir(s.layout.Builtin())
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read built-in directory: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.layout.Builtin(), e.Name())
		path, ok := paths.FindManifest(dir)
		if !ok {
			continue
		}
		m, err := ReadManifest(path)
		if err != nil {
			continue
		}
		pkg := m.ToPackage(types.LocationBuiltin, dir)
		if pkg.IsLauncher() {
			return true, nil
		}
	}
	return false, nil
}
