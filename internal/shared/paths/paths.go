package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/GriffinCanCode/appruntime/internal/shared/types"
)

// Bundle conventions
const (
	ManifestDir  = "META-INF"
	ManifestFile = "MANIFEST.JSON"
	AssetsDir    = "assets"
	ResDir       = "res"
	IconFile     = "res/mipmap-mdpi/icon_64x64.png"
)

// ManifestCandidates lists the manifest file names probed in order
var ManifestCandidates = []string{
	ManifestFile,
	"MANIFEST.yaml",
	"MANIFEST.yml",
	"MANIFEST.toml",
}

// Layout is the directory structure rooted at one storage location
type Layout struct {
	Root string
}

// New returns the layout rooted at root
func New(root string) Layout {
	return Layout{Root: filepath.Clean(root)}
}

// Builtin returns the read-only built-in apps directory
func (l Layout) Builtin() string {
	return filepath.Join(l.Root, "builtin", "apps")
}

// Apps returns the installed apps directory
func (l Layout) Apps() string {
	return filepath.Join(l.Root, "apps")
}

// Data returns the per-application data root
func (l Layout) Data() string {
	return filepath.Join(l.Root, "data")
}

// Staging returns the install extraction area
func (l Layout) Staging() string {
	return filepath.Join(l.Root, "staging")
}

// Trash returns the area holding replaced versions until a swap completes
func (l Layout) Trash() string {
	return filepath.Join(l.Root, "trash")
}

// AppDir returns the directory of a package at the given location
func (l Layout) AppDir(loc types.Location, id string) string {
	if loc == types.LocationBuiltin {
		return filepath.Join(l.Builtin(), id)
	}
	return filepath.Join(l.Apps(), id)
}

// DataDir returns the private data directory of a package
func (l Layout) DataDir(id string) string {
	return filepath.Join(l.Data(), id)
}

// Ensure creates the writable directories of the layout
func (l Layout) Ensure() error {
	for _, dir := range []string{l.Apps(), l.Data(), l.Staging(), l.Trash()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Manifest returns the primary manifest path of an app directory
func Manifest(appDir string) string {
	return filepath.Join(appDir, ManifestDir, ManifestFile)
}

// FindManifest returns the first manifest present in an app directory
func FindManifest(appDir string) (string, bool) {
	for _, name := range ManifestCandidates {
		p := filepath.Join(appDir, ManifestDir, name)
		if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
			return p, true
		}
	}
	return "", false
}

// Within resolves rel under base and refuses results that escape it
func Within(base, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute path %q not allowed", rel)
	}
	full := filepath.Join(base, rel)
	cleanBase := filepath.Clean(base)
	if full != cleanBase && !strings.HasPrefix(full, cleanBase+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q escapes %s", rel, base)
	}
	return full, nil
}

// ValidateSegment checks that a package ID or file name is safe as a single path component
func ValidateSegment(s string) error {
	if s == "" {
		return fmt.Errorf("path segment cannot be empty")
	}
	if filepath.IsAbs(s) {
		return fmt.Errorf("path segment cannot be an absolute path")
	}
	if filepath.Clean(s) != s || strings.ContainsRune(s, os.PathSeparator) || s == "." || s == ".." {
		return fmt.Errorf("path segment %q contains invalid components", s)
	}
	return nil
}
