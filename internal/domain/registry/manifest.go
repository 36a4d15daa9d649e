package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/microcosm-cc/bluemonday"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/appruntime/internal/shared/types"
	"github.com/GriffinCanCode/appruntime/internal/shared/utils"
)

// MaxManifestSize bounds manifest reads
const MaxManifestSize = 256 * 1024

// Manifest is the on-disk description of a bundle
type Manifest struct {
	ID               string     `json:"fullname" yaml:"fullname" toml:"fullname"`
	Name             string     `json:"name" yaml:"name" toml:"name"`
	Version          string     `json:"version" yaml:"version" toml:"version"`
	Publisher        string     `json:"publisher,omitempty" yaml:"publisher,omitempty" toml:"publisher,omitempty"`
	Category         string     `json:"category,omitempty" yaml:"category,omitempty" toml:"category,omitempty"`
	ShortDescription string     `json:"short_description,omitempty" yaml:"short_description,omitempty" toml:"short_description,omitempty"`
	LongDescription  string     `json:"long_description,omitempty" yaml:"long_description,omitempty" toml:"long_description,omitempty"`
	IconURL          string     `json:"icon_url,omitempty" yaml:"icon_url,omitempty" toml:"icon_url,omitempty"`
	DownloadURL      string     `json:"download_url,omitempty" yaml:"download_url,omitempty" toml:"download_url,omitempty"`
	Capabilities     []string   `json:"capabilities,omitempty" yaml:"capabilities,omitempty" toml:"capabilities,omitempty"`
	Activities       []Activity `json:"activities" yaml:"activities" toml:"activities"`
}

// Activity is one entry point declaration
type Activity struct {
	Name       string   `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Entrypoint string   `json:"entrypoint,omitempty" yaml:"entrypoint,omitempty" toml:"entrypoint,omitempty"`
	Classname  string   `json:"classname" yaml:"classname" toml:"classname"`
	Singleton  bool     `json:"singleton,omitempty" yaml:"singleton,omitempty" toml:"singleton,omitempty"`
	Persistent bool     `json:"persistent,omitempty" yaml:"persistent,omitempty" toml:"persistent,omitempty"`
	Filters    []Filter `json:"intent_filters,omitempty" yaml:"intent_filters,omitempty" toml:"intent_filters,omitempty"`
}

// Filter is one intent filter declaration.
// data_type and data_types are both accepted.
type Filter struct {
	Action    string   `json:"action" yaml:"action" toml:"action"`
	Category  string   `json:"category,omitempty" yaml:"category,omitempty" toml:"category,omitempty"`
	DataType  string   `json:"data_type,omitempty" yaml:"data_type,omitempty" toml:"data_type,omitempty"`
	DataTypes []string `json:"data_types,omitempty" yaml:"data_types,omitempty" toml:"data_types,omitempty"`
}

// ReadManifest decodes a manifest file, choosing the codec by extension
func ReadManifest(path string) (*Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat manifest: %w", err)
	}
	if info.Size() > MaxManifestSize {
		return nil, fmt.Errorf("manifest is %d bytes, limit %d", info.Size(), MaxManifestSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return DecodeManifest(filepath.Ext(path), data)
}

// DecodeManifest decodes manifest bytes in the format named by ext
func DecodeManifest(ext string, data []byte) (*Manifest, error) {
	var m Manifest
	var err error

	switch strings.ToLower(ext) {
	case ".json", "":
		err = sonic.Unmarshal(data, &m)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &m)
	case ".toml":
		err = toml.Unmarshal(data, &m)
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// Validate checks required fields and entry point uniqueness
func (m *Manifest) Validate() error {
	if err := utils.ValidatePackageID(m.ID); err != nil {
		return err
	}
	if err := utils.ValidateName(m.Name, "name"); err != nil {
		return err
	}
	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if _, err := utils.ParseVersion(m.Version); err != nil {
		return err
	}
	if err := utils.ValidateCategory(m.Category); err != nil {
		return err
	}
	if err := utils.ValidateDescription(m.LongDescription, "long_description"); err != nil {
		return err
	}
	if len(m.Activities) == 0 {
		return fmt.Errorf("at least one activity is required")
	}

	seen := make(map[string]bool, len(m.Activities))
	for i, a := range m.Activities {
		name := a.EntryName()
		if name == "" {
			return fmt.Errorf("activity %d has neither name nor classname", i)
		}
		if err := utils.ValidateEntryName(name); err != nil {
			return fmt.Errorf("activity %d: %w", i, err)
		}
		if seen[name] {
			return fmt.Errorf("duplicate entry point %q", name)
		}
		seen[name] = true

		if a.Entrypoint != "" {
			if filepath.IsAbs(a.Entrypoint) || strings.HasPrefix(filepath.Clean(a.Entrypoint), "..") {
				return fmt.Errorf("activity %q entrypoint %q escapes the bundle", name, a.Entrypoint)
			}
		}
		for _, f := range a.Filters {
			if f.Action == "" {
				return fmt.Errorf("activity %q has an intent filter without action", name)
			}
		}
	}
	return nil
}

// EntryName returns the declared name, falling back to the class name
func (a Activity) EntryName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Classname
}

// Sanitizer cleans manifest HTML before it reaches any UI
var Sanitizer = bluemonday.UGCPolicy()

// ToPackage converts the manifest into a registry package rooted at dir
func (m *Manifest) ToPackage(loc types.Location, dir string) types.Package {
	pkg := types.Package{
		ID:               m.ID,
		Name:             m.Name,
		Version:          m.Version,
		Publisher:        m.Publisher,
		ShortDescription: Sanitizer.Sanitize(m.ShortDescription),
		LongDescription:  Sanitizer.Sanitize(m.LongDescription),
		Category:         m.Category,
		IconPath:         m.IconURL,
		DownloadURL:      m.DownloadURL,
		Capabilities:     append([]string(nil), m.Capabilities...),
		Location:         loc,
		Dir:              dir,
	}

	for _, a := range m.Activities {
		entry := types.EntryPoint{
			Name:       a.EntryName(),
			Class:      a.Classname,
			Script:     a.Entrypoint,
			Singleton:  a.Singleton,
			Persistent: a.Persistent,
		}
		if entry.Class == "" {
			entry.Class = entry.Name
		}
		for _, f := range a.Filters {
			filter := types.IntentFilter{Action: f.Action, Category: f.Category}
			if f.DataType != "" {
				filter.DataTypes = append(filter.DataTypes, f.DataType)
			}
			filter.DataTypes = append(filter.DataTypes, f.DataTypes...)
			entry.Filters = append(entry.Filters, filter)
		}
		pkg.EntryPoints = append(pkg.EntryPoints, entry)
	}
	return pkg
}
