package types

import "time"

// Location identifies where a package lives on the device
type Location string

const (
	// LocationBuiltin is the read-only firmware image location
	LocationBuiltin Location = "builtin"
	// LocationInstalled is the mutable installed-apps location
	LocationInstalled Location = "installed"
)

// Well-known filter tags
const (
	ActionMain       = "main"
	CategoryLauncher = "launcher"
	CategoryDefault  = "default"
)

// IntentFilter declares the tags an entry point responds to
type IntentFilter struct {
	Action    string   `json:"action" yaml:"action" toml:"action"`
	Category  string   `json:"category,omitempty" yaml:"category,omitempty" toml:"category,omitempty"`
	DataTypes []string `json:"data_types,omitempty" yaml:"data_types,omitempty" toml:"data_types,omitempty"`
}

// EntryPoint is a named launch target within a package
type EntryPoint struct {
	Name       string         `json:"name"`
	Class      string         `json:"classname"`
	Script     string         `json:"entrypoint,omitempty"` // Asset path of a script entry
	Filters    []IntentFilter `json:"intent_filters,omitempty"`
	Singleton  bool           `json:"singleton,omitempty"`
	Persistent bool           `json:"persistent,omitempty"` // Survives being popped, stays stopped
}

// IsLauncherMain reports whether the entry point is the package's main launcher activity
func (e EntryPoint) IsLauncherMain() bool {
	for _, f := range e.Filters {
		if f.Action == ActionMain && f.Category == CategoryLauncher {
			return true
		}
	}
	return false
}

// Package represents an installed or built-in application bundle
type Package struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Version          string       `json:"version"`
	Publisher        string       `json:"publisher,omitempty"`
	ShortDescription string       `json:"short_description,omitempty"`
	LongDescription  string       `json:"long_description,omitempty"`
	Category         string       `json:"category,omitempty"`
	IconPath         string       `json:"icon_path,omitempty"`
	DownloadURL      string       `json:"download_url,omitempty"`
	Capabilities     []string     `json:"capabilities,omitempty"`
	EntryPoints      []EntryPoint `json:"entry_points"`
	Location         Location     `json:"location"`
	Dir              string       `json:"dir"`
	Overrides        bool         `json:"overrides,omitempty"` // Installed copy shadows a built-in one
	InstalledAt      time.Time    `json:"installed_at"`
}

// Entry returns the named entry point
func (p *Package) Entry(name string) (EntryPoint, bool) {
	for _, e := range p.EntryPoints {
		if e.Name == name {
			return e, true
		}
	}
	return EntryPoint{}, false
}

// MainEntry returns the main launcher entry point, falling back to the first declared one
func (p *Package) MainEntry() (EntryPoint, bool) {
	for _, e := range p.EntryPoints {
		if e.IsLauncherMain() {
			return e, true
		}
	}
	if len(p.EntryPoints) == 0 {
		return EntryPoint{}, false
	}
	return p.EntryPoints[0], true
}

// IsLauncher reports whether the package can act as the home launcher
func (p *Package) IsLauncher() bool {
	if p.Category != CategoryLauncher {
		return false
	}
	for _, e := range p.EntryPoints {
		if e.IsLauncherMain() {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers cannot mutate registry state
func (p Package) Clone() Package {
	out := p
	out.Capabilities = append([]string(nil), p.Capabilities...)
	out.EntryPoints = make([]EntryPoint, len(p.EntryPoints))
	for i, e := range p.EntryPoints {
		e.Filters = append([]IntentFilter(nil), e.Filters...)
		for j := range e.Filters {
			e.Filters[j].DataTypes = append([]string(nil), e.Filters[j].DataTypes...)
		}
		out.EntryPoints[i] = e
	}
	return out
}

// Filter describes an implicit entry-point query against the registry
type Filter struct {
	Package  string // Restricts the query to one package (explicit match)
	Action   string
	Category string
	DataType string
}

// Match is a single (package, entry point) answer to a Filter
type Match struct {
	PackageID string     `json:"package_id"`
	Entry     EntryPoint `json:"entry"`
	Location  Location   `json:"location"`
	Explicit  bool       `json:"explicit"`
}

// RegistryStats contains registry statistics
type RegistryStats struct {
	TotalPackages int            `json:"total_packages"`
	Builtin       int            `json:"builtin"`
	Installed     int            `json:"installed"`
	Overrides     int            `json:"overrides"`
	Skipped       int            `json:"skipped"` // Manifests rejected on the last scan
	Categories    map[string]int `json:"categories"`
	LastScan      *time.Time     `json:"last_scan,omitempty"`
}
