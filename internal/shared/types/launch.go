package types

// Flags modify how a launch request is placed on the navigation stack
type Flags struct {
	ClearTop  bool `json:"clear_top,omitempty"`  // Pop entries above an existing instance of the target
	NoHistory bool `json:"no_history,omitempty"` // Drop the entry as soon as it is covered
}

// LaunchRequest describes a targeting intent
type LaunchRequest struct {
	// Explicit target
	Package string `json:"package,omitempty"`
	Entry   string `json:"entry,omitempty"`

	// Implicit target
	Action   string         `json:"action,omitempty"`
	Category string         `json:"category,omitempty"`
	Data     string         `json:"data,omitempty"`
	DataType string         `json:"data_type,omitempty"`
	Extras   map[string]any `json:"extras,omitempty"`

	ExpectResult bool   `json:"expect_result,omitempty"`
	ResultSlot   uint32 `json:"result_slot,omitempty"` // Unique within the caller's lifetime
	Caller       string `json:"caller,omitempty"`      // Instance ID of the issuing instance
	Flags        Flags  `json:"flags,omitempty"`
}

// Explicit builds a request naming a package and entry point directly
func Explicit(pkg, entry string) LaunchRequest {
	return LaunchRequest{Package: pkg, Entry: entry}
}

// Implicit builds a request matched by action and category
func Implicit(action, category string) LaunchRequest {
	return LaunchRequest{Action: action, Category: category}
}

// IsExplicit reports whether the request names its target package
func (r LaunchRequest) IsExplicit() bool {
	return r.Package != ""
}

// Extra returns a value from the extras map
func (r LaunchRequest) Extra(key string) (any, bool) {
	if r.Extras == nil {
		return nil, false
	}
	v, ok := r.Extras[key]
	return v, ok
}

// Filter converts an implicit request into a registry filter
func (r LaunchRequest) Filter() Filter {
	return Filter{
		Action:   r.Action,
		Category: r.Category,
		DataType: r.DataType,
	}
}

// ResolveMode annotates whether a resolution creates or reuses an instance
type ResolveMode int

const (
	CreateNew ResolveMode = iota
	ReuseExisting
)

// String returns the string representation of the mode
func (m ResolveMode) String() string {
	if m == ReuseExisting {
		return "reuse"
	}
	return "create"
}

// Resolution is the concrete target chosen for a launch request
type Resolution struct {
	PackageID  string      `json:"package_id"`
	Entry      EntryPoint  `json:"entry"`
	Mode       ResolveMode `json:"mode"`
	InstanceID string      `json:"instance_id,omitempty"` // Set when Mode is ReuseExisting
}

// Result codes
const (
	ResultCanceled  = 0
	ResultOK        = -1
	ResultFirstUser = 1
)

// Result is the payload a launched instance returns to its caller
type Result struct {
	Code int            `json:"code"`
	Data map[string]any `json:"data,omitempty"`
}

// Canceled returns the result delivered when an instance finishes without setting one
func Canceled() Result {
	return Result{Code: ResultCanceled}
}
