package lifecycle

// Toolkit is the rendering side of the runtime. Each instance owns one root
// container; only the foreground instance's root is mounted.
type Toolkit interface {
	CreateRoot(owner string) (string, error)
	Mount(root string) error
	Unmount(root string) error
	Destroy(root string) error
}

// noToolkit is used when the runtime has no display
type noToolkit struct{}

func (noToolkit) CreateRoot(owner string) (string, error) { return "", nil }
func (noToolkit) Mount(string) error                      { return nil }
func (noToolkit) Unmount(string) error                    { return nil }
func (noToolkit) Destroy(string) error                    { return nil }
