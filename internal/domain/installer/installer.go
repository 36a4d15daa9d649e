package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appruntime/internal/domain/registry"
	"github.com/GriffinCanCode/appruntime/internal/infrastructure/fetch"
	"github.com/GriffinCanCode/appruntime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/appruntime/internal/infrastructure/storage"
	"github.com/GriffinCanCode/appruntime/internal/shared/paths"
	"github.com/GriffinCanCode/appruntime/internal/shared/types"
	"github.com/GriffinCanCode/appruntime/internal/shared/utils"
)

// Terminator tears down every live instance of a package. A terminated
// package stays blocked from launching until it is released.
type Terminator interface {
	TerminatePackage(ctx context.Context, id string) error
	ReleasePackage(ctx context.Context, id string) error
}

// Notifier receives install and removal events
type Notifier interface {
	Notify(n types.Notification)
}

// Options modify a single install
type Options struct {
	Force bool // Accept a version older than the current one
}

// Settings are the installer limits
type Settings struct {
	ReservedPrefixes []string
	MinFreeBytes     uint64 // Reserve kept free after an install
	MaxBundleBytes   int64  // Extracted size cap, zero means unlimited
}

// Update is a catalog entry newer than the local copy
type Update struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Installed   string `json:"installed_version"`
	Available   string `json:"available_version"`
	DownloadURL string `json:"download_url,omitempty"`
}

// Installer adds, replaces and removes packages in the installed location
type Installer struct {
	registry   *registry.Manager
	layout     paths.Layout
	settings   Settings
	logger     *zap.Logger
	metrics    *monitoring.Metrics
	terminator Terminator
	notifier   Notifier
	probe      storage.Probe
	fetcher    *fetch.Client

	mu sync.Mutex
}

// New creates an installer writing into the registry's layout
func New(reg *registry.Manager, settings Settings, logger *zap.Logger) *Installer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Installer{
		registry: reg,
		layout:   reg.Layout(),
		settings: settings,
		logger:   logger,
		probe:    storage.Disk{},
	}
}

// WithTerminator sets the component asked to stop running instances
func (i *Installer) WithTerminator(t Terminator) *Installer {
	i.terminator = t
	return i
}

// WithNotifier sets the event sink
func (i *Installer) WithNotifier(n Notifier) *Installer {
	i.notifier = n
	return i
}

// WithProbe replaces the free-space probe
func (i *Installer) WithProbe(p storage.Probe) *Installer {
	i.probe = p
	return i
}

// WithFetcher enables URL installs and update checks
func (i *Installer) WithFetcher(c *fetch.Client) *Installer {
	i.fetcher = c
	return i
}

// WithMetrics attaches a metrics collector
func (i *Installer) WithMetrics(m *monitoring.Metrics) *Installer {
	i.metrics = m
	return i
}

// Install validates the bundle at bundlePath and atomically places it in the
// installed location. It returns the installed package id.
func (i *Installer) Install(ctx context.Context, bundlePath string, opts Options) (string, error) {
	timer := monitoring.NewTimer(i.metrics, "install")

	id, err := i.install(ctx, bundlePath, opts)
	timer.Stop(outcome(err))
	if err != nil {
		i.logger.Warn("install rejected", zap.String("bundle", bundlePath), zap.Error(err))
		return "", err
	}
	return id, nil
}

func (i *Installer) install(ctx context.Context, bundlePath string, opts Options) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.layout.Ensure(); err != nil {
		return "", err
	}

	st, err := os.Stat(bundlePath)
	if err != nil {
		return "", &types.BundleError{Path: bundlePath, Reason: "unreadable", Err: err}
	}
	if err := storage.Ensure(i.probe, i.layout.Apps(), uint64(st.Size()), i.settings.MinFreeBytes); err != nil {
		return "", err
	}

	format, err := DetectFormat(bundlePath)
	if err != nil {
		return "", err
	}

	txn := uuid.NewString()
	staged := filepath.Join(i.layout.Staging(), txn)
	defer os.RemoveAll(staged)

	files, err := extract(ctx, bundlePath, staged, format, i.settings.MaxBundleBytes)
	if err != nil {
		return "", err
	}

	tree, err := inspectTree(bundlePath, staged)
	if err != nil {
		return "", err
	}
	if err := storage.Ensure(i.probe, i.layout.Apps(), uint64(tree.Bytes), i.settings.MinFreeBytes); err != nil {
		return "", err
	}

	root, err := appRoot(bundlePath, staged)
	if err != nil {
		return "", err
	}
	manifestPath, _ := paths.FindManifest(root)
	manifest, err := registry.ReadManifest(manifestPath)
	if err != nil {
		return "", &types.BundleError{Path: bundlePath, Reason: "unreadable manifest", Err: err}
	}
	if err := manifest.Validate(); err != nil {
		return "", &types.BundleError{Path: bundlePath, Reason: "invalid manifest", Err: err}
	}

	id := manifest.ID
	if err := paths.ValidateSegment(id); err != nil {
		return "", &types.BundleError{Path: bundlePath, Reason: "invalid package id", Err: err}
	}
	if utils.IsReserved(id, i.settings.ReservedPrefixes) && !i.registry.HasBuiltin(id) {
		return "", fmt.Errorf("%s: %w", id, types.ErrReservedIdentifier)
	}

	existing, err := i.registry.Get(id)
	exists := err == nil
	if exists {
		cmp, err := utils.CompareVersions(manifest.Version, existing.Version)
		if err != nil {
			return "", fmt.Errorf("failed to compare versions of %s: %w", id, err)
		}
		if cmp < 0 && !opts.Force {
			return "", fmt.Errorf("%s %s over %s: %w", id, manifest.Version, existing.Version, types.ErrDowngrade)
		}
		release, err := i.hold(ctx, id)
		if err != nil {
			return "", err
		}
		defer release()
	}

	if err := i.swap(ctx, root, i.layout.AppDir(types.LocationInstalled, id), txn); err != nil {
		return "", err
	}
	if err := os.MkdirAll(i.layout.DataDir(id), 0o755); err != nil {
		i.logger.Warn("failed to create data dir", zap.String("package", id), zap.Error(err))
	}

	if err := i.registry.Invalidate(ctx, id); err != nil {
		return "", fmt.Errorf("failed to refresh registry: %w", err)
	}

	i.logger.Info("package installed",
		zap.String("package", id),
		zap.String("version", manifest.Version),
		zap.Int("files", files),
		zap.Int64("bytes", tree.Bytes),
		zap.Bool("replaced", exists))
	i.notify(types.NotifyInstalled, id, manifest.Version)
	return id, nil
}

// Uninstall removes an installed package. Removing an override makes the
// built-in copy visible again and keeps the package data.
func (i *Installer) Uninstall(ctx context.Context, id string) error {
	timer := monitoring.NewTimer(i.metrics, "uninstall")
	err := i.uninstall(ctx, id)
	timer.Stop(outcome(err))
	return err
}

func (i *Installer) uninstall(ctx context.Context, id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	pkg, err := i.registry.Get(id)
	if err != nil {
		return err
	}
	if pkg.Location == types.LocationBuiltin {
		return fmt.Errorf("%s: %w", id, types.ErrBuiltinReadOnly)
	}

	release, err := i.hold(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	if err := i.layout.Ensure(); err != nil {
		return err
	}
	trash := filepath.Join(i.layout.Trash(), uuid.NewString()+removedSuffix)
	if err := rename(ctx, pkg.Dir, trash); err != nil {
		return fmt.Errorf("failed to remove %s: %w", id, err)
	}
	if err := os.RemoveAll(trash); err != nil {
		i.logger.Warn("failed to clear removed package", zap.String("package", id), zap.Error(err))
	}

	if !pkg.Overrides {
		if err := os.RemoveAll(i.layout.DataDir(id)); err != nil {
			i.logger.Warn("failed to remove package data", zap.String("package", id), zap.Error(err))
		}
	}

	if err := i.registry.Invalidate(ctx, id); err != nil {
		return fmt.Errorf("failed to refresh registry: %w", err)
	}

	i.logger.Info("package removed", zap.String("package", id), zap.Bool("override", pkg.Overrides))
	i.notify(types.NotifyRemoved, id, pkg.Version)
	return nil
}

// RestoreBuiltin drops the installed override of a built-in package
func (i *Installer) RestoreBuiltin(ctx context.Context, id string) error {
	if !i.registry.HasBuiltin(id) {
		return types.NotFoundf("built-in package %s", id)
	}
	pkg, err := i.registry.Get(id)
	if err != nil {
		return err
	}
	if pkg.Location == types.LocationBuiltin {
		return nil
	}
	return i.Uninstall(ctx, id)
}

// InstallFromURL downloads a bundle and installs it
func (i *Installer) InstallFromURL(ctx context.Context, url string, opts Options) (string, error) {
	if i.fetcher == nil {
		return "", errors.New("installer has no download client")
	}
	if err := i.layout.Ensure(); err != nil {
		return "", err
	}

	path, n, err := i.fetcher.Download(ctx, url, i.layout.Staging())
	if err != nil {
		i.metrics.RecordInstall("download", "error", 0)
		return "", fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer os.Remove(path)

	i.logger.Debug("bundle downloaded", zap.String("url", url), zap.Int64("bytes", n))
	return i.Install(ctx, path, opts)
}

// CheckUpdates fetches the catalog at indexURL and lists packages with a newer version
func (i *Installer) CheckUpdates(ctx context.Context, indexURL string) ([]Update, error) {
	if i.fetcher == nil {
		return nil, errors.New("installer has no download client")
	}

	var catalog []registry.Manifest
	if err := i.fetcher.GetJSON(ctx, indexURL, &catalog); err != nil {
		return nil, fmt.Errorf("failed to fetch catalog: %w", err)
	}

	var updates []Update
	for _, entry := range catalog {
		pkg, err := i.registry.Get(entry.ID)
		if err != nil {
			continue
		}
		if utils.IsNewer(entry.Version, pkg.Version) {
			updates = append(updates, Update{
				ID:          entry.ID,
				Name:        pkg.Name,
				Installed:   pkg.Version,
				Available:   entry.Version,
				DownloadURL: entry.DownloadURL,
			})
		}
	}
	sort.Slice(updates, func(a, b int) bool { return updates[a].ID < updates[b].ID })
	return updates, nil
}

// hold stops the running instances of id and keeps the package from
// launching until the returned release runs. Deferred release happens after
// the registry has seen the new files.
func (i *Installer) hold(ctx context.Context, id string) (func(), error) {
	if i.terminator == nil {
		return func() {}, nil
	}
	release := func() {
		if err := i.terminator.ReleasePackage(context.WithoutCancel(ctx), id); err != nil {
			i.logger.Warn("failed to release package", zap.String("package", id), zap.Error(err))
		}
	}
	if err := i.terminator.TerminatePackage(ctx, id); err != nil {
		release()
		return nil, fmt.Errorf("failed to stop running instances of %s: %w", id, err)
	}
	return release, nil
}

func (i *Installer) notify(kind types.NotificationKind, id, message string) {
	if i.notifier == nil {
		return
	}
	i.notifier.Notify(types.Notification{
		Kind:      kind,
		Package:   id,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// outcome labels an install result for metrics
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, types.ErrInvalidBundle):
		return "invalid"
	case errors.Is(err, types.ErrDowngrade):
		return "downgrade"
	case errors.Is(err, types.ErrReservedIdentifier):
		return "reserved"
	case errors.Is(err, types.ErrStorageExhausted):
		return "storage"
	case errors.Is(err, types.ErrNotFound):
		return "not_found"
	case errors.Is(err, types.ErrBuiltinReadOnly):
		return "read_only"
	default:
		return "error"
	}
}
