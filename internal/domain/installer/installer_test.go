package installer

import (
	"archive/tar"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/appruntime/internal/domain/registry"
	"github.com/GriffinCanCode/appruntime/internal/infrastructure/fetch"
	"github.com/GriffinCanCode/appruntime/internal/infrastructure/storage"
	"github.com/GriffinCanCode/appruntime/internal/shared/paths"
	"github.com/GriffinCanCode/appruntime/internal/shared/types"
	"github.com/GriffinCanCode/appruntime/tests/helpers/testutil"
)

type fixture struct {
	inst     *Installer
	reg      *registry.Manager
	layout   paths.Layout
	notifier *testutil.MockNotifier
	term     *testutil.MockTerminator
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	layout := paths.New(t.TempDir())
	require.NoError(t, os.MkdirAll(layout.Builtin(), 0o755))
	require.NoError(t, layout.Ensure())

	reg := registry.NewManager(layout, nil)
	require.NoError(t, reg.Scan(context.Background()))

	notifier := testutil.NewMockNotifier(t)
	term := testutil.NewMockTerminator(t)
	inst := New(reg, Settings{ReservedPrefixes: []string{"com.micropythonos."}}, nil).
		WithNotifier(notifier).
		WithTerminator(term).
		WithProbe(storage.Fixed(1 << 40))

	return &fixture{inst: inst, reg: reg, layout: layout, notifier: notifier, term: term, dir: t.TempDir()}
}

func (f *fixture) zip(t *testing.T, name, id, version string) string {
	t.Helper()
	return testutil.BuildZip(t, filepath.Join(f.dir, name),
		testutil.Manifest(id, version, testutil.LauncherActivity("Main")),
		map[string]string{"assets/main.py": "print('hi')"})
}

func assertStagingEmpty(t *testing.T, layout paths.Layout) {
	t.Helper()
	entries, err := os.ReadDir(layout.Staging())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInstallFormats(t *testing.T) {
	manifest := testutil.Manifest("com.example.a", "1.0", testutil.LauncherActivity("Main"))
	files := map[string]string{"assets/main.py": "print('hi')", "res/icon.png": "png"}

	tests := []struct {
		name  string
		build func(t *testing.T, dir string) string
	}{
		{"zip", func(t *testing.T, dir string) string {
			return testutil.BuildZip(t, filepath.Join(dir, "a.mpk"), manifest, files)
		}},
		{"tar", func(t *testing.T, dir string) string {
			return testutil.BuildTar(t, filepath.Join(dir, "a.tar"), "", manifest, files)
		}},
		{"tar.gz", func(t *testing.T, dir string) string {
			return testutil.BuildTar(t, filepath.Join(dir, "a.tar.gz"), "gz", manifest, files)
		}},
		{"tar.zst", func(t *testing.T, dir string) string {
			return testutil.BuildTar(t, filepath.Join(dir, "a.tar.zst"), "zst", manifest, files)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			id, err := f.inst.Install(context.Background(), tt.build(t, f.dir), Options{})
			require.NoError(t, err)
			assert.Equal(t, "com.example.a", id)

			pkg, err := f.reg.Get(id)
			require.NoError(t, err)
			assert.Equal(t, types.LocationInstalled, pkg.Location)
			assert.FileExists(t, filepath.Join(pkg.Dir, "assets", "main.py"))
			assert.DirExists(t, f.layout.DataDir(id))
			assertStagingEmpty(t, f.layout)
		})
	}
}

func TestInstallNestedRoot(t *testing.T) {
	f := newFixture(t)
	bundle := testutil.BuildTar(t, filepath.Join(f.dir, "nested.tar.gz"), "gz", nil, map[string]string{
		"com.example.n/META-INF/MANIFEST.JSON": string(testutil.ManifestJSON(t,
			testutil.Manifest("com.example.n", "1.0", testutil.Activity("Main")))),
		"com.example.n/assets/main.py": "",
	})

	id, err := f.inst.Install(context.Background(), bundle, Options{})
	require.NoError(t, err)
	assert.Equal(t, "com.example.n", id)
	assert.FileExists(t, filepath.Join(f.layout.AppDir(types.LocationInstalled, id), "assets", "main.py"))
}

func TestInstallRejectsHostileBundles(t *testing.T) {
	manifest := testutil.Manifest("com.example.evil", "1.0", testutil.Activity("Main"))

	tests := []struct {
		name  string
		extra testutil.TarEntry
	}{
		{"traversal", testutil.TarEntry{Name: "../../escaped", Body: "x", Typeflag: tar.TypeReg}},
		{"absolute", testutil.TarEntry{Name: "/tmp/absolute", Body: "x", Typeflag: tar.TypeReg}},
		{"symlink", testutil.TarEntry{Name: "assets/link", Typeflag: tar.TypeSymlink, Linkname: "/etc/passwd"}},
		{"hardlink", testutil.TarEntry{Name: "assets/hard", Typeflag: tar.TypeLink, Linkname: "META-INF/MANIFEST.JSON"}},
		{"fifo", testutil.TarEntry{Name: "assets/pipe", Typeflag: tar.TypeFifo}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			bundle := testutil.BuildTar(t, filepath.Join(f.dir, "evil.tar.gz"), "gz", manifest, nil, tt.extra)

			_, err := f.inst.Install(context.Background(), bundle, Options{})
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrInvalidBundle)

			var bundleErr *types.BundleError
			assert.ErrorAs(t, err, &bundleErr)

			_, err = f.reg.Get("com.example.evil")
			assert.ErrorIs(t, err, types.ErrNotFound)
			assert.NoFileExists(t, filepath.Join(filepath.Dir(f.layout.Root), "escaped"))
			assertStagingEmpty(t, f.layout)
		})
	}
}

func TestInstallRejectsInvalidManifest(t *testing.T) {
	f := newFixture(t)

	missing := testutil.BuildZip(t, filepath.Join(f.dir, "missing.mpk"), nil, map[string]string{"assets/a": "a"})
	_, err := f.inst.Install(context.Background(), missing, Options{})
	assert.ErrorIs(t, err, types.ErrInvalidBundle)

	noEntries := testutil.BuildZip(t, filepath.Join(f.dir, "empty.mpk"), testutil.Manifest("com.example.e", "1.0"), nil)
	_, err = f.inst.Install(context.Background(), noEntries, Options{})
	assert.ErrorIs(t, err, types.ErrInvalidBundle)

	dup := testutil.BuildZip(t, filepath.Join(f.dir, "dup.mpk"),
		testutil.Manifest("com.example.d", "1.0", testutil.Activity("Main"), testutil.Activity("Main")), nil)
	_, err = f.inst.Install(context.Background(), dup, Options{})
	assert.ErrorIs(t, err, types.ErrInvalidBundle)

	notArchive := filepath.Join(f.dir, "plain.txt")
	require.NoError(t, os.WriteFile(notArchive, []byte("hello world"), 0o644))
	_, err = f.inst.Install(context.Background(), notArchive, Options{})
	assert.ErrorIs(t, err, types.ErrInvalidBundle)
}

func TestInstallSizeCap(t *testing.T) {
	f := newFixture(t)
	f.inst.settings.MaxBundleBytes = 64

	bundle := testutil.BuildZip(t, filepath.Join(f.dir, "big.mpk"),
		testutil.Manifest("com.example.big", "1.0", testutil.Activity("Main")),
		map[string]string{"assets/blob": string(make([]byte, 4096))})

	_, err := f.inst.Install(context.Background(), bundle, Options{})
	assert.ErrorIs(t, err, types.ErrInvalidBundle)
	assertStagingEmpty(t, f.layout)
}

func TestInstallDowngrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.inst.Install(ctx, f.zip(t, "v2.mpk", "com.example.a", "2.0"), Options{})
	require.NoError(t, err)

	_, err = f.inst.Install(ctx, f.zip(t, "v1.mpk", "com.example.a", "1.9.9"), Options{})
	require.ErrorIs(t, err, types.ErrDowngrade)
	pkg, err := f.reg.Get("com.example.a")
	require.NoError(t, err)
	assert.Equal(t, "2.0", pkg.Version)

	_, err = f.inst.Install(ctx, f.zip(t, "v2-again.mpk", "com.example.a", "2.0.0"), Options{})
	require.NoError(t, err, "same version reinstall is a repair")

	_, err = f.inst.Install(ctx, f.zip(t, "v1-forced.mpk", "com.example.a", "1.0"), Options{Force: true})
	require.NoError(t, err)
	pkg, err = f.reg.Get("com.example.a")
	require.NoError(t, err)
	assert.Equal(t, "1.0", pkg.Version)

	f.term.AssertCalled(t, "TerminatePackage", mock.Anything, "com.example.a")
}

func TestInstallReservedIdentifier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.inst.Install(ctx, f.zip(t, "r.mpk", "com.micropythonos.settings", "1.0"), Options{})
	require.ErrorIs(t, err, types.ErrReservedIdentifier)

	testutil.WriteApp(t, f.layout.Builtin(),
		testutil.Manifest("com.micropythonos.settings", "1.0", testutil.LauncherActivity("Main")), nil, time.Time{})
	require.NoError(t, f.reg.Scan(ctx))

	_, err = f.inst.Install(ctx, f.zip(t, "r2.mpk", "com.micropythonos.settings", "1.1"), Options{})
	require.NoError(t, err, "upgrading a built-in package is allowed")
}

func TestInstallStorageExhausted(t *testing.T) {
	f := newFixture(t)
	f.inst.WithProbe(storage.Fixed(16))

	_, err := f.inst.Install(context.Background(), f.zip(t, "a.mpk", "com.example.a", "1.0"), Options{})
	require.ErrorIs(t, err, types.ErrStorageExhausted)
	_, err = f.reg.Get("com.example.a")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestInstallUninstallRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := f.reg.List()

	id, err := f.inst.Install(ctx, f.zip(t, "a.mpk", "com.example.a", "1.0"), Options{})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(f.layout.DataDir(id), "prefs.json"), []byte("{}"), 0o644))

	require.NoError(t, f.inst.Uninstall(ctx, id))

	assert.Equal(t, before, f.reg.List())
	assert.NoDirExists(t, f.layout.AppDir(types.LocationInstalled, id))
	assert.NoDirExists(t, f.layout.DataDir(id))
	assert.Equal(t, []types.NotificationKind{types.NotifyInstalled, types.NotifyRemoved}, f.notifier.Kinds())
	f.term.AssertCalled(t, "TerminatePackage", mock.Anything, id)

	err = f.inst.Uninstall(ctx, id)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestOverrideAndRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	testutil.WriteApp(t, f.layout.Builtin(),
		testutil.Manifest("com.example.a", "1.0", testutil.LauncherActivity("Main")), nil, time.Time{})
	require.NoError(t, f.reg.Scan(ctx))

	err := f.inst.Uninstall(ctx, "com.example.a")
	require.ErrorIs(t, err, types.ErrBuiltinReadOnly)

	_, err = f.inst.Install(ctx, f.zip(t, "a2.mpk", "com.example.a", "2.0"), Options{})
	require.NoError(t, err)
	pkg, err := f.reg.Get("com.example.a")
	require.NoError(t, err)
	assert.True(t, pkg.Overrides)

	require.NoError(t, f.inst.RestoreBuiltin(ctx, "com.example.a"))
	pkg, err = f.reg.Get("com.example.a")
	require.NoError(t, err)
	assert.Equal(t, types.LocationBuiltin, pkg.Location)
	assert.Equal(t, "1.0", pkg.Version)
	assert.DirExists(t, f.layout.DataDir("com.example.a"), "override removal keeps package data")

	require.NoError(t, f.inst.RestoreBuiltin(ctx, "com.example.a"), "restoring twice is a no-op")
	assert.ErrorIs(t, f.inst.RestoreBuiltin(ctx, "com.example.none"), types.ErrNotFound)
}

func TestTerminatorFailureKeepsPreviousVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.inst.Install(ctx, f.zip(t, "v1.mpk", "com.example.a", "1.0"), Options{})
	require.NoError(t, err)

	term := new(testutil.MockTerminator)
	term.On("TerminatePackage", mock.Anything, "com.example.a").Return(assert.AnError)
	term.On("ReleasePackage", mock.Anything, "com.example.a").Return(nil).Once()
	f.inst.WithTerminator(term)

	_, err = f.inst.Install(ctx, f.zip(t, "v2.mpk", "com.example.a", "2.0"), Options{})
	require.ErrorIs(t, err, assert.AnError)

	pkg, err := f.reg.Get("com.example.a")
	require.NoError(t, err)
	assert.Equal(t, "1.0", pkg.Version)
	term.AssertExpectations(t)
}

func TestPackageHeldUntilRegistryRefreshed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.inst.Install(ctx, f.zip(t, "v1.mpk", "com.example.a", "1.0"), Options{})
	require.NoError(t, err)

	version := func() string {
		pkg, err := f.reg.Get("com.example.a")
		if err != nil {
			return ""
		}
		return pkg.Version
	}

	var seen []string
	term := new(testutil.MockTerminator)
	term.On("TerminatePackage", mock.Anything, "com.example.a").Return(nil).
		Run(func(mock.Arguments) { seen = append(seen, "terminate "+version()) })
	term.On("ReleasePackage", mock.Anything, "com.example.a").Return(nil).
		Run(func(mock.Arguments) { seen = append(seen, "release "+version()) })
	f.inst.WithTerminator(term)

	_, err = f.inst.Install(ctx, f.zip(t, "v2.mpk", "com.example.a", "2.0"), Options{})
	require.NoError(t, err)
	require.NoError(t, f.inst.Uninstall(ctx, "com.example.a"))

	assert.Equal(t, []string{
		"terminate 1.0", "release 2.0",
		"terminate 2.0", "release ",
	}, seen)
}

func TestRecoverRestoresParkedVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A swap interrupted after parking the old tree
	testutil.WriteApp(t, f.layout.Trash(),
		testutil.Manifest("com.example.a", "1.0", testutil.Activity("Main")), nil, time.Time{})
	require.NoError(t, os.Rename(
		filepath.Join(f.layout.Trash(), "com.example.a"),
		filepath.Join(f.layout.Trash(), "txn-1")))

	// Abandoned extraction
	require.NoError(t, os.MkdirAll(filepath.Join(f.layout.Staging(), "txn-2", "assets"), 0o755))

	require.NoError(t, f.inst.Recover(ctx))

	pkg, err := f.reg.Get("com.example.a")
	require.NoError(t, err)
	assert.Equal(t, types.LocationInstalled, pkg.Location)
	assertStagingEmpty(t, f.layout)

	entries, err := os.ReadDir(f.layout.Trash())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRecoverDeletesInterruptedUninstall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.inst.Install(ctx, f.zip(t, "a.mpk", "com.example.a", "1.0"), Options{})
	require.NoError(t, err)

	// An uninstall interrupted while deleting the parked tree
	parked := filepath.Join(f.layout.Trash(), "txn-1"+removedSuffix)
	require.NoError(t, os.Rename(f.layout.AppDir(types.LocationInstalled, id), parked))
	require.NoError(t, os.Remove(filepath.Join(parked, "assets", "main.py")))

	require.NoError(t, f.inst.Recover(ctx))
	require.NoError(t, f.reg.Scan(ctx))

	assert.NoDirExists(t, f.layout.AppDir(types.LocationInstalled, id))
	_, err = f.reg.Get(id)
	assert.ErrorIs(t, err, types.ErrNotFound)

	entries, err := os.ReadDir(f.layout.Trash())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRecoverDiscardsSupersededTrash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.inst.Install(ctx, f.zip(t, "v2.mpk", "com.example.a", "2.0"), Options{})
	require.NoError(t, err)

	testutil.WriteApp(t, f.layout.Trash(),
		testutil.Manifest("com.example.a", "1.0", testutil.Activity("Main")), nil, time.Time{})

	require.NoError(t, f.inst.Recover(ctx))
	pkg, err := f.reg.Get("com.example.a")
	require.NoError(t, err)
	assert.Equal(t, "2.0", pkg.Version)
	assert.NoDirExists(t, filepath.Join(f.layout.Trash(), "com.example.a"))
}

func TestInstallFromURLAndCheckUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bundle := f.zip(t, "a.mpk", "com.example.a", "1.0")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/apps/a.mpk":
			http.ServeFile(w, r, bundle)
		case "/apps.json":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[
				{"fullname": "com.example.a", "name": "A", "version": "1.2", "download_url": "/apps/a-1.2.mpk"},
				{"fullname": "com.example.unknown", "name": "U", "version": "9.0"}
			]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	opts := fetch.DefaultOptions()
	opts.MaxRetries = 0
	opts.RateLimit = 0
	f.inst.WithFetcher(fetch.NewClient(opts, nil))

	id, err := f.inst.InstallFromURL(ctx, srv.URL+"/apps/a.mpk", Options{})
	require.NoError(t, err)
	assert.Equal(t, "com.example.a", id)

	updates, err := f.inst.CheckUpdates(ctx, srv.URL+"/apps.json")
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "com.example.a", updates[0].ID)
	assert.Equal(t, "1.0", updates[0].Installed)
	assert.Equal(t, "1.2", updates[0].Available)

	_, err = f.inst.InstallFromURL(ctx, srv.URL+"/missing.mpk", Options{})
	assert.Error(t, err)
}

func TestDetectFormat(t *testing.T) {
	dir := t.TempDir()
	manifest := testutil.Manifest("com.example.a", "1.0", testutil.Activity("Main"))

	tests := []struct {
		path string
		want Format
	}{
		{testutil.BuildZip(t, filepath.Join(dir, "a.mpk"), manifest, nil), FormatZip},
		{testutil.BuildTar(t, filepath.Join(dir, "a.bin"), "gz", manifest, nil), FormatTarGz},
		{testutil.BuildTar(t, filepath.Join(dir, "b.bin"), "zst", manifest, nil), FormatTarZst},
		{testutil.BuildTar(t, filepath.Join(dir, "c.bin"), "", manifest, nil), FormatTar},
	}
	for _, tt := range tests {
		got, err := DetectFormat(tt.path)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}

func TestDowngradeKeepsSingleEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.inst.Install(ctx, f.zip(t, "a-1.0.0.mpk", "com.example.a", "1.0.0"), Options{})
	require.NoError(t, err)

	_, err = f.inst.Install(ctx, f.zip(t, "a-0.9.0.mpk", "com.example.a", "0.9.0"), Options{})
	require.ErrorIs(t, err, types.ErrDowngrade)
	require.Len(t, f.reg.List(), 1)

	_, err = f.inst.Install(ctx, f.zip(t, "a-0.9.0-forced.mpk", "com.example.a", "0.9.0"), Options{Force: true})
	require.NoError(t, err)

	list := f.reg.List()
	require.Len(t, list, 1)
	assert.Equal(t, "0.9.0", list[0].Version)
}
