// Package testutil provides fixture builders and mocks shared by runtime tests.
package testutil

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/appruntime/internal/shared/types"
)

// Manifest builds a manifest document in the bundle JSON shape
func Manifest(id, version string, activities ...map[string]any) map[string]any {
	acts := make([]any, len(activities))
	for i, a := range activities {
		acts[i] = a
	}
	return map[string]any{
		"fullname":   id,
		"name":       id,
		"version":    version,
		"publisher":  "Test Publisher",
		"activities": acts,
	}
}

// Activity builds an activity declaration whose class equals its name
func Activity(name string, filters ...map[string]any) map[string]any {
	fs := make([]any, len(filters))
	for i, f := range filters {
		fs[i] = f
	}
	return map[string]any{
		"name":           name,
		"classname":      name,
		"intent_filters": fs,
	}
}

// IntentFilter builds an intent filter declaration
func IntentFilter(action, category string, dataTypes ...string) map[string]any {
	f := map[string]any{"action": action}
	if category != "" {
		f["category"] = category
	}
	if len(dataTypes) > 0 {
		dt := make([]any, len(dataTypes))
		for i, d := range dataTypes {
			dt[i] = d
		}
		f["data_types"] = dt
	}
	return f
}

// LauncherActivity builds the main launcher activity of a package
func LauncherActivity(name string) map[string]any {
	return Activity(name, IntentFilter(types.ActionMain, types.CategoryLauncher))
}

// ManifestJSON encodes a manifest document
func ManifestJSON(t testing.TB, manifest map[string]any) []byte {
	t.Helper()
	data, err := sonic.Marshal(manifest)
	require.NoError(t, err)
	return data
}

// WriteApp writes an unpacked app directory under base and returns it.
// mtime orders packages in registry listings.
func WriteApp(t testing.TB, base string, manifest map[string]any, files map[string]string, mtime time.Time) string {
	t.Helper()
	id := manifest["fullname"].(string)
	dir := filepath.Join(base, id)
	meta := filepath.Join(dir, "META-INF", "MANIFEST.JSON")

	require.NoError(t, os.MkdirAll(filepath.Dir(meta), 0o755))
	require.NoError(t, os.WriteFile(meta, ManifestJSON(t, manifest), 0o644))
	for name, content := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	if !mtime.IsZero() {
		require.NoError(t, os.Chtimes(meta, mtime, mtime))
	}
	return dir
}

// bundleFiles returns the archive members of a bundle in a stable order
func bundleFiles(t testing.TB, manifest map[string]any, files map[string]string) ([]string, map[string][]byte) {
	t.Helper()
	contents := map[string][]byte{}
	if manifest != nil {
		contents["META-INF/MANIFEST.JSON"] = ManifestJSON(t, manifest)
	}
	for name, content := range files {
		contents[name] = []byte(content)
	}
	names := make([]string, 0, len(contents))
	for name := range contents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, contents
}

// BuildZip writes a zip bundle to path
func BuildZip(t testing.TB, path string, manifest map[string]any, files map[string]string) string {
	t.Helper()
	names, contents := bundleFiles(t, manifest, files)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(contents[name])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

// TarEntry is a raw tar member, used to build hostile archives
type TarEntry struct {
	Name     string
	Body     string
	Typeflag byte
	Linkname string
}

// BuildTar writes a tar bundle compressed with "gz", "zst" or nothing
func BuildTar(t testing.TB, path, compression string, manifest map[string]any, files map[string]string, extra ...TarEntry) string {
	t.Helper()
	names, contents := bundleFiles(t, manifest, files)
	entries := make([]TarEntry, 0, len(names)+len(extra))
	for _, name := range names {
		entries = append(entries, TarEntry{Name: name, Body: string(contents[name]), Typeflag: tar.TypeReg})
	}
	entries = append(entries, extra...)

	var raw bytes.Buffer
	tw := tar.NewWriter(&raw)
	for _, e := range entries {
		hdr := &tar.Header{
			Name:     e.Name,
			Mode:     0o644,
			Size:     int64(len(e.Body)),
			Typeflag: e.Typeflag,
			Linkname: e.Linkname,
			ModTime:  time.Unix(1700000000, 0),
		}
		if e.Typeflag != tar.TypeReg {
			hdr.Size = 0
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if e.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.Body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())

	var out bytes.Buffer
	switch compression {
	case "gz":
		gw := gzip.NewWriter(&out)
		_, err := gw.Write(raw.Bytes())
		require.NoError(t, err)
		require.NoError(t, gw.Close())
	case "zst":
		zw, err := zstd.NewWriter(&out)
		require.NoError(t, err)
		_, err = zw.Write(raw.Bytes())
		require.NoError(t, err)
		require.NoError(t, zw.Close())
	default:
		out = raw
	}
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o644))
	return path
}

// MockNotifier is a mock implementation of the runtime Notifier.
type MockNotifier struct {
	mock.Mock
}

// Notify mocks the Notify method.
func (m *MockNotifier) Notify(n types.Notification) {
	m.Called(n)
}

// NewMockNotifier creates a notifier mock that accepts any notification.
func NewMockNotifier(t *testing.T) *MockNotifier {
	t.Helper()
	m := new(MockNotifier)
	m.On("Notify", mock.Anything).Maybe()
	return m
}

// Kinds returns the kinds of all recorded notifications in order
func (m *MockNotifier) Kinds() []types.NotificationKind {
	var kinds []types.NotificationKind
	for _, call := range m.Calls {
		if call.Method == "Notify" {
			kinds = append(kinds, call.Arguments.Get(0).(types.Notification).Kind)
		}
	}
	return kinds
}

// MockTerminator is a mock implementation of the installer's Terminator.
type MockTerminator struct {
	mock.Mock
}

// TerminatePackage mocks the TerminatePackage method.
func (m *MockTerminator) TerminatePackage(ctx context.Context, pkg string) error {
	args := m.Called(ctx, pkg)
	return args.Error(0)
}

// ReleasePackage mocks the ReleasePackage method.
func (m *MockTerminator) ReleasePackage(ctx context.Context, pkg string) error {
	args := m.Called(ctx, pkg)
	return args.Error(0)
}

// NewMockTerminator creates a terminator mock that accepts any package.
func NewMockTerminator(t *testing.T) *MockTerminator {
	t.Helper()
	m := new(MockTerminator)
	m.On("TerminatePackage", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("ReleasePackage", mock.Anything, mock.Anything).Return(nil).Maybe()
	return m
}
