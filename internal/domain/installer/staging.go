package installer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appruntime/internal/domain/registry"
	"github.com/GriffinCanCode/appruntime/internal/shared/paths"
	"github.com/GriffinCanCode/appruntime/internal/shared/types"
)

// removedSuffix marks trash trees parked by uninstall. Recover deletes them
// instead of restoring them.
const removedSuffix = ".removed"

// treeStats summarizes a staged tree
type treeStats struct {
	Files int64
	Bytes int64
}

// inspectTree totals the staged tree and refuses links that extraction
// could not have produced legitimately
func inspectTree(bundle, root string) (treeStats, error) {
	var files, bytes atomic.Int64

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return &types.BundleError{Path: bundle, Reason: fmt.Sprintf("symlink %s in staged tree", path)}
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			files.Add(1)
			bytes.Add(info.Size())
		}
		return nil
	})
	if err != nil {
		return treeStats{}, err
	}
	return treeStats{Files: files.Load(), Bytes: bytes.Load()}, nil
}

// appRoot returns the directory holding META-INF inside a staged tree.
// Bundles may wrap the app in a single top-level directory.
func appRoot(bundle, staged string) (string, error) {
	if _, ok := paths.FindManifest(staged); ok {
		return staged, nil
	}

	entries, err := os.ReadDir(staged)
	if err != nil {
		return "", fmt.Errorf("failed to list staged tree: %w", err)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		nested := filepath.Join(staged, entries[0].Name())
		if _, ok := paths.FindManifest(nested); ok {
			return nested, nil
		}
	}
	return "", &types.BundleError{Path: bundle, Reason: "missing " + paths.ManifestDir + "/" + paths.ManifestFile}
}

// renamePolicy retries transient rename failures
func renamePolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 3 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, 5), ctx)
}

// rename moves src to dst, retrying transient errors
func rename(ctx context.Context, src, dst string) error {
	return backoff.Retry(func() error {
		err := os.Rename(src, dst)
		if err == nil {
			return nil
		}
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrExist) {
			return backoff.Permanent(err)
		}
		return err
	}, renamePolicy(ctx))
}

// swap replaces target with staged. The previous tree is parked in trash
// until the staged tree is in place, and restored if that rename fails.
func (i *Installer) swap(ctx context.Context, staged, target, txn string) error {
	trash := filepath.Join(i.layout.Trash(), txn)

	hadPrevious := false
	if _, err := os.Stat(target); err == nil {
		if err := rename(ctx, target, trash); err != nil {
			return fmt.Errorf("failed to park previous version: %w", err)
		}
		hadPrevious = true
	}

	if err := rename(ctx, staged, target); err != nil {
		if hadPrevious {
			if rerr := rename(context.Background(), trash, target); rerr != nil {
				i.logger.Error("failed to restore previous version",
					zap.String("target", target), zap.Error(rerr))
			}
		}
		return fmt.Errorf("failed to move staged tree into place: %w", err)
	}

	if hadPrevious {
		if err := os.RemoveAll(trash); err != nil {
			i.logger.Warn("failed to remove replaced version", zap.String("trash", trash), zap.Error(err))
		}
	}
	return nil
}

// Recover repairs interrupted swaps and clears abandoned staging trees.
// A tree parked by a swap whose package has no installed directory is moved
// back. Trees parked by an uninstall are deleted.
func (i *Installer) Recover(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.layout.Ensure(); err != nil {
		return err
	}

	parked, err := os.ReadDir(i.layout.Trash())
	if err != nil {
		return fmt.Errorf("failed to list trash: %w", err)
	}

	restored := 0
	for _, e := range parked {
		dir := filepath.Join(i.layout.Trash(), e.Name())
		if strings.HasSuffix(e.Name(), removedSuffix) {
			// Interrupted uninstall, the tree may be partially deleted
			os.RemoveAll(dir)
			continue
		}
		manifestPath, ok := paths.FindManifest(dir)
		if !ok {
			os.RemoveAll(dir)
			continue
		}
		m, err := registry.ReadManifest(manifestPath)
		if err != nil || m.Validate() != nil {
			os.RemoveAll(dir)
			continue
		}

		target := i.layout.AppDir(types.LocationInstalled, m.ID)
		if _, err := os.Stat(target); errors.Is(err, fs.ErrNotExist) {
			if err := rename(ctx, dir, target); err != nil {
				return fmt.Errorf("failed to restore %s: %w", m.ID, err)
			}
			restored++
			i.logger.Warn("restored interrupted install", zap.String("package", m.ID))
			continue
		}
		os.RemoveAll(dir)
	}

	staging, err := os.ReadDir(i.layout.Staging())
	if err != nil {
		return fmt.Errorf("failed to list staging: %w", err)
	}
	for _, e := range staging {
		os.RemoveAll(filepath.Join(i.layout.Staging(), e.Name()))
	}

	if restored > 0 && i.registry != nil {
		return i.registry.Scan(ctx)
	}
	return nil
}
