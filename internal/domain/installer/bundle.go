package installer

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/GriffinCanCode/appruntime/internal/infrastructure/storage"
	"github.com/GriffinCanCode/appruntime/internal/shared/paths"
	"github.com/GriffinCanCode/appruntime/internal/shared/types"
)

// Format is a supported bundle container
type Format string

const (
	FormatZip    Format = "zip"
	FormatTar    Format = "tar"
	FormatTarGz  Format = "tar.gz"
	FormatTarZst Format = "tar.zst"
)

// DetectFormat sniffs the container format of a bundle
func DetectFormat(path string) (Format, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", &types.BundleError{Path: path, Reason: "unreadable", Err: err}
	}

	// Zip-based subtypes report their own MIME, so walk up to the container
	for m := mt; m != nil; m = m.Parent() {
		switch {
		case m.Is("application/zip"):
			return FormatZip, nil
		case m.Is("application/gzip"):
			return FormatTarGz, nil
		case m.Is("application/zstd"):
			return FormatTarZst, nil
		case m.Is("application/x-tar"):
			return FormatTar, nil
		}
	}
	return "", &types.BundleError{Path: path, Reason: fmt.Sprintf("unsupported container %s", mt.String())}
}

// extractor writes archive members under dest while enforcing the size cap
type extractor struct {
	ctx     context.Context
	bundle  string
	dest    string
	limit   int64
	written int64
	files   int
}

// member resolves an archive name under dest, rejecting names that escape it
func (x *extractor) member(name string) (string, error) {
	clean := strings.TrimPrefix(filepath.ToSlash(name), "./")
	if clean == "" || clean == "." {
		return "", nil
	}
	if strings.HasPrefix(clean, "/") || filepath.IsAbs(name) {
		return "", &types.BundleError{Path: x.bundle, Reason: fmt.Sprintf("absolute member path %q", name)}
	}
	full, err := paths.Within(x.dest, filepath.FromSlash(clean))
	if err != nil {
		return "", &types.BundleError{Path: x.bundle, Reason: "member escapes bundle root", Err: err}
	}
	return full, nil
}

func (x *extractor) writeFile(path string, r io.Reader, mode os.FileMode) error {
	if err := x.ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return x.ioError(err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm()|0o600)
	if err != nil {
		return x.ioError(err)
	}

	if x.limit > 0 {
		r = io.LimitReader(r, x.limit-x.written+1)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	x.written += n
	if err != nil {
		return x.ioError(err)
	}
	if x.limit > 0 && x.written > x.limit {
		return &types.BundleError{Path: x.bundle, Reason: fmt.Sprintf("extracted size exceeds %d bytes", x.limit)}
	}
	x.files++
	return nil
}

func (x *extractor) ioError(err error) error {
	if storage.IsNoSpace(err) {
		return fmt.Errorf("extracting %s: %w: %w", x.bundle, types.ErrStorageExhausted, err)
	}
	return fmt.Errorf("extracting %s: %w", x.bundle, err)
}

// extract unpacks bundle into dest according to its format
func extract(ctx context.Context, bundle, dest string, format Format, limit int64) (int, error) {
	x := &extractor{ctx: ctx, bundle: bundle, dest: dest, limit: limit}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return 0, x.ioError(err)
	}

	var err error
	if format == FormatZip {
		err = x.zip()
	} else {
		err = x.tar(format)
	}
	return x.files, err
}

func (x *extractor) zip() error {
	reader, err := zip.OpenReader(x.bundle)
	if err != nil {
		return &types.BundleError{Path: x.bundle, Reason: "corrupt zip", Err: err}
	}
	defer reader.Close()

	for _, file := range reader.File {
		path, err := x.member(file.Name)
		if err != nil {
			return err
		}
		if path == "" {
			continue
		}

		mode := file.Mode()
		switch {
		case mode&os.ModeSymlink != 0:
			return &types.BundleError{Path: x.bundle, Reason: fmt.Sprintf("symlink member %q", file.Name)}
		case file.FileInfo().IsDir():
			if err := os.MkdirAll(path, 0o755); err != nil {
				return x.ioError(err)
			}
			continue
		case !mode.IsRegular():
			return &types.BundleError{Path: x.bundle, Reason: fmt.Sprintf("special member %q", file.Name)}
		}

		rc, err := file.Open()
		if err != nil {
			return &types.BundleError{Path: x.bundle, Reason: fmt.Sprintf("unreadable member %q", file.Name), Err: err}
		}
		err = x.writeFile(path, rc, mode)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (x *extractor) tar(format Format) error {
	f, err := os.Open(x.bundle)
	if err != nil {
		return fmt.Errorf("failed to open bundle: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	switch format {
	case FormatTarGz:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return &types.BundleError{Path: x.bundle, Reason: "corrupt gzip stream", Err: err}
		}
		defer gz.Close()
		r = gz
	case FormatTarZst:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return &types.BundleError{Path: x.bundle, Reason: "corrupt zstd stream", Err: err}
		}
		defer zr.Close()
		r = zr
	}

	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &types.BundleError{Path: x.bundle, Reason: "corrupt tar stream", Err: err}
		}

		path, err := x.member(header.Name)
		if err != nil {
			return err
		}
		if path == "" {
			continue
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, 0o755); err != nil {
				return x.ioError(err)
			}
		case tar.TypeReg:
			if err := x.writeFile(path, tr, header.FileInfo().Mode()); err != nil {
				return err
			}
		case tar.TypeSymlink, tar.TypeLink:
			return &types.BundleError{Path: x.bundle, Reason: fmt.Sprintf("link member %q", header.Name)}
		case tar.TypeXGlobalHeader, tar.TypeXHeader:
			continue
		default:
			return &types.BundleError{Path: x.bundle, Reason: fmt.Sprintf("special member %q", header.Name)}
		}
	}
}
