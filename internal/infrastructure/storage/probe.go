package storage

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/GriffinCanCode/appruntime/internal/shared/types"
)

// Probe reports free space on the volume holding a path
type Probe interface {
	Free(path string) (uint64, error)
}

// Disk probes the real filesystem through gopsutil
type Disk struct{}

// Free returns the bytes available to unprivileged writers
func (Disk) Free(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat volume of %s: %w", path, err)
	}
	return usage.Free, nil
}

// Fixed reports a constant amount of free space
type Fixed uint64

// Free returns the fixed amount
func (f Fixed) Free(string) (uint64, error) {
	return uint64(f), nil
}

// Ensure fails with ErrStorageExhausted unless need plus reserve bytes are free at path
func Ensure(p Probe, path string, need, reserve uint64) error {
	free, err := p.Free(path)
	if err != nil {
		return err
	}
	if free < need+reserve {
		return fmt.Errorf("need %d bytes plus %d reserved, %d free: %w", need, reserve, free, types.ErrStorageExhausted)
	}
	return nil
}

// IsNoSpace reports whether err is a full-device write failure
func IsNoSpace(err error) bool {
	return errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT)
}
