// Package installer adds, replaces and removes packages in the installed location.
//
// Components:
//   - Bundle extraction: zip, tar, tar.gz and tar.zst containers sniffed by content
//   - Staging: every install is extracted under staging/<uuid> and validated there
//   - Swap: the previous version is parked in trash/<uuid> until the staged tree is in place
//   - Recover: startup repair of swaps interrupted between their two renames
//
// Features:
//   - Path traversal, absolute members and links are rejected
//   - Downgrades are refused unless forced; same-version reinstall repairs
//   - Reserved identifier ranges belong to built-in packages
//   - Free space is checked before and after extraction
//   - Running instances are torn down through a Terminator before their files change
//
// Example Usage:
//
//	inst := installer.New(reg, installer.Settings{ReservedPrefixes: cfg.Storage.ReservedPrefixes}, logger).
//		WithTerminator(term).
//		WithMetrics(metrics)
//
//	id, err := inst.Install(ctx, "/sdcard/com.example.notes.mpk", installer.Options{})
//	if errors.Is(err, types.ErrDowngrade) {
//		// ask the user, then retry with Options{Force: true}
//	}
package installer
