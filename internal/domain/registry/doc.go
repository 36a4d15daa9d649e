// Package registry is the authoritative view of which application packages
// exist on the device.
//
// Packages live in two locations: the read-only built-in image and the
// installed-apps directory. An installed copy shadows a built-in copy of the
// same id, so every id appears exactly once.
//
// Components:
//   - Manager: merged package view, entry point queries, launcher lookup
//   - Manifest: META-INF/MANIFEST.JSON decoding (YAML and TOML alternates)
//   - Watch: rescans on external changes to the installed-apps directory
//
// Features:
//   - Corrupt manifests skip one package, never the whole scan
//   - Ranked entry point matching by action, category and MIME pattern
//   - Copies handed out so callers cannot mutate registry state
//
// Example Usage:
//
//	reg := registry.NewManager(layout, logger)
//	if err := reg.Scan(ctx); err != nil {
//		return err
//	}
//	matches := reg.FindEntryPoints(types.Filter{Action: "VIEW_IMAGE"})
//	home, err := reg.Launcher()
package registry
