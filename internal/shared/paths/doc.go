// Package paths provides the on-device directory layout of the runtime.
//
// Every component derives its directories from one Layout so the registry,
// installer and per-application stores agree on where things live.
//
// # Directory Structure
//
//	<root>/
//	  ├── builtin/apps/<id>/   (read-only firmware apps)
//	  ├── apps/<id>/           (installed apps, may override builtin ones)
//	  ├── data/<id>/           (per-application stores)
//	  ├── staging/<txn>/       (install extraction area)
//	  └── trash/<txn>/         (previous versions during a swap)
//
// Each app directory carries META-INF/MANIFEST.JSON plus assets/ and res/.
//
// # Usage
//
//	layout := paths.New("/var/lib/appruntime")
//	dir := layout.AppDir(types.LocationInstalled, "com.example.gallery")
//	manifest := paths.Manifest(dir)
package paths
