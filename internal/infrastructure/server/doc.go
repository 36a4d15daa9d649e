// Package server assembles the runtime and serves its admin API.
//
// NewServer builds the component graph from configuration: storage layout
// and seeding, the package registry, the installer with its download client,
// the crash-loop guard, background tasks, the activity catalog (built-in
// launcher plus script-backed entries), the lifecycle controller and the
// loop that owns it. Run drives the loop, the optional apps watcher and the
// HTTP server under one errgroup. Every request is traced; spans are logged
// at debug level.
//
// Routes:
//   - /live, /ready: heptiolabs/healthcheck probes
//   - /metrics: Prometheus exposition of the runtime registry
//   - /log/level: GET or PUT the live log level
//   - /events: WebSocket notification stream
//   - everything else: internal/api/http
//
// Example Usage:
//
//	srv, err := server.NewServer(ctx, cfg, logger)
//	if err != nil {
//		return err
//	}
//	defer srv.Close()
//	return srv.Run(ctx)
package server
