// Package http provides the admin REST API of the runtime.
//
// Handlers never touch the lifecycle controller directly: every navigation
// call is posted to the scheduler loop and waits for its answer, bounded by
// the request context.
//
// Endpoints:
//   - Service: /, /stats, /notifications
//   - Packages: /packages, /packages/:id, /packages/upload, /packages/:id/restore, /rescan, /updates
//   - Navigation: /launch, /back, /home, /input, /stack
//   - Instances: /instances, /instances/:id/finish
//
// Errors are returned as {"error": ..., "code": ...}. An ambiguous implicit
// launch answers 409 with the candidate list so a caller can choose one and
// retry explicitly.
//
// Example Usage:
//
//	handlers := http.NewHandlers(loop, registry, installer, hub, metrics, logger).
//		WithCatalog(cfg.Storage.CatalogURL).
//		WithTracer(tracer)
//	handlers.Register(router)
package http
