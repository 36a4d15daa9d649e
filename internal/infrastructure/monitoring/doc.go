/*
Package monitoring provides Prometheus metrics for the runtime.

# Overview

Collectors are registered on an injected prometheus.Registerer so that every
test and every runtime owns an isolated registry.

# Features

- Launch outcomes and lifecycle transitions
- Forced destructions and resource leak diagnostics
- Background unit throughput
- Packages per location and installer outcomes
- Admin API request metrics

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	timer := monitoring.NewTimer(metrics, "install")
	// ... install ...
	timer.Stop("success")
*/
package monitoring
