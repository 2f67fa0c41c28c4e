// Package handlers contains health checks and reusable middleware for the
// HTTP API.
//
// # Health Checks
//
// Named checks run in parallel, each bounded by its own timeout:
//
//	checker := handlers.NewCompositeHealthChecker("0.1.0")
//	checker.AddCheck("store", handlers.NewPingCheck(store))
//	checker.AddCheck("redis", handlers.NewPingCheck(cache))
//
//	status := checker.Check(ctx)
//	if !status.Healthy {
//	    log.Warn("health check failed", logger.String("message", status.Message))
//	}
//
// # Middleware
//
// Middleware are plain func(http.Handler) http.Handler values composed with
// Chain; the first one listed runs outermost:
//
//	api := handlers.Chain(
//	    handlers.TimeoutMiddleware(5*time.Second),
//	    handlers.RequestSizeLimitMiddleware(64<<10),
//	)
//	mux.Handle("POST /api/v1/activity", api(activityHandler))
package handlers
