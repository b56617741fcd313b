// Package health provides liveness and readiness checks.
//
// Liveness only reports that the process is serving requests. Readiness
// runs every registered check concurrently, each bounded by the checker's
// timeout:
//
//   - critical checks (the session store) make the instance unready and the
//     readiness endpoint answers 503
//   - non-critical checks (the upstream probe, the circuit breaker) only
//     degrade it; the endpoint still answers 200 so the load balancer keeps
//     routing session and validation traffic, which does not need the
//     upstream
//
// Usage:
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCheck("session_store", store.Ping)
//	checker.RegisterCheck("upstream", prober.Check, health.NonCritical())
//
//	r.Get("/health", checker.LivenessHandler())
//	r.Get("/ready", checker.ReadinessHandler())
package health
