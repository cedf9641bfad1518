// Package http serves the read-only status endpoints of a running cartsync
// shell.
//
// # Endpoints
//
//	GET /health      - component checks, 503 when a component is unhealthy
//	GET /metrics     - Prometheus metrics
//	GET /v1/cart     - snapshot, status, selection and totals
//	GET /v1/journal  - recent operation journal entries (?limit=N, ?divergent=true)
//
// Nothing here mutates the cart. The server binds to loopback by default.
//
// # Usage
//
//	srv := http.NewStatusServer(selection,
//	    http.WithAddr("127.0.0.1:7070"),
//	    http.WithJournal(j),
//	    http.WithGatherer(reg),
//	    http.WithLogger(logger),
//	)
//	err := srv.Start(ctx)
package http
