// Package bootstrap wires the Chronicle service together and manages its
// lifecycle: configuration, logging, the SQLite rule store, role caches, the
// rule engine, notification dispatch, the event pipeline and the HTTP API.
//
// Usage:
//
//	app, err := bootstrap.NewApp(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Shutdown()
//
//	if err := app.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Wait for shutdown signal
//	app.WaitForShutdown()
package bootstrap
