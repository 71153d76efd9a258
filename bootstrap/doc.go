// Package bootstrap wires configuration, the correlation engine, alert sinks
// and the HTTP endpoints into a runnable application.
//
// Usage:
//
//	cfg, err := bootstrap.InitConfig(path, sugar)
//	app, err := bootstrap.NewApp(cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Shutdown()
//
//	if err := app.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	app.WaitForShutdown(ctx)
package bootstrap
