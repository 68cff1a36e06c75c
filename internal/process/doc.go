// Package process supervises the long-running pipeline.
//
// A Supervisor runs one generation at a time with the current
// configuration. RequestRestart hands it a new configuration: the running
// generation's context is cancelled, the supervisor waits for it to
// return and starts the next one. A generation that returns on its own
// ends the supervisor with that error.
//
//	sup := process.NewSupervisor(strip, func(ctx context.Context, s config.Strip) error {
//	    return runPipeline(ctx, s)
//	}, logger)
//	watcher.OnReload(sup.RequestRestart)
//	err := sup.Run(ctx)
package process
