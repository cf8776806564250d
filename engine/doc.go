// Package engine wires the coordinator subsystems together and provides
// the application-level API for registering workflows and driving runs.
//
// # Building an Engine
//
//	c, err := coordinator.New(
//	    coordinator.WithStore(pgStore),
//	    coordinator.WithSignalPollInterval(500*time.Millisecond),
//	)
//
//	eng, err := engine.Build(c,
//	    engine.WithExtension(myExtension),
//	    engine.WithRateLimits(middleware.Limit{Step: "fetch_data", RateLimit: 5}),
//	    engine.WithPrometheusRegistry(reg),
//	)
//
// # Registering Work
//
//	engine.RegisterWorkflow(eng, purchase.New(deps))
//	engine.RegisterCron(eng, cron.Definition[waiver.Input]{
//	    Name:     "waivers-lg_1",
//	    Schedule: "0 3 * * 3",
//	    Workflow: waiver.WorkflowName,
//	    Input:    waiver.Input{LeagueID: "lg_1"},
//	})
//
// # Driving Runs
//
//	run, _ := engine.StartWorkflow(ctx, eng, purchase.WorkflowName, input)
//	status, _ := engine.QueryAs[purchase.Status](ctx, eng, run.ID, purchase.QueryStatus)
//	_ = eng.Cancel(ctx, run.ID, "buyer withdrew")
//	done, _ := eng.Wait(ctx, run.ID)
//
// # Options
//
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the activity chain
//   - [WithBackoff]: set the default retry backoff strategy
//   - [WithRateLimits]: bound the rate and concurrency of matching steps
//   - [WithPrometheusRegistry]: register run metrics on a shared registry
//   - [WithSchedulerOptions]: configure the cron scheduler
//   - [WithTracerProvider]: set the OpenTelemetry tracer provider
//   - [WithMeterProvider]: set the OpenTelemetry meter provider
package engine
