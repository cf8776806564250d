// Package coordinator provides a durable workflow coordination core for
// long-running business transactions: fractional-share purchases and
// listings, prediction-market resolution, and fantasy-league drafts and
// waiver batches.
//
// A workflow run executes an ordered sequence of idempotent steps, suspends
// on timers or external signals, checkpoints enough state to resume after a
// crash, publishes read-only snapshots for queries, and compensates
// completed steps in reverse order when a later step fails terminally.
//
// # Quick Start
//
//	c, err := coordinator.New(
//	    coordinator.WithStore(memory.New()),
//	    coordinator.WithLogger(logger),
//	)
//	eng, err := engine.Build(c)
//	engine.RegisterWorkflow(eng, purchase.NewDefinition(deps))
//	run, err := engine.StartWorkflow(ctx, eng, purchase.WorkflowName, input)
//
// # Architecture
//
// Each subsystem (workflow, signal, compensation) defines its own store
// interface and a single backend implements all of them: store/memory for
// tests, store/postgres and store/redis for production.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package coordinator
