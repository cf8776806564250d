// Package workflow is the durable execution core: typed workflow
// definitions, runs, checkpointed steps, timers, signal-driven condition
// waits, query snapshots, the compensation stack, and continuation.
//
// A run replays its handler from the top after every restart. Steps that
// already completed return their recorded result instead of executing
// again, and condition waits re-apply the signals they consumed, so a
// handler rebuilds its in-memory state without repeating side effects.
//
// # Defining a Workflow
//
//	var Transfer = workflow.NewWorkflow("transfer",
//	    func(wf *workflow.Workflow, in TransferInput) error {
//	        hold, err := workflow.Activity(wf, "hold_funds",
//	            func(ctx context.Context, key string) (Hold, error) {
//	                return balances.Hold(ctx, key, in.From, in.Amount)
//	            })
//	        if err != nil {
//	            return err
//	        }
//	        wf.Compensate("release_funds", func(ctx context.Context, key string) error {
//	            return balances.Release(ctx, key, hold.ID)
//	        })
//	        return wf.Step("capture", func(ctx context.Context, key string) error {
//	            return balances.Capture(ctx, key, hold.ID, in.To)
//	        })
//	    },
//	).WithQueries("getTransferStatus")
//
// # Waiting for Signals
//
// Handlers register signal handlers, then wait on a predicate:
//
//	workflow.HandleSignal(wf, "approve", func(a Approval) bool {
//	    approved = true
//	    return true
//	})
//	timedOut, err := wf.Await("approval", 24*time.Hour, func() bool { return approved })
//
// # State Machine
//
// A [Run] moves through these states:
//
//	running ⇄ suspended
//	running → completed | failed | rejected | cancelled
//
// # Key Types
//
//   - [Definition]: typed workflow descriptor with Name, Queries and Handler
//   - [Run]: a single durable execution record
//   - [Workflow]: the capability handle a handler receives
//   - [Runner]: executes runs and owns the live-run registry
//   - [Registry]: maps workflow names to versioned runner functions
package workflow
