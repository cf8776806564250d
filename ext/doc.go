// Package ext defines the extension system of the coordinator.
//
// Extensions are notified of run lifecycle events and can react to them:
// recording metrics, fanning phase changes out to subscribers, alerting on
// unresolved compensations. Each lifecycle hook is a separate interface so
// extensions opt in only to the events they care about.
//
// # Implementing an Extension
//
//	type PhaseLogger struct{ logger *slog.Logger }
//
//	func (e *PhaseLogger) Name() string { return "phase-logger" }
//
//	func (e *PhaseLogger) OnPhaseChanged(ctx context.Context, run *workflow.Run, from, to string) error {
//	    e.logger.Info("phase", "run", run.ID, "from", from, "to", to)
//	    return nil
//	}
//
// # Run Hooks
//
//   - [RunStarted], [PhaseChanged], [RunContinued]
//   - [RunCompleted], [RunFailed], [RunRejected], [RunCancelled]
//
// # Step Hooks
//
//   - [StepCompleted], [StepFailed], [StepRetrying]
//
// # Other Hooks
//
//   - [SignalReceived] a run consumed a signal
//   - [CompensationUnresolved] a compensation gave up and needs an operator
//   - [CronFired] a schedule started a run
//   - [Shutdown] the coordinator is stopping
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
