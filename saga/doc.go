// Package saga sequences transactional workflows as a linear pipeline of
// phases. Each phase is one durable step; completed steps register
// compensations that run in reverse order when a later step fails.
//
// A Definition names the phases and two boundaries:
//
//   - Compensable is the first phase whose failure is a system failure.
//     Failures before it are business rejections: nothing was reserved,
//     so nothing is compensated and the run ends "rejected".
//   - PointOfNoReturn is the phase where value moves irreversibly. Entering
//     it seals the compensation stack: rollbacks are discarded, only
//     forward remediations run on later failure, and cancel requests are
//     refused.
//
// Phase transitions are validated by a state machine built from the
// Definition, so a protocol cannot skip or revisit a phase.
//
// A Saga drives a Runtime, the narrow capability surface of a workflow
// run. It never holds a reference to the engine.
package saga
