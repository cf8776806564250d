// Package cron starts workflow runs on a schedule.
//
// The typical use is one waiver batch per league per week:
//
//	entry, _ := cron.Definition[waiver.Input]{
//	    Name:     "waiver:lg_1",
//	    Schedule: "0 3 * * 3",
//	    Workflow: waiver.WorkflowName,
//	    Input:    waiver.Input{LeagueID: "lg_1", Policy: waiver.PolicyRolling},
//	}.Entry()
//	sched.Register(entry)
//
// Entries live in memory and are registered at startup. When several
// processes register the same entries, a [Locker] (the redis store is one)
// makes each fire happen once: the lock key names the entry and the fire
// time, and it is left to expire rather than released.
//
// # Scheduler
//
// The [Scheduler] evaluates due entries on every tick, starts the entry's
// workflow, and advances NextRunAt. The ext.CronFired hook fires after each
// start.
package cron
