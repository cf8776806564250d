package redis

// defaultPrefix namespaces every key written by the store.
const defaultPrefix = "coordinator:"

type keys struct {
	prefix string
}

// run returns the key for a run document: coordinator:run:{id}
func (k keys) run(id string) string { return k.prefix + "run:" + id }

// runIndex is the sorted set of run IDs scored by creation time.
func (k keys) runIndex() string { return k.prefix + "runs" }

// runState is the sorted set of run IDs currently in state, scored by
// creation time.
func (k keys) runState(state string) string { return k.prefix + "runs:state:" + state }

// checkpoints returns the hash of step name to checkpoint for a run.
func (k keys) checkpoints(runID string) string { return k.prefix + "ckpt:" + runID }

// signal returns the key for a signal document.
func (k keys) signal(id string) string { return k.prefix + "sig:" + id }

// pending returns the sorted set of unacked signal IDs of a run, scored by
// publish sequence.
func (k keys) pending(runID string) string { return k.prefix + "sigq:" + runID }

// signalSeq is the global publish sequence counter.
func (k keys) signalSeq() string { return k.prefix + "sig_seq" }

// compensation returns the key for an unresolved entry document.
func (k keys) compensation(id string) string { return k.prefix + "comp:" + id }

// compensationIndex is the sorted set of entry IDs scored by failure time.
func (k keys) compensationIndex() string { return k.prefix + "comps" }

// compensationOpen is the set of entry IDs not yet resolved.
func (k keys) compensationOpen() string { return k.prefix + "comps_open" }

// lock returns the key for an advisory lock.
func (k keys) lock(name string) string { return k.prefix + "lock:" + name }
