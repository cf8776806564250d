package saga

import "fmt"

// Terminal phases every saga can end in besides its own.
const (
	PhaseRejected  = "rejected"
	PhaseFailed    = "failed"
	PhaseCancelled = "cancelled"
)

// Edge is an extra transition outside the linear pipeline.
type Edge struct {
	From string
	To   string
}

// Definition describes a saga's phases.
type Definition struct {
	// Name identifies the saga in logs.
	Name string

	// Phases is the forward pipeline, in order.
	Phases []string

	// Compensable is the first phase whose failure is not a rejection.
	Compensable string

	// PointOfNoReturn is the phase that seals the compensation stack.
	PointOfNoReturn string

	// Terminal lists the phases the pipeline may end in successfully.
	Terminal []string

	// Extra lists transitions outside the pipeline, such as exits from a
	// long-lived final phase.
	Extra []Edge
}

// Initial is the status a saga reports before its first transition: the
// first pipeline phase, still running.
func (d Definition) Initial() Status {
	st := Status{Outcome: OutcomeRunning}
	if len(d.Phases) > 0 {
		st.Phase = d.Phases[0]
	}
	return st
}

// Validate checks that the boundaries name phases of the pipeline.
func (d Definition) Validate() error {
	if len(d.Phases) == 0 {
		return fmt.Errorf("saga %s: no phases", d.Name)
	}
	seen := make(map[string]struct{}, len(d.Phases))
	for _, p := range d.Phases {
		if _, dup := seen[p]; dup {
			return fmt.Errorf("saga %s: duplicate phase %q", d.Name, p)
		}
		seen[p] = struct{}{}
	}
	for _, b := range []string{d.Compensable, d.PointOfNoReturn} {
		if b == "" {
			continue
		}
		if _, ok := seen[b]; !ok {
			return fmt.Errorf("saga %s: boundary %q is not a phase", d.Name, b)
		}
	}
	if d.Compensable != "" && d.PointOfNoReturn != "" && d.index(d.PointOfNoReturn) < d.index(d.Compensable) {
		return fmt.Errorf("saga %s: point of no return precedes compensable phase", d.Name)
	}
	return nil
}

// index returns the pipeline position of phase: -1 before the first
// phase, len(Phases) for phases outside the pipeline.
func (d Definition) index(phase string) int {
	if phase == "" {
		return -1
	}
	for i, p := range d.Phases {
		if p == phase {
			return i
		}
	}
	return len(d.Phases)
}

// before reports whether phase precedes boundary. An empty boundary is
// never reached.
func (d Definition) before(phase, boundary string) bool {
	if boundary == "" {
		return true
	}
	return d.index(phase) < d.index(boundary)
}
