package workflow

// Definition is a typed workflow definition with a handler function.
// T is the input type (must be JSON-serializable for Run.Input storage).
type Definition[T any] struct {
	// Name is the unique identifier for this workflow type.
	Name string

	// Version distinguishes handler revisions. Zero means 1.
	Version int

	// Queries lists the query types the workflow answers.
	Queries []string

	// Handler is the function that executes the workflow logic.
	Handler func(wf *Workflow, input T) error

	// Initial builds the snapshot queries see before the handler publishes.
	// Nil falls back to the run's state and phase.
	Initial func(input T) any
}

// NewWorkflow creates a typed workflow definition.
func NewWorkflow[T any](name string, handler func(wf *Workflow, input T) error) *Definition[T] {
	return &Definition[T]{
		Name:    name,
		Handler: handler,
	}
}

// WithQueries declares the query types the workflow answers.
func (d *Definition[T]) WithQueries(queries ...string) *Definition[T] {
	d.Queries = append(d.Queries, queries...)
	return d
}

// WithInitialSnapshot sets the snapshot a run answers queries with from
// the moment it is created.
func (d *Definition[T]) WithInitialSnapshot(fn func(input T) any) *Definition[T] {
	d.Initial = fn
	return d
}

// WithVersion stamps the definition with a version.
func (d *Definition[T]) WithVersion(v int) *Definition[T] {
	d.Version = v
	return d
}
