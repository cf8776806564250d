package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// RunnerFunc is a type-erased workflow handler that accepts raw JSON input.
// The typed Definition[T] is converted to a RunnerFunc at registration
// time by closing over JSON unmarshal + the typed handler.
type RunnerFunc func(wf *Workflow, input []byte) error

// versionedRunner holds a runner tagged with its version number and the
// query types it answers.
type versionedRunner struct {
	version int
	runner  RunnerFunc
	initial func(input []byte) ([]byte, error)
	queries map[string]struct{}
}

// Registry maps workflow names to versioned runner functions.
// Multiple versions of the same workflow can be registered; the latest
// version is used for new runs. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	versions map[string][]versionedRunner // name → list of versioned runners
}

// NewRegistry creates an empty workflow registry.
func NewRegistry() *Registry {
	return &Registry{
		versions: make(map[string][]versionedRunner),
	}
}

// RegisterDefinition registers a typed workflow definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the input into T
// before calling the typed handler.
//
// If Version is 0 (default), it is treated as version 1. Registering the
// same name and version again replaces the earlier definition.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	version := def.Version
	if version <= 0 {
		version = 1
	}

	decode := func(input []byte) (T, error) {
		var t T
		if len(input) > 0 {
			if err := json.Unmarshal(input, &t); err != nil {
				return t, fmt.Errorf("unmarshal input for workflow %q: %w", def.Name, err)
			}
		}
		return t, nil
	}
	runner := func(wf *Workflow, input []byte) error {
		t, err := decode(input)
		if err != nil {
			return err
		}
		return def.Handler(wf, t)
	}
	var initial func([]byte) ([]byte, error)
	if def.Initial != nil {
		initial = func(input []byte) ([]byte, error) {
			t, err := decode(input)
			if err != nil {
				return nil, err
			}
			return json.Marshal(def.Initial(t))
		}
	}

	queries := make(map[string]struct{}, len(def.Queries))
	for _, q := range def.Queries {
		queries[q] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	vr := versionedRunner{version: version, runner: runner, initial: initial, queries: queries}
	existing := r.versions[def.Name]

	replaced := false
	for i, v := range existing {
		if v.version == version {
			existing[i] = vr
			replaced = true
			break
		}
	}
	if !replaced {
		existing = append(existing, vr)
	}
	r.versions[def.Name] = existing
}

// Get returns the latest-version runner for the given workflow name.
func (r *Registry) Get(name string) (RunnerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vr, ok := r.latest(name)
	return vr.runner, ok
}

// GetVersion returns the runner for a specific version of a workflow.
// If version <= 0, behaves like Get.
func (r *Registry) GetVersion(name string, version int) (RunnerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vr, ok := r.find(name, version)
	return vr.runner, ok
}

// LatestVersion returns the highest registered version number for a
// workflow, or 0 if the workflow is not registered.
func (r *Registry) LatestVersion(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vr, _ := r.latest(name)
	return vr.version
}

// InitialSnapshot encodes the snapshot a new run of the given version
// starts with. It returns nil when the definition declares none.
func (r *Registry) InitialSnapshot(name string, version int, input []byte) ([]byte, error) {
	r.mu.RLock()
	vr, ok := r.find(name, version)
	r.mu.RUnlock()
	if !ok || vr.initial == nil {
		return nil, nil
	}
	return vr.initial(input)
}

// Answers reports whether the given version of a workflow declares the
// query type.
func (r *Registry) Answers(name string, version int, queryType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vr, ok := r.find(name, version)
	if !ok {
		return false
	}
	_, declared := vr.queries[queryType]
	return declared
}

// Names returns all registered workflow names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.versions))
	for name := range r.versions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) find(name string, version int) (versionedRunner, bool) {
	if version <= 0 {
		return r.latest(name)
	}
	for _, v := range r.versions[name] {
		if v.version == version {
			return v, true
		}
	}
	return versionedRunner{}, false
}

func (r *Registry) latest(name string) (versionedRunner, bool) {
	versions := r.versions[name]
	if len(versions) == 0 {
		return versionedRunner{}, false
	}
	best := versions[0]
	for _, v := range versions[1:] {
		if v.version > best.version {
			best = v
		}
	}
	return best, true
}
