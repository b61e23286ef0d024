package task

import (
	"fmt"

	"github.com/pithecene-io/gloss/types"
)

// Registry holds the validators of every known task.
// A Registry is safe for concurrent use once construction is done.
type Registry struct {
	validators map[Kind][]Validator
}

// NewRegistry returns a registry with the built-in validators.
func NewRegistry() *Registry {
	r := &Registry{validators: make(map[Kind][]Validator)}
	for _, k := range All() {
		r.validators[k] = defaultValidators(k)
	}
	return r
}

// Register adds an extra validator for k. Validators run in registration order.
func (r *Registry) Register(k Kind, v Validator) {
	if !k.Known() {
		panic(fmt.Sprintf("task: cannot register validator for unknown kind %d", k))
	}
	r.validators[k] = append(r.validators[k], v)
}

// Known reports whether name is an executable task.
func (r *Registry) Known(name string) bool {
	return Parse(name).Known()
}

// Validate runs the validators of the named task against a.
// A validator that panics or errors makes the annotation invalid.
func (r *Registry) Validate(name string, a types.Annotation) (ok bool, reason string) {
	k := Parse(name)
	if !k.Known() {
		return false, fmt.Sprintf("unknown task %q", name)
	}
	for _, v := range r.validators[k] {
		if err := safeValidate(v, a); err != nil {
			return false, err.Error()
		}
	}
	return true, ""
}

func safeValidate(v Validator, a types.Annotation) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("validator panic: %v", rec)
		}
	}()
	return v(a.Clone())
}

// Rejection is an existing annotation scheduled for re-run.
type Rejection struct {
	Task   string `json:"task"`
	Reason string `json:"reason"`
}

// Plan is the completion state of a segment.
type Plan struct {
	// Run lists tasks to execute, in requested order.
	Run []string `json:"run"`
	// Satisfied lists tasks whose existing annotation passed validation.
	Satisfied []string `json:"satisfied"`
	// Unknown lists requested names outside the registry. They are inert.
	Unknown []string `json:"unknown"`
	// Invalid lists existing annotations that failed validation.
	Invalid []Rejection `json:"invalid"`
}

// Done reports whether nothing remains to run.
func (p Plan) Done() bool { return len(p.Run) == 0 }

// Plan decides which requested tasks still need to run for seg given its
// existing output (nil when absent). It is deterministic and has no side
// effects; callers log Unknown and Invalid.
func (r *Registry) Plan(seg *types.Segment, existing *types.Output) Plan {
	p := Plan{Run: []string{}, Satisfied: []string{}, Unknown: []string{}, Invalid: []Rejection{}}
	seen := make(map[string]bool, len(seg.Tasks))
	for _, name := range seg.Tasks {
		if seen[name] {
			continue
		}
		seen[name] = true

		if !r.Known(name) {
			p.Unknown = append(p.Unknown, name)
			continue
		}
		a, found := existing.Find(name)
		if !found {
			p.Run = append(p.Run, name)
			continue
		}
		if ok, reason := r.Validate(name, a); !ok {
			p.Invalid = append(p.Invalid, Rejection{Task: name, Reason: reason})
			p.Run = append(p.Run, name)
			continue
		}
		p.Satisfied = append(p.Satisfied, name)
	}
	return p
}
