package task

import "github.com/pithecene-io/gloss/types"

// Status classifies how a task execution ended.
type Status string

// Task outcome statuses.
const (
	StatusSuccess           Status = "success"
	StatusValidationFailed  Status = "validation_failed"
	StatusCollaboratorError Status = "collaborator_error"
)

// Outcome is the result of running one task for one segment.
// Only StatusSuccess outcomes carry an annotation to merge.
type Outcome struct {
	Task       string
	Status     Status
	Annotation types.Annotation
	// TrackingRef is the side file written for the annotation, if any.
	TrackingRef string
	Reason      string
	Err         error
}

// Succeeded builds a success outcome.
func Succeeded(name string, a types.Annotation) Outcome {
	return Outcome{Task: name, Status: StatusSuccess, Annotation: a, TrackingRef: a.TrackingRef()}
}

// Rejected builds a validation failure outcome.
func Rejected(name, reason string) Outcome {
	return Outcome{Task: name, Status: StatusValidationFailed, Reason: reason}
}

// Failed builds a collaborator error outcome.
func Failed(name string, err error) Outcome {
	o := Outcome{Task: name, Status: StatusCollaboratorError, Err: err}
	if err != nil {
		o.Reason = err.Error()
	}
	return o
}

// OK reports whether the outcome produced an annotation.
func (o Outcome) OK() bool { return o.Status == StatusSuccess }
