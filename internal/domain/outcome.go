package domain

import "encoding/json"

// OutcomeKind tags the variant held by an Outcome
type OutcomeKind string

const (
	OutcomeOK               OutcomeKind = "OK"
	OutcomeUnavailable      OutcomeKind = "UNAVAILABLE"
	OutcomeValidationFailed OutcomeKind = "VALIDATION_FAILED"
)

// Outcome is the per-asset result of an analysis pass: either a value, or a
// reason the asset could not be scored. The value is only reachable through
// Value, so a failed asset cannot be read as a zero result.
type Outcome[T any] struct {
	kind   OutcomeKind
	value  T
	reason string
}

// Ok wraps a successful result
func Ok[T any](v T) Outcome[T] {
	return Outcome[T]{kind: OutcomeOK, value: v}
}

// Unavailable records a fetch failure or insufficient history
func Unavailable[T any](reason string) Outcome[T] {
	return Outcome[T]{kind: OutcomeUnavailable, reason: reason}
}

// ValidationFailed records an error while scoring the signal
func ValidationFailed[T any](reason string) Outcome[T] {
	return Outcome[T]{kind: OutcomeValidationFailed, reason: reason}
}

// Kind returns the variant tag
func (o Outcome[T]) Kind() OutcomeKind {
	return o.kind
}

// Value returns the result and true only for OK outcomes
func (o Outcome[T]) Value() (T, bool) {
	if o.kind != OutcomeOK {
		var zero T
		return zero, false
	}
	return o.value, true
}

// Reason is empty for OK outcomes
func (o Outcome[T]) Reason() string {
	return o.reason
}

type outcomeJSON[T any] struct {
	Kind   OutcomeKind `json:"kind"`
	Value  *T          `json:"value,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

// MarshalJSON emits {"kind", "value"} or {"kind", "reason"}
func (o Outcome[T]) MarshalJSON() ([]byte, error) {
	out := outcomeJSON[T]{Kind: o.kind, Reason: o.reason}
	if o.kind == OutcomeOK {
		v := o.value
		out.Value = &v
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores an outcome written by MarshalJSON
func (o *Outcome[T]) UnmarshalJSON(data []byte) error {
	var in outcomeJSON[T]
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	o.kind = in.Kind
	o.reason = in.Reason
	if in.Value != nil {
		o.value = *in.Value
	}
	return nil
}
