package usecase

// Source says where an Outcome's value came from.
type Source string

const (
	SourceRemote   Source = "remote"
	SourceFallback Source = "fallback"
)

// Outcome is a value that is always usable: either the backend's answer or
// a static substitute together with the reason for substituting.
type Outcome[T any] struct {
	Value  T      `json:"value"`
	Source Source `json:"source"`
	Reason string `json:"reason,omitempty"`
	Err    *Error `json:"-"`
}

func Remote[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v, Source: SourceRemote}
}

func Fallback[T any](v T, cause *Error) Outcome[T] {
	o := Outcome[T]{Value: v, Source: SourceFallback, Err: cause}
	if cause != nil {
		o.Reason = cause.Reason
	}
	return o
}

func (o Outcome[T]) IsRemote() bool { return o.Source == SourceRemote }
