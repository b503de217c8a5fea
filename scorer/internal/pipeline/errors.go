package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindInit        Kind = "InitError"
	KindFetch       Kind = "FetchError"
	KindDecode      Kind = "DecodeError"
	KindInference   Kind = "InferenceError"
	KindPersistence Kind = "PersistenceError"
)

// prefix is the human-readable label a Kind puts in front of its message.
func (k Kind) prefix() string {
	switch k {
	case KindInit:
		return "Init Error"
	case KindFetch:
		return "Fetch Error"
	case KindDecode:
		return "Decode Error"
	case KindInference:
		return "Inference Error"
	case KindPersistence:
		return "Persistence Error"
	}
	return "Error"
}

// Error is a failure of one invocation stage.
type Error struct {
	Kind  Kind
	Stage State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind.prefix(), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func stageErr(kind Kind, stage State, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}
