package stageflow

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownRoute means a URI resolved to no stage definition. It is
	// logged and the turn is aborted; it never crashes a conversation.
	ErrUnknownRoute = errors.New("unknown route")

	// ErrUnknownStageType means no parser capability is registered for a
	// stage's type. Fatal to the current turn.
	ErrUnknownStageType = errors.New("unknown stage type")

	// ErrExternalAPI flags a failed outbound api-call: a transport error
	// or an application-level error status. The user sees an apology and
	// the turn halts without retry.
	ErrExternalAPI = errors.New("external api call failed")
)

// UnknownRouteError reports the URI that had no stage definition.
type UnknownRouteError struct {
	URI string
}

func (e *UnknownRouteError) Error() string {
	return fmt.Sprintf("no stage registered for uri %q", e.URI)
}

func (e *UnknownRouteError) Unwrap() error { return ErrUnknownRoute }

// UnknownStageTypeError reports the stage type with no parser.
type UnknownStageTypeError struct {
	Type StageType
}

func (e *UnknownStageTypeError) Error() string {
	return fmt.Sprintf("no parser registered for stage type %q", e.Type)
}

func (e *UnknownStageTypeError) Unwrap() error { return ErrUnknownStageType }
