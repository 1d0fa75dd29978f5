package engine

import "errors"

// Execution-time errors. Each is recorded on the step that produced it and
// is non-fatal to the surrounding sub-question.
var (
	ErrStore           = errors.New("store error")
	ErrEmbedding       = errors.New("embedding error")
	ErrNetworkTimeout  = errors.New("network timeout")
	ErrUnknownStepType = errors.New("unknown step type")
)
