package models

import "time"

// AttemptOutcome records how a single generation attempt ended.
type AttemptOutcome string

const (
	AttemptParseFailed      AttemptOutcome = "parse_failed"
	AttemptValidationFailed AttemptOutcome = "validation_failed"
	AttemptAccepted         AttemptOutcome = "accepted"
)

// GenerationAttempt is the per-attempt record kept while a block is being
// synthesized. Attempts are not persisted with the block; they surface in
// failure reports and debug logs.
type GenerationAttempt struct {
	Attempt       int            `json:"attempt"`
	Prompt        string         `json:"prompt"`
	RawCompletion string         `json:"raw_completion"`
	Errors        []string       `json:"errors,omitempty"`
	Outcome       AttemptOutcome `json:"outcome"`
	Timestamp     time.Time      `json:"timestamp"`
}
