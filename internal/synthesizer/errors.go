package synthesizer

import (
	"fmt"
	"strings"

	"blockforge/internal/models"
)

// ParseError means a completion could not be read as a block definition at
// all: no JSON object, or JSON that does not decode into the draft shape.
type ParseError struct {
	Raw   string
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse generated block: %v", e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// ValidationError means a draft decoded but violated the block contract.
// Problems holds every violation found, not just the first.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("block validation failed: %s", strings.Join(e.Problems, "; "))
}

// GenerationError is the terminal failure of a generation run: every
// attempt is recorded so callers can inspect what the model produced and
// why each attempt was rejected.
type GenerationError struct {
	Request  string
	Attempts []models.GenerationAttempt
	Cause    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("block generation failed after %d attempt(s): %v", len(e.Attempts), e.Cause)
}

func (e *GenerationError) Unwrap() error { return e.Cause }
