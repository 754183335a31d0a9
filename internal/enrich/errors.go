package enrich

import (
	"errors"
	"fmt"
)

// ErrRateLimited is returned when the enrichment budget is spent before or
// between stages. No partial results accompany it.
var ErrRateLimited = errors.New("enrichment rate limit reached")

// Stage names an enrichment step
type Stage string

const (
	StageSummarize Stage = "summarize"
	StageScore     Stage = "score"
)

// StageError wraps a failed AI call
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("enrichment %s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// MalformedResponseError reports an AI response that does not line up with
// the input batch
type MalformedResponseError struct {
	Stage Stage
	Want  int
	Got   int
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("enrichment %s stage returned %d results for %d articles", e.Stage, e.Got, e.Want)
}
