// Package session defines the screening run state machine and its on-disk
// store. A session is a sequence of steps (scrape, universe, match,
// validate, screener) whose artifacts accumulate on the session document.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/allaspectsdev/screenman/internal/dataroma"
	"github.com/allaspectsdev/screenman/internal/eodhd"
	"github.com/allaspectsdev/screenman/internal/match"
)

// Step names the pipeline stages in execution order.
type Step string

const (
	StepScrape   Step = "scrape"
	StepUniverse Step = "universe"
	StepMatch    Step = "match"
	StepValidate Step = "validate"
	StepScreener Step = "screener"
)

// Status is the lifecycle state of one step.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusBlocked  Status = "blocked"
	StatusComplete Status = "complete"
)

// StepState records one step's progress. Context carries step-specific
// summary data on completion and the error message when blocked.
type StepState struct {
	Step    Step           `json:"step"`
	Status  Status         `json:"status"`
	Context map[string]any `json:"context,omitempty"`
}

// Session is one screening run.
type Session struct {
	ID               string                 `json:"id"`
	CreatedAt        time.Time              `json:"createdAt"`
	Steps            []*StepState           `json:"steps"`
	Dataroma         *dataroma.ScrapeResult `json:"dataroma,omitempty"`
	ProviderUniverse *eodhd.Universe        `json:"providerUniverse,omitempty"`
	Matches          []match.Candidate      `json:"matches,omitempty"`
	ScreenerRows     []eodhd.Fundamentals   `json:"screenerRows,omitempty"`
}

// New creates an empty session with a fresh id.
func New() *Session {
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		Steps:     []*StepState{},
	}
}

// FindStep returns the state for step, or nil when the step never ran.
func (s *Session) FindStep(step Step) *StepState {
	for _, st := range s.Steps {
		if st.Step == step {
			return st
		}
	}
	return nil
}

// EnsureStep returns the state for step reset to running, appending a fresh
// one when the step has not run before. A rerun discards the old context.
func (s *Session) EnsureStep(step Step) *StepState {
	if st := s.FindStep(step); st != nil {
		st.Status = StatusRunning
		st.Context = nil
		return st
	}
	st := &StepState{Step: step, Status: StatusRunning}
	s.Steps = append(s.Steps, st)
	return st
}
