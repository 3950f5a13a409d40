package pipeline

import (
	"fmt"
	"sync"
	"time"
)

// Stage is one state of a render attempt.
type Stage string

const (
	StageIdle             Stage = "idle"
	StageAcquiring        Stage = "acquiring"
	StageNavigating       Stage = "navigating"
	StageExtracting       Stage = "extracting"
	StageReleasingOnError Stage = "releasing_on_error"
	StageReleased         Stage = "released"
)

// transitions lists the legal successors of every non-terminal stage. The
// happy path releases straight from extracting; every other exit goes through
// releasing_on_error.
var transitions = map[Stage][]Stage{
	StageIdle:             {StageAcquiring, StageReleasingOnError},
	StageAcquiring:        {StageNavigating, StageReleasingOnError},
	StageNavigating:       {StageExtracting, StageReleasingOnError},
	StageExtracting:       {StageReleased, StageReleasingOnError},
	StageReleasingOnError: {StageReleased},
}

// Transition records one stage change.
type Transition struct {
	From Stage         `json:"from"`
	To   Stage         `json:"to"`
	At   time.Time     `json:"at"`
	Took time.Duration `json:"took"`
}

// Attempt tracks the lifecycle of a single render attempt. The zero value is
// not usable; call NewAttempt.
type Attempt struct {
	ID     string
	Target string

	mu        sync.Mutex
	now       func() time.Time
	stage     Stage
	enteredAt time.Time
	startedAt time.Time
	failed    bool
	history   []Transition
}

// NewAttempt starts an attempt in the idle stage.
func NewAttempt(id, target string, now func() time.Time) *Attempt {
	if now == nil {
		now = time.Now
	}
	started := now()
	return &Attempt{
		ID:        id,
		Target:    target,
		now:       now,
		stage:     StageIdle,
		enteredAt: started,
		startedAt: started,
	}
}

// Advance moves the attempt to next, rejecting transitions the protocol does
// not allow.
func (a *Attempt) Advance(next Stage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	allowed := false
	for _, candidate := range transitions[a.stage] {
		if candidate == next {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("pipeline: illegal transition %s -> %s", a.stage, next)
	}
	at := a.now()
	a.history = append(a.history, Transition{From: a.stage, To: next, At: at, Took: at.Sub(a.enteredAt)})
	if next == StageReleasingOnError {
		a.failed = true
	}
	a.stage = next
	a.enteredAt = at
	return nil
}

// Fail moves a non-terminal attempt onto the error release path. It is a no-op
// for attempts already releasing or released.
func (a *Attempt) Fail() {
	a.mu.Lock()
	stage := a.stage
	a.mu.Unlock()
	if stage == StageReleasingOnError || stage == StageReleased {
		return
	}
	_ = a.Advance(StageReleasingOnError)
}

// Stage returns the current stage.
func (a *Attempt) Stage() Stage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stage
}

// Terminal reports whether the attempt has reached a released state.
func (a *Attempt) Terminal() bool {
	return a.Stage() == StageReleased
}

// Succeeded reports whether the attempt released without passing through the
// error path.
func (a *Attempt) Succeeded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stage == StageReleased && !a.failed
}

// Elapsed is the time since the attempt started.
func (a *Attempt) Elapsed() time.Duration {
	return a.now().Sub(a.startedAt)
}

// History returns a copy of the recorded transitions.
func (a *Attempt) History() []Transition {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Transition, len(a.history))
	copy(out, a.history)
	return out
}
