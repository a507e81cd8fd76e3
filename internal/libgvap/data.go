package libgvap

import (
	"fmt"
	"strconv"
	"time"
)

// ScenarioID identifies a scenario run.
type ScenarioID uint32

func (id ScenarioID) String() string {
	return strconv.Itoa(int(id))
}

// AssertionID identifies an assertion within a run.
type AssertionID uint32

func (id AssertionID) String() string {
	return strconv.Itoa(int(id))
}

// State is the lifecycle state of a scenario.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateDone     State = "done"
)

var transitions = map[State][]State{
	StateIdle:     {StateStarting},
	StateStarting: {StateReady, StateStopping},
	StateReady:    {StateRunning, StateStopping},
	StateRunning:  {StateStopping},
	StateStopping: {StateDone},
}

func (s State) canMoveTo(next State) bool {
	for _, st := range transitions[s] {
		if st == next {
			return true
		}
	}
	return false
}

// StateChange records a state transition.
type StateChange struct {
	State State     `json:"state"`
	Time  time.Time `json:"time"`
}

// ScenarioResult holds everything recorded about one scenario.
type ScenarioResult struct {
	ID         ScenarioID                     `json:"id"`
	Label      string                         `json:"label"`
	Client     string                         `json:"client"`
	Config     ScenarioConfig                 `json:"config"`
	States     []StateChange                  `json:"states"`
	Process    *ProcessSummary                `json:"process,omitempty"`
	Assertions map[AssertionID]*AssertionCase `json:"assertions"`
	Spawn      *FailureInfo                   `json:"spawnFailure,omitempty"`
	Teardown   *FailureInfo                   `json:"teardownFailure,omitempty"`
	Restarts   int                            `json:"restarts,omitempty"`
}

// State returns the current state.
func (r *ScenarioResult) State() State {
	if len(r.States) == 0 {
		return StateIdle
	}
	return r.States[len(r.States)-1].State
}

func (r *ScenarioResult) moveTo(next State) error {
	cur := r.State()
	if !cur.canMoveTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, next)
	}
	r.States = append(r.States, StateChange{State: next, Time: time.Now()})
	return nil
}

// Failed reports whether the scenario failed to start, stop or pass an assertion.
func (r *ScenarioResult) Failed() bool {
	if r.Spawn != nil || r.Teardown != nil {
		return true
	}
	for _, a := range r.Assertions {
		if !a.Result.Pass {
			return true
		}
	}
	return false
}

// ProcessSummary describes the node process of a scenario.
type ProcessSummary struct {
	ID      string `json:"id"`
	PID     int    `json:"pid,omitempty"`
	DataDir string `json:"datadir"`
	IPCPath string `json:"ipcPath"`
	LogFile string `json:"logFile,omitempty"`
	Reused  bool   `json:"reusedDatadir"`

	// ChainState is set when chain data existed before the first start.
	ChainState bool `json:"priorChainState"`
}

// AssertionCase is a single assertion within a scenario.
type AssertionCase struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end"`
	Result      AssertionResult `json:"result"`
}

// AssertionResult is the outcome of an assertion.
type AssertionResult struct {
	Pass    bool         `json:"pass"`
	Skipped bool         `json:"skipped,omitempty"`
	Timeout bool         `json:"timeout,omitempty"`
	Details string       `json:"details,omitempty"`
	Error   *FailureInfo `json:"error,omitempty"`
}

// RunResult counts the outcome of a matrix run.
type RunResult struct {
	Scenarios         int
	ScenariosFailed   int
	Assertions        int
	AssertionsFailed  int
	AssertionsSkipped int
}

// Failed reports whether anything in the run failed.
func (r RunResult) Failed() bool {
	return r.ScenariosFailed > 0
}
