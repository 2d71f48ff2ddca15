// Package pipeline runs ordered, strictly sequential transaction steps and
// exposes their progress as a small state machine.
package pipeline

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"swapDesk/internal/dex"
	"swapDesk/internal/model"
)

// ErrAbandoned is the failure reason of a pipeline the user walked away from.
var ErrAbandoned = errors.New("pipeline abandoned")

type StepKind int

const (
	StepApprove StepKind = iota
	StepTransfer
	StepMint
	StepSwap
)

func (k StepKind) String() string {
	switch k {
	case StepApprove:
		return "approve"
	case StepTransfer:
		return "transfer"
	case StepMint:
		return "mint"
	case StepSwap:
		return "swap"
	default:
		return "unknown"
	}
}

// Step is one transaction of a pipeline.
type Step struct {
	Kind      StepKind
	Label     string
	Asset     string
	Target    common.Address
	Method    string
	Args      []interface{}
	TxHash    *common.Hash
	Confirmed bool
	// Skipped is set when the step's effect was already on chain and
	// nothing was submitted.
	Skipped bool
}

// DoneText is the status line shown once the step is confirmed.
func (s Step) DoneText() string {
	switch s.Kind {
	case StepApprove:
		return s.Asset + " approved"
	case StepTransfer:
		return s.Asset + " transferred"
	case StepMint:
		return "Liquidity added successfully!"
	case StepSwap:
		return "Swap executed successfully!"
	default:
		return s.Label + " done"
	}
}

// CallData packs the step's contract call.
func (s Step) CallData() ([]byte, error) {
	parsed, err := dex.PairABI()
	if s.Kind == StepApprove || s.Kind == StepTransfer {
		parsed, err = dex.ERC20ABI()
	}
	if err != nil {
		return nil, err
	}
	data, err := parsed.Pack(s.Method, s.Args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", s.Method, err)
	}
	return data, nil
}

func (s Step) copy() Step {
	out := s
	out.Args = append([]interface{}(nil), s.Args...)
	if s.TxHash != nil {
		hash := *s.TxHash
		out.TxHash = &hash
	}
	return out
}

type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is the pipeline position. StepIndex is meaningful for Running and Failed.
type State struct {
	Status    Status
	StepIndex int
	Reason    error
}

func (s State) Terminal() bool {
	return s.Status == StatusSucceeded || s.Status == StatusFailed
}

func (s State) String() string {
	switch s.Status {
	case StatusRunning:
		return fmt.Sprintf("running(%d)", s.StepIndex)
	case StatusFailed:
		return fmt.Sprintf("failed(%d): %v", s.StepIndex, s.Reason)
	default:
		return s.Status.String()
	}
}

// Snapshot is a copy of a pipeline handed to observers.
type Snapshot struct {
	Action string
	Steps  []Step
	State  State
}

// Record flattens the snapshot's current step for a progress journal.
func (s Snapshot) Record(at time.Time) model.StepRecord {
	rec := model.StepRecord{
		Time:      at,
		Action:    s.Action,
		Status:    s.State.Status.String(),
		StepIndex: s.State.StepIndex,
	}
	if s.State.Reason != nil {
		rec.Error = s.State.Reason.Error()
	}
	if s.State.StepIndex < 0 || s.State.StepIndex >= len(s.Steps) {
		return rec
	}
	step := s.Steps[s.State.StepIndex]
	rec.StepKind = step.Kind.String()
	rec.Label = step.Label
	rec.Confirmed = step.Confirmed
	rec.Skipped = step.Skipped
	if step.TxHash != nil {
		rec.TxHash = step.TxHash.Hex()
	}
	return rec
}

// Observer receives a snapshot after every transition, on the goroutine that
// made it.
type Observer func(Snapshot)

// Pipeline holds ordered steps and their state. Only the orchestrator moves
// it forward; anyone may read a Snapshot or Abandon it.
type Pipeline struct {
	action   string
	observer Observer

	mu        sync.Mutex
	steps     []Step
	state     State
	abandoned bool
}

func New(action string, steps []Step, observer Observer) *Pipeline {
	return &Pipeline{
		action:   action,
		observer: observer,
		steps:    steps,
		state:    State{Status: StatusIdle},
	}
}

func (p *Pipeline) Action() string {
	return p.action
}

func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Abandon fails a pipeline that has not finished. A wait already in flight
// still completes, but its outcome is ignored.
func (p *Pipeline) Abandon() {
	p.update(func() bool {
		if p.state.Terminal() {
			return false
		}
		p.abandoned = true
		p.state = State{Status: StatusFailed, StepIndex: p.state.StepIndex, Reason: ErrAbandoned}
		return true
	})
}

// Abandoned reports whether Abandon was called before the pipeline finished.
func (p *Pipeline) Abandoned() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.abandoned
}

func (p *Pipeline) step(i int) Step {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.steps[i].copy()
}

func (p *Pipeline) stepCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.steps)
}

func (p *Pipeline) setArgs(i int, args ...interface{}) {
	p.mu.Lock()
	p.steps[i].Args = args
	p.mu.Unlock()
}

func (p *Pipeline) begin(i int) bool {
	return p.update(func() bool {
		if p.state.Terminal() {
			return false
		}
		p.state = State{Status: StatusRunning, StepIndex: i}
		return true
	})
}

func (p *Pipeline) submitted(i int, hash common.Hash) bool {
	return p.update(func() bool {
		if p.state.Terminal() {
			return false
		}
		p.steps[i].TxHash = &hash
		return true
	})
}

func (p *Pipeline) confirm(i int, skipped bool) bool {
	return p.update(func() bool {
		if p.state.Terminal() {
			return false
		}
		p.steps[i].Confirmed = true
		p.steps[i].Skipped = skipped
		return true
	})
}

func (p *Pipeline) fail(i int, reason error) bool {
	return p.update(func() bool {
		if p.state.Terminal() {
			return false
		}
		p.state = State{Status: StatusFailed, StepIndex: i, Reason: reason}
		return true
	})
}

func (p *Pipeline) succeed() bool {
	return p.update(func() bool {
		if p.state.Terminal() {
			return false
		}
		p.state = State{Status: StatusSucceeded, StepIndex: len(p.steps) - 1}
		return true
	})
}

// update applies fn under the lock and, when it changed something, notifies
// the observer after unlocking.
func (p *Pipeline) update(fn func() bool) bool {
	p.mu.Lock()
	changed := fn()
	var snap Snapshot
	if changed {
		snap = p.snapshotLocked()
	}
	p.mu.Unlock()

	if changed && p.observer != nil {
		p.observer(snap)
	}
	return changed
}

func (p *Pipeline) snapshotLocked() Snapshot {
	steps := make([]Step, len(p.steps))
	for i, s := range p.steps {
		steps[i] = s.copy()
	}
	return Snapshot{Action: p.action, Steps: steps, State: p.state}
}

// amountArg returns a defensive copy for use as a call argument.
func amountArg(v *big.Int) *big.Int {
	return new(big.Int).Set(v)
}
