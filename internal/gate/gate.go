// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package gate

import (
	"errors"
	"sync"

	"github.com/stagegate/stagegate/internal/identity"
	"github.com/stagegate/stagegate/internal/metrics"
)

// ErrOrderViolation is returned by callers when a stage is
// attempted before its prerequisites are satisfied.
var ErrOrderViolation = errors.New("gate stage attempted out of order")

// Stage2Result is the caller-visible outcome of a captcha submission.
type Stage2Result string

const (
	// VerifyWrong means stage 1 was not completed for the identity.
	VerifyWrong Stage2Result = "verify_wrong"
	// CaptchaCorrect means the submitted secret matched.
	CaptchaCorrect Stage2Result = "correct_captcha"
	// CaptchaWrong means the submitted secret did not match.
	CaptchaWrong Stage2Result = "wrong_captcha"
)

// State is the checklist of one client identity.
type State struct {
	Stage1 bool `json:"stage1"`
	Stage2 bool `json:"stage2"`
	Stage3 bool `json:"stage3"`
}

// Gate is the staged access checklist keyed by client identity.
type Gate interface {
	// MarkStage1 records that the identity fetched the stage 1 content.
	MarkStage1(id identity.ClientIdentity)

	// TryMarkStage2 records a captcha submission. Stage 2 is set
	// whenever stage 1 is done, regardless of approved; approved only
	// selects between CaptchaCorrect and CaptchaWrong.
	TryMarkStage2(id identity.ClientIdentity, approved bool) Stage2Result

	// TryMarkStage3 records the gateway use. It requires stages 1 and 2.
	TryMarkStage3(id identity.ClientIdentity) bool

	// Consume releases the terminal content once all stages are done
	// and erases the identity's checklist.
	Consume(id identity.ClientIdentity) bool
}

// Memory is an in-process Gate guarded by a mutex.
type Memory struct {
	mu     sync.Mutex
	states map[identity.ClientIdentity]*State
}

var _ Gate = &Memory{}

// NewMemory returns an empty in-memory gate.
func NewMemory() *Memory {
	return &Memory{states: make(map[identity.ClientIdentity]*State)}
}

// MarkStage1 implements Gate.
func (m *Memory) MarkStage1(id identity.ClientIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[id]
	if !ok {
		st = &State{}
		m.states[id] = st
	}
	st.Stage1 = true
	metrics.RecordGateTransition("stage1", "ok")
}

// TryMarkStage2 implements Gate.
func (m *Memory) TryMarkStage2(id identity.ClientIdentity, approved bool) Stage2Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[id]
	if !ok || !st.Stage1 {
		metrics.RecordGateTransition("stage2", string(VerifyWrong))
		return VerifyWrong
	}

	// The stage advances on a wrong secret too.
	st.Stage2 = true

	result := CaptchaWrong
	if approved {
		result = CaptchaCorrect
	}
	metrics.RecordGateTransition("stage2", string(result))
	return result
}

// TryMarkStage3 implements Gate.
func (m *Memory) TryMarkStage3(id identity.ClientIdentity) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[id]
	if !ok || !st.Stage1 || !st.Stage2 {
		metrics.RecordGateTransition("stage3", "denied")
		return false
	}
	st.Stage3 = true
	metrics.RecordGateTransition("stage3", "ok")
	return true
}

// Consume implements Gate.
func (m *Memory) Consume(id identity.ClientIdentity) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[id]
	if !ok || !st.Stage1 || !st.Stage2 || !st.Stage3 {
		metrics.RecordGateTransition("terminal", "denied")
		return false
	}
	delete(m.states, id)
	metrics.RecordGateTransition("terminal", "ok")
	return true
}

// Get returns a copy of the identity's checklist.
func (m *Memory) Get(id identity.ClientIdentity) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[id]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Len returns the number of identities with a checklist.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}
