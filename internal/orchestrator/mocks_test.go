package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ajmerced/sherpa-cli/api/schemas"
)

// -- Capture Port Mock --

// mockCapture implements schemas.CapturePort with optional blocking so
// tests can hold a request in flight deliberately.
type mockCapture struct {
	mu       sync.Mutex
	calls    int
	snapshot *schemas.Capture
	err      error
	// block, when non-nil, makes Capture wait until the channel closes.
	block chan struct{}
}

func newMockCapture(width, height int) *mockCapture {
	return &mockCapture{
		snapshot: &schemas.Capture{
			Image:            []byte{0x89, 0x50, 0x4e, 0x47}, // enough to be non-empty
			Width:            width,
			Height:           height,
			DevicePixelRatio: 1,
			Synthetic:        true,
			TakenAt:          time.Now().UTC(),
		},
	}
}

func (m *mockCapture) Capture(ctx context.Context) (*schemas.Capture, error) {
	m.mu.Lock()
	m.calls++
	block := m.block
	snapshot, err := m.snapshot, m.err
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return snapshot, err
}

func (m *mockCapture) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// -- Model Port Mock --

// mockModel replays a scripted list of responses and records every request.
type mockModel struct {
	mu        sync.Mutex
	calls     int
	requests  []schemas.GenerationRequest
	responses []string
	err       error
}

func (m *mockModel) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.requests = append(m.requests, req)
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) == 0 {
		return "", errors.New("mockModel: no scripted response left")
	}
	response := m.responses[0]
	m.responses = m.responses[1:]
	return response, nil
}

func (m *mockModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockModel) lastRequest() schemas.GenerationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return schemas.GenerationRequest{}
	}
	return m.requests[len(m.requests)-1]
}

// -- Recorder Port Mock --

// mockRecorder captures everything persisted; err (when set) is returned
// from every method so swallow-the-failure behavior can be asserted.
type mockRecorder struct {
	mu       sync.Mutex
	sessions []schemas.Session
	steps    []schemas.Instruction
	failures []schemas.Stage
	err      error
}

func (m *mockRecorder) RecordSessionStart(ctx context.Context, session schemas.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, session)
	return m.err
}

func (m *mockRecorder) RecordStepCompletion(ctx context.Context, sessionID string, instruction schemas.Instruction, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, instruction)
	return m.err
}

func (m *mockRecorder) RecordFailure(ctx context.Context, sessionID string, stage schemas.Stage, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, stage)
	return m.err
}

func (m *mockRecorder) recordedFailures() []schemas.Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]schemas.Stage(nil), m.failures...)
}

// -- Callback Collector --

// callbackCollector gathers pushed callbacks behind a mutex.
type callbackCollector struct {
	mu           sync.Mutex
	instructions []schemas.Instruction
	summaries    []schemas.SessionSummary
	errors       []*schemas.GuideError
}

func (c *callbackCollector) callbacks() schemas.Callbacks {
	return schemas.Callbacks{
		OnInstruction: func(ins schemas.Instruction) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.instructions = append(c.instructions, ins)
		},
		OnSessionComplete: func(summary schemas.SessionSummary) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.summaries = append(c.summaries, summary)
		},
		OnError: func(err *schemas.GuideError) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.errors = append(c.errors, err)
		},
	}
}

func (c *callbackCollector) instructionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.instructions)
}

func (c *callbackCollector) lastInstruction() schemas.Instruction {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.instructions) == 0 {
		return schemas.Instruction{}
	}
	return c.instructions[len(c.instructions)-1]
}

func (c *callbackCollector) summaryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.summaries)
}

func (c *callbackCollector) lastSummary() schemas.SessionSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.summaries) == 0 {
		return schemas.SessionSummary{}
	}
	return c.summaries[len(c.summaries)-1]
}

func (c *callbackCollector) errorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errors)
}

func (c *callbackCollector) lastError() *schemas.GuideError {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errors) == 0 {
		return nil
	}
	return c.errors[len(c.errors)-1]
}
