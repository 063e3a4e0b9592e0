package schemas

import (
	"context"
	"time"
)

// -- Capture Port --

// CapturePort produces a snapshot of the surface the user is working on.
// Implementations are the only capture-side source of latency; they must
// honor ctx cancellation.
type CapturePort interface {
	// Capture returns a snapshot with a non-empty image payload, or an error.
	Capture(ctx context.Context) (*Capture, error)
}

// -- Model Port --

// ModelTier selects which class of model serves a request. Advisory checks
// (off-task detection) ride the fast tier; step generation the powerful one.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// GenerationRequest is a complete request to the language model: the system
// contract, the user-facing goal/context, and an optional image payload.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	// Image, when set, is attached as an inline multimodal part.
	Image     []byte
	ImageMIME string
	Tier      ModelTier
	// ForceJSONFormat asks the provider to constrain output to JSON.
	ForceJSONFormat bool
	Temperature     float64
}

// ModelPort is the language-model boundary. Empty responses are treated as
// failures by the orchestrator.
type ModelPort interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// -- Recorder Port --

// Recorder persists session activity best-effort. The orchestrator wraps
// every call so that a recorder failure can never abort the guidance flow;
// implementations should still return errors so they can be logged.
type Recorder interface {
	RecordSessionStart(ctx context.Context, session Session) error
	RecordStepCompletion(ctx context.Context, sessionID string, instruction Instruction, completedAt time.Time) error
	RecordFailure(ctx context.Context, sessionID string, stage Stage, cause error) error
}

// -- Caller callbacks --

// Callbacks is the push surface toward the presentation layer. Registration
// is single-slot: registering replaces any prior registration. Any nil
// member is simply skipped.
type Callbacks struct {
	// OnInstruction fires once per successfully produced instruction,
	// main-flow or substep.
	OnInstruction func(Instruction)
	// OnSessionComplete fires when the session reaches finished.
	OnSessionComplete func(SessionSummary)
	// OnError receives every hard failure exactly once.
	OnError func(*GuideError)
}
