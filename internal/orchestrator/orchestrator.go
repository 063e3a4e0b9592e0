// Package orchestrator drives the guided, single-step-at-a-time loop:
// capture -> model query -> response validation -> callback dispatch ->
// advance or terminate. It owns all session state; the presentation layer
// only reads via GetState or receives pushed callbacks.
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajmerced/sherpa-cli/api/schemas"
	"github.com/ajmerced/sherpa-cli/internal/config"
	"github.com/ajmerced/sherpa-cli/internal/prompt"
	"github.com/ajmerced/sherpa-cli/internal/validate"
)

// Allows for mocking in tests.
var uuidNewString = uuid.NewString

// Orchestrator is the session-scoped state machine. One instance serves one
// caller; concurrent instances are fully independent.
type Orchestrator struct {
	cfg      config.GuideConfig
	logger   *zap.Logger
	capture  schemas.CapturePort
	model    schemas.ModelPort
	recorder schemas.Recorder

	// inFlight is the single execution slot shared by RequestNextStep and
	// the off-task check. A second call arriving while it is held is a
	// no-op: never queued, never blocked, never a second capture.
	inFlight atomic.Bool

	mu        sync.Mutex
	session   schemas.Session
	current   *schemas.Instruction
	history   []schemas.Instruction
	callbacks schemas.Callbacks

	// Off-task recovery state. Orthogonal to session.Status: substep mode
	// only redirects which instruction the user is expected to act on.
	substepMode bool
	substeps    []schemas.Instruction
	substepIdx  int
}

// New creates an Orchestrator with its ports injected.
func New(
	cfg config.GuideConfig,
	logger *zap.Logger,
	capture schemas.CapturePort,
	model schemas.ModelPort,
	recorder schemas.Recorder,
) (*Orchestrator, error) {
	if logger == nil || capture == nil || model == nil || recorder == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	return &Orchestrator{
		cfg:      cfg,
		logger:   logger.Named("orchestrator"),
		capture:  capture,
		model:    model,
		recorder: recorder,
		session:  schemas.Session{Status: schemas.StatusIdle},
	}, nil
}

// SetCallbacks registers the caller's push surface. Registration is
// single-slot: this replaces any prior registration wholesale.
func (o *Orchestrator) SetCallbacks(cb schemas.Callbacks) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callbacks = cb
}

// SetGoal discards any prior session and starts a fresh one in the ready
// state. No capture or model call happens here. An empty goal is a
// synchronous input error and leaves all state untouched.
func (o *Orchestrator) SetGoal(ctx context.Context, goal string) error {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return schemas.NewGuideError(schemas.StageInput, "goal must not be empty")
	}

	o.mu.Lock()
	o.session = schemas.Session{
		ID:        uuidNewString(),
		Goal:      goal,
		StartedAt: time.Now().UTC(),
		Status:    schemas.StatusReady,
	}
	o.current = nil
	o.history = nil
	o.substepMode = false
	o.substeps = nil
	o.substepIdx = 0
	session := o.session
	o.mu.Unlock()

	o.logger.Info("New guidance session started",
		zap.String("session_id", session.ID),
		zap.String("goal", session.Goal))

	// Best-effort persistence; failure must never surface to the caller.
	if err := o.recorder.RecordSessionStart(ctx, session); err != nil {
		o.logger.Warn("Failed to record session start", zap.Error(err))
	}
	return nil
}

// RequestNextStep runs one full capture -> model -> validate -> dispatch
// cycle. All failures are pushed through OnError; a duplicate call while
// one is already in flight is a silent no-op.
func (o *Orchestrator) RequestNextStep(ctx context.Context) {
	if !o.inFlight.CompareAndSwap(false, true) {
		o.logger.Debug("RequestNextStep ignored: another request is in flight")
		return
	}
	// The slot must be released on every exit path, error branches included.
	defer o.inFlight.Store(false)

	o.mu.Lock()
	if o.session.Goal == "" {
		o.mu.Unlock()
		o.emitError(schemas.NewGuideError(schemas.StagePrecondition, "no goal set"))
		return
	}
	if o.session.Status.Terminal() {
		status := o.session.Status
		o.mu.Unlock()
		o.logger.Info("RequestNextStep ignored: session is terminal", zap.String("status", string(status)))
		return
	}
	o.session.Status = schemas.StatusInProgress
	goal := o.session.Goal
	digests := o.historyDigestsLocked()
	o.mu.Unlock()

	snapshot, err := o.takeCapture(ctx)
	if err != nil {
		o.failStep(ctx, schemas.StageCapture, err.Error())
		return
	}

	userPrompt, err := prompt.StepUserPrompt(goal, digests, captureMeta(snapshot))
	if err != nil {
		o.failStep(ctx, schemas.StageModel, fmt.Sprintf("failed to build prompt: %v", err))
		return
	}

	raw, err := o.generate(ctx, schemas.GenerationRequest{
		SystemPrompt:    prompt.StepSystemPrompt,
		UserPrompt:      userPrompt,
		Image:           snapshot.Image,
		ImageMIME:       "image/png",
		Tier:            schemas.TierPowerful,
		ForceJSONFormat: true,
		Temperature:     0.2,
	})
	if err != nil {
		o.failStep(ctx, schemas.StageModel, err.Error())
		return
	}

	instruction, failure := validate.Validate(raw)
	if failure != nil {
		o.failStep(ctx, schemas.StageValidation, failure.Reason)
		return
	}

	if instruction.ID == "" {
		instruction.ID = uuidNewString()
	}
	instruction.CreatedAt = time.Now().UTC()
	instruction.Pixel = pixelGeometry(instruction.Box, snapshot)

	o.mu.Lock()
	if o.current != nil {
		o.history = append(o.history, *o.current)
	}
	o.current = instruction
	onInstruction := o.callbacks.OnInstruction
	o.mu.Unlock()

	o.logger.Info("Instruction ready",
		zap.String("instruction_id", instruction.ID),
		zap.String("label", instruction.Label),
		zap.Bool("final", instruction.IsFinal))

	if onInstruction != nil {
		onInstruction(*instruction)
	}

	if instruction.IsFinal {
		o.finish()
	}
}

// MarkDone confirms the current instruction. On a non-final instruction it
// re-enters the request loop; on a final one it completes the session. A
// second call after the session finished is an idempotent no-op.
func (o *Orchestrator) MarkDone(ctx context.Context, instructionID string) error {
	o.mu.Lock()
	if o.session.Status == schemas.StatusFinished {
		o.mu.Unlock()
		o.logger.Debug("MarkDone on a finished session is a no-op", zap.String("instruction_id", instructionID))
		return nil
	}
	if o.current == nil || o.current.ID != instructionID {
		o.mu.Unlock()
		return schemas.NewGuideError(schemas.StageInput, "step id mismatch")
	}
	completed := *o.current
	sessionID := o.session.ID
	o.mu.Unlock()

	if err := o.recorder.RecordStepCompletion(ctx, sessionID, completed, time.Now().UTC()); err != nil {
		o.logger.Warn("Failed to record step completion", zap.Error(err))
	}

	if completed.IsFinal {
		o.finish()
		return nil
	}

	o.RequestNextStep(ctx)
	return nil
}

// State is the read-only snapshot returned by GetState.
type State struct {
	Goal      string                `json:"goal"`
	SessionID string                `json:"session_id"`
	StepCount int                   `json:"step_count"`
	Status    schemas.SessionStatus `json:"status"`
	Elapsed   time.Duration         `json:"elapsed"`
}

// GetState returns the session snapshot without mutating anything.
func (o *Orchestrator) GetState() State {
	o.mu.Lock()
	defer o.mu.Unlock()

	count := len(o.history)
	if o.current != nil {
		count++
	}

	var elapsed time.Duration
	if !o.session.StartedAt.IsZero() {
		elapsed = time.Since(o.session.StartedAt)
	}

	return State{
		Goal:      o.session.Goal,
		SessionID: o.session.ID,
		StepCount: count,
		Status:    o.session.Status,
		Elapsed:   elapsed,
	}
}

// -- internals --

// takeCapture wraps the capture port, treating a missing or empty snapshot
// as a hard failure.
func (o *Orchestrator) takeCapture(ctx context.Context) (*schemas.Capture, error) {
	snapshot, err := o.capture.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("screen capture failed: %w", err)
	}
	if snapshot == nil || len(snapshot.Image) == 0 {
		return nil, fmt.Errorf("screen capture returned no image payload")
	}
	return snapshot, nil
}

// generate wraps the model port with the configured timeout and the
// empty-response check.
func (o *Orchestrator) generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if o.cfg.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.ModelTimeout)
		defer cancel()
	}

	raw, err := o.model.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("model request failed: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("model returned an empty response")
	}
	return raw, nil
}

// historyDigestsLocked reduces the completed instructions (history plus the
// just-confirmed current one) to their model-facing digests. Caller holds mu.
func (o *Orchestrator) historyDigestsLocked() []schemas.Digest {
	completed := o.history
	if o.current != nil {
		completed = append(completed[:len(completed):len(completed)], *o.current)
	}
	if limit := o.cfg.HistoryDigestLimit; limit > 0 && len(completed) > limit {
		completed = completed[len(completed)-limit:]
	}

	digests := make([]schemas.Digest, 0, len(completed))
	for _, ins := range completed {
		digests = append(digests, ins.Digest())
	}
	return digests
}

// failStep is the single hard-failure path inside the request cycle: the
// session moves to error, the failure is recorded best-effort, and the
// caller hears about it exactly once through OnError.
func (o *Orchestrator) failStep(ctx context.Context, stage schemas.Stage, message string) {
	o.mu.Lock()
	o.session.Status = schemas.StatusError
	sessionID := o.session.ID
	o.mu.Unlock()

	guideErr := schemas.NewGuideError(stage, "%s", message)
	o.logger.Error("Step request failed",
		zap.String("stage", string(stage)),
		zap.String("session_id", sessionID),
		zap.String("message", message))

	if err := o.recorder.RecordFailure(ctx, sessionID, stage, guideErr); err != nil {
		o.logger.Warn("Failed to record failure", zap.Error(err))
	}

	o.emitError(guideErr)
}

// emitError pushes an error to the caller if an OnError callback is set.
func (o *Orchestrator) emitError(err *schemas.GuideError) {
	o.mu.Lock()
	onError := o.callbacks.OnError
	o.mu.Unlock()

	if onError != nil {
		onError(err)
	}
}

// finish transitions the session to finished (at most once) and delivers
// the session summary.
func (o *Orchestrator) finish() {
	o.mu.Lock()
	if o.session.Status == schemas.StatusFinished {
		o.mu.Unlock()
		return
	}
	o.session.Status = schemas.StatusFinished

	steps := make([]schemas.Instruction, len(o.history))
	copy(steps, o.history)
	if o.current != nil {
		steps = append(steps, *o.current)
	}

	now := time.Now().UTC()
	summary := schemas.SessionSummary{
		Goal:        o.session.Goal,
		TotalSteps:  len(steps),
		Duration:    now.Sub(o.session.StartedAt),
		CompletedAt: now,
		Steps:       steps,
	}
	onComplete := o.callbacks.OnSessionComplete
	sessionID := o.session.ID
	o.mu.Unlock()

	o.logger.Info("Session complete",
		zap.String("session_id", sessionID),
		zap.Int("total_steps", summary.TotalSteps),
		zap.Duration("duration", summary.Duration))

	if onComplete != nil {
		onComplete(summary)
	}
}

// pixelGeometry projects a normalized box onto the capture's physical pixel
// grid, clamped to the capture bounds. The device pixel ratio rides along so
// the presentation layer can derive logical coordinates when the capture
// reports scaled pixels.
func pixelGeometry(box schemas.BoundingBox, snapshot *schemas.Capture) *schemas.PixelGeometry {
	dpr := snapshot.DevicePixelRatio
	if dpr <= 0 {
		dpr = 1
	}

	w, h := snapshot.Width, snapshot.Height
	x := clampInt(int(math.Round(box.X*float64(w))), 0, w)
	y := clampInt(int(math.Round(box.Y*float64(h))), 0, h)
	width := clampInt(int(math.Round(box.Width*float64(w))), 0, w-x)
	height := clampInt(int(math.Round(box.Height*float64(h))), 0, h-y)

	return &schemas.PixelGeometry{
		Box:              schemas.PixelBox{X: x, Y: y, Width: width, Height: height},
		CaptureWidth:     w,
		CaptureHeight:    h,
		DevicePixelRatio: dpr,
		Synthetic:        snapshot.Synthetic,
		TakenAt:          snapshot.TakenAt,
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func captureMeta(snapshot *schemas.Capture) prompt.CaptureMeta {
	return prompt.CaptureMeta{
		Width:     snapshot.Width,
		Height:    snapshot.Height,
		Synthetic: snapshot.Synthetic,
	}
}
