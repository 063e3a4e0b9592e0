package orchestrator

import (
	"context"
	encjson "encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajmerced/sherpa-cli/api/schemas"
	"github.com/ajmerced/sherpa-cli/internal/llmutil"
	"github.com/ajmerced/sherpa-cli/internal/prompt"
	"github.com/ajmerced/sherpa-cli/internal/validate"
)

// offTaskVerdict is the advisory answer expected from the fast-tier model.
type offTaskVerdict struct {
	IsOffTask     bool   `json:"is_off_task"`
	NeedsSubsteps bool   `json:"needs_substeps"`
	Reason        string `json:"reason"`
}

// DetectAndHandleOffTask runs the advisory off-task check on caller demand.
// It shares the single execution slot with RequestNextStep (one capture at a
// time) and never changes session status: a malformed model answer is
// treated as "on task", and nothing here surfaces through OnError.
//
// The returned error reports transport-level trouble (capture or model call
// failed) so the caller can log it; it carries no session consequence.
func (o *Orchestrator) DetectAndHandleOffTask(ctx context.Context) error {
	if !o.inFlight.CompareAndSwap(false, true) {
		o.logger.Debug("Off-task check skipped: another request is in flight")
		return nil
	}
	defer o.inFlight.Store(false)

	o.mu.Lock()
	if o.session.Goal == "" || o.session.Status.Terminal() {
		o.mu.Unlock()
		return nil
	}
	goal := o.session.Goal
	currentHint := ""
	if o.substepMode && o.substepIdx < len(o.substeps) {
		currentHint = o.substeps[o.substepIdx].Description
	} else if o.current != nil {
		currentHint = o.current.Description
	}
	substepTarget := o.cfg.SubstepTarget
	o.mu.Unlock()

	snapshot, err := o.takeCapture(ctx)
	if err != nil {
		return fmt.Errorf("off-task check: %w", err)
	}

	userPrompt, err := prompt.OffTaskUserPrompt(goal, currentHint, captureMeta(snapshot))
	if err != nil {
		return fmt.Errorf("off-task check: %w", err)
	}

	raw, err := o.generate(ctx, schemas.GenerationRequest{
		SystemPrompt:    prompt.OffTaskSystemPrompt,
		UserPrompt:      userPrompt,
		Image:           snapshot.Image,
		ImageMIME:       "image/png",
		Tier:            schemas.TierFast,
		ForceJSONFormat: true,
		Temperature:     0.1,
	})
	if err != nil {
		return fmt.Errorf("off-task check: %w", err)
	}

	verdict, parseErr := llmutil.ParseJSONResponse[offTaskVerdict](raw)
	if parseErr != nil {
		// Advisory check: an unparseable answer means "assume on task".
		o.logger.Debug("Off-task verdict unparseable, assuming on task", zap.Error(parseErr))
		return nil
	}

	if !verdict.IsOffTask {
		o.logger.Debug("User judged on task", zap.String("reason", verdict.Reason))
		return nil
	}

	o.logger.Info("User judged off task",
		zap.String("reason", verdict.Reason),
		zap.Bool("needs_substeps", verdict.NeedsSubsteps))

	if !verdict.NeedsSubsteps {
		return nil
	}

	return o.generateSubstepsToRefocus(ctx, goal, verdict.Reason, substepTarget)
}

// generateSubstepsToRefocus asks the model for a short corrective sequence,
// enters substep mode, and emits the first substep through the normal
// instruction callback. Caller must not hold mu.
func (o *Orchestrator) generateSubstepsToRefocus(ctx context.Context, goal, reason string, target int) error {
	snapshot, err := o.takeCapture(ctx)
	if err != nil {
		return fmt.Errorf("substep generation: %w", err)
	}

	userPrompt, err := prompt.SubstepUserPrompt(goal, reason, target, captureMeta(snapshot))
	if err != nil {
		return fmt.Errorf("substep generation: %w", err)
	}

	raw, err := o.generate(ctx, schemas.GenerationRequest{
		SystemPrompt:    prompt.SubstepSystemPrompt,
		UserPrompt:      userPrompt,
		Image:           snapshot.Image,
		ImageMIME:       "image/png",
		Tier:            schemas.TierPowerful,
		ForceJSONFormat: true,
		Temperature:     0.2,
	})
	if err != nil {
		return fmt.Errorf("substep generation: %w", err)
	}

	elements, parseErr := llmutil.ParseJSONResponse[[]encjson.RawMessage](raw)
	if parseErr != nil {
		o.logger.Debug("Substep list unparseable, staying in main flow", zap.Error(parseErr))
		return nil
	}

	substeps := make([]schemas.Instruction, 0, len(*elements))
	for _, element := range *elements {
		ins, failure := validate.Validate(string(element))
		if failure != nil {
			o.logger.Debug("Dropping invalid substep", zap.String("reason", failure.Reason))
			continue
		}
		ins.ID = uuidNewString()
		ins.IsSubstep = true
		ins.IsFinal = false
		ins.CreatedAt = time.Now().UTC()
		ins.Pixel = pixelGeometry(ins.Box, snapshot)
		substeps = append(substeps, *ins)
	}
	if len(substeps) == 0 {
		o.logger.Debug("No usable substeps produced, staying in main flow")
		return nil
	}

	o.mu.Lock()
	o.substepMode = true
	o.substeps = substeps
	o.substepIdx = 0
	first := substeps[0]
	onInstruction := o.callbacks.OnInstruction
	o.mu.Unlock()

	o.logger.Info("Entering substep mode",
		zap.Int("substeps", len(substeps)),
		zap.String("reason", strings.TrimSpace(reason)))

	if onInstruction != nil {
		onInstruction(first)
	}
	return nil
}

// MarkSubstepDone advances through the corrective substep list by id. When
// the list is exhausted, substep mode clears and the main flow resumes with
// a fresh RequestNextStep. An unknown id is a silent no-op.
func (o *Orchestrator) MarkSubstepDone(ctx context.Context, substepID string) {
	o.mu.Lock()
	if !o.substepMode {
		o.mu.Unlock()
		return
	}

	found := -1
	for i, s := range o.substeps {
		if s.ID == substepID {
			found = i
			break
		}
	}
	if found == -1 {
		o.mu.Unlock()
		o.logger.Debug("MarkSubstepDone ignored: unknown substep id", zap.String("substep_id", substepID))
		return
	}

	o.substepIdx = found + 1
	if o.substepIdx < len(o.substeps) {
		next := o.substeps[o.substepIdx]
		onInstruction := o.callbacks.OnInstruction
		o.mu.Unlock()

		if onInstruction != nil {
			onInstruction(next)
		}
		return
	}

	// List exhausted: leave recovery mode and resume the main flow.
	o.substepMode = false
	o.substeps = nil
	o.substepIdx = 0
	o.mu.Unlock()

	o.logger.Info("Substep recovery complete, resuming main flow")
	o.RequestNextStep(ctx)
}
