// Package prompt assembles the instructions sent to the language model.
// Everything here is a pure function of its inputs: no I/O, no state.
package prompt

import (
	"encoding/json"
	"fmt"

	"github.com/ajmerced/sherpa-cli/api/schemas"
)

// StepSystemPrompt is the contract the model must follow when producing the
// next guidance step.
const StepSystemPrompt = `You are the guidance engine of 'sherpa', an assistant that walks a user through a desktop task one step at a time.
You receive the user's goal, a summary of the steps already completed, and a screenshot of the current screen.
Respond with a single JSON object describing the ONE next action the user should take. No prose, JSON only.

Required fields:
- "step_description": what to do, referencing a concretely visible UI element.
- "shape": one of "circle", "arrow", "box" - how to annotate the target region.
- "bbox": [x0, y0, x1, y1] normalized to [0,1] relative to the screenshot, with x0 < x1 and y0 < y1.
- "label": a short display label for the annotation.
- "is_final_step": true only if completing this step finishes the goal.

Rules:
- Never invent UI that is not visible in the screenshot, unless a generic way to reach it (dock, launcher, menu bar) is visible - then target that.
- One step at a time. Do not combine actions.
- If no visible element can advance the goal, respond with {"error": true, "reason": "<why>"} instead of guessing.`

// OffTaskSystemPrompt asks for an advisory yes/no judgement about whether
// the user has drifted from the goal.
const OffTaskSystemPrompt = `You are watching a user follow step-by-step guidance toward a goal.
Given the goal, the instruction they were last given, and the current screen, judge whether they are still on task.
Respond with a single JSON object only: {"is_off_task": bool, "needs_substeps": bool, "reason": "<short explanation>"}.
Set "needs_substeps" only when the user has drifted far enough that short corrective steps are needed to get back.`

// SubstepSystemPrompt asks for a short corrective sequence to refocus the
// user. Substeps use the same JSON shape as regular steps.
const SubstepSystemPrompt = `You are the guidance engine of 'sherpa'. The user has drifted away from their goal.
Produce a short JSON array of corrective steps (no prose) that brings them back on track.
Each element uses the same shape as a normal step: {"step_description", "shape", "bbox", "label", "is_final_step"}.
Keep every step small and concrete, and set "is_final_step" to false on all of them.`

// CaptureMeta is the screenshot metadata forwarded with a prompt so the
// model knows the coordinate space (and whether the frame is synthetic).
type CaptureMeta struct {
	Width     int  `json:"width"`
	Height    int  `json:"height"`
	Synthetic bool `json:"synthetic"`
}

// StepUserPrompt renders the user-facing part of a next-step request: the
// goal, a compact digest of completed steps, and capture metadata. Prior
// screenshots are never re-sent; the digest carries continuity instead.
func StepUserPrompt(goal string, prior []schemas.Digest, meta CaptureMeta) (string, error) {
	if prior == nil {
		prior = []schemas.Digest{}
	}
	priorJSON, err := json.Marshal(prior)
	if err != nil {
		return "", fmt.Errorf("failed to marshal prior step digest: %w", err)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to marshal capture metadata: %w", err)
	}

	return fmt.Sprintf(`Goal: %s

Steps already completed (JSON):
%s

Screenshot metadata (JSON):
%s

Determine the single next step. Respond with one JSON object.`, goal, priorJSON, metaJSON), nil
}

// OffTaskUserPrompt renders the advisory off-task check. currentHint is the
// description of the instruction the user is expected to be acting on; it
// may be empty between steps.
func OffTaskUserPrompt(goal, currentHint string, meta CaptureMeta) (string, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to marshal capture metadata: %w", err)
	}
	if currentHint == "" {
		currentHint = "(no active instruction)"
	}

	return fmt.Sprintf(`Goal: %s
Current instruction: %s

Screenshot metadata (JSON):
%s

Is the user still pursuing the stated goal? Respond with one JSON object.`, goal, currentHint, metaJSON), nil
}

// SubstepUserPrompt renders the corrective-substep request.
func SubstepUserPrompt(goal, reason string, count int, meta CaptureMeta) (string, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("failed to marshal capture metadata: %w", err)
	}

	return fmt.Sprintf(`Goal: %s
Why the user is off task: %s

Screenshot metadata (JSON):
%s

Produce %d short corrective steps as a JSON array.`, goal, reason, metaJSON, count), nil
}
