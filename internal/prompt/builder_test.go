package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajmerced/sherpa-cli/api/schemas"
)

func TestStepUserPrompt(t *testing.T) {
	t.Parallel()

	prior := []schemas.Digest{
		{Description: "Open the dock", Label: "Dock", Shape: schemas.ShapeCircle, Box: schemas.BoundingBox{X: 0.4, Y: 0.9, Width: 0.04, Height: 0.06}},
	}
	meta := CaptureMeta{Width: 1920, Height: 1080, Synthetic: true}

	got, err := StepUserPrompt("Open Spotify", prior, meta)
	require.NoError(t, err)

	assert.Contains(t, got, "Goal: Open Spotify")
	assert.Contains(t, got, "Open the dock")
	assert.Contains(t, got, `"width":1920`)
	assert.Contains(t, got, `"synthetic":true`)
	assert.Contains(t, got, "one JSON object")
}

func TestStepUserPrompt_NilPriorRendersEmptyList(t *testing.T) {
	t.Parallel()

	got, err := StepUserPrompt("Open Spotify", nil, CaptureMeta{Width: 800, Height: 600})
	require.NoError(t, err)
	assert.Contains(t, got, "[]", "nil history must render as an empty JSON list, not null")
	assert.NotContains(t, got, "null")
}

func TestOffTaskUserPrompt(t *testing.T) {
	t.Parallel()

	got, err := OffTaskUserPrompt("Open Spotify", "Click the dock icon", CaptureMeta{Width: 100, Height: 100})
	require.NoError(t, err)
	assert.Contains(t, got, "Current instruction: Click the dock icon")

	got, err = OffTaskUserPrompt("Open Spotify", "", CaptureMeta{Width: 100, Height: 100})
	require.NoError(t, err)
	assert.Contains(t, got, "(no active instruction)")
}

func TestSubstepUserPrompt(t *testing.T) {
	t.Parallel()

	got, err := SubstepUserPrompt("Open Spotify", "browsing news instead", 3, CaptureMeta{Width: 100, Height: 100})
	require.NoError(t, err)
	assert.Contains(t, got, "browsing news instead")
	assert.Contains(t, got, "3 short corrective steps")
}

func TestPromptsArePure(t *testing.T) {
	t.Parallel()

	meta := CaptureMeta{Width: 640, Height: 480}
	a, err := StepUserPrompt("goal", nil, meta)
	require.NoError(t, err)
	b, err := StepUserPrompt("goal", nil, meta)
	require.NoError(t, err)
	assert.Equal(t, a, b, "same inputs must produce identical prompts")
}
