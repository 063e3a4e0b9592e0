package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionStatusTerminal(t *testing.T) {
	assert.False(t, StatusIdle.Terminal())
	assert.False(t, StatusReady.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.True(t, StatusFinished.Terminal())
	assert.True(t, StatusError.Terminal())
}

func TestInstructionDigest(t *testing.T) {
	ins := Instruction{
		ID:          "step-1",
		Description: "Click the green play button",
		Label:       "Play",
		Shape:       ShapeCircle,
		Box:         BoundingBox{X: 0.4, Y: 0.9, Width: 0.04, Height: 0.06},
		IsFinal:     true,
		Pixel:       &PixelGeometry{CaptureWidth: 1920},
	}

	d := ins.Digest()
	assert.Equal(t, ins.Description, d.Description)
	assert.Equal(t, ins.Label, d.Label)
	assert.Equal(t, ins.Shape, d.Shape)
	assert.Equal(t, ins.Box, d.Box)
}

func TestGuideError(t *testing.T) {
	err := NewGuideError(StageCapture, "display %d gone", 2)
	assert.Equal(t, StageCapture, err.Stage)
	assert.EqualError(t, err, "capture: display 2 gone")
}
