// Package schemas is the canonical home for the data model and the port
// interfaces shared across sherpa. Keeping the contracts here (instead of
// inside internal packages) prevents import cycles between the orchestrator
// and its adapters.
package schemas

import (
	"fmt"
	"time"
)

// SessionStatus tracks where a guidance session is in its lifecycle.
type SessionStatus string

const (
	StatusIdle       SessionStatus = "idle"        // No goal has been set yet.
	StatusReady      SessionStatus = "ready"       // A goal is set, no step requested yet.
	StatusInProgress SessionStatus = "in-progress" // Steps are being produced and confirmed.
	StatusFinished   SessionStatus = "finished"    // The model marked a step final, or the last step was confirmed.
	StatusError      SessionStatus = "error"       // A hard failure ended the session; a new goal is required.
)

// Terminal reports whether the session can make no further progress.
func (s SessionStatus) Terminal() bool {
	return s == StatusFinished || s == StatusError
}

// Shape is the annotation style the presentation layer should draw around
// the target region.
type Shape string

const (
	ShapeCircle Shape = "circle"
	ShapeArrow  Shape = "arrow"
	ShapeBox    Shape = "box"
)

// BoundingBox is a normalized rectangle. All fields are in [0,1] and the
// box never extends past the unit square (x+width <= 1, y+height <= 1).
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PixelBox is a bounding box projected onto a concrete capture, in pixels.
type PixelBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// PixelGeometry is the derived, non-authoritative convenience payload the
// orchestrator attaches to an instruction for the presentation layer. It is
// computed exactly once, against the capture the instruction was produced
// from.
type PixelGeometry struct {
	Box              PixelBox  `json:"box"`
	CaptureWidth     int       `json:"capture_width"`
	CaptureHeight    int       `json:"capture_height"`
	DevicePixelRatio float64   `json:"device_pixel_ratio"`
	Synthetic        bool      `json:"synthetic"`
	TakenAt          time.Time `json:"taken_at"`
}

// Instruction is one normalized next-action recommendation. It is immutable
// after creation except for the pixel geometry decoration, which is attached
// exactly once by the orchestrator.
type Instruction struct {
	ID          string      `json:"id"`
	Description string      `json:"description"`
	Shape       Shape       `json:"shape"`
	Box         BoundingBox `json:"bounding_box"`
	Label       string      `json:"label"`
	IsFinal     bool        `json:"is_final"`
	// IsSubstep marks corrective instructions emitted by the off-task
	// recovery sub-loop. Substeps never enter session history.
	IsSubstep bool           `json:"is_substep,omitempty"`
	Pixel     *PixelGeometry `json:"pixel,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Digest is the compact form of a completed instruction passed back to the
// model for continuity, so prior screenshots never need re-sending.
type Digest struct {
	Description string      `json:"description"`
	Label       string      `json:"label"`
	Shape       Shape       `json:"shape"`
	Box         BoundingBox `json:"bounding_box"`
}

// Digest reduces an instruction to its model-facing summary.
func (i Instruction) Digest() Digest {
	return Digest{
		Description: i.Description,
		Label:       i.Label,
		Shape:       i.Shape,
		Box:         i.Box,
	}
}

// Session describes one user goal being pursued. The goal is immutable for
// the session's lifetime; setting a new goal replaces the session wholesale.
type Session struct {
	ID        string        `json:"id"`
	Goal      string        `json:"goal"`
	StartedAt time.Time     `json:"started_at"`
	Status    SessionStatus `json:"status"`
}

// SessionSummary is delivered through OnSessionComplete when a session
// reaches the finished state.
type SessionSummary struct {
	Goal        string        `json:"goal"`
	TotalSteps  int           `json:"total_steps"`
	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completed_at"`
	Steps       []Instruction `json:"steps"`
}

// Capture is a single screen snapshot. Width and Height are physical pixel
// dimensions of the image payload; DevicePixelRatio (when non-zero) lets the
// presentation layer derive logical coordinates.
type Capture struct {
	Image            []byte    `json:"-"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
	DevicePixelRatio float64   `json:"device_pixel_ratio,omitempty"`
	Synthetic        bool      `json:"synthetic"`
	TakenAt          time.Time `json:"taken_at"`
}

// Stage names the phase of the step pipeline an error originated from, so
// callers can tell a capture failure from a model or validation failure.
type Stage string

const (
	StageInput        Stage = "input"
	StagePrecondition Stage = "precondition"
	StageCapture      Stage = "capture"
	StageModel        Stage = "model"
	StageValidation   Stage = "validation"
)

// GuideError is the error shape delivered through OnError. Every hard
// failure reaches the caller exactly once as one of these.
type GuideError struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
}

func (e *GuideError) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

// NewGuideError builds a stage-tagged error.
func NewGuideError(stage Stage, format string, args ...any) *GuideError {
	return &GuideError{Stage: stage, Message: fmt.Sprintf(format, args...)}
}
