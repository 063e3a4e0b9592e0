// Package validate turns raw model text into a typed, normalized
// instruction or a typed failure. The model is adversarial in practice: it
// returns prose instead of JSON, hallucinates UI, and mixes bounding-box
// conventions. Every one of those failure modes must become an explicit
// Failure value, never a panic or a swallowed default.
package validate

import (
	encjson "encoding/json"
	"math"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/ajmerced/sherpa-cli/api/schemas"
	"github.com/ajmerced/sherpa-cli/internal/llmutil"
)

// minBoxDim is the smallest normalized width/height an instruction box may
// have; degenerate boxes are clamped up to this size.
const minBoxDim = 0.005

// Failure is the validator's alternate output: no partial instruction, just
// a human-readable reason.
type Failure struct {
	Reason string
}

func (f *Failure) Error() string { return f.Reason }

func failf(reason string) *Failure { return &Failure{Reason: reason} }

// rawStep enumerates every accepted legacy response shape. Unknown fields
// are ignored; recognized aliases are merged during normalization.
type rawStep struct {
	// Error is either a boolean (paired with Reason) or a string carrying
	// the decline reason itself. Both forms are accepted.
	Error  encjson.RawMessage `json:"error"`
	Reason string             `json:"reason"`

	StepDescription string `json:"step_description"`
	Description     string `json:"description"`

	Shape string `json:"shape"`

	// The box arrives as [x0,y0,x1,y1] under any of these keys; an object
	// form {"x0":..,"y0":..,"x1":..,"y1":..} is also accepted.
	BBox             encjson.RawMessage `json:"bbox"`
	BoundingBoxCamel encjson.RawMessage `json:"boundingBox"`
	BoundingBoxSnake encjson.RawMessage `json:"bounding_box"`

	Label string `json:"label"`

	IsFinalStep *bool `json:"is_final_step"`
	IsFinal     *bool `json:"is_final"`
	IsFinalAlt  *bool `json:"isFinal"`
}

type boxObject struct {
	X0 *float64 `json:"x0"`
	Y0 *float64 `json:"y0"`
	X1 *float64 `json:"x1"`
	Y1 *float64 `json:"y1"`
}

// Validate parses raw model text into a sanitized Instruction or a Failure.
// It never panics on malformed input; malformed input is a Failure outcome.
func Validate(raw string) (*schemas.Instruction, *Failure) {
	if strings.TrimSpace(raw) == "" {
		return nil, failf("empty or non-text response")
	}

	payload := llmutil.ExtractJSON(raw)
	var step rawStep
	if err := json.Unmarshal([]byte(payload), &step); err != nil {
		return nil, failf("could not extract valid JSON from response")
	}

	// An explicit decline short-circuits everything else.
	if reason, declined := declineReason(step); declined {
		return nil, failf(reason)
	}

	// Validation failures below are collected so the failure reason names
	// every violated rule, not just the first.
	var reasons []string

	box, boxReasons := normalizeBox(step)
	reasons = append(reasons, boxReasons...)

	shape, ok := normalizeShape(step.Shape)
	if !ok {
		reasons = append(reasons, "shape must be one of circle, arrow, box (got "+strings.TrimSpace(step.Shape)+")")
	}

	description := strings.TrimSpace(firstNonEmpty(step.StepDescription, step.Description))
	if description == "" {
		reasons = append(reasons, "description must be a non-empty string")
	}

	label := strings.TrimSpace(step.Label)
	if label == "" {
		reasons = append(reasons, "label must be a non-empty string")
	}

	if len(reasons) > 0 {
		return nil, failf(strings.Join(reasons, "; "))
	}

	return &schemas.Instruction{
		Description: description,
		Shape:       shape,
		Box:         box,
		Label:       label,
		IsFinal:     finalFlag(step),
	}, nil
}

// declineReason recognizes the two accepted error-marker forms: a boolean
// `"error": true` with a separate reason, or a string-valued error field.
func declineReason(step rawStep) (string, bool) {
	if len(step.Error) == 0 || string(step.Error) == "null" {
		return "", false
	}

	var flag bool
	if err := json.Unmarshal(step.Error, &flag); err == nil {
		if !flag {
			return "", false
		}
		if reason := strings.TrimSpace(step.Reason); reason != "" {
			return reason, true
		}
		return "model declined without a reason", true
	}

	var text string
	if err := json.Unmarshal(step.Error, &text); err == nil {
		if reason := strings.TrimSpace(step.Reason); reason != "" {
			return reason, true
		}
		if text = strings.TrimSpace(text); text != "" {
			return text, true
		}
		return "model declined without a reason", true
	}

	// An error field of any other type still counts as a decline.
	return "model returned an unrecognized error marker", true
}

// normalizeBox decodes the [x0,y0,x1,y1] box, validates it, and converts it
// to the {x,y,width,height} form with degenerate-size and unit-square
// clamping applied.
func normalizeBox(step rawStep) (schemas.BoundingBox, []string) {
	rawBox := step.BBox
	if len(rawBox) == 0 {
		rawBox = step.BoundingBoxCamel
	}
	if len(rawBox) == 0 {
		rawBox = step.BoundingBoxSnake
	}
	if len(rawBox) == 0 || string(rawBox) == "null" {
		return schemas.BoundingBox{}, []string{"missing boundingBox field"}
	}

	coords, err := decodeCorners(rawBox)
	if err != "" {
		return schemas.BoundingBox{}, []string{err}
	}

	var reasons []string
	for _, v := range coords {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			reasons = append(reasons, "boundingBox values must be finite numbers")
			break
		}
	}
	if len(reasons) == 0 {
		for _, v := range coords {
			if v < 0 || v > 1 {
				reasons = append(reasons, "boundingBox values must be normalized to [0,1]")
				break
			}
		}
		if coords[0] >= coords[2] {
			reasons = append(reasons, "boundingBox requires x0 < x1")
		}
		if coords[1] >= coords[3] {
			reasons = append(reasons, "boundingBox requires y0 < y1")
		}
	}
	if len(reasons) > 0 {
		return schemas.BoundingBox{}, reasons
	}

	box := schemas.BoundingBox{
		X:      coords[0],
		Y:      coords[1],
		Width:  coords[2] - coords[0],
		Height: coords[3] - coords[1],
	}

	// Clamp degenerate sizes up and keep the box inside the unit square.
	if box.Width < minBoxDim {
		box.Width = minBoxDim
	}
	if box.Height < minBoxDim {
		box.Height = minBoxDim
	}
	if box.X+box.Width > 1 {
		box.X = 1 - box.Width
	}
	if box.Y+box.Height > 1 {
		box.Y = 1 - box.Height
	}

	return box, nil
}

// decodeCorners accepts the array form [x0,y0,x1,y1] or the object form
// {x0,y0,x1,y1}; anything else is rejected with a descriptive reason.
func decodeCorners(raw encjson.RawMessage) ([4]float64, string) {
	var arr []float64
	if err := json.Unmarshal(raw, &arr); err == nil {
		if len(arr) != 4 {
			return [4]float64{}, "boundingBox array must contain exactly 4 numbers"
		}
		return [4]float64{arr[0], arr[1], arr[2], arr[3]}, ""
	}

	var obj boxObject
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.X0 == nil || obj.Y0 == nil || obj.X1 == nil || obj.Y1 == nil {
			return [4]float64{}, "boundingBox object must carry x0, y0, x1 and y1"
		}
		return [4]float64{*obj.X0, *obj.Y0, *obj.X1, *obj.Y1}, ""
	}

	return [4]float64{}, "boundingBox must be a 4-number array [x0,y0,x1,y1]"
}

// shapeSynonyms maps the model's common vocabulary drift onto the three
// canonical shapes.
var shapeSynonyms = map[string]schemas.Shape{
	"circle":    schemas.ShapeCircle,
	"ellipse":   schemas.ShapeCircle,
	"oval":      schemas.ShapeCircle,
	"arrow":     schemas.ShapeArrow,
	"pointer":   schemas.ShapeArrow,
	"box":       schemas.ShapeBox,
	"rect":      schemas.ShapeBox,
	"rectangle": schemas.ShapeBox,
	"square":    schemas.ShapeBox,
}

func normalizeShape(raw string) (schemas.Shape, bool) {
	shape, ok := shapeSynonyms[strings.ToLower(strings.TrimSpace(raw))]
	return shape, ok
}

func finalFlag(step rawStep) bool {
	for _, p := range []*bool{step.IsFinalStep, step.IsFinal, step.IsFinalAlt} {
		if p != nil {
			return *p
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
