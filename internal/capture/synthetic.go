package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"time"

	"go.uber.org/zap"

	"github.com/ajmerced/sherpa-cli/api/schemas"
	"github.com/ajmerced/sherpa-cli/internal/config"
)

// Synthetic produces a rendered placeholder desktop at the configured
// dimensions. The pixels are deterministic, so captures are stable across
// runs and suitable for prompt-plumbing tests without a display.
type Synthetic struct {
	width  int
	height int
	logger *zap.Logger

	// The frame never changes, render it once.
	encoded []byte
}

var _ schemas.CapturePort = (*Synthetic)(nil)

// NewSynthetic validates the dimensions and pre-renders the frame.
func NewSynthetic(cfg config.CaptureConfig, logger *zap.Logger) (*Synthetic, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("synthetic capture needs positive dimensions, got %dx%d", cfg.Width, cfg.Height)
	}

	s := &Synthetic{
		width:  cfg.Width,
		height: cfg.Height,
		logger: logger.Named("capture.synthetic"),
	}

	encoded, err := s.render()
	if err != nil {
		return nil, fmt.Errorf("failed to render synthetic frame: %w", err)
	}
	s.encoded = encoded

	s.logger.Debug("Synthetic capture ready",
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height),
		zap.Int("png_bytes", len(encoded)),
	)
	return s, nil
}

// Capture returns the pre-rendered frame stamped with the current time.
func (s *Synthetic) Capture(ctx context.Context) (*schemas.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &schemas.Capture{
		Image:            s.encoded,
		Width:            s.width,
		Height:           s.height,
		DevicePixelRatio: 1,
		Synthetic:        true,
		TakenAt:          time.Now(),
	}, nil
}

// render paints a muted gradient with a "taskbar" band along the bottom so
// the frame is visually distinguishable from a blank screen.
func (s *Synthetic) render() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))

	taskbarTop := s.height - s.height/20
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			if y >= taskbarTop {
				img.SetRGBA(x, y, color.RGBA{R: 32, G: 32, B: 40, A: 255})
				continue
			}
			// Horizontal gradient, dark slate to steel blue.
			t := uint8(40 + (x*120)/s.width)
			img.SetRGBA(x, y, color.RGBA{R: t / 2, G: t, B: t + 60, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
