// Package capture provides the screen snapshot implementations behind the
// CapturePort: a chromedp-driven browser capture for live guidance and a
// synthetic generator for development and tests.
package capture

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ajmerced/sherpa-cli/api/schemas"
	"github.com/ajmerced/sherpa-cli/internal/config"
)

// New selects the capture implementation from configuration.
func New(cfg config.CaptureConfig, logger *zap.Logger) (schemas.CapturePort, error) {
	switch cfg.Mode {
	case config.CaptureSynthetic:
		return NewSynthetic(cfg, logger)
	case config.CaptureBrowser:
		return NewBrowser(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown capture mode: %q", cfg.Mode)
	}
}
