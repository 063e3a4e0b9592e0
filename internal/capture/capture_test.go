package capture

import (
	"bytes"
	"context"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajmerced/sherpa-cli/internal/config"
)

func testCaptureConfig() config.CaptureConfig {
	return config.CaptureConfig{
		Mode:    config.CaptureSynthetic,
		Width:   640,
		Height:  360,
		Timeout: 5 * time.Second,
	}
}

func TestNew(t *testing.T) {
	logger := zap.NewNop()

	t.Run("synthetic mode", func(t *testing.T) {
		port, err := New(testCaptureConfig(), logger)
		require.NoError(t, err)
		assert.IsType(t, &Synthetic{}, port)
	})

	t.Run("browser mode requires a target URL", func(t *testing.T) {
		cfg := testCaptureConfig()
		cfg.Mode = config.CaptureBrowser

		_, err := New(cfg, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "target URL")
	})

	t.Run("browser mode defers launch until first capture", func(t *testing.T) {
		cfg := testCaptureConfig()
		cfg.Mode = config.CaptureBrowser
		cfg.TargetURL = "http://localhost:9222/demo"

		port, err := New(cfg, logger)
		require.NoError(t, err)
		assert.IsType(t, &Browser{}, port)
	})

	t.Run("unknown mode", func(t *testing.T) {
		cfg := testCaptureConfig()
		cfg.Mode = "hologram"

		_, err := New(cfg, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown capture mode")
	})
}

func TestSyntheticCapture(t *testing.T) {
	logger := zap.NewNop()

	t.Run("rejects non-positive dimensions", func(t *testing.T) {
		cfg := testCaptureConfig()
		cfg.Width = 0
		_, err := NewSynthetic(cfg, logger)
		require.Error(t, err)
	})

	t.Run("produces a decodable PNG at the configured size", func(t *testing.T) {
		syn, err := NewSynthetic(testCaptureConfig(), logger)
		require.NoError(t, err)

		snap, err := syn.Capture(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 640, snap.Width)
		assert.Equal(t, 360, snap.Height)
		assert.Equal(t, 1.0, snap.DevicePixelRatio)
		assert.True(t, snap.Synthetic)
		assert.WithinDuration(t, time.Now(), snap.TakenAt, time.Second)

		dims, err := png.DecodeConfig(bytes.NewReader(snap.Image))
		require.NoError(t, err)
		assert.Equal(t, 640, dims.Width)
		assert.Equal(t, 360, dims.Height)
	})

	t.Run("frames are deterministic across captures", func(t *testing.T) {
		syn, err := NewSynthetic(testCaptureConfig(), logger)
		require.NoError(t, err)

		first, err := syn.Capture(context.Background())
		require.NoError(t, err)
		second, err := syn.Capture(context.Background())
		require.NoError(t, err)

		assert.Equal(t, first.Image, second.Image)
	})

	t.Run("honors a cancelled context", func(t *testing.T) {
		syn, err := NewSynthetic(testCaptureConfig(), logger)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err = syn.Capture(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
