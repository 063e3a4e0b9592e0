package capture

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/ajmerced/sherpa-cli/api/schemas"
	"github.com/ajmerced/sherpa-cli/internal/config"
)

const browserShutdownGracePeriod = 10 * time.Second

// Browser captures screenshots of a live page over the Chrome DevTools
// Protocol. The browser process starts lazily on the first capture and one
// tab is reused for the lifetime of the port.
type Browser struct {
	cfg    config.CaptureConfig
	logger *zap.Logger

	// Lazy initialization state, mirrors the one-shot manager pattern.
	initOnce sync.Once
	initErr  error

	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
}

var _ schemas.CapturePort = (*Browser)(nil)

// NewBrowser creates the port. The browser itself launches on first use.
func NewBrowser(cfg config.CaptureConfig, logger *zap.Logger) (*Browser, error) {
	if cfg.TargetURL == "" {
		return nil, fmt.Errorf("browser capture requires a target URL")
	}
	return &Browser{
		cfg:    cfg,
		logger: logger.Named("capture.browser"),
	}, nil
}

// initialize launches the browser, opens the tab, and navigates to the
// configured target.
func (b *Browser) initialize(ctx context.Context) error {
	b.initOnce.Do(func() {
		b.logger.Info("Launching browser for screen capture",
			zap.String("target_url", b.cfg.TargetURL),
			zap.Bool("headless", b.cfg.Headless),
		)

		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", b.cfg.Headless),
			chromedp.WindowSize(b.cfg.Width, b.cfg.Height),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)

		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
		tabCtx, tabCancel := chromedp.NewContext(allocCtx)

		b.allocCancel = allocCancel
		b.tabCtx = tabCtx
		b.tabCancel = tabCancel

		initCtx, cancel := b.combineContext(ctx)
		defer cancel()

		err := chromedp.Run(initCtx,
			emulation.SetDeviceMetricsOverride(int64(b.cfg.Width), int64(b.cfg.Height), 1, false),
			chromedp.Navigate(b.cfg.TargetURL),
			chromedp.WaitReady("body", chromedp.ByQuery),
		)
		if err != nil {
			b.initErr = fmt.Errorf("failed to initialize capture tab: %w", err)
			b.teardown()
		}
	})
	return b.initErr
}

// Capture takes a full-viewport screenshot of the attached page.
func (b *Browser) Capture(ctx context.Context) (*schemas.Capture, error) {
	if err := b.initialize(ctx); err != nil {
		return nil, err
	}

	runCtx, cancel := b.combineContext(ctx)
	defer cancel()

	var shot []byte
	var dpr float64
	err := chromedp.Run(runCtx,
		chromedp.Evaluate(`window.devicePixelRatio`, &dpr),
		chromedp.CaptureScreenshot(&shot),
	)
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	if dpr <= 0 {
		dpr = 1
	}

	// Trust the actual encoded frame over the configured dimensions; the
	// window manager does not always honor the requested size.
	width, height := b.cfg.Width, b.cfg.Height
	if dims, err := png.DecodeConfig(bytes.NewReader(shot)); err == nil {
		width, height = dims.Width, dims.Height
	} else {
		b.logger.Warn("Could not decode screenshot dimensions, using configured size.", zap.Error(err))
	}

	return &schemas.Capture{
		Image:            shot,
		Width:            width,
		Height:           height,
		DevicePixelRatio: dpr,
		Synthetic:        false,
		TakenAt:          time.Now(),
	}, nil
}

// Close shuts the tab and the browser process down.
func (b *Browser) Close() error {
	if b.tabCtx == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), browserShutdownGracePeriod)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Graceful CDP close first; the cancels below are the hard stop.
		_ = chromedp.Cancel(b.tabCtx)
	}()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		b.logger.Warn("Browser shutdown timed out, proceeding forcefully.")
	}

	b.teardown()
	return nil
}

func (b *Browser) teardown() {
	if b.tabCancel != nil {
		b.tabCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
}

// combineContext ties an operation to both the tab lifetime and the caller's
// deadline.
func (b *Browser) combineContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := b.cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	runCtx, cancel := context.WithTimeout(b.tabCtx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}
