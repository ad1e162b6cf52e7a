// Package browser drives Chrome through the DevTools protocol. Tabs implement
// dom.Page on top of a small helper script injected into every document.
package browser

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/dispatch"
)

//go:embed helper.js
var helperScript string

type Options struct {
	Headless    bool   `mapstructure:"headless"`
	UserAgent   string `mapstructure:"user-agent"`
	UserDataDir string `mapstructure:"user-data-dir"`
	ExecPath    string `mapstructure:"exec-path"`
	Width       int    `mapstructure:"width"`
	Height      int    `mapstructure:"height"`
}

func (o Options) allocator() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", o.Headless),
		chromedp.Flag("disable-gpu", o.Headless),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if o.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(o.UserAgent))
	}
	if o.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(o.UserDataDir))
	}
	if o.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.ExecPath))
	}
	width, height := o.Width, o.Height
	if width <= 0 || height <= 0 {
		width, height = 1400, 900
	}
	return append(opts, chromedp.WindowSize(width, height))
}

// Browser owns the Chrome process and its main tab.
type Browser struct {
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
	ctx           context.Context
	main          *Tab
	logger        *zap.Logger
}

var _ dispatch.Opener = (*Browser)(nil)

// Launch starts Chrome and prepares the main tab.
func Launch(ctx context.Context, opts Options, logger *zap.Logger) (*Browser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts.allocator()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Sugar().Debugf),
		chromedp.WithErrorf(logger.Sugar().Debugf),
	)

	b := &Browser{
		allocCancel:   allocCancel,
		browserCancel: browserCancel,
		ctx:           browserCtx,
		logger:        logger,
	}

	if err := chromedp.Run(browserCtx, installHelper()); err != nil {
		b.Close()
		return nil, fmt.Errorf("starting browser: %w", err)
	}
	b.main = newTab(browserCtx, nil, logger)
	logger.Info("browser started", zap.Bool("headless", opts.Headless), zap.String("tab", b.main.ID()))
	return b, nil
}

// Page is the main tab the job boards are browsed in.
func (b *Browser) Page() *Tab { return b.main }

// Open creates a new tab and starts loading url without waiting for it.
func (b *Browser) Open(ctx context.Context, url string) (dispatch.Surface, error) {
	tabCtx, cancel := chromedp.NewContext(b.ctx)
	t := newTab(tabCtx, cancel, b.logger)
	err := t.run(ctx,
		installHelper(),
		chromedp.Evaluate(fmt.Sprintf("window.location.href = %s", quote(url)), nil),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open %s: %w", url, err)
	}
	b.logger.Debug("tab opened", zap.String("tab", t.ID()), zap.String("url", url))
	return t, nil
}

// Close ends the browser process.
func (b *Browser) Close() {
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
}

// installHelper registers the helper for future documents and runs it in the
// current one.
func installHelper() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if _, err := page.AddScriptToEvaluateOnNewDocument(helperScript).Do(ctx); err != nil {
			return fmt.Errorf("register helper: %w", err)
		}
		return chromedp.Evaluate(helperScript, nil).Do(ctx)
	})
}
