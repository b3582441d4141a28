package services

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// Renderer starts browser sessions that execute page scripts before extraction
type Renderer interface {
	// Open acquires a browser session. The caller must Close it.
	Open(ctx context.Context) (RenderSession, error)
}

// RenderSession is a live browser process
type RenderSession interface {
	// Render navigates to url, waits a fixed delay for client-side rendering
	// and returns the rendered document's outer HTML.
	Render(url string, wait time.Duration) (string, error)
	// Close terminates the browser process
	Close() error
}

// ChromeRenderer drives a headless Chrome through the DevTools protocol
type ChromeRenderer struct {
	execPath          string
	userAgent         string
	navigationTimeout time.Duration
}

// NewChromeRenderer creates a renderer. An empty execPath lets chromedp
// look Chrome up on the PATH.
func NewChromeRenderer(execPath string) *ChromeRenderer {
	return &ChromeRenderer{
		execPath:          execPath,
		userAgent:         defaultUserAgents[0],
		navigationTimeout: 60 * time.Second,
	}
}

// Open starts a new headless Chrome process
func (r *ChromeRenderer) Open(ctx context.Context) (RenderSession, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Headless,
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(r.userAgent),
	)
	if r.execPath != "" {
		opts = append(opts, chromedp.ExecPath(r.execPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// An empty Run launches the browser so start-up failures surface here
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, NewRenderError("failed to start browser", err)
	}

	return &chromeSession{
		ctx:               browserCtx,
		navigationTimeout: r.navigationTimeout,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
	}, nil
}

type chromeSession struct {
	ctx               context.Context
	navigationTimeout time.Duration
	cancel            func()
}

func (s *chromeSession) Render(url string, wait time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.navigationTimeout+wait)
	defer cancel()

	var html string
	err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.Sleep(wait),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", NewRenderError(fmt.Sprintf("failed to render %s", url), err)
	}
	return html, nil
}

func (s *chromeSession) Close() error {
	s.cancel()
	return nil
}
