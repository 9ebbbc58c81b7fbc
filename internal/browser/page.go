package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	log "github.com/sirupsen/logrus"
)

// locationPollInterval is how often WaitForURL reads the tab's location.
const locationPollInterval = 250 * time.Millisecond

// Page is one Chrome tab driven over the DevTools protocol.
type Page struct {
	sessionID string
	debugURL  string

	ctx         context.Context // chromedp tab context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	onClose     func() error

	logger    *log.Entry
	closeOnce sync.Once
}

// newPage opens a tab on the allocator and starts the browser. The page owns
// allocCancel and onClose from here on, even when it fails to start.
func newPage(ctx context.Context, allocCtx context.Context, allocCancel context.CancelFunc,
	sessionID, debugURL string, onClose func() error,
) (*Page, error) {
	logger := log.WithField("session-id", sessionID)

	tabCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Debugf),
		chromedp.WithErrorf(logger.Errorf),
	)

	p := &Page{
		sessionID:   sessionID,
		debugURL:    debugURL,
		ctx:         tabCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		onClose:     onClose,
		logger:      logger,
	}

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if e, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			logger.WithField("message", e.Message).Debug("accepting dialog")
			go chromedp.Run(tabCtx, page.HandleJavaScriptDialog(true))
		}
	})

	if err := p.start(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return p, nil
}

// start allocates the browser. The first Run must receive the tab context
// itself: chromedp ties the browser's lifetime to it.
func (p *Page) start(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(p.ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// run executes actions on the tab, bounded by ctx. Cancelling ctx aborts the
// actions but leaves the tab open.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()

	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.logger.WithField("url", url).Debug("navigating")
	return p.run(ctx, chromedp.Navigate(url))
}

// Fill replaces the value of the first input matching selector.
func (p *Page) Fill(ctx context.Context, selector, value string) error {
	return p.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (p *Page) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (p *Page) WaitForSelector(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *Page) WaitForURL(ctx context.Context, pattern string) error {
	for {
		var location string
		if err := p.run(ctx, chromedp.Location(&location)); err != nil {
			return err
		}
		if strings.Contains(location, pattern) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(locationPollInterval):
		}
	}
}

func (p *Page) Content(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// DebugURL is the DevTools WebSocket of the browser, empty for browsers
// spawned locally.
func (p *Page) DebugURL() string {
	return p.debugURL
}

// Close shuts the tab and browser down. Only the first call does any work;
// later calls return nil.
func (p *Page) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if cerr := chromedp.Cancel(p.ctx); cerr != nil {
			p.logger.WithError(cerr).Debug("browser did not close cleanly")
		}
		p.cancel()
		p.allocCancel()

		if p.onClose != nil {
			err = p.onClose()
		}
	})
	return err
}
