package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	log "github.com/sirupsen/logrus"

	"github.com/shehryarbajwa/rostersync/internal/session"
)

var (
	_ session.Launcher   = (*LocalLauncher)(nil)
	_ session.Launcher   = (*DockerLauncher)(nil)
	_ session.Page       = (*Page)(nil)
	_ session.Debuggable = (*Page)(nil)
)

// DefaultStartTimeout bounds browser startup when the caller sets none.
const DefaultStartTimeout = 60 * time.Second

// LocalLauncher spawns a Chromium process per session on this host.
type LocalLauncher struct {
	Headless bool
	// ExecPath overrides chromedp's browser lookup.
	ExecPath     string
	StartTimeout time.Duration
}

func (l *LocalLauncher) Launch(ctx context.Context, sessionID string) (session.Page, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.NoSandbox,
		chromedp.WindowSize(1920, 1080),
	)
	if l.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.ExecPath))
	}

	// The browser outlives the request that started it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	sctx, cancel := startContext(ctx, l.StartTimeout)
	defer cancel()

	page, err := newPage(sctx, allocCtx, allocCancel, sessionID, "", nil)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// DockerLauncher runs each session's browser in its own container and
// connects to it over the DevTools WebSocket.
type DockerLauncher struct {
	Pool         *Pool
	StartTimeout time.Duration
}

func (l *DockerLauncher) Launch(ctx context.Context, sessionID string) (session.Page, error) {
	sctx, cancel := startContext(ctx, l.StartTimeout)
	defer cancel()

	c, err := l.Pool.Start(sctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser container: %w", err)
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), c.ConnectURL)

	stop := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := l.Pool.Stop(ctx, c.ID); err != nil {
			return err
		}
		log.WithField("session-id", sessionID).WithField("container", shortID(c.ID)).Debug("browser container stopped")
		return nil
	}

	page, err := newPage(sctx, allocCtx, allocCancel, sessionID, c.ConnectURL, stop)
	if err != nil {
		return nil, err
	}
	return page, nil
}

func startContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultStartTimeout
	}
	return context.WithTimeout(ctx, d)
}
