package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakePage scripts a portal. Waits that are not satisfied block until their
// context is done, the same way a real browser wait times out.
type fakePage struct {
	mu sync.Mutex

	otpSelector string
	otpField    bool
	dashboard   bool
	pages       map[string]string
	navErrs     map[string]error
	shotErr     error
	panicOn     string // Fill panics on this selector

	location string
	filled   map[string]string
	clicks   []string
	visited  []string
	closed   int
}

func newFakePage(portal Portal) *fakePage {
	return &fakePage{
		otpSelector: portal.OTPSelector,
		pages:       map[string]string{},
		navErrs:     map[string]error{},
		filled:      map[string]string{},
	}
}

func (f *fakePage) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	f.visited = append(f.visited, url)
	if err, ok := f.navErrs[url]; ok {
		return err
	}
	f.location = url
	return nil
}

func (f *fakePage) Fill(ctx context.Context, selector, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOn != "" && selector == f.panicOn {
		panic("fill: target crashed")
	}
	f.filled[selector] = value
	return ctx.Err()
}

func (f *fakePage) Click(ctx context.Context, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks = append(f.clicks, selector)
	return ctx.Err()
}

func (f *fakePage) WaitForSelector(ctx context.Context, selector string) error {
	return poll(ctx, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return selector == f.otpSelector && f.otpField
	})
}

func (f *fakePage) WaitForURL(ctx context.Context, pattern string) error {
	return poll(ctx, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.dashboard
	})
}

func poll(ctx context.Context, cond func() bool) error {
	for {
		if cond() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (f *fakePage) Content(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.pages[f.location], nil
}

func (f *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shotErr != nil {
		return nil, f.shotErr
	}
	return []byte("png:" + f.location), nil
}

func (f *fakePage) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakePage) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakePage) setOTPField(ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.otpField = ok
}

func (f *fakePage) setShotErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shotErr = err
}

func (f *fakePage) setDashboard(ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dashboard = ok
}

type fakeLauncher struct {
	mu      sync.Mutex
	newPage func() *fakePage
	pages   []*fakePage
	err     error
}

func (l *fakeLauncher) Launch(ctx context.Context, sessionID string) (Page, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	page := l.newPage()
	l.pages = append(l.pages, page)
	return page, nil
}

func (l *fakeLauncher) last() *fakePage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pages[len(l.pages)-1]
}

type fakeNotifier struct {
	calls chan notifyCall
	err   error
}

type notifyCall struct {
	username string
	rooms    []string
}

func (n *fakeNotifier) AddUserToRooms(ctx context.Context, username string, rooms []string) error {
	n.calls <- notifyCall{username: username, rooms: rooms}
	return n.err
}

var errNavigation = errors.New("net::ERR_CONNECTION_RESET")
