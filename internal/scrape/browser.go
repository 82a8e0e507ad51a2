package scrape

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/site-enricher/internal/resilience"
)

// BrowserConfig configures the rendering strategy.
type BrowserConfig struct {
	Headless    bool
	ExecPath    string
	UserAgent   string
	SettleDelay time.Duration
	Timeout     time.Duration
	// CloseTimeout bounds the graceful browser shutdown before the process
	// is killed.
	CloseTimeout time.Duration
}

// DefaultBrowserConfig returns the rendering defaults.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Headless:     true,
		SettleDelay:  2 * time.Second,
		Timeout:      30 * time.Second,
		CloseTimeout: 5 * time.Second,
	}
}

// BrowserFetcher is the rendering strategy. It leases sessions from an
// optional pool and falls back to a one-shot session when the pool is
// absent or exhausted.
type BrowserFetcher struct {
	cfg      BrowserConfig
	factory  SessionFactory
	pool     *SessionPool
	limiters *resilience.Limiters
}

// NewBrowserFetcher builds a BrowserFetcher. pool and limiters may be nil.
func NewBrowserFetcher(cfg BrowserConfig, factory SessionFactory, pool *SessionPool, limiters *resilience.Limiters) *BrowserFetcher {
	d := DefaultBrowserConfig()
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	return &BrowserFetcher{cfg: cfg, factory: factory, pool: pool, limiters: limiters}
}

// Render loads url in a browser, waits for the settle delay and returns the
// rendered markup and body text.
func (b *BrowserFetcher) Render(ctx context.Context, url string) (*RawPage, error) {
	if err := b.limiters.Wait(ctx, resilience.CategoryBrowser); err != nil {
		return nil, err
	}

	sess, release, err := b.lease(ctx)
	if err != nil {
		return nil, err
	}

	rctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout+b.cfg.SettleDelay)
	defer cancel()

	page, err := sess.Render(rctx, url, b.cfg.SettleDelay)
	release(err == nil)
	if err != nil {
		return page, eris.Wrapf(err, "browser: render %s", url)
	}
	return page, nil
}

func (b *BrowserFetcher) lease(ctx context.Context) (Session, func(healthy bool), error) {
	if b.pool != nil {
		ps, err := b.pool.Acquire(ctx)
		if err == nil {
			return ps, func(healthy bool) { b.pool.Release(ps, healthy) }, nil
		}
		if !errors.Is(err, ErrPoolExhausted) && !errors.Is(err, ErrPoolClosed) {
			zap.L().Warn("browser: pool acquire failed, using one-shot session", zap.Error(err))
		} else {
			zap.L().Debug("browser: pool unavailable, using one-shot session", zap.Error(err))
		}
	}

	sess, err := b.factory(ctx)
	if err != nil {
		return nil, nil, eris.Wrap(err, "browser: start session")
	}
	return sess, func(bool) {
		if err := sess.Close(); err != nil {
			zap.L().Warn("browser: close one-shot session", zap.Error(err))
		}
	}, nil
}

// ChromeFactory returns a SessionFactory that launches a local Chrome via
// chromedp. Each session owns its own browser process.
func ChromeFactory(cfg BrowserConfig) SessionFactory {
	return func(ctx context.Context) (Session, error) {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.DisableGPU,
			chromedp.NoSandbox,
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("headless", cfg.Headless),
			chromedp.WindowSize(1366, 900),
		)
		if cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
		}
		if cfg.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
		}

		// The browser outlives the request that started it, so it hangs off
		// a background context.
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)

		started := make(chan error, 1)
		go func() { started <- chromedp.Run(browserCtx) }()
		select {
		case err := <-started:
			if err != nil {
				browserCancel()
				allocCancel()
				return nil, eris.Wrap(err, "browser: launch chrome")
			}
		case <-ctx.Done():
			browserCancel()
			allocCancel()
			return nil, eris.Wrap(ctx.Err(), "browser: launch chrome")
		}

		closeTimeout := cfg.CloseTimeout
		if closeTimeout <= 0 {
			closeTimeout = DefaultBrowserConfig().CloseTimeout
		}
		return &chromeSession{
			browserCtx:    browserCtx,
			browserCancel: browserCancel,
			allocCancel:   allocCancel,
			closeTimeout:  closeTimeout,
		}, nil
	}
}

type chromeSession struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	closeTimeout  time.Duration
	closeOnce     sync.Once
	closeErr      error
}

func (s *chromeSession) Render(ctx context.Context, url string, settle time.Duration) (*RawPage, error) {
	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	// The first document response is the page itself; later ones are frames.
	var (
		statusMu sync.Mutex
		status   int64
	)
	chromedp.ListenTarget(tabCtx, func(ev any) {
		if e, ok := ev.(*network.EventResponseReceived); ok && e.Type == network.ResourceTypeDocument {
			statusMu.Lock()
			if status == 0 {
				status = e.Response.Status
			}
			statusMu.Unlock()
		}
	})

	var markup, text, location string
	err := chromedp.Run(tabCtx,
		network.Enable(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settle),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &markup, chromedp.ByQuery),
		chromedp.Text("body", &text, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "chrome: navigation timed out")
		}
		return nil, eris.Wrap(err, "chrome: run")
	}
	statusMu.Lock()
	code := int(status)
	statusMu.Unlock()
	return &RawPage{
		URL:        url,
		FinalURL:   location,
		Markup:     markup,
		Text:       strings.TrimSpace(text),
		StatusCode: code,
	}, nil
}

// Close shuts the browser down gracefully and then cancels the allocator,
// which kills the Chrome process if it is still running.
func (s *chromeSession) Close() error {
	s.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(s.browserCtx) }()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.closeErr = eris.Wrap(err, "chrome: graceful close")
			}
		case <-time.After(s.closeTimeout):
			s.closeErr = eris.New("chrome: graceful close timed out, killing browser")
		}
		s.browserCancel()
		s.allocCancel()
	})
	return s.closeErr
}
