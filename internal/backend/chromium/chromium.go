// Package chromium renders captures with a headless Chromium driven over the
// DevTools protocol. Every engine is rendered on Chromium; a non-chromium
// engine request is logged and honoured only through the user agent.
package chromium

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/cockroachdb/errors"

	"github.com/osvaldoandrade/captureq/internal/backend"
	"github.com/osvaldoandrade/captureq/pkg/domain"
)

type Options struct {
	ExecPath string
	Timeout  time.Duration
	// Settle is how long to wait after load for late requests.
	Settle time.Duration
	Logger *slog.Logger
}

type Backend struct {
	opts Options
}

func New(opts Options) *Backend {
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	if opts.Settle <= 0 {
		opts.Settle = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Backend{opts: opts}
}

var _ backend.Backend = (*Backend)(nil)

func (b *Backend) OpenSession(ctx context.Context, so backend.SessionOptions) (backend.Session, error) {
	var device *deviceProfile
	if so.Device != "" {
		p, ok := lookupDevice(so.Device)
		if !ok {
			return nil, backend.InvalidParameters("unknown device %q", so.Device)
		}
		device = &p
	}
	if so.Engine != "" && so.Engine != domain.EngineChromium {
		b.opts.Logger.Warn("engine not available, rendering with chromium", "engine", so.Engine)
	}

	downloadDir, err := os.MkdirTemp("", "captureq-dl-")
	if err != nil {
		return nil, errors.Wrap(err, "download dir")
	}

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if b.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(b.opts.ExecPath))
	}
	if so.Proxy != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(so.Proxy))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &session{
		backend:     b,
		ctx:         tabCtx,
		cancel:      func() { tabCancel(); allocCancel() },
		device:      device,
		downloadDir: downloadDir,
		har:         newHARRecorder("page_1"),
		downloads:   map[string]*download{},
	}
	// start the browser now so launch failures surface before configuration
	if err := chromedp.Run(tabCtx); err != nil {
		s.Close()
		return nil, errors.Wrap(err, "launch chromium")
	}
	return s, nil
}

type download struct {
	name string
	done bool
}

type session struct {
	backend     *Backend
	ctx         context.Context
	cancel      func()
	device      *deviceProfile
	downloadDir string

	headers   map[string]string
	cookies   []backend.Cookie
	viewport  *domain.Viewport
	userAgent string

	har       *harRecorder
	dlMu      sync.Mutex
	downloads map[string]*download
	closeOnce sync.Once
}

func (s *session) SetHeaders(h map[string]string) error {
	s.headers = h
	return nil
}

func (s *session) SetCookies(c []backend.Cookie) error {
	for _, ck := range c {
		if ck.Domain == "" {
			return backend.InvalidParameters("cookie %q has no domain", ck.Name)
		}
	}
	s.cookies = c
	return nil
}

func (s *session) SetViewport(vp domain.Viewport) error {
	if vp.Width <= 0 || vp.Height <= 0 {
		return backend.InvalidParameters("viewport %dx%d", vp.Width, vp.Height)
	}
	s.viewport = &vp
	return nil
}

func (s *session) SetUserAgent(ua string) error {
	s.userAgent = ua
	return nil
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = os.RemoveAll(s.downloadDir)
	})
	return nil
}

func (s *session) setup() chromedp.Tasks {
	tasks := chromedp.Tasks{
		network.Enable(),
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(s.downloadDir).
			WithEventsEnabled(true),
	}
	if len(s.headers) > 0 {
		h := network.Headers{}
		for k, v := range s.headers {
			h[k] = v
		}
		tasks = append(tasks, network.SetExtraHTTPHeaders(h))
	}
	if len(s.cookies) > 0 {
		params := make([]*network.CookieParam, 0, len(s.cookies))
		for _, c := range s.cookies {
			p := &network.CookieParam{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Secure:   c.Secure,
				HTTPOnly: c.HTTPOnly,
			}
			if c.SameSite != "" {
				p.SameSite = network.CookieSameSite(c.SameSite)
			}
			if c.Expires > 0 {
				exp := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
				p.Expires = &exp
			}
			params = append(params, p)
		}
		tasks = append(tasks, network.SetCookies(params))
	}

	switch {
	case s.device != nil:
		opts := []chromedp.EmulateViewportOption{chromedp.EmulateScale(s.device.Scale)}
		if s.device.Mobile {
			opts = append(opts, chromedp.EmulateMobile, chromedp.EmulateTouch)
		}
		tasks = append(tasks,
			chromedp.EmulateViewport(s.device.Width, s.device.Height, opts...),
			emulation.SetUserAgentOverride(s.device.UserAgent),
		)
	default:
		if s.viewport != nil {
			tasks = append(tasks, chromedp.EmulateViewport(int64(s.viewport.Width), int64(s.viewport.Height)))
		}
		if s.userAgent != "" {
			tasks = append(tasks, emulation.SetUserAgentOverride(s.userAgent))
		}
	}
	return tasks
}

func (s *session) listen(ev any) {
	switch e := ev.(type) {
	case *browser.EventDownloadWillBegin:
		s.dlMu.Lock()
		s.downloads[e.GUID] = &download{name: e.SuggestedFilename}
		s.dlMu.Unlock()
	case *browser.EventDownloadProgress:
		if e.State == browser.DownloadProgressStateCompleted {
			s.dlMu.Lock()
			if d, ok := s.downloads[e.GUID]; ok {
				d.done = true
			}
			s.dlMu.Unlock()
		}
	default:
		s.har.onEvent(ev)
	}
}

// Render navigates and collects the bundle. Navigation failures end up in
// Bundle.Error next to whatever was recorded; only a dead browser is an error.
func (s *session) Render(ctx context.Context, url, referer string) (*domain.Bundle, error) {
	runCtx, cancel := context.WithTimeout(s.ctx, s.backend.opts.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	chromedp.ListenTarget(runCtx, s.listen)
	chromedp.ListenBrowser(runCtx, s.listen)

	if referer != "" {
		if s.headers == nil {
			s.headers = map[string]string{}
		}
		s.headers["Referer"] = referer
	}
	if err := chromedp.Run(runCtx, s.setup()); err != nil {
		if errors.Is(err, context.Canceled) && s.ctx.Err() != nil {
			return nil, errors.Wrap(err, "chromium session closed")
		}
		return nil, backend.InvalidParameters("configure session: %v", err)
	}

	bundle := &domain.Bundle{}
	navErr := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(s.backend.opts.Settle),
	)
	if navErr != nil {
		bundle.Error = navErr.Error()
		if strings.Contains(navErr.Error(), "net::ERR_ABORTED") {
			s.collectDownload(runCtx, bundle)
		}
	}

	var title string
	if navErr == nil {
		var html, location string
		var png []byte
		if err := chromedp.Run(runCtx,
			chromedp.Title(&title),
			chromedp.Location(&location),
			chromedp.OuterHTML("html", &html, chromedp.ByQuery),
			chromedp.FullScreenshot(&png, 100),
		); err != nil {
			bundle.Error = err.Error()
		}
		bundle.HTML = html
		bundle.PNG = png
		bundle.LastRedirectedURL = location
	}

	var cookies []*network.Cookie
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err == nil && len(cookies) > 0 {
		if raw, err := marshalCookies(cookies); err == nil {
			bundle.Cookies = raw
		}
	}

	har, err := s.har.build(title)
	if err != nil {
		return nil, errors.Wrap(err, "build har")
	}
	bundle.HAR = har
	return bundle, nil
}

// collectDownload waits briefly for a download the navigation turned into.
func (s *session) collectDownload(ctx context.Context, bundle *domain.Bundle) {
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		s.dlMu.Lock()
		var guid, name string
		for g, d := range s.downloads {
			if d.done {
				guid, name = g, d.name
				break
			}
		}
		s.dlMu.Unlock()
		if guid != "" {
			data, err := os.ReadFile(filepath.Join(s.downloadDir, guid))
			if err != nil {
				s.backend.opts.Logger.Warn("download vanished", "guid", guid, "err", err)
				return
			}
			bundle.DownloadedFile = data
			bundle.DownloadedName = name
			bundle.Error = ""
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(250 * time.Millisecond):
		}
	}
}
