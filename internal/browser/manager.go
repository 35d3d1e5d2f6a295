// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/herald/api/schemas"
	"github.com/xkilldash9x/herald/internal/config"
)

const connectTimeout = 60 * time.Second

// ErrClosed is returned after Close.
var ErrClosed = errors.New("browser manager is closed")

// Manager owns the CDP connection to the user's browser and the tabs herald works in.
// It attaches to a running Chrome when browser.remote_url is set and otherwise launches
// one with the persistent profile in browser.user_data_dir.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	rootCtx     context.Context
	rootCancel  context.CancelFunc

	mu     sync.Mutex
	pages  map[string]*Page
	closed bool

	initOnce sync.Once
	initErr  error
}

// NewManager creates a manager. The browser is reached lazily on first use.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:    cfg,
		logger: logger.Named("browser_manager"),
		pages:  make(map[string]*Page),
	}
}

// Attached reports whether herald drives an existing browser rather than its own.
func (m *Manager) Attached() bool { return m.cfg.RemoteURL != "" }

func (m *Manager) initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		if m.Attached() {
			m.logger.Info("Attaching to running browser.", zap.String("remote_url", m.cfg.RemoteURL))
			m.allocCtx, m.allocCancel = chromedp.NewRemoteAllocator(context.Background(), m.cfg.RemoteURL)
		} else {
			m.logger.Info("Launching browser with persistent profile.",
				zap.String("user_data_dir", m.cfg.UserDataDir), zap.Bool("headless", m.cfg.Headless))
			m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(context.Background(), m.allocatorOptions()...)
		}
		sugar := m.logger.Sugar()
		m.rootCtx, m.rootCancel = chromedp.NewContext(m.allocCtx,
			chromedp.WithLogf(sugar.Debugf),
			chromedp.WithErrorf(sugar.Warnf),
		)

		connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		errCh := make(chan error, 1)
		go func() { errCh <- chromedp.Run(m.rootCtx) }()
		select {
		case err := <-errCh:
			if err != nil {
				m.initErr = fmt.Errorf("failed to connect to browser: %w", err)
			}
		case <-connCtx.Done():
			m.initErr = fmt.Errorf("timed out connecting to browser: %w", connCtx.Err())
		}
		if m.initErr != nil {
			m.rootCancel()
			m.allocCancel()
		}
	})
	if m.initErr != nil {
		return m.initErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Manager) allocatorOptions() []chromedp.ExecAllocatorOption {
	persona := ResolvePersona(m.cfg.Persona)
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.UserDataDir(m.cfg.UserDataDir),
		chromedp.WindowSize(int(persona.Width), int(persona.Height)),
		chromedp.UserAgent(persona.UserAgent),
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("lang", persona.Locale),
	}
	if m.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
	}
	for _, arg := range m.cfg.Args {
		name, value := parseFlag(arg)
		if name == "" {
			continue
		}
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// parseFlag turns "--name=value" or "--name" into a chromedp flag.
func parseFlag(arg string) (string, interface{}) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	if arg == "" {
		return "", nil
	}
	name, value, hasValue := strings.Cut(arg, "=")
	if !hasValue {
		return name, true
	}
	return name, value
}

// Tabs lists the open page targets.
func (m *Manager) Tabs(ctx context.Context) ([]schemas.TabInfo, error) {
	if err := m.initialize(ctx); err != nil {
		return nil, err
	}
	infos, err := chromedp.Targets(m.rootCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tabs: %w", err)
	}
	tabs := make([]schemas.TabInfo, 0, len(infos))
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		tabs = append(tabs, schemas.TabInfo{TargetID: string(info.TargetID), URL: info.URL, Title: info.Title})
	}
	return tabs, nil
}

// FindTab returns the first tab whose URL starts with one of prefixes, or nil.
func (m *Manager) FindTab(ctx context.Context, prefixes ...string) (*schemas.TabInfo, error) {
	tabs, err := m.Tabs(ctx)
	if err != nil {
		return nil, err
	}
	return matchTab(tabs, prefixes), nil
}

func matchTab(tabs []schemas.TabInfo, prefixes []string) *schemas.TabInfo {
	for _, tab := range tabs {
		for _, prefix := range prefixes {
			if strings.HasPrefix(tab.URL, prefix) {
				t := tab
				return &t
			}
		}
	}
	return nil
}

// platformPrefixes yields the URL prefixes that identify a platform tab, with and
// without the www host.
func platformPrefixes(baseURL string) []string {
	prefixes := []string{baseURL}
	switch {
	case strings.HasPrefix(baseURL, "https://www."):
		prefixes = append(prefixes, "https://"+strings.TrimPrefix(baseURL, "https://www."))
	case strings.HasPrefix(baseURL, "https://"):
		prefixes = append(prefixes, "https://www."+strings.TrimPrefix(baseURL, "https://"))
	}
	return prefixes
}

// OpenTab creates a new tab and loads url in it.
func (m *Manager) OpenTab(ctx context.Context, url string) (*Page, error) {
	if err := m.initialize(ctx); err != nil {
		return nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(m.rootCtx)

	var actions chromedp.Tasks
	if !m.Attached() {
		actions = append(actions, ApplyPersona(m.cfg.Persona, m.logger))
	}
	actions = append(actions, chromedp.Navigate(url))

	runCtx, cancel := CombineContext(tabCtx, ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, actions); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open tab for %s: %w", url, err)
	}

	id := string(chromedp.FromContext(tabCtx).Target.TargetID)
	p := newPage(id, tabCtx, tabCancel, m.cfg.NavigationTimeout, m.logger)
	m.mu.Lock()
	m.pages[id] = p
	m.mu.Unlock()
	m.logger.Info("Opened tab.", zap.String("target_id", id), zap.String("url", url))
	return p, nil
}

// Page returns the attached page for targetID, attaching on first use.
func (m *Manager) Page(ctx context.Context, targetID string) (*Page, error) {
	if err := m.initialize(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if p, ok := m.pages[targetID]; ok {
		m.mu.Unlock()
		return p, nil
	}
	m.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(m.rootCtx, chromedp.WithTargetID(target.ID(targetID)))
	var actions chromedp.Tasks
	if !m.Attached() {
		actions = append(actions, ApplyPersona(m.cfg.Persona, m.logger))
	}
	runCtx, cancel := CombineContext(tabCtx, ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, actions); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to attach to tab %s: %w", targetID, err)
	}

	p := newPage(targetID, tabCtx, tabCancel, m.cfg.NavigationTimeout, m.logger)
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.pages[targetID]; ok {
		tabCancel()
		return existing, nil
	}
	m.pages[targetID] = p
	return p, nil
}

// Focus brings the tab to the front.
func (m *Manager) Focus(ctx context.Context, targetID string) error {
	p, err := m.Page(ctx, targetID)
	if err != nil {
		return err
	}
	if err := p.Run(ctx, cdppage.BringToFront()); err != nil {
		return fmt.Errorf("failed to focus tab %s: %w", targetID, err)
	}
	return nil
}

// AcquireTab returns the id of a loaded, focused tab for the platform, reusing an open
// one when its URL matches and opening the platform's home page otherwise.
func (m *Manager) AcquireTab(ctx context.Context, platform schemas.PlatformID) (string, error) {
	info, ok := platform.Info()
	if !ok {
		return "", fmt.Errorf("unsupported platform: %q", platform)
	}
	tab, err := m.FindTab(ctx, platformPrefixes(info.BaseURL)...)
	if err != nil {
		return "", err
	}

	var p *Page
	if tab != nil {
		m.logger.Debug("Reusing open tab.", zap.String("platform", string(platform)), zap.String("url", tab.URL))
		p, err = m.Page(ctx, tab.TargetID)
	} else {
		p, err = m.OpenTab(ctx, info.BaseURL)
	}
	if err != nil {
		return "", err
	}
	if err := m.Focus(ctx, p.ID()); err != nil {
		return "", err
	}
	if err := p.WaitForLoad(ctx); err != nil {
		return "", err
	}
	return p.ID(), nil
}

// Close detaches from every tab and stops a launched browser. An attached browser
// keeps running, and so do the user's tabs.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	pages := m.pages
	m.pages = make(map[string]*Page)
	m.mu.Unlock()

	if m.Attached() && m.allocCancel != nil {
		// Drop the connection first so detaching cannot close the user's tabs.
		m.allocCancel()
	}
	for _, p := range pages {
		p.release()
	}
	if m.rootCancel != nil {
		m.rootCancel()
	}
	if m.allocCancel != nil {
		m.allocCancel()
	}
	m.logger.Info("Browser manager closed.")
	return nil
}
