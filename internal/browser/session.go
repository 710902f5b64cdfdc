package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/eveiljuice/candidate-search-ai-agent/internal/config"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/observability"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// NavigationHook is told about every main-frame navigation, including the
// ones the page triggers on its own after a click or submit.
type NavigationHook func(url string)

// Session owns the single Chrome instance and the one page the agent drives.
// Chrome runs with a persistent user-data directory so logins survive restarts.
type Session struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	mu         sync.Mutex
	browser    *rod.Browser
	page       *RodPage
	controlURL string
	hooks      []NavigationHook
}

func NewSession(cfg config.BrowserConfig, logger *zap.Logger) *Session {
	return &Session{
		cfg:    cfg,
		logger: observability.OrNop(logger).Named("browser"),
	}
}

// OnNavigate registers a hook. Must be called before Start.
func (s *Session) OnNavigate(hook NavigationHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Start connects to an existing Chrome or launches one with Rod's launcher,
// then opens the agent page.
func (s *Session) Start(ctx context.Context) (*RodPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page != nil {
		if _, err := s.browser.Version(); err == nil {
			return s.page, nil
		}
		s.logger.Warn("stale browser connection detected, reconnecting")
		_ = s.browser.Close()
		s.browser, s.page, s.controlURL = nil, nil, ""
	}

	controlURL := s.cfg.DebuggerURL
	if controlURL == "" {
		if s.cfg.UserDataDir != "" {
			if err := os.MkdirAll(s.cfg.UserDataDir, 0o755); err != nil {
				return nil, fmt.Errorf("create profile dir: %w", err)
			}
		}
		url, err := s.launcher().Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             s.cfg.GetViewportWidth(),
		Height:            s.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		s.logger.Warn("failed to set viewport", zap.Error(err))
	}

	s.browser = browser
	s.page = NewRodPage(page)
	s.controlURL = controlURL
	s.watchNavigations(ctx, page)

	s.logger.Info("browser connected",
		zap.String("control_url", controlURL),
		zap.String("profile", s.cfg.UserDataDir),
		zap.Bool("headless", s.cfg.IsHeadless()))
	return s.page, nil
}

func (s *Session) launcher() *launcher.Launcher {
	l := launcher.New().Headless(s.cfg.IsHeadless())
	if s.cfg.UserDataDir != "" {
		l = l.UserDataDir(s.cfg.UserDataDir)
	}
	if len(s.cfg.Launch) > 0 {
		l = l.Bin(s.cfg.Launch[0])
		for _, f := range ParseLaunchFlags(s.cfg.Launch[1:]) {
			if f.Value == "" {
				l = l.Set(flags.Flag(f.Name))
			} else {
				l = l.Set(flags.Flag(f.Name), f.Value)
			}
		}
	}
	return l
}

// LaunchFlag is one parsed Chrome command-line switch.
type LaunchFlag struct {
	Name  string
	Value string
}

// ParseLaunchFlags turns ["--foo=bar", "--baz"] into name/value pairs.
func ParseLaunchFlags(raw []string) []LaunchFlag {
	out := make([]LaunchFlag, 0, len(raw))
	for _, r := range raw {
		trimmed := strings.TrimLeft(strings.TrimSpace(r), "-")
		if trimmed == "" {
			continue
		}
		name, val, _ := strings.Cut(trimmed, "=")
		out = append(out, LaunchFlag{Name: name, Value: val})
	}
	return out
}

// watchNavigations forwards main-frame navigations to the registered hooks.
func (s *Session) watchNavigations(ctx context.Context, page *rod.Page) {
	if len(s.hooks) == 0 {
		return
	}
	hooks := append([]NavigationHook(nil), s.hooks...)
	wait := page.Context(ctx).EachEvent(func(ev *proto.PageFrameNavigated) {
		if ev.Frame == nil || ev.Frame.ParentID != "" {
			return
		}
		for _, h := range hooks {
			h(ev.Frame.URL)
		}
	})
	go wait()
}

// Page returns the agent page once started.
func (s *Session) Page() (*RodPage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page, s.page != nil
}

func (s *Session) ControlURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controlURL
}

// Shutdown closes the page and the browser. Profile data stays on disk.
func (s *Session) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.page != nil {
		if err := s.page.Raw().Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
		s.page = nil
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		s.browser = nil
	}
	s.controlURL = ""
	s.logger.Info("browser shutdown complete")
	return errors.Join(errs...)
}
