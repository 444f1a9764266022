// Package browser owns the headless-browser session a job uses for every
// portal request. One session is opened per bill and reused across all of
// its page loads and document downloads; launch cost dominates per-document
// latency, and the portal tolerates a persistent session far better than a
// burst of fresh ones.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"fiscal_notes/pkg/core/faults"
)

// Session is a stealth browser bound to one job. Not safe for concurrent
// use; a job's pipeline stages run sequentially by design.
type Session struct {
	jobID       string
	downloadDir string

	launch  *launcher.Launcher
	browser *rod.Browser
	page    *rod.Page

	navTimeout      time.Duration
	downloadTimeout time.Duration
	retryBase       time.Duration
	maxRetries      int

	politeMin      time.Duration
	politeMax      time.Duration
	politeFirstMin time.Duration
	politeFirstMax time.Duration
	seenHosts      map[string]bool

	// navigate is swapped out by tests; Open wires it to rodNavigate.
	navigate func(ctx context.Context, rawURL string) (string, error)

	logger *zap.Logger
}

// Open launches a browser for jobID with an isolated debugging port and a
// private download directory. Launch falls back from the fully pinned flag
// set to rod's automatic browser resolution to a minimal launch before
// giving up.
func Open(jobID, downloadDir string, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	absDir, err := filepath.Abs(downloadDir)
	if err != nil {
		return nil, fmt.Errorf("resolve download dir: %w", err)
	}
	if err := os.MkdirAll(absDir, 0755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	s := &Session{
		jobID:           jobID,
		downloadDir:     absDir,
		navTimeout:      30 * time.Second,
		downloadTimeout: 60 * time.Second,
		retryBase:       5 * time.Second,
		maxRetries:      3,
		politeMin:       500 * time.Millisecond,
		politeMax:       2 * time.Second,
		politeFirstMin:  2 * time.Second,
		politeFirstMax:  6 * time.Second,
		seenHosts:       make(map[string]bool),
		logger:          logger,
	}
	s.navigate = s.rodNavigate

	port := DebugPort(jobID)
	controlURL, launch, err := launchWithFallback(port, logger)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	s.launch = launch

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	s.browser = browser

	if err := (proto.BrowserSetDownloadBehavior{
		Behavior:     proto.BrowserSetDownloadBehaviorBehaviorAllow,
		DownloadPath: absDir,
	}).Call(browser); err != nil {
		logger.Warn("failed to set download path", zap.Error(err))
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	s.page = page

	if err := s.applyStealth(page); err != nil {
		browser.Close()
		return nil, fmt.Errorf("apply stealth profile: %w", err)
	}

	logger.Info("browser session opened",
		zap.String("job_id", jobID), zap.Int("debug_port", port))
	return s, nil
}

// launchWithFallback tries the pinned stealth flag set first, then rod's
// automatic browser resolution, then a minimal launch.
func launchWithFallback(port int, logger *zap.Logger) (string, *launcher.Launcher, error) {
	pinned := launcher.New().Headless(true).
		Set("remote-debugging-port", strconv.Itoa(port)).
		Set(flags.Flag("no-sandbox")).
		Set(flags.Flag("disable-blink-features"), "AutomationControlled").
		Set(flags.Flag("window-size"), fmt.Sprintf("%d,%d", windowWidth, windowHeight)).
		Set(flags.Flag("user-agent"), userAgent)
	if bin, found := launcher.LookPath(); found {
		pinned = pinned.Bin(bin)
	}
	if url, err := pinned.Launch(); err == nil {
		return url, pinned, nil
	} else {
		logger.Warn("pinned launch failed, trying automatic resolution", zap.Error(err))
	}

	auto := launcher.New().Headless(true).
		Set("remote-debugging-port", strconv.Itoa(port))
	if url, err := auto.Launch(); err == nil {
		return url, auto, nil
	} else {
		logger.Warn("automatic launch failed, trying minimal options", zap.Error(err))
	}

	minimal := launcher.New().Headless(true)
	url, err := minimal.Launch()
	if err != nil {
		return "", nil, err
	}
	return url, minimal, nil
}

func (s *Session) applyStealth(page *rod.Page) error {
	if _, err := page.EvalOnNewDocument(stealthJS); err != nil {
		return err
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      userAgent,
		AcceptLanguage: "en-US,en;q=0.9",
	}); err != nil {
		return err
	}
	return (proto.EmulationSetDeviceMetricsOverride{
		Width:             windowWidth,
		Height:            windowHeight,
		DeviceScaleFactor: 1,
		Mobile:            false,
	}).Call(page)
}

// Get navigates to rawURL and returns the page HTML once the body is
// present and free of the bot-challenge marker. Challenge pages and
// timeouts are retried with exponential backoff before surfacing as
// BotChallengeDetected / NavigationTimeout.
func (s *Session) Get(ctx context.Context, rawURL string) (string, error) {
	s.politeWait(rawURL)

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(s.retryBase, attempt-1)
			s.logger.Warn("navigation failed, backing off",
				zap.String("url", rawURL), zap.Int("attempt", attempt),
				zap.Duration("delay", delay), zap.Error(lastErr))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", faults.Wrap(faults.NavigationTimeout, "browser.get", ctx.Err())
			}
		}

		html, err := s.navigate(ctx, rawURL)
		if err == nil {
			return html, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

// rodNavigate is one navigation attempt; it classifies its own failures.
func (s *Session) rodNavigate(ctx context.Context, rawURL string) (string, error) {
	page := s.page.Context(ctx)

	if err := page.Timeout(s.navTimeout).Navigate(rawURL); err != nil {
		return "", faults.Wrap(faults.NavigationTimeout, "browser.get", err)
	}
	if err := page.Timeout(s.navTimeout).WaitLoad(); err != nil {
		return "", faults.Wrap(faults.NavigationTimeout, "browser.get", err)
	}
	body, err := page.Timeout(s.navTimeout).Element("body")
	if err != nil {
		return "", faults.Wrap(faults.NavigationTimeout, "browser.get", err)
	}
	text, err := body.Text()
	if err != nil {
		return "", faults.Wrap(faults.NavigationTimeout, "browser.get", err)
	}
	if hasChallengeMarker(text) {
		return "", faults.New(faults.BotChallengeDetected, "browser.get",
			"challenge marker present at %s", rawURL)
	}
	return page.HTML()
}

// Download clears prior partials, triggers the download by navigation, and
// polls until a fully written file with the expected extension appears.
func (s *Session) Download(ctx context.Context, rawURL, expectedExt string) (string, error) {
	s.politeWait(rawURL)

	if err := clearDir(s.downloadDir); err != nil {
		return "", fmt.Errorf("clear download dir: %w", err)
	}

	// Chrome aborts the navigation once it commits to downloading, so
	// ERR_ABORTED here means the download started.
	page := s.page.Context(ctx)
	if err := page.Timeout(s.navTimeout).Navigate(rawURL); err != nil {
		if !strings.Contains(err.Error(), "ERR_ABORTED") {
			return "", faults.Wrap(faults.DownloadTimeout, "browser.download", err)
		}
	}

	path, err := waitForFile(ctx, s.downloadDir, expectedExt, s.downloadTimeout)
	if err != nil {
		return "", err
	}
	return path, nil
}

// waitForFile polls dir until a file with ext stops growing, or the
// deadline passes.
func waitForFile(ctx context.Context, dir, ext string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	var lastSize int64 = -1
	var lastPath string

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", faults.Wrap(faults.DownloadTimeout, "browser.download", ctx.Err())
		case <-time.After(250 * time.Millisecond):
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if strings.HasSuffix(name, ".crdownload") || strings.HasSuffix(name, ".tmp") {
				lastSize, lastPath = -1, ""
				continue
			}
			if !strings.EqualFold(filepath.Ext(name), "."+strings.TrimPrefix(ext, ".")) {
				continue
			}
			path := filepath.Join(dir, name)
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			if path == lastPath && info.Size() == lastSize && info.Size() > 0 {
				return path, nil
			}
			lastPath, lastSize = path, info.Size()
		}
	}
	return "", faults.New(faults.DownloadTimeout, "browser.download",
		"no completed .%s file in %s after %s", strings.TrimPrefix(ext, "."), dir, timeout)
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// politeWait sleeps a randomized interval before navigation: longer on the
// first request to a host, shorter after the portal knows the session.
func (s *Session) politeWait(rawURL string) {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}
	var d time.Duration
	if !s.seenHosts[host] {
		s.seenHosts[host] = true
		d = politeWindow(s.politeFirstMin, s.politeFirstMax)
	} else {
		d = politeWindow(s.politeMin, s.politeMax)
	}
	time.Sleep(d)
}

// Close releases the browser and deletes the download directory.
func (s *Session) Close() {
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			s.logger.Warn("browser close failed", zap.Error(err))
		}
	}
	if s.launch != nil {
		s.launch.Cleanup()
	}
	if s.downloadDir != "" {
		os.RemoveAll(s.downloadDir)
	}
	s.logger.Info("browser session closed", zap.String("job_id", s.jobID))
}

// DownloadDir exposes the session's private download directory.
func (s *Session) DownloadDir() string { return s.downloadDir }
