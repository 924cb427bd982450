package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/koios/kling-batcher/internal/remote"
	"go.uber.org/zap"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Options configures the Chrome driver
type Options struct {
	BaseURL         string
	UserAgent       string
	DownloadTimeout time.Duration
	// StepTimeout bounds single page interactions such as waiting for the prompt box
	StepTimeout time.Duration
	// ExecPath overrides the Chrome binary lookup
	ExecPath string
}

func (o *Options) applyDefaults() {
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.DownloadTimeout <= 0 {
		o.DownloadTimeout = 90 * time.Second
	}
	if o.StepTimeout <= 0 {
		o.StepTimeout = 15 * time.Second
	}
}

// Driver is a remote.Service backed by a Chrome tab on the render site
type Driver struct {
	opts   Options
	logger *zap.Logger

	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc

	downloadDir string
	events      chan downloadEvent

	closeOnce sync.Once
}

type downloadEvent struct {
	guid  string
	begin bool
	state browser.DownloadProgressState
}

// NewOpener returns a remote.Opener that launches Chrome
func NewOpener(opts Options, logger *zap.Logger) remote.Opener {
	opts.applyDefaults()
	return func(ctx context.Context, open remote.OpenOptions) (remote.Service, error) {
		return Launch(ctx, opts, open, logger)
	}
}

// Launch starts Chrome, restores the session blob if given and opens the
// base URL.
func Launch(ctx context.Context, opts Options, open remote.OpenOptions, logger *zap.Logger) (*Driver, error) {
	opts.applyDefaults()
	if opts.BaseURL == "" {
		return nil, errors.New("browser base URL is required")
	}

	downloadDir, err := os.MkdirTemp("", "batcher-downloads-")
	if err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", open.Headless),
		chromedp.UserAgent(opts.UserAgent),
		chromedp.WindowSize(1600, 900),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	// The browser outlives the launch context; it is torn down by Close.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Sugar().Debugf))

	d := &Driver{
		opts:        opts,
		logger:      logger,
		allocCancel: allocCancel,
		ctx:         tabCtx,
		cancel:      tabCancel,
		downloadDir: downloadDir,
		events:      make(chan downloadEvent, 64),
	}
	chromedp.ListenTarget(tabCtx, d.onEvent)

	start := func(ctx context.Context) error {
		if err := chromedp.Run(ctx,
			browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
				WithDownloadPath(downloadDir).
				WithEventsEnabled(true),
		); err != nil {
			return fmt.Errorf("failed to start browser: %w", err)
		}
		if open.Session != nil {
			if err := d.restore(ctx, open.Session); err != nil {
				return err
			}
		}
		if err := chromedp.Run(ctx, chromedp.Navigate(opts.BaseURL)); err != nil {
			return fmt.Errorf("failed to open %s: %w", opts.BaseURL, err)
		}
		humanDelay(ctx, 1200*time.Millisecond, 2600*time.Millisecond)
		return nil
	}

	if err := d.do(ctx, start); err != nil {
		d.Close()
		return nil, err
	}

	logger.Info("Browser started",
		zap.String("url", opts.BaseURL),
		zap.Bool("headless", open.Headless),
		zap.Bool("session_restored", open.Session != nil))
	return d, nil
}

func (d *Driver) onEvent(ev interface{}) {
	var e downloadEvent
	switch ev := ev.(type) {
	case *browser.EventDownloadWillBegin:
		e = downloadEvent{guid: ev.GUID, begin: true}
	case *browser.EventDownloadProgress:
		if ev.State != browser.DownloadProgressStateCompleted && ev.State != browser.DownloadProgressStateCanceled {
			return
		}
		e = downloadEvent{guid: ev.GUID, state: ev.State}
	default:
		return
	}
	select {
	case d.events <- e:
	default:
		d.logger.Warn("Download event dropped", zap.String("guid", e.guid))
	}
}

// do runs fn on a context bound to the tab and cancelled with the caller's
// ctx. A dead tab is reported as remote.ErrSessionLost.
func (d *Driver) do(ctx context.Context, fn func(context.Context) error) error {
	if d.ctx.Err() != nil {
		return remote.ErrSessionLost
	}
	runCtx, cancel := context.WithCancel(d.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := fn(runCtx)
	if err == nil {
		return nil
	}
	if d.ctx.Err() != nil {
		return fmt.Errorf("%w: %v", remote.ErrSessionLost, err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (d *Driver) eval(ctx context.Context, script string, res interface{}) error {
	return chromedp.Run(ctx, chromedp.Evaluate(script, res))
}

// Submit uploads the image, types the prompt, presses Generate and clears
// the uploaded image from the form.
func (d *Driver) Submit(ctx context.Context, image, prompt string) error {
	return d.do(ctx, func(ctx context.Context) error {
		if err := chromedp.Run(ctx, chromedp.SetUploadFiles(fileInput, []string{image}, chromedp.ByQuery)); err != nil {
			return fmt.Errorf("upload failed: %w", err)
		}
		humanDelay(ctx, 400*time.Millisecond, time.Second)

		if err := d.fillPrompt(ctx, prompt); err != nil {
			return err
		}

		d.waitUploadOverlay(ctx)

		var clicked bool
		if err := d.eval(ctx, clickGenerateScript, &clicked); err != nil {
			return fmt.Errorf("failed to press generate: %w", err)
		}
		if !clicked {
			return errors.New("generate button not found")
		}
		humanDelay(ctx, 600*time.Millisecond, 1400*time.Millisecond)

		d.deleteUpload(ctx)
		return nil
	})
}

func (d *Driver) fillPrompt(ctx context.Context, prompt string) error {
	waitCtx, cancel := context.WithTimeout(ctx, d.opts.StepTimeout)
	defer cancel()
	if err := chromedp.Run(waitCtx, chromedp.WaitVisible(promptBox, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("prompt box not visible: %w", err)
	}

	// Insert the text verbatim; key events would turn tabs into focus moves.
	if err := chromedp.Run(ctx,
		chromedp.Clear(promptBox, chromedp.ByQuery),
		chromedp.Focus(promptBox, chromedp.ByQuery),
		input.InsertText(prompt),
	); err != nil {
		return fmt.Errorf("failed to type prompt: %w", err)
	}
	humanDelay(ctx, 200*time.Millisecond, 600*time.Millisecond)
	return nil
}

// waitUploadOverlay waits briefly for the upload overlay to appear, then for
// it to go away. Both waits are best effort.
func (d *Driver) waitUploadOverlay(ctx context.Context) {
	if !d.pollScript(ctx, uploadOverlayVisibleScript, true, 3*time.Second) {
		return
	}
	if !d.pollScript(ctx, uploadOverlayVisibleScript, false, 15*time.Second) {
		d.logger.Debug("Upload overlay still visible, continuing")
	}
}

// pollScript evaluates a boolean script until it returns want or timeout passes
func (d *Driver) pollScript(ctx context.Context, script string, want bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		var got bool
		if err := d.eval(ctx, script, &got); err == nil && got == want {
			return true
		}
		if time.Now().After(deadline) || !sleep(ctx, 200*time.Millisecond) {
			return false
		}
	}
}

func (d *Driver) deleteUpload(ctx context.Context) {
	clickCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	if err := chromedp.Run(clickCtx, chromedp.Click(deleteUploadXPath, chromedp.BySearch, chromedp.NodeVisible)); err != nil {
		d.logger.Debug("Uploaded image not cleared", zap.Error(err))
		return
	}
	humanDelay(ctx, 400*time.Millisecond, time.Second)
}

// CountActiveGenerating counts busy entries among the newest limit articles
func (d *Driver) CountActiveGenerating(ctx context.Context, limit int) (int, error) {
	var n int
	err := d.do(ctx, func(ctx context.Context) error {
		return d.eval(ctx, countActiveScript(limit), &n)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count active generations: %w", err)
	}
	return n, nil
}

type articleState struct {
	Exists       bool `json:"exists"`
	Busy         bool `json:"busy"`
	Downloadable bool `json:"downloadable"`
}

// IsReady reports whether the article at position is finished and shows a
// download button once hovered.
func (d *Driver) IsReady(ctx context.Context, position int) (bool, error) {
	var ready bool
	err := d.do(ctx, func(ctx context.Context) error {
		var st articleState
		if err := d.eval(ctx, articleStateScript(position), &st); err != nil {
			return err
		}
		if !st.Exists || st.Busy {
			return nil
		}
		if err := d.hover(ctx, position); err != nil {
			return err
		}
		if !sleep(ctx, 300*time.Millisecond) {
			return ctx.Err()
		}
		if err := d.eval(ctx, articleStateScript(position), &st); err != nil {
			return err
		}
		ready = st.Exists && !st.Busy && st.Downloadable
		return nil
	})
	return ready, err
}

type articleCenter struct {
	Found bool    `json:"found"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// hover moves the mouse over the article to reveal its action buttons
func (d *Driver) hover(ctx context.Context, position int) error {
	var c articleCenter
	if err := d.eval(ctx, articleCenterScript(position), &c); err != nil {
		return err
	}
	if !c.Found {
		return fmt.Errorf("no article at position %d", position)
	}
	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseMoved, c.X, c.Y).Do(ctx)
	}))
}

type promptResult struct {
	Found bool   `json:"found"`
	Text  string `json:"text"`
}

// PromptAt reads the prompt shown on the article at position
func (d *Driver) PromptAt(ctx context.Context, position int) (string, bool, error) {
	var res promptResult
	err := d.do(ctx, func(ctx context.Context) error {
		return d.eval(ctx, promptAtScript(position), &res)
	})
	if err != nil {
		return "", false, err
	}
	return res.Text, res.Found, nil
}

// Download clicks the download button at position and moves the finished
// file to dest.
func (d *Driver) Download(ctx context.Context, position int, dest string) error {
	return d.do(ctx, func(ctx context.Context) error {
		d.drainEvents()

		if err := d.hover(ctx, position); err != nil {
			return err
		}
		sleep(ctx, 500*time.Millisecond)

		var clicked bool
		if err := d.eval(ctx, clickDownloadScript(position), &clicked); err != nil {
			return err
		}
		if !clicked {
			return fmt.Errorf("download button not found at position %d", position)
		}

		guid, err := d.waitDownload(ctx)
		if err != nil {
			return err
		}
		if err := moveFile(filepath.Join(d.downloadDir, guid), dest); err != nil {
			return err
		}
		d.logger.Debug("Download saved", zap.Int("position", position), zap.String("dest", dest))
		return nil
	})
}

func (d *Driver) drainEvents() {
	for {
		select {
		case <-d.events:
		default:
			return
		}
	}
}

// waitDownload waits for the first download that starts to complete
func (d *Driver) waitDownload(ctx context.Context) (string, error) {
	timer := time.NewTimer(d.opts.DownloadTimeout)
	defer timer.Stop()

	var guid string
	for {
		select {
		case ev := <-d.events:
			switch {
			case ev.begin && guid == "":
				guid = ev.guid
			case ev.guid != guid:
			case ev.state == browser.DownloadProgressStateCompleted:
				return guid, nil
			case ev.state == browser.DownloadProgressStateCanceled:
				return "", errors.New("download canceled")
			}
		case <-timer.C:
			return "", fmt.Errorf("download did not finish within %s", d.opts.DownloadTimeout)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// PersistSession captures cookies and local storage of the current page
func (d *Driver) PersistSession(ctx context.Context) ([]byte, error) {
	var blob []byte
	err := d.do(ctx, func(ctx context.Context) error {
		var (
			cookies []*network.Cookie
			local   map[string]string
		)
		if err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = storage.GetCookies().Do(ctx)
			return err
		})); err != nil {
			return fmt.Errorf("failed to read cookies: %w", err)
		}
		if err := d.eval(ctx, readLocalStorageScript, &local); err != nil {
			return fmt.Errorf("failed to read local storage: %w", err)
		}

		var err error
		blob, err = encodeSession(cookies, local)
		return err
	})
	return blob, err
}

// RestoreSession loads a blob from PersistSession and reloads the page
func (d *Driver) RestoreSession(ctx context.Context, blob []byte) error {
	return d.do(ctx, func(ctx context.Context) error {
		if err := d.restore(ctx, blob); err != nil {
			return err
		}
		return chromedp.Run(ctx, chromedp.Navigate(d.opts.BaseURL))
	})
}

// restore sets the cookies, and the local storage once the site's origin is loaded
func (d *Driver) restore(ctx context.Context, blob []byte) error {
	state, err := decodeSession(blob)
	if err != nil {
		return err
	}

	if params := state.cookieParams(time.Now()); len(params) > 0 {
		if err := chromedp.Run(ctx, network.SetCookies(params)); err != nil {
			return fmt.Errorf("failed to restore cookies: %w", err)
		}
	}

	if len(state.LocalStorage) == 0 {
		return nil
	}
	entries, err := json.Marshal(state.LocalStorage)
	if err != nil {
		return fmt.Errorf("failed to encode local storage: %w", err)
	}
	var n int
	if err := chromedp.Run(ctx,
		chromedp.Navigate(d.opts.BaseURL),
		chromedp.Evaluate(writeLocalStorageScript(string(entries)), &n),
	); err != nil {
		return fmt.Errorf("failed to restore local storage: %w", err)
	}
	return nil
}

// Close shuts Chrome down and removes the download directory
func (d *Driver) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.cancel()
		d.allocCancel()
		err = os.RemoveAll(d.downloadDir)
	})
	return err
}

// moveFile renames src to dst, copying across filesystems when needed
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open download: %w", err)
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to copy download: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	in.Close()
	os.Remove(src)
	return nil
}

// humanDelay sleeps a random duration in [lo, hi]
func humanDelay(ctx context.Context, lo, hi time.Duration) {
	sleep(ctx, lo+time.Duration(rand.Int63n(int64(hi-lo)+1)))
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
