package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/headfull/chrome-api/internal/config"
	"github.com/headfull/chrome-api/internal/pool"
	"github.com/headfull/chrome-api/pkg/models"
)

// Controller owns the full browser lifecycle for sessions: launch, drive,
// terminate. One controller serves all sessions; each Start returns an
// isolated handle.
type Controller struct {
	cfg      *config.Config
	launcher *Launcher
}

// NewController creates a controller around the given launcher.
func NewController(cfg *config.Config, launcher *Launcher) *Controller {
	return &Controller{cfg: cfg, launcher: launcher}
}

// Handle is one live browser bound to a lease. Close must be called exactly
// once per successful Start, on every exit path, before the lease is
// released.
type Handle struct {
	proc     *Process
	cdp      *CDPClient
	launcher *Launcher
}

// Start launches a browser bound to the lease and connects to its DevTools
// endpoint. Fails with ErrLaunchFailure when the process does not report
// readiness within the launch timeout; nothing is left running on failure.
func (c *Controller) Start(ctx context.Context, lease *pool.Lease, sc models.SessionConfig) (*Handle, error) {
	proc, err := c.launcher.Launch(ctx, lease, sc.ProxyServer)
	if err != nil {
		return nil, err
	}

	cdp := NewCDPClient(lease.Port)
	connectCtx, cancel := context.WithTimeout(ctx, c.cfg.LaunchTimeout)
	defer cancel()
	if err := cdp.Connect(connectCtx); err != nil {
		c.launcher.Stop(proc)
		return nil, err
	}

	return &Handle{proc: proc, cdp: cdp, launcher: c.launcher}, nil
}

// Fetch navigates to url, waits for the page to load within timeout, and
// returns the rendered HTML. Failures come back as typed errors; they never
// kill the handle.
func (h *Handle) Fetch(ctx context.Context, url string, timeout time.Duration) (string, error) {
	if !h.proc.Alive() {
		return "", fmt.Errorf("%w: exited before navigation", ErrProcessCrashed)
	}

	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	log := logrus.WithFields(logrus.Fields{"session": h.proc.SessionID, "url": url})
	log.Info("navigating")

	if err := h.cdp.Navigate(jobCtx, url); err != nil {
		return "", h.mapJobError(jobCtx, err)
	}
	if err := h.cdp.WaitForLoad(jobCtx); err != nil {
		return "", h.mapJobError(jobCtx, err)
	}

	content, err := h.cdp.Content(jobCtx)
	if err != nil {
		return "", h.mapJobError(jobCtx, err)
	}

	log.WithFields(logrus.Fields{
		"elapsed": time.Since(start).Round(time.Millisecond).String(),
		"bytes":   len(content),
	}).Info("page fetched")
	return content, nil
}

// mapJobError normalizes low-level failures into the job error taxonomy.
func (h *Handle) mapJobError(jobCtx context.Context, err error) error {
	if !h.proc.Alive() {
		return fmt.Errorf("%w: %v", ErrProcessCrashed, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrNavigationTimeout, err)
	}
	if errors.Is(err, ErrNavigationError) || errors.Is(err, ErrProcessCrashed) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrNavigationError, err)
}

// Crashed reports whether the browser process died underneath the session.
func (h *Handle) Crashed() bool {
	return !h.proc.Alive()
}

// Port exposes the DevTools port the handle is bound to.
func (h *Handle) Port() int {
	return h.proc.Port
}

// Close disconnects and terminates the browser. Always returns, safe after a
// crash, idempotent.
func (h *Handle) Close() {
	if h == nil {
		return
	}
	h.cdp.Close()
	h.launcher.Stop(h.proc)
}
