package browser

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/headfull/chrome-api/internal/config"
	"github.com/headfull/chrome-api/internal/pool"
)

const (
	readyPollInterval = 500 * time.Millisecond
	stopGracePeriod   = 5 * time.Second
)

// Process is one running Chrome instance bound to a leased display and
// DevTools port.
type Process struct {
	SessionID   string
	DisplayID   int
	Port        int
	UserDataDir string

	cmd      *exec.Cmd
	waitDone chan struct{}
	waitErr  error
	stopOnce sync.Once
}

// Exited is closed once the process has been reaped, whether it exited on
// its own or was stopped.
func (p *Process) Exited() <-chan struct{} {
	return p.waitDone
}

// Alive reports whether the process is still running.
func (p *Process) Alive() bool {
	select {
	case <-p.waitDone:
		return false
	default:
		return true
	}
}

// Launcher starts and stops Chrome processes.
type Launcher struct {
	cfg *config.Config

	mu      sync.Mutex
	running map[string]*Process // session id -> process
}

// NewLauncher creates a launcher using the given settings.
func NewLauncher(cfg *config.Config) *Launcher {
	return &Launcher{
		cfg:     cfg,
		running: make(map[string]*Process),
	}
}

func (l *Launcher) chromeArgs(port int, userDataDir, proxyServer string) []string {
	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", port),
		fmt.Sprintf("--user-data-dir=%s", userDataDir),
		fmt.Sprintf("--window-size=%d,%d", l.cfg.DisplayWidth, l.cfg.DisplayHeight),
		"--start-maximized",
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-background-networking",
		"--disable-client-side-phishing-detection",
		"--disable-default-apps",
		"--disable-extensions",
		"--disable-hang-monitor",
		"--disable-popup-blocking",
		"--disable-prompt-on-repost",
		"--disable-sync",
		"--disable-translate",
		"--metrics-recording-only",
		"--safebrowsing-disable-auto-update",
		"--disable-dev-shm-usage",
		"--disable-gpu",
		"--disable-software-rasterizer",
		"--lang=en-US",
	}
	if proxyServer != "" {
		args = append(args, fmt.Sprintf("--proxy-server=%s", proxyServer))
	}
	return args
}

// Launch starts Chrome on the leased display with DevTools on the leased
// port and waits for the debugging endpoint to come up. On any failure the
// partially started process and its profile directory are cleaned up and
// ErrLaunchFailure is returned.
func (l *Launcher) Launch(ctx context.Context, lease *pool.Lease, proxyServer string) (*Process, error) {
	if err := os.MkdirAll(l.cfg.ChromeProfileDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: profile base dir: %v", ErrLaunchFailure, err)
	}
	userDataDir, err := os.MkdirTemp(l.cfg.ChromeProfileDir, fmt.Sprintf("chrome_%s_", lease.SessionID))
	if err != nil {
		return nil, fmt.Errorf("%w: user data dir: %v", ErrLaunchFailure, err)
	}

	cmd := exec.Command(l.cfg.ChromeBinary, l.chromeArgs(lease.Port, userDataDir, proxyServer)...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("DISPLAY=:%d", lease.DisplayID))
	cmd.Stdout = nil
	cmd.Stderr = nil

	log := logrus.WithFields(logrus.Fields{
		"session": lease.SessionID,
		"display": lease.DisplayID,
		"port":    lease.Port,
	})
	log.Info("launching chrome")

	if err := cmd.Start(); err != nil {
		os.RemoveAll(userDataDir)
		return nil, fmt.Errorf("%w: %v", ErrLaunchFailure, err)
	}

	proc := &Process{
		SessionID:   lease.SessionID,
		DisplayID:   lease.DisplayID,
		Port:        lease.Port,
		UserDataDir: userDataDir,
		cmd:         cmd,
		waitDone:    make(chan struct{}),
	}
	go func() {
		proc.waitErr = cmd.Wait()
		close(proc.waitDone)
	}()

	if err := l.waitForReady(ctx, proc); err != nil {
		l.Stop(proc)
		return nil, err
	}

	l.mu.Lock()
	l.running[lease.SessionID] = proc
	l.mu.Unlock()

	log.WithField("pid", cmd.Process.Pid).Info("chrome ready")
	return proc, nil
}

// waitForReady polls the DevTools version endpoint until it answers, the
// launch timeout elapses, or the process dies.
func (l *Launcher) waitForReady(ctx context.Context, proc *Process) error {
	url := fmt.Sprintf("http://127.0.0.1:%d/json/version", proc.Port)
	deadline := time.Now().Add(l.cfg.LaunchTimeout)

	client := &http.Client{Timeout: readyPollInterval}
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrLaunchFailure, ctx.Err())
		case <-proc.waitDone:
			return fmt.Errorf("%w: process exited during startup: %v", ErrLaunchFailure, proc.waitErr)
		case <-time.After(readyPollInterval):
		}

		resp, err := client.Get(url)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return nil
		}
	}
	return fmt.Errorf("%w: devtools endpoint not ready after %s", ErrLaunchFailure, l.cfg.LaunchTimeout)
}

// Stop terminates the process: SIGTERM, then SIGKILL after a grace period.
// It always returns, is safe after a crash, and only the first call has
// effect. The profile directory is removed on the way out.
func (l *Launcher) Stop(proc *Process) {
	if proc == nil {
		return
	}
	proc.stopOnce.Do(func() {
		log := logrus.WithFields(logrus.Fields{"session": proc.SessionID, "port": proc.Port})

		if proc.Alive() {
			if err := proc.cmd.Process.Signal(syscall.SIGTERM); err != nil {
				log.WithError(err).Debug("sigterm failed, process likely gone")
			}
			select {
			case <-proc.waitDone:
			case <-time.After(stopGracePeriod):
				log.Warn("chrome unresponsive to sigterm, killing")
				proc.cmd.Process.Kill()
				<-proc.waitDone
			}
		}

		os.RemoveAll(proc.UserDataDir)

		l.mu.Lock()
		delete(l.running, proc.SessionID)
		l.mu.Unlock()

		log.Info("chrome stopped")
	})
}

// Lookup returns the running process for a session, if any.
func (l *Launcher) Lookup(sessionID string) (*Process, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.running[sessionID]
	return p, ok
}

// StopAll terminates every running process. Used on shutdown.
func (l *Launcher) StopAll() {
	l.mu.Lock()
	procs := make([]*Process, 0, len(l.running))
	for _, p := range l.running {
		procs = append(procs, p)
	}
	l.mu.Unlock()

	for _, p := range procs {
		l.Stop(p)
	}
}
