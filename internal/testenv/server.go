package testenv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultStartTimeout  = 30 * time.Second
	defaultPollInterval  = time.Second
	defaultGracePeriod   = 5 * time.Second
	healthRequestTimeout = 2 * time.Second
)

// ErrServerStartup is matched by every StartupError.
var ErrServerStartup = errors.New("server did not become ready")

// StartupError reports a server that never answered its health check.
type StartupError struct {
	URL     string
	Timeout time.Duration
	Err     error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("server at %s did not become ready within %s: %v", e.URL, e.Timeout, e.Err)
}

func (e *StartupError) Is(target error) bool { return target == ErrServerStartup }

func (e *StartupError) Unwrap() error { return e.Err }

// ServerConfig describes the application process.
type ServerConfig struct {
	Command []string
	// URL is polled with GET until it answers 200.
	URL string
	Dir string
	// Env is appended to the test process environment.
	Env         []string
	Timeout     time.Duration
	Interval    time.Duration
	GracePeriod time.Duration
	// Output receives the child's stdout and stderr. Nil discards them.
	Output io.Writer
}

func (c *ServerConfig) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultStartTimeout
	}
	if c.Interval <= 0 {
		c.Interval = defaultPollInterval
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = defaultGracePeriod
	}
	if c.Output == nil {
		c.Output = io.Discard
	}
}

// Server is a running application process.
type Server struct {
	URL string

	cfg  ServerConfig
	cmd  *exec.Cmd
	log  zerolog.Logger
	done chan struct{}

	waitErr  error
	stopOnce sync.Once
	stopErr  error
	forced   atomic.Bool
}

// StartServer launches the application and blocks until its health URL
// answers 200. When the deadline passes or the process exits first, the
// process is stopped and a *StartupError is returned.
func StartServer(ctx context.Context, cfg ServerConfig, log zerolog.Logger) (*Server, error) {
	cfg.setDefaults()
	if len(cfg.Command) == 0 {
		return nil, errors.New("start server: no command")
	}
	if cfg.URL == "" {
		return nil, errors.New("start server: no health url")
	}

	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...) //nolint:gosec // the command comes from test configuration
	cmd.Dir = cfg.Dir
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.Stdout = cfg.Output
	cmd.Stderr = cfg.Output
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start server: %w", err)
	}

	s := &Server{
		URL:  cfg.URL,
		cfg:  cfg,
		cmd:  cmd,
		log:  log.With().Int("pid", cmd.Process.Pid).Logger(),
		done: make(chan struct{}),
	}
	go func() {
		s.waitErr = cmd.Wait()
		close(s.done)
	}()
	s.log.Info().Strs("command", cfg.Command).Str("url", cfg.URL).Msg("Started server process")

	client := &http.Client{Timeout: healthRequestTimeout}
	if err := waitReady(ctx, client, cfg.URL, cfg.Interval, cfg.Timeout, s.done); err != nil {
		if stopErr := s.Stop(); stopErr != nil {
			s.log.Warn().Err(stopErr).Msg("Failed to stop server after failed startup")
		}
		return nil, &StartupError{URL: cfg.URL, Timeout: cfg.Timeout, Err: err}
	}
	s.log.Info().Msg("Server is ready")
	return s, nil
}

// waitReady polls url every interval until it answers 200. A refused
// connection or a request that timed out means the server is not ready yet;
// any other transport error, the exit of the process or the timeout ends
// the wait.
func waitReady(ctx context.Context, client *http.Client, url string, interval, timeout time.Duration, exited <-chan struct{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last error
	for {
		ready, err := probe(ctx, client, url)
		if ready {
			return nil
		}
		if err != nil {
			if !retryable(err) {
				if ctx.Err() != nil {
					return fmt.Errorf("%w (last error: %v)", ctx.Err(), last)
				}
				return err
			}
			last = err
		}

		select {
		case <-ctx.Done():
			if last != nil {
				return fmt.Errorf("%w (last error: %v)", ctx.Err(), last)
			}
			return ctx.Err()
		case <-exited:
			return errors.New("server process exited")
		case <-ticker.C:
		}
	}
}

func retryable(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func probe(ctx context.Context, client *http.Client, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// Stop sends SIGTERM to the process group and SIGKILL if it is still
// running after the grace period. It waits for the process to exit and is
// safe to call more than once.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.stopErr = s.stop()
	})
	return s.stopErr
}

func (s *Server) stop() error {
	select {
	case <-s.done:
		return nil
	default:
	}

	if err := terminate(s.cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.log.Warn().Err(err).Msg("Failed to send SIGTERM")
	}

	timer := time.NewTimer(s.cfg.GracePeriod)
	defer timer.Stop()

	select {
	case <-s.done:
		s.log.Info().Msg("Server stopped")
		return nil
	case <-timer.C:
	}

	s.log.Warn().Dur("grace_period", s.cfg.GracePeriod).Msg("Server ignored SIGTERM, killing")
	s.forced.Store(true)
	if err := kill(s.cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill server: %w", err)
	}
	<-s.done
	return nil
}

// Exited is closed once the process has exited.
func (s *Server) Exited() <-chan struct{} { return s.done }

// ForcedKill reports whether Stop had to escalate to SIGKILL.
func (s *Server) ForcedKill() bool { return s.forced.Load() }

// ExitErr returns the error from waiting on the process once it exited.
func (s *Server) ExitErr() error {
	select {
	case <-s.done:
		return s.waitErr
	default:
		return nil
	}
}

// LiveServer starts the application once per run, pointed at the test
// database, and returns it. Finalize stops it.
func (e *Env) LiveServer(t testing.TB) *Server {
	t.Helper()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.server == nil && e.serverErr == nil {
		cfg := e.cfg.Server
		cfg.Env = append([]string{"DATABASE_URL=" + e.url}, cfg.Env...)
		e.server, e.serverErr = StartServer(context.Background(), cfg, e.log.With().Str("fixture", "server").Logger())
	}
	if e.serverErr != nil {
		t.Fatalf("testenv: %v", e.serverErr)
	}
	return e.server
}
