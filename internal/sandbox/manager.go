package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	containerNamePrefix = "desk-sandbox-"

	// screenshotPath is where the in-container capture utility writes its
	// output before we stream it back out.
	screenshotPath = "/tmp/desk_screen.png"

	// settleDelay gives the display time to repaint between an injected
	// input and the after-screenshot.
	settleDelay = 400 * time.Millisecond
)

// ContainerState tracks a handle through its lifecycle:
// created → running → (exited | killed) → destroyed.
type ContainerState int32

const (
	StateCreated ContainerState = iota
	StateRunning
	StateExited
	StateKilled
	StateDestroyed
)

func (s ContainerState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Container is an opaque handle to one engine container. A handle is owned
// by exactly one executor at a time; state transitions are not synchronized
// beyond that ownership.
type Container struct {
	ID    string
	Name  string
	state ContainerState
}

func (c *Container) State() ContainerState { return c.state }

// Manager is the only component that talks to the container engine. It
// owns image verification, the create/start/wait/logs/destroy cycle, exec
// into running containers, screenshot extraction, and UI-action execution.
type Manager struct {
	engine Engine
	image  string
	policy SecurityPolicy
	logger zerolog.Logger
}

// NewManager builds a Manager for one image/policy pair and verifies the
// image best-effort: absence is logged with a build hint, not fatal; it
// surfaces later as a creation error.
func NewManager(ctx context.Context, engine Engine, image string, policy SecurityPolicy) *Manager {
	m := &Manager{
		engine: engine,
		image:  image,
		policy: policy,
		logger: log.With().Str("image", image).Logger(),
	}
	m.VerifyImage(ctx)
	return m
}

// Policy returns the security policy this manager applies to every
// container it creates.
func (m *Manager) Policy() SecurityPolicy { return m.policy }

// VerifyImage checks that the sandbox image exists locally.
func (m *Manager) VerifyImage(ctx context.Context) bool {
	_, err := m.engine.ImageInspect(ctx, m.image)
	if err == nil {
		m.logger.Info().Msg("sandbox image verified")
		return true
	}
	if errdefs.IsNotFound(err) {
		m.logger.Warn().
			Str("hint", fmt.Sprintf("docker build -t %s sandbox_image/", m.image)).
			Msg("sandbox image not found locally")
	} else {
		m.logger.Warn().Err(err).Msg("sandbox image inspection failed")
	}
	return false
}

// CreateContainer creates (but does not start) a container running cmd
// under this manager's policy. An empty cmd leaves the image entrypoint in
// charge. Used for idle virtual-desktop containers.
func (m *Manager) CreateContainer(ctx context.Context, cmd []string, binds []string, env []string) (*Container, error) {
	name := containerNamePrefix + uuid.New().String()

	cfg := &container.Config{
		Image: m.image,
		Cmd:   cmd,
		Env:   env,
		User:  m.policy.User,
	}

	resp, err := m.engine.ContainerCreate(ctx, cfg, m.policy.HostConfig(binds), nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}

	m.logger.Debug().Str("container_id", resp.ID).Msg("container created")
	return &Container{ID: resp.ID, Name: name, state: StateCreated}, nil
}

// Start transitions a created container to running.
func (m *Manager) Start(ctx context.Context, c *Container) error {
	if err := m.engine.ContainerStart(ctx, c.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("starting container %s: %w", c.ID, err)
	}
	c.state = StateRunning
	m.logger.Debug().Str("container_id", c.ID).Msg("container started")
	return nil
}

// Wait blocks until the container exits or timeout elapses. On timeout the
// container is force-killed before Wait returns, and the exit code is -1:
// no caller is ever blocked past the bound, and a timed-out container is
// never left running. Exit code -1 is reserved for exactly this case plus
// infrastructure failure; a real program can never produce it.
func (m *Manager) Wait(ctx context.Context, c *Container, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		timeout = m.policy.Timeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	respCh, errCh := m.engine.ContainerWait(waitCtx, c.ID, container.WaitConditionNotRunning)

	select {
	case resp := <-respCh:
		c.state = StateExited
		if resp.Error != nil {
			return -1, fmt.Errorf("waiting for container %s: %s", c.ID, resp.Error.Message)
		}
		return int(resp.StatusCode), nil

	case err := <-errCh:
		if waitCtx.Err() == context.DeadlineExceeded {
			m.logger.Warn().
				Str("container_id", c.ID).
				Dur("timeout", timeout).
				Msg("container timed out, killing")
			m.kill(c)
			return -1, ErrTimeout
		}
		c.state = StateExited
		return -1, fmt.Errorf("waiting for container %s: %w", c.ID, err)
	}
}

// kill force-terminates a running container. Failures are logged only: the
// follow-up force-remove in Destroy reclaims the container either way.
func (m *Manager) kill(c *Container) {
	killCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.engine.ContainerKill(killCtx, c.ID, "SIGKILL"); err != nil && !errdefs.IsNotFound(err) {
		m.logger.Error().Err(err).Str("container_id", c.ID).Msg("failed to kill container")
	}
	c.state = StateKilled
}

// Logs returns (stdout, stderr), demuxed from the engine's multiplexed log
// stream. Read once after Wait; output from a killed container may be
// truncated mid-write, which is acceptable since a timeout invalidates the
// computation anyway.
func (m *Manager) Logs(ctx context.Context, c *Container) (string, string, error) {
	rc, err := m.engine.ContainerLogs(ctx, c.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("fetching logs for %s: %w", c.ID, err)
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return stdout.String(), stderr.String(), fmt.Errorf("demuxing logs for %s: %w", c.ID, err)
	}
	return stdout.String(), stderr.String(), nil
}

// Destroy force-removes the container and its writable layer. Idempotent
// and non-raising in spirit: an already-removed container is success, and
// callers on cleanup paths log the returned error instead of propagating.
func (m *Manager) Destroy(ctx context.Context, c *Container) error {
	if c == nil || c.state == StateDestroyed {
		return nil
	}

	err := m.engine.ContainerRemove(ctx, c.ID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil && !errdefs.IsNotFound(err) {
		m.logger.Error().Err(err).Str("container_id", c.ID).Msg("failed to destroy container")
		return fmt.Errorf("destroying container %s: %w", c.ID, err)
	}

	c.state = StateDestroyed
	m.logger.Debug().Str("container_id", c.ID).Msg("container destroyed")
	return nil
}

// CleanupOrphans force-removes sandbox containers left behind by previous
// crashed runs, matched by name prefix. Returns the number removed.
func CleanupOrphans(ctx context.Context, engine Engine) int {
	summaries, err := engine.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", containerNamePrefix)),
	})
	if err != nil {
		log.Warn().Err(err).Msg("orphan listing failed")
		return 0
	}

	removed := 0
	for _, s := range summaries {
		log.Warn().Str("container_id", s.ID).Msg("removing orphaned sandbox container")
		err := engine.ContainerRemove(ctx, s.ID, container.RemoveOptions{
			Force:         true,
			RemoveVolumes: true,
		})
		if err == nil || errdefs.IsNotFound(err) {
			removed++
		}
	}
	return removed
}

// ExecCommand runs argv inside an already-running container and returns
// (exit code, stdout, stderr). This is the long-lived GUI path's primitive:
// readiness probes, screenshot capture, and input injection all go through
// it. If ctx carries no deadline, the policy timeout applies.
func (m *Manager) ExecCommand(ctx context.Context, c *Container, argv []string, env []string, workdir string) (int, string, string, error) {
	if c == nil || c.state != StateRunning {
		return -1, "", "", ErrNotRunning
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.policy.Timeout)
		defer cancel()
	}

	created, err := m.engine.ContainerExecCreate(ctx, c.ID, container.ExecOptions{
		Cmd:          argv,
		Env:          env,
		WorkingDir:   workdir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return -1, "", "", fmt.Errorf("creating exec in %s: %w", c.ID, err)
	}

	attach, err := m.engine.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return -1, "", "", fmt.Errorf("attaching exec %s: %w", created.ID, err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil && ctx.Err() == nil {
		return -1, stdout.String(), stderr.String(), fmt.Errorf("reading exec output: %w", err)
	}
	if ctx.Err() != nil {
		return -1, stdout.String(), stderr.String(), ErrTimeout
	}

	exitCode, err := m.execExitCode(ctx, created.ID)
	if err != nil {
		return -1, stdout.String(), stderr.String(), err
	}
	return exitCode, stdout.String(), stderr.String(), nil
}

// execExitCode polls exec inspect until the process is reported finished.
// The attach stream closing almost always means it already is; the poll
// covers the small window where the engine has not recorded the exit yet.
func (m *Manager) execExitCode(ctx context.Context, execID string) (int, error) {
	for {
		inspect, err := m.engine.ContainerExecInspect(ctx, execID)
		if err != nil {
			return -1, fmt.Errorf("inspecting exec %s: %w", execID, err)
		}
		if !inspect.Running {
			return inspect.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return -1, ErrTimeout
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// TakeScreenshot captures the virtual display as PNG bytes: scrot writes to
// a fixed in-container path, and the file is streamed out via the engine's
// archive API. Empty bytes mean "unavailable", never fatal to the caller.
func (m *Manager) TakeScreenshot(ctx context.Context, c *Container, display string) []byte {
	exitCode, _, stderr, err := m.ExecCommand(ctx, c,
		[]string{"scrot", "-o", screenshotPath},
		[]string{"DISPLAY=" + display}, "")
	if err != nil {
		m.logger.Error().Err(err).Msg("screenshot capture failed")
		return nil
	}
	if exitCode != 0 {
		m.logger.Error().Int("exit_code", exitCode).Str("stderr", truncate(stderr, 300)).Msg("scrot failed")
		return nil
	}

	rc, _, err := m.engine.CopyFromContainer(ctx, c.ID, screenshotPath)
	if err != nil {
		m.logger.Error().Err(err).Msg("screenshot extraction failed")
		return nil
	}
	defer rc.Close()

	data, err := firstTarFile(rc)
	if err != nil {
		m.logger.Error().Err(err).Msg("screenshot archive read failed")
		return nil
	}
	return data
}

// firstTarFile reads the first regular file from a tar stream. The archive
// API wraps a single requested file, so one member is expected; if the
// stream ever carries more, the first is used (assumption, matching the
// engine's single-file copy semantics).
func firstTarFile(r io.Reader) ([]byte, error) {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("archive stream contained no regular file")
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag == tar.TypeReg {
			return io.ReadAll(tr)
		}
	}
}

// PutArchive streams a single file into the container at dir/name via an
// in-memory tar archive, no host-disk round trip.
func (m *Manager) PutArchive(ctx context.Context, c *Container, dir, name string, data []byte) error {
	if c == nil || c.state != StateRunning {
		return ErrNotRunning
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name: path.Base(name),
		Mode: 0o644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing tar header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("writing tar body: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing tar: %w", err)
	}

	if err := m.engine.CopyToContainer(ctx, c.ID, dir, &buf, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copying archive into %s: %w", c.ID, err)
	}
	return nil
}

// ExecuteUIAction is the atomic unit of GUI interaction: before-screenshot,
// mapped input injection, settle delay, after-screenshot. It never fails
// the whole call for a capture problem: screenshots degrade to empty, and
// Success reflects only the injected command's exit status.
func (m *Manager) ExecuteUIAction(ctx context.Context, c *Container, action UIAction, display string) UIActionResult {
	start := time.Now()

	before := m.TakeScreenshot(ctx, c, display)

	argv := XdotoolCommand(action)
	exitCode, _, stderr, err := m.ExecCommand(ctx, c, argv, []string{"DISPLAY=" + display}, "")

	errMsg := ""
	switch {
	case err != nil:
		exitCode = -1
		errMsg = err.Error()
	case exitCode != 0:
		errMsg = strings.TrimSpace(stderr)
	}

	time.Sleep(settleDelay)

	after := m.TakeScreenshot(ctx, c, display)

	duration := time.Since(start)
	m.logger.Info().
		Str("action", string(action.Kind)).
		Int("x", action.X).
		Int("y", action.Y).
		Int("exit_code", exitCode).
		Dur("duration", duration).
		Msg("ui action executed")

	return UIActionResult{
		Action:           action,
		Success:          err == nil && exitCode == 0,
		ScreenshotBefore: encodePNG(before),
		ScreenshotAfter:  encodePNG(after),
		Error:            errMsg,
		Duration:         duration,
	}
}

// encodePNG base64-encodes screenshot bytes for transport in LLM-facing
// result structures. Empty in, empty out.
func encodePNG(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "\n... [output truncated]"
}
