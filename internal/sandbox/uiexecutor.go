package sandbox

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// uiScriptPath is where ExecPython places scripts inside the
	// container.
	uiScriptPath = "/tmp/desk_task.py"

	readinessPoll   = 500 * time.Millisecond
	readinessBudget = 10 * time.Second
)

// UIExecutorConfig describes the virtual-desktop container.
type UIExecutorConfig struct {
	Image        string
	Display      string
	ScreenWidth  int
	ScreenHeight int
}

func (c *UIExecutorConfig) applyDefaults() {
	if c.Display == "" {
		c.Display = ":99"
	}
	if c.ScreenWidth == 0 {
		c.ScreenWidth = 1280
	}
	if c.ScreenHeight == 0 {
		c.ScreenHeight = 800
	}
}

// UIExecutor owns one long-lived virtual-desktop container across many
// discrete UI actions. Unlike CodeExecutor's fire-and-forget containers,
// this one persists because Xvfb and browser state must survive between
// steps. Not safe for concurrent Act calls: each action depends on the
// display state the previous one left, so the owner serializes access.
//
// Lifecycle: stopped → starting → ready → (acting)* → stopping → stopped.
type UIExecutor struct {
	manager *Manager
	cfg     UIExecutorConfig

	container    *Container
	displayReady bool

	probeInterval time.Duration
	probeBudget   time.Duration
}

// NewUIExecutor builds a UI executor under the given (usually UIPolicy)
// policy. Nothing is created until Start.
func NewUIExecutor(ctx context.Context, engine Engine, cfg UIExecutorConfig, policy SecurityPolicy) *UIExecutor {
	cfg.applyDefaults()
	return &UIExecutor{
		manager:       NewManager(ctx, engine, cfg.Image, policy),
		cfg:           cfg,
		probeInterval: readinessPoll,
		probeBudget:   readinessBudget,
	}
}

// Start creates and starts the desktop container. The image entrypoint
// boots Xvfb plus a window manager and then idles awaiting exec calls, so
// no command override is passed. A readiness probe polls the display; if
// the budget is exhausted the executor stays usable and later actions fail
// individually with the non-readiness attributed in their error.
func (e *UIExecutor) Start(ctx context.Context) error {
	if e.container != nil {
		return nil
	}

	env := []string{
		"DISPLAY=" + e.cfg.Display,
		"SCREEN_WIDTH=" + strconv.Itoa(e.cfg.ScreenWidth),
		"SCREEN_HEIGHT=" + strconv.Itoa(e.cfg.ScreenHeight),
	}

	c, err := e.manager.CreateContainer(ctx, nil, nil, env)
	if err != nil {
		return &OpError{Op: "create_ui_container", Err: err}
	}
	if err := e.manager.Start(ctx, c); err != nil {
		destroyCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = e.manager.Destroy(destroyCtx, c)
		return &OpError{Op: "start_ui_container", Err: err}
	}
	e.container = c

	e.displayReady = e.probeDisplay(ctx)
	if !e.displayReady {
		log.Warn().
			Str("display", e.cfg.Display).
			Dur("budget", e.probeBudget).
			Msg("virtual display did not become ready; actions will fail individually")
	}
	return nil
}

// probeDisplay polls xdpyinfo until the display answers or the budget runs
// out.
func (e *UIExecutor) probeDisplay(ctx context.Context) bool {
	deadline := time.Now().Add(e.probeBudget)
	for time.Now().Before(deadline) {
		exitCode, _, _, err := e.manager.ExecCommand(ctx, e.container,
			[]string{"xdpyinfo", "-display", e.cfg.Display},
			[]string{"DISPLAY=" + e.cfg.Display}, "")
		if err == nil && exitCode == 0 {
			log.Info().Str("display", e.cfg.Display).Msg("virtual display ready")
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(e.probeInterval):
		}
	}
	return false
}

// Act executes one UIAction and returns the before/after result. The only
// error it raises is ErrNotRunning; everything downstream is encoded in
// the result.
func (e *UIExecutor) Act(ctx context.Context, action UIAction) (UIActionResult, error) {
	if e.container == nil {
		return UIActionResult{}, fmt.Errorf("%w: call Start first", ErrNotRunning)
	}
	if err := action.Validate(); err != nil {
		return UIActionResult{}, err
	}

	result := e.manager.ExecuteUIAction(ctx, e.container, action, e.cfg.Display)
	if !result.Success && !e.displayReady && result.Error != "" {
		result.Error = "display was never ready: " + result.Error
	}
	return result, nil
}

// Screenshot returns the current display as raw PNG bytes; empty means
// unavailable.
func (e *UIExecutor) Screenshot(ctx context.Context) ([]byte, error) {
	if e.container == nil {
		return nil, fmt.Errorf("%w: call Start first", ErrNotRunning)
	}
	return e.manager.TakeScreenshot(ctx, e.container, e.cfg.Display), nil
}

// ExecPython streams a script into the running container through an
// in-memory archive and executes it, the hybrid path for browser
// automation that needs the interpreter without the one-shot lifecycle.
func (e *UIExecutor) ExecPython(ctx context.Context, code string) (int, string, string, error) {
	if e.container == nil {
		return -1, "", "", fmt.Errorf("%w: call Start first", ErrNotRunning)
	}

	if err := e.manager.PutArchive(ctx, e.container, "/tmp", uiScriptPath, []byte(code)); err != nil {
		return -1, "", "", &OpError{Op: "put_script", Err: err}
	}

	return e.manager.ExecCommand(ctx, e.container,
		[]string{"python3", uiScriptPath},
		[]string{"DISPLAY=" + e.cfg.Display}, "")
}

// GUIState snapshots the display: screenshot plus geometry. Element and
// vision analysis happen upstream.
func (e *UIExecutor) GUIState(ctx context.Context) (GUIState, error) {
	shot, err := e.Screenshot(ctx)
	if err != nil {
		return GUIState{}, err
	}
	return GUIState{
		ScreenshotB64: encodePNG(shot),
		ScreenWidth:   e.cfg.ScreenWidth,
		ScreenHeight:  e.cfg.ScreenHeight,
		Display:       e.cfg.Display,
	}, nil
}

// Ready reports whether the display readiness probe ever succeeded.
func (e *UIExecutor) Ready() bool { return e.displayReady }

// Running reports whether the desktop container exists.
func (e *UIExecutor) Running() bool { return e.container != nil }

// Stop destroys the desktop container. A no-op when never started.
func (e *UIExecutor) Stop(ctx context.Context) error {
	if e.container == nil {
		return nil
	}
	err := e.manager.Destroy(ctx, e.container)
	e.container = nil
	e.displayReady = false
	if err != nil {
		log.Error().Err(err).Msg("ui container destroy failed")
	}
	return err
}

// Session pairs Start and Stop around fn so the container cannot leak.
func (e *UIExecutor) Session(ctx context.Context, fn func(*UIExecutor) error) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = e.Stop(stopCtx)
	}()
	return fn(e)
}
