package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"agent-desk-sandbox/internal/runtime"
)

// codeMountDir is where the host code file is bind-mounted, read-only.
const codeMountDir = "/input"

// ExecutionResult is the outcome of exactly one code execution attempt.
// ExitCode -1 is reserved for "did not complete normally": timeout or
// infrastructure failure, never a real program status.
type ExecutionResult struct {
	ID       string        `json:"id"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// CodeExecutor runs a single source string to completion in a fresh
// ephemeral container: created → started → waited → logs → destroyed, with
// destruction guaranteed on every exit path. One call is one attempt;
// retry policy belongs to the caller.
type CodeExecutor struct {
	manager *Manager
	rt      runtime.Runtime
}

// NewCodeExecutor builds an executor for one language runtime under the
// given policy (nil-safe default: the strict code preset via CodePolicy is
// the caller's usual choice).
func NewCodeExecutor(ctx context.Context, engine Engine, rt runtime.Runtime, policy SecurityPolicy) *CodeExecutor {
	return &CodeExecutor{
		manager: NewManager(ctx, engine, rt.Image(), policy),
		rt:      rt,
	}
}

// Execute runs code in a fresh sandbox and returns the captured output.
// Program failure (non-zero exit) is data, not an error. A timeout yields
// a result with ExitCode -1 and ErrTimeout for callers that care to
// distinguish it; the container is destroyed before return either way.
func (e *CodeExecutor) Execute(ctx context.Context, code string) (*ExecutionResult, error) {
	execID := uuid.New().String()
	logger := log.With().
		Str("exec_id", execID).
		Str("language", e.rt.Name()).
		Logger()

	if err := e.rt.Validate(code); err != nil {
		return nil, &OpError{ExecID: execID, Op: "validate", Err: fmt.Errorf("%w: %s", ErrInvalidRequest, err)}
	}

	hostDir, err := os.MkdirTemp("", "desk-sandbox-"+execID+"-*")
	if err != nil {
		return nil, &OpError{ExecID: execID, Op: "create_temp_dir", Err: err}
	}
	defer os.RemoveAll(hostDir)

	fileName := "task" + e.rt.FileExtension()
	hostCodePath := filepath.Join(hostDir, fileName)
	if err := os.WriteFile(hostCodePath, []byte(code), 0o600); err != nil {
		return nil, &OpError{ExecID: execID, Op: "write_code", Err: err}
	}
	if err := os.Chmod(hostCodePath, 0o444); err != nil { // #nosec G302 -- container runs as nobody
		return nil, &OpError{ExecID: execID, Op: "chmod_code", Err: err}
	}

	codePath := codeMountDir + "/" + fileName
	binds := []string{fmt.Sprintf("%s:%s:ro", hostCodePath, codePath)}

	c, err := e.manager.CreateContainer(ctx, e.rt.Command(codePath), binds, []string{
		"LANG=C.UTF-8",
		"SANDBOX=true",
	})
	if err != nil {
		return nil, &OpError{ExecID: execID, Op: "create_container", Err: err}
	}
	// The container is destroyed on every exit path. Destroy failure is
	// logged inside the manager and must never mask the result.
	defer func() {
		destroyCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = e.manager.Destroy(destroyCtx, c)
	}()

	start := time.Now()

	if err := e.manager.Start(ctx, c); err != nil {
		return nil, &OpError{ExecID: execID, Op: "start_container", Err: err}
	}

	exitCode, waitErr := e.manager.Wait(ctx, c, e.manager.Policy().Timeout)

	stdout, stderr, logErr := e.manager.Logs(ctx, c)
	if logErr != nil {
		logger.Warn().Err(logErr).Msg("log capture incomplete")
	}

	duration := time.Since(start)

	result := &ExecutionResult{
		ID:       execID,
		Stdout:   truncate(stdout, 1<<20),
		Stderr:   truncate(stderr, 256<<10),
		ExitCode: exitCode,
		Duration: duration,
	}

	if waitErr != nil {
		if IsTimeout(waitErr) {
			logger.Warn().Dur("duration", duration).Msg("execution timed out")
			return result, ErrTimeout
		}
		return result, &OpError{ExecID: execID, Op: "wait", Err: waitErr}
	}

	logger.Info().
		Int("exit_code", exitCode).
		Dur("duration", duration).
		Msg("execution completed")

	return result, nil
}
