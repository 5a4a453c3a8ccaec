package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"agent-desk-sandbox/internal/config"
	"agent-desk-sandbox/internal/monitor"
	"agent-desk-sandbox/internal/runtime"
	"agent-desk-sandbox/internal/sandbox"
)

// Handlers owns one CodeExecutor per supported language plus the single
// long-lived UIExecutor. UI access is serialized under uiMu: actions
// depend on the display state the previous one left behind.
type Handlers struct {
	executors map[string]*sandbox.CodeExecutor
	registry  *runtime.Registry
	metrics   *monitor.Metrics
	detector  *monitor.EscapeDetector
	tracer    *monitor.Tracer
	maxCode   int64

	uiMu   sync.Mutex
	uiExec *sandbox.UIExecutor
}

// NewHandlers wires executors for every registered language and the UI
// executor, all against the same engine connection.
func NewHandlers(ctx context.Context, engine sandbox.Engine, cfg *config.Config, metrics *monitor.Metrics) *Handlers {
	registry := runtime.NewRegistry()

	codePolicy := sandbox.CodePolicy()
	codePolicy.MemoryBytes = cfg.Sandbox.MemoryBytes()
	codePolicy.CPUs = cfg.Sandbox.CPUs
	codePolicy.PidsLimit = cfg.Sandbox.PidsLimit
	codePolicy.Timeout = cfg.Sandbox.Timeout

	executors := make(map[string]*sandbox.CodeExecutor)
	for _, lang := range registry.Languages() {
		rt, err := registry.Get(lang)
		if err != nil {
			continue
		}
		executors[lang] = sandbox.NewCodeExecutor(ctx, engine, rt, codePolicy)
	}

	uiExec := sandbox.NewUIExecutor(ctx, engine, sandbox.UIExecutorConfig{
		Image:        cfg.UI.Image,
		Display:      cfg.UI.Display,
		ScreenWidth:  cfg.UI.ScreenWidth,
		ScreenHeight: cfg.UI.ScreenHeight,
	}, sandbox.UIPolicy(cfg.UI.NetworkEnabled))

	return &Handlers{
		executors: executors,
		registry:  registry,
		metrics:   metrics,
		detector:  monitor.NewEscapeDetector(),
		tracer:    monitor.NewTracer(),
		maxCode:   cfg.Sandbox.MaxCode,
		uiExec:    uiExec,
	}
}

// HandleExecute runs code to completion in a fresh ephemeral container.
func (h *Handlers) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.Language == "" {
		writeError(w, "language is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.Code == "" {
		writeError(w, "code is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if int64(len(req.Code)) > h.maxCode {
		writeError(w, "code exceeds size limit", "CODE_TOO_LARGE", http.StatusBadRequest, r)
		return
	}

	executor, ok := h.executors[req.Language]
	if !ok {
		writeError(w, "unsupported language: "+req.Language, "UNSUPPORTED_LANGUAGE", http.StatusBadRequest, r)
		return
	}

	h.metrics.CodeSizeBytes.Observe(float64(len(req.Code)))

	codeDetections := h.detector.AnalyzeCode(req.Code)
	for _, d := range codeDetections {
		h.metrics.RecordSecurityEvent(d.Pattern)
	}

	ctx := r.Context()
	if req.Timeout.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout.Duration)
		defer cancel()
	}

	ctx, span := h.tracer.StartSpan(ctx, "execute",
		monitor.AttrLanguage.String(req.Language))
	defer span.End()

	h.metrics.ActiveExecutions.Inc()
	defer h.metrics.ActiveExecutions.Dec()

	start := time.Now()
	result, err := executor.Execute(ctx, req.Code)
	duration := time.Since(start)

	status := "success"
	timedOut := false
	switch {
	case err == nil:
	case errors.Is(err, sandbox.ErrTimeout):
		status = "timeout"
		timedOut = true
	case errors.Is(err, sandbox.ErrInvalidRequest):
		h.metrics.RecordExecution(req.Language, "validation", duration.Seconds())
		writeError(w, err.Error(), "VALIDATION_ERROR", http.StatusBadRequest, r)
		return
	default:
		status = "error"
	}
	h.metrics.RecordExecution(req.Language, status, duration.Seconds())

	if result == nil {
		h.metrics.RecordError("internal")
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("execution failed")
		writeError(w, "execution failed", "EXECUTION_FAILED", http.StatusInternalServerError, r)
		return
	}

	span.SetAttributes(
		monitor.AttrExecID.String(result.ID),
		monitor.AttrExitCode.Int(result.ExitCode),
		monitor.AttrDurationMS.Int64(result.Duration.Milliseconds()),
	)

	events := make([]SecurityEvent, 0, len(codeDetections))
	for _, d := range codeDetections {
		events = append(events, SecurityEvent{Type: d.Pattern, Detail: d.Detail, Line: d.Line})
	}
	for _, d := range h.detector.AnalyzeOutput(result.Stdout + result.Stderr) {
		h.metrics.RecordSecurityEvent(d.Pattern)
		events = append(events, SecurityEvent{Type: d.Pattern, Detail: d.Detail})
	}

	h.metrics.OutputSizeBytes.Observe(float64(len(result.Stdout) + len(result.Stderr)))

	writeJSON(w, http.StatusOK, ExecuteResponse{
		ID:             result.ID,
		Stdout:         result.Stdout,
		Stderr:         result.Stderr,
		ExitCode:       result.ExitCode,
		Duration:       result.Duration.String(),
		TimedOut:       timedOut,
		SecurityEvents: events,
	})
}

// HandleUIStart boots the desktop container; idempotent while running.
func (h *Handlers) HandleUIStart(w http.ResponseWriter, r *http.Request) {
	h.uiMu.Lock()
	defer h.uiMu.Unlock()

	if err := h.uiExec.Start(r.Context()); err != nil {
		h.metrics.RecordError("ui_start")
		writeError(w, err.Error(), "UI_START_FAILED", http.StatusServiceUnavailable, r)
		return
	}
	h.metrics.SetDisplayReady(h.uiExec.Ready())

	writeJSON(w, http.StatusOK, UIStatusResponse{
		Running:      h.uiExec.Running(),
		DisplayReady: h.uiExec.Ready(),
	})
}

// HandleUIAct executes one desktop action with before/after screenshots.
func (h *Handlers) HandleUIAct(w http.ResponseWriter, r *http.Request) {
	var req UIActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	h.uiMu.Lock()
	defer h.uiMu.Unlock()

	ctx, span := h.tracer.StartSpan(r.Context(), "ui.act",
		monitor.AttrActionKind.String(string(req.Action.Kind)))
	defer span.End()

	result, err := h.uiExec.Act(ctx, req.Action)
	if err != nil {
		switch {
		case sandbox.IsNotRunning(err):
			writeError(w, err.Error(), "UI_NOT_RUNNING", http.StatusConflict, r)
		case errors.Is(err, sandbox.ErrInvalidRequest):
			writeError(w, err.Error(), "INVALID_ACTION", http.StatusBadRequest, r)
		default:
			writeError(w, err.Error(), "UI_ACTION_FAILED", http.StatusInternalServerError, r)
		}
		return
	}

	status := "success"
	if !result.Success {
		status = "failure"
	}
	h.metrics.RecordUIAction(string(req.Action.Kind), status, result.Duration.Seconds())

	writeJSON(w, http.StatusOK, UIActionResponse{
		Action:           result.Action,
		Success:          result.Success,
		ScreenshotBefore: result.ScreenshotBefore,
		ScreenshotAfter:  result.ScreenshotAfter,
		Error:            result.Error,
		Duration:         result.Duration.String(),
	})
}

// HandleUIPython runs a script inside the desktop container via the
// archive-streaming path.
func (h *Handlers) HandleUIPython(w http.ResponseWriter, r *http.Request) {
	var req UIPythonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.Code == "" {
		writeError(w, "code is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	for _, d := range h.detector.AnalyzeCode(req.Code) {
		h.metrics.RecordSecurityEvent(d.Pattern)
	}

	h.uiMu.Lock()
	defer h.uiMu.Unlock()

	exitCode, stdout, stderr, err := h.uiExec.ExecPython(r.Context(), req.Code)
	if err != nil {
		if sandbox.IsNotRunning(err) {
			writeError(w, err.Error(), "UI_NOT_RUNNING", http.StatusConflict, r)
			return
		}
		h.metrics.RecordError("ui_python")
		writeError(w, err.Error(), "UI_PYTHON_FAILED", http.StatusInternalServerError, r)
		return
	}

	writeJSON(w, http.StatusOK, UIPythonResponse{
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
	})
}

// HandleUIScreenshot captures the current display.
func (h *Handlers) HandleUIScreenshot(w http.ResponseWriter, r *http.Request) {
	h.uiMu.Lock()
	defer h.uiMu.Unlock()

	state, err := h.uiExec.GUIState(r.Context())
	if err != nil {
		writeError(w, err.Error(), "UI_NOT_RUNNING", http.StatusConflict, r)
		return
	}

	if state.ScreenshotB64 == "" {
		h.metrics.RecordScreenshot("empty")
	} else {
		h.metrics.RecordScreenshot("ok")
	}

	writeJSON(w, http.StatusOK, UIScreenshotResponse{ScreenshotB64: state.ScreenshotB64})
}

// HandleUIState returns the full display snapshot: screenshot plus
// geometry.
func (h *Handlers) HandleUIState(w http.ResponseWriter, r *http.Request) {
	h.uiMu.Lock()
	defer h.uiMu.Unlock()

	state, err := h.uiExec.GUIState(r.Context())
	if err != nil {
		writeError(w, err.Error(), "UI_NOT_RUNNING", http.StatusConflict, r)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// HandleUIStop destroys the desktop container. Destroy failure is reported
// but the executor is reset either way.
func (h *Handlers) HandleUIStop(w http.ResponseWriter, r *http.Request) {
	h.uiMu.Lock()
	defer h.uiMu.Unlock()

	if err := h.uiExec.Stop(r.Context()); err != nil {
		h.metrics.RecordError("ui_stop")
	}
	h.metrics.SetDisplayReady(false)

	writeJSON(w, http.StatusOK, UIStatusResponse{
		Running:      h.uiExec.Running(),
		DisplayReady: h.uiExec.Ready(),
	})
}

// UIStatus reports the desktop state for health checks.
func (h *Handlers) UIStatus() (running, ready bool) {
	h.uiMu.Lock()
	defer h.uiMu.Unlock()
	return h.uiExec.Running(), h.uiExec.Ready()
}

// StopUI tears the desktop container down; used on server shutdown.
func (h *Handlers) StopUI(ctx context.Context) error {
	h.uiMu.Lock()
	defer h.uiMu.Unlock()
	return h.uiExec.Stop(ctx)
}

// Languages lists the supported one-shot execution languages.
func (h *Handlers) Languages() []string {
	return h.registry.Languages()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
