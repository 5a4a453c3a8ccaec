package api

import (
	"time"

	"agent-desk-sandbox/internal/sandbox"
)

// ExecuteRequest is the API-level request to run code in a fresh sandbox.
type ExecuteRequest struct {
	Code     string   `json:"code"`
	Language string   `json:"language"` // python, node, shell
	Timeout  Duration `json:"timeout,omitempty"`
}

// Duration wraps time.Duration for JSON marshaling as a string like "10s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// ExecuteResponse is returned after a code execution completes. ExitCode -1
// means the run did not complete normally (timeout or infrastructure
// failure); program failures keep their real exit code.
type ExecuteResponse struct {
	ID             string          `json:"id"`
	Stdout         string          `json:"stdout"`
	Stderr         string          `json:"stderr"`
	ExitCode       int             `json:"exit_code"`
	Duration       string          `json:"duration"`
	TimedOut       bool            `json:"timed_out,omitempty"`
	SecurityEvents []SecurityEvent `json:"security_events,omitempty"`
}

// SecurityEvent records suspicious content found in code or output.
type SecurityEvent struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
	Line   int    `json:"line,omitempty"`
}

// UIActionRequest carries one desktop action. The embedded action uses the
// sandbox package's wire shape directly.
type UIActionRequest struct {
	Action sandbox.UIAction `json:"action"`
}

// UIActionResponse mirrors the executor's result.
type UIActionResponse struct {
	Action           sandbox.UIAction `json:"action"`
	Success          bool             `json:"success"`
	ScreenshotBefore string           `json:"screenshot_before_b64,omitempty"`
	ScreenshotAfter  string           `json:"screenshot_after_b64,omitempty"`
	Error            string           `json:"error,omitempty"`
	Duration         string           `json:"duration"`
}

// UIPythonRequest runs a script inside the running desktop container.
type UIPythonRequest struct {
	Code string `json:"code"`
}

// UIPythonResponse is the exec outcome for a desktop-side script.
type UIPythonResponse struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// UIScreenshotResponse carries the display capture; an empty string means
// the screenshot was unavailable.
type UIScreenshotResponse struct {
	ScreenshotB64 string `json:"screenshot_b64"`
}

// UIStatusResponse reports the desktop container's lifecycle state.
type UIStatusResponse struct {
	Running      bool `json:"running"`
	DisplayReady bool `json:"display_ready"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status       string   `json:"status"`
	Engine       bool     `json:"engine"`
	UIRunning    bool     `json:"ui_running"`
	DisplayReady bool     `json:"display_ready"`
	Languages    []string `json:"languages"`
	Uptime       string   `json:"uptime"`
}
