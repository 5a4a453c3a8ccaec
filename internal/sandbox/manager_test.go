package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
)

func testPolicy() SecurityPolicy {
	return SecurityPolicy{
		NetworkMode: "none",
		MemoryBytes: 64 << 20,
		CPUs:        0.5,
		PidsLimit:   32,
		Timeout:     5 * time.Second,
	}
}

func newTestManager(f *fakeEngine) *Manager {
	return NewManager(context.Background(), f, "test-image:latest", testPolicy())
}

func mustRunning(t *testing.T, m *Manager) *Container {
	t.Helper()
	c, err := m.CreateContainer(context.Background(), []string{"sleep", "infinity"}, nil, nil)
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}
	if err := m.Start(context.Background(), c); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return c
}

func TestManagerLifecycle(t *testing.T) {
	f := newFakeEngine()
	f.waitExit = 0
	m := newTestManager(f)

	c, err := m.CreateContainer(context.Background(), []string{"python3", "/input/task.py"}, nil, nil)
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}
	if c.State() != StateCreated {
		t.Errorf("state = %v, want created", c.State())
	}

	if err := m.Start(context.Background(), c); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.State() != StateRunning {
		t.Errorf("state = %v, want running", c.State())
	}

	code, err := m.Wait(context.Background(), c, time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if c.State() != StateExited {
		t.Errorf("state = %v, want exited", c.State())
	}

	if err := m.Destroy(context.Background(), c); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if c.State() != StateDestroyed {
		t.Errorf("state = %v, want destroyed", c.State())
	}
	if len(f.removed) != 1 {
		t.Errorf("removed %d containers, want 1", len(f.removed))
	}
}

func TestWait_TimeoutKillsContainer(t *testing.T) {
	f := newFakeEngine()
	f.waitDelay = time.Minute // never completes within the test timeout
	m := newTestManager(f)
	c := mustRunning(t, m)

	code, err := m.Wait(context.Background(), c, 30*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if code != -1 {
		t.Errorf("exit code = %d, want -1 on timeout", code)
	}
	if len(f.killed) != 1 {
		t.Errorf("killed %d containers, want 1", len(f.killed))
	}
	if c.State() != StateKilled {
		t.Errorf("state = %v, want killed", c.State())
	}
}

func TestDestroy_Idempotent(t *testing.T) {
	f := newFakeEngine()
	m := newTestManager(f)
	c := mustRunning(t, m)

	if err := m.Destroy(context.Background(), c); err != nil {
		t.Fatalf("first Destroy: %v", err)
	}
	if err := m.Destroy(context.Background(), c); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}
	if len(f.removed) != 1 {
		t.Errorf("removed %d times, want 1 (second call is a no-op)", len(f.removed))
	}

	if err := m.Destroy(context.Background(), nil); err != nil {
		t.Errorf("Destroy(nil) = %v, want nil", err)
	}
}

func TestDestroy_AlreadyGoneIsSuccess(t *testing.T) {
	f := newFakeEngine()
	f.removeErr = notFoundErr{msg: "no such container"}
	m := newTestManager(f)
	c := mustRunning(t, m)

	if err := m.Destroy(context.Background(), c); err != nil {
		t.Fatalf("Destroy of missing container = %v, want nil", err)
	}
	if c.State() != StateDestroyed {
		t.Errorf("state = %v, want destroyed", c.State())
	}
}

func TestDestroy_ReturnsEngineError(t *testing.T) {
	f := newFakeEngine()
	f.removeErr = errors.New("daemon unreachable")
	m := newTestManager(f)
	c := mustRunning(t, m)

	if err := m.Destroy(context.Background(), c); err == nil {
		t.Fatal("expected error from failed removal")
	}
	if c.State() == StateDestroyed {
		t.Error("failed removal must not mark the handle destroyed")
	}
}

func TestLogs_Demux(t *testing.T) {
	f := newFakeEngine()
	f.logsStdout = "result line\n"
	f.logsStderr = "warning line\n"
	m := newTestManager(f)
	c := mustRunning(t, m)

	stdout, stderr, err := m.Logs(context.Background(), c)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if stdout != "result line\n" {
		t.Errorf("stdout = %q", stdout)
	}
	if stderr != "warning line\n" {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestExecCommand(t *testing.T) {
	f := newFakeEngine()
	f.execResults["echo"] = fakeExecResult{ExitCode: 0, Stdout: "hi\n"}
	m := newTestManager(f)
	c := mustRunning(t, m)

	code, stdout, stderr, err := m.ExecCommand(context.Background(), c, []string{"echo", "hi"}, nil, "")
	if err != nil {
		t.Fatalf("ExecCommand: %v", err)
	}
	if code != 0 || stdout != "hi\n" || stderr != "" {
		t.Errorf("got (%d, %q, %q)", code, stdout, stderr)
	}
}

func TestExecCommand_NotRunning(t *testing.T) {
	f := newFakeEngine()
	m := newTestManager(f)

	c, err := m.CreateContainer(context.Background(), nil, nil, nil)
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}
	// created but never started
	if _, _, _, err := m.ExecCommand(context.Background(), c, []string{"true"}, nil, ""); !errors.Is(err, ErrNotRunning) {
		t.Errorf("err = %v, want ErrNotRunning", err)
	}
	if _, _, _, err := m.ExecCommand(context.Background(), nil, []string{"true"}, nil, ""); !errors.Is(err, ErrNotRunning) {
		t.Errorf("nil container err = %v, want ErrNotRunning", err)
	}
}

func TestTakeScreenshot(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\nfakepixels")

	f := newFakeEngine()
	f.execResults["scrot"] = fakeExecResult{ExitCode: 0}
	f.copyFromFiles[screenshotPath] = png
	m := newTestManager(f)
	c := mustRunning(t, m)

	got := m.TakeScreenshot(context.Background(), c, ":99")
	if string(got) != string(png) {
		t.Errorf("screenshot bytes = %q, want %q", got, png)
	}
}

func TestTakeScreenshot_CaptureFailureYieldsEmpty(t *testing.T) {
	f := newFakeEngine()
	f.execResults["scrot"] = fakeExecResult{ExitCode: 2, Stderr: "giblib error: Can't open X display"}
	m := newTestManager(f)
	c := mustRunning(t, m)

	if got := m.TakeScreenshot(context.Background(), c, ":99"); len(got) != 0 {
		t.Errorf("screenshot = %d bytes, want empty on capture failure", len(got))
	}
}

func TestTakeScreenshot_ExtractionFailureYieldsEmpty(t *testing.T) {
	f := newFakeEngine()
	f.execResults["scrot"] = fakeExecResult{ExitCode: 0}
	f.copyFromErr = errors.New("stream reset")
	m := newTestManager(f)
	c := mustRunning(t, m)

	if got := m.TakeScreenshot(context.Background(), c, ":99"); len(got) != 0 {
		t.Errorf("screenshot = %d bytes, want empty on extraction failure", len(got))
	}
}

func TestPutArchive(t *testing.T) {
	f := newFakeEngine()
	m := newTestManager(f)
	c := mustRunning(t, m)

	script := []byte("print('hello')\n")
	if err := m.PutArchive(context.Background(), c, "/tmp", "task.py", script); err != nil {
		t.Fatalf("PutArchive: %v", err)
	}

	raw, ok := f.copiedTo["/tmp"]
	if !ok {
		t.Fatal("nothing copied to /tmp")
	}
	got, err := firstTarFile(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("reading produced tar: %v", err)
	}
	if string(got) != string(script) {
		t.Errorf("tar content = %q, want %q", got, script)
	}

	stopped := &Container{ID: "x", state: StateExited}
	if err := m.PutArchive(context.Background(), stopped, "/tmp", "f", nil); !errors.Is(err, ErrNotRunning) {
		t.Errorf("err = %v, want ErrNotRunning", err)
	}
}

func TestExecuteUIAction_Success(t *testing.T) {
	png := []byte("imagedata")

	f := newFakeEngine()
	f.execResults["scrot"] = fakeExecResult{ExitCode: 0}
	f.execResults["xdotool"] = fakeExecResult{ExitCode: 0}
	f.copyFromFiles[screenshotPath] = png
	m := newTestManager(f)
	c := mustRunning(t, m)

	res := m.ExecuteUIAction(context.Background(), c, UIAction{Kind: ActionClick, X: 10, Y: 20}, ":99")
	if !res.Success {
		t.Fatalf("Success = false, error = %q", res.Error)
	}
	want := base64.StdEncoding.EncodeToString(png)
	if res.ScreenshotBefore != want || res.ScreenshotAfter != want {
		t.Error("expected both before and after screenshots populated")
	}
	if res.Duration <= 0 {
		t.Error("Duration not recorded")
	}

	// exactly one scrot, then xdotool, then scrot again
	wantSeq := []string{"scrot", "xdotool", "scrot"}
	if len(f.execSeq) != len(wantSeq) {
		t.Fatalf("exec sequence = %v, want %v", f.execSeq, wantSeq)
	}
	for i, cmd := range wantSeq {
		if f.execSeq[i] != cmd {
			t.Errorf("exec[%d] = %q, want %q", i, f.execSeq[i], cmd)
		}
	}
}

func TestExecuteUIAction_FailureIsData(t *testing.T) {
	f := newFakeEngine()
	f.execResults["scrot"] = fakeExecResult{ExitCode: 0}
	f.execResults["xdotool"] = fakeExecResult{ExitCode: 1, Stderr: "unable to connect to display"}
	f.copyFromFiles[screenshotPath] = []byte("img")
	m := newTestManager(f)
	c := mustRunning(t, m)

	res := m.ExecuteUIAction(context.Background(), c, UIAction{Kind: ActionKey, Key: "Return"}, ":99")
	if res.Success {
		t.Error("Success = true for failed injection")
	}
	if res.Error != "unable to connect to display" {
		t.Errorf("Error = %q", res.Error)
	}
	// screenshots still captured around the failed action
	if res.ScreenshotBefore == "" || res.ScreenshotAfter == "" {
		t.Error("expected screenshots even when the action fails")
	}
}

func TestCleanupOrphans(t *testing.T) {
	f := newFakeEngine()
	f.listed = []container.Summary{
		{ID: "orphan-1", Names: []string{"/" + containerNamePrefix + "aaa"}},
		{ID: "orphan-2", Names: []string{"/" + containerNamePrefix + "bbb"}},
	}
	if got := CleanupOrphans(context.Background(), f); got != 2 {
		t.Errorf("CleanupOrphans = %d, want 2", got)
	}
	if len(f.removed) != 2 {
		t.Errorf("removed %d containers, want 2", len(f.removed))
	}
}

func TestVerifyImage_Missing(t *testing.T) {
	f := newFakeEngine()
	f.imageExists = false
	m := NewManager(context.Background(), f, "ghost:latest", testPolicy())

	if m.VerifyImage(context.Background()) {
		t.Error("VerifyImage = true for missing image")
	}
	// absence is advisory: creation still proceeds and fails at the engine
	if _, err := m.CreateContainer(context.Background(), nil, nil, nil); err != nil {
		t.Errorf("CreateContainer after missing image = %v, want engine-side decision", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 100); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	long := make([]byte, 50)
	for i := range long {
		long[i] = 'x'
	}
	got := truncate(string(long), 10)
	if len(got) <= 10 {
		t.Error("expected truncation marker appended")
	}
	if got[:10] != "xxxxxxxxxx" {
		t.Errorf("truncate prefix = %q", got[:10])
	}
}
