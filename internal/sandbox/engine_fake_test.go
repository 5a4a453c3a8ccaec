package sandbox

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// notFoundErr mimics the engine's not-found errors (errdefs.IsNotFound).
type notFoundErr struct{ msg string }

func (e notFoundErr) Error() string { return e.msg }
func (e notFoundErr) NotFound()     {}

// fakeExecResult scripts one exec invocation keyed by argv[0].
type fakeExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// fakeEngine is an in-memory stand-in for the Docker daemon. It scripts
// responses per operation and records every call for assertions.
type fakeEngine struct {
	mu sync.Mutex

	imageExists bool

	createErr error
	startErr  error

	waitExit  int64
	waitDelay time.Duration

	logsStdout string
	logsStderr string

	execResults map[string]fakeExecResult // keyed by argv[0]
	execDefault fakeExecResult
	execSeq     []string // argv[0] of each exec, in order

	copyFromFiles map[string][]byte // srcPath -> file content
	copyFromErr   error
	copiedTo      map[string][]byte // dstPath -> raw tar stream

	created   []string
	started   []string
	killed    []string
	removed   []string
	removeErr error

	listed []container.Summary

	execCmds   map[string][]string // execID -> argv
	nextExecID int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		imageExists:   true,
		execResults:   map[string]fakeExecResult{},
		copyFromFiles: map[string][]byte{},
		copiedTo:      map[string][]byte{},
		execCmds:      map[string][]string{},
	}
}

func (f *fakeEngine) ImageInspect(_ context.Context, imageID string, _ ...client.ImageInspectOption) (image.InspectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.imageExists {
		return image.InspectResponse{}, notFoundErr{msg: "no such image: " + imageID}
	}
	return image.InspectResponse{ID: "sha256:deadbeef"}, nil
}

func (f *fakeEngine) ContainerCreate(_ context.Context, _ *container.Config, _ *container.HostConfig,
	_ *network.NetworkingConfig, _ *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	id := "ctr-" + containerName
	f.created = append(f.created, id)
	return container.CreateResponse{ID: id}, nil
}

func (f *fakeEngine) ContainerStart(_ context.Context, containerID string, _ container.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, containerID)
	return nil
}

func (f *fakeEngine) ContainerWait(ctx context.Context, _ string, _ container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	respCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	go func() {
		select {
		case <-time.After(f.waitDelay):
			respCh <- container.WaitResponse{StatusCode: f.waitExit}
		case <-ctx.Done():
			errCh <- ctx.Err()
		}
	}()
	return respCh, errCh
}

func (f *fakeEngine) ContainerLogs(_ context.Context, _ string, _ container.LogsOptions) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(muxStreams(f.logsStdout, f.logsStderr))), nil
}

func (f *fakeEngine) ContainerKill(_ context.Context, containerID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, containerID)
	return nil
}

func (f *fakeEngine) ContainerRemove(_ context.Context, containerID string, _ container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, containerID)
	return nil
}

func (f *fakeEngine) ContainerList(_ context.Context, _ container.ListOptions) ([]container.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listed, nil
}

func (f *fakeEngine) ContainerExecCreate(_ context.Context, _ string, options container.ExecOptions) (container.ExecCreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextExecID++
	id := "exec-" + string(rune('a'+f.nextExecID%26)) + time.Now().Format("150405.000000000")
	f.execCmds[id] = options.Cmd
	if len(options.Cmd) > 0 {
		f.execSeq = append(f.execSeq, options.Cmd[0])
	}
	return container.ExecCreateResponse{ID: id}, nil
}

func (f *fakeEngine) resultFor(execID string) fakeExecResult {
	argv := f.execCmds[execID]
	if len(argv) > 0 {
		if r, ok := f.execResults[argv[0]]; ok {
			return r
		}
	}
	return f.execDefault
}

func (f *fakeEngine) ContainerExecAttach(_ context.Context, execID string, _ container.ExecAttachOptions) (types.HijackedResponse, error) {
	f.mu.Lock()
	r := f.resultFor(execID)
	f.mu.Unlock()

	conn, _ := net.Pipe()
	return types.HijackedResponse{
		Conn:   conn,
		Reader: bufio.NewReader(bytes.NewReader(muxStreams(r.Stdout, r.Stderr))),
	}, nil
}

func (f *fakeEngine) ContainerExecInspect(_ context.Context, execID string) (container.ExecInspect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.resultFor(execID)
	return container.ExecInspect{ExecID: execID, Running: false, ExitCode: r.ExitCode}, nil
}

func (f *fakeEngine) CopyFromContainer(_ context.Context, _ string, srcPath string) (io.ReadCloser, container.PathStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.copyFromErr != nil {
		return nil, container.PathStat{}, f.copyFromErr
	}
	content, ok := f.copyFromFiles[srcPath]
	if !ok {
		return nil, container.PathStat{}, notFoundErr{msg: "no such path: " + srcPath}
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	_ = tw.WriteHeader(&tar.Header{Name: "screen.png", Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg})
	_, _ = tw.Write(content)
	_ = tw.Close()
	return io.NopCloser(&buf), container.PathStat{Name: "screen.png", Size: int64(len(content))}, nil
}

func (f *fakeEngine) CopyToContainer(_ context.Context, _ string, dstPath string, content io.Reader, _ container.CopyToContainerOptions) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copiedTo[dstPath] = data
	return nil
}

// muxStreams frames stdout/stderr the way the engine's attach and log
// endpoints do, so stdcopy can demux them on the other side.
func muxStreams(stdout, stderr string) []byte {
	var buf bytes.Buffer
	if stdout != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(stdout))
	}
	if stderr != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(stderr))
	}
	return buf.Bytes()
}
