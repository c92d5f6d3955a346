package docker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

type createCall struct {
	name       string
	config     *container.Config
	hostConfig *container.HostConfig
}

// fakeAPI is an in-memory ContainerAPI recording every call.
type fakeAPI struct {
	mu sync.Mutex

	images     map[string]bool
	containers []types.Container
	exitCode   int64
	waitErr    error
	stdout     string
	stderr     string
	attachOut  string

	pulled     []string
	created    []createCall
	started    []string
	stopped    []string
	removed    []string
	logOptions []types.ContainerLogsOptions
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{images: map[string]bool{}}
}

func (f *fakeAPI) Ping(context.Context) (types.Ping, error) { return types.Ping{}, nil }

func (f *fakeAPI) ImageInspectWithRaw(_ context.Context, image string) (types.ImageInspect, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.images[image] {
		return types.ImageInspect{ID: image}, nil, nil
	}
	return types.ImageInspect{}, nil, errdefs.NotFound(errors.New("no such image: " + image))
}

func (f *fakeAPI) ImagePull(_ context.Context, ref string, _ types.ImagePullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	f.pulled = append(f.pulled, ref)
	f.images[ref] = true
	f.mu.Unlock()
	return io.NopCloser(strings.NewReader(`{"status":"Digest: sha256:abc"}` + "\n")), nil
}

func (f *fakeAPI) ContainerCreate(
	_ context.Context,
	config *container.Config,
	hostConfig *container.HostConfig,
	_ *network.NetworkingConfig,
	_ *v1.Platform,
	name string,
) (container.ContainerCreateCreatedBody, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, createCall{name: name, config: config, hostConfig: hostConfig})
	return container.ContainerCreateCreatedBody{ID: "c" + string(rune('0'+len(f.created)))}, nil
}

func (f *fakeAPI) ContainerStart(_ context.Context, id string, _ types.ContainerStartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, id)
	return nil
}

func (f *fakeAPI) ContainerAttach(context.Context, string, types.ContainerAttachOptions) (types.HijackedResponse, error) {
	local, remote := net.Pipe()
	go func() { _ = remote.Close() }()
	return types.HijackedResponse{
		Conn:   local,
		Reader: bufio.NewReader(strings.NewReader(f.attachOut)),
	}, nil
}

func (f *fakeAPI) ContainerResize(context.Context, string, types.ResizeOptions) error { return nil }

func (f *fakeAPI) ContainerWait(
	context.Context,
	string,
	container.WaitCondition,
) (<-chan container.ContainerWaitOKBody, <-chan error) {
	statusCh := make(chan container.ContainerWaitOKBody, 1)
	errCh := make(chan error, 1)
	if f.waitErr != nil {
		errCh <- f.waitErr
	} else {
		statusCh <- container.ContainerWaitOKBody{StatusCode: f.exitCode}
	}
	return statusCh, errCh
}

func (f *fakeAPI) ContainerInspect(_ context.Context, id string) (types.ContainerJSON, error) {
	return types.ContainerJSON{ContainerJSONBase: &types.ContainerJSONBase{ID: id}}, nil
}

func (f *fakeAPI) ContainerLogs(_ context.Context, _ string, options types.ContainerLogsOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	f.logOptions = append(f.logOptions, options)
	f.mu.Unlock()

	var buf bytes.Buffer
	if options.ShowStdout && f.stdout != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout))
	}
	if options.ShowStderr && f.stderr != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	}
	return io.NopCloser(&buf), nil
}

func (f *fakeAPI) ContainerStop(_ context.Context, id string, _ *time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeAPI) ContainerRemove(_ context.Context, id string, _ types.ContainerRemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeAPI) ContainerList(context.Context, types.ContainerListOptions) ([]types.Container, error) {
	return f.containers, nil
}

func (f *fakeAPI) Close() error { return nil }
