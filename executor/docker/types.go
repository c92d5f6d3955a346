package docker

import (
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"

	"gitlab.com/lmn-dev/lmn/models"
	"gitlab.com/lmn-dev/lmn/utils/validate"
)

const (
	labelProject = "lmn.project"
	labelUser    = "lmn.user"
)

// ContainerSpec is everything needed to create one container.
type ContainerSpec struct {
	Name       string
	Config     *container.Config
	HostConfig *container.HostConfig
}

// Validate checks if the spec can be created.
func (s ContainerSpec) Validate() error {
	if s.Config == nil || validate.IsBlank(s.Config.Image) {
		return fmt.Errorf("invalid container spec: image cannot be empty")
	}
	if len(s.Config.Cmd) == 0 {
		return fmt.Errorf("invalid container spec: command cannot be empty")
	}
	return nil
}

// ContainerSpecBuilder constructs a ContainerSpec using the builder pattern.
type ContainerSpecBuilder struct {
	spec ContainerSpec
}

// NewContainerSpecBuilder starts a spec for image.
func NewContainerSpecBuilder(image string) *ContainerSpecBuilder {
	return &ContainerSpecBuilder{spec: ContainerSpec{
		Config:     &container.Config{Image: image, Labels: map[string]string{}},
		HostConfig: &container.HostConfig{},
	}}
}

// WithName sets the container name.
func (b *ContainerSpecBuilder) WithName(name string) *ContainerSpecBuilder {
	b.spec.Name = name
	return b
}

// WithShellCommand runs cmd through bash -c.
func (b *ContainerSpecBuilder) WithShellCommand(cmd string) *ContainerSpecBuilder {
	b.spec.Config.Cmd = []string{"/bin/bash", "-c", cmd}
	return b
}

// WithEnv sets the environment, keeping the map order.
func (b *ContainerSpecBuilder) WithEnv(env *models.EnvMap) *ContainerSpecBuilder {
	b.spec.Config.Env = env.List()
	return b
}

// WithWorkingDirectory sets the working directory inside the container.
func (b *ContainerSpecBuilder) WithWorkingDirectory(dir string) *ContainerSpecBuilder {
	b.spec.Config.WorkingDir = dir
	return b
}

// WithUser runs the command as uid:gid.
func (b *ContainerSpecBuilder) WithUser(user string) *ContainerSpecBuilder {
	b.spec.Config.User = user
	return b
}

// WithBinds adds one bind mount per entry.
func (b *ContainerSpecBuilder) WithBinds(binds ...models.Bind) *ContainerSpecBuilder {
	for _, bind := range binds {
		b.spec.HostConfig.Mounts = append(b.spec.HostConfig.Mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: bind.Source,
			Target: bind.Target,
		})
	}
	return b
}

// WithTTY allocates a terminal. With interactive set, stdin is attached and kept open.
func (b *ContainerSpecBuilder) WithTTY(tty, interactive bool) *ContainerSpecBuilder {
	c := b.spec.Config
	c.Tty = tty
	c.OpenStdin = true
	if interactive {
		c.AttachStdin = true
		c.AttachStdout = true
		c.AttachStderr = true
		c.StdinOnce = true
	}
	return b
}

// WithGPUs requests GPUs: "all", a count, or a comma separated device list.
func (b *ContainerSpecBuilder) WithGPUs(gpus string) *ContainerSpecBuilder {
	if req, ok := gpuRequest(gpus); ok {
		b.spec.HostConfig.DeviceRequests = append(b.spec.HostConfig.DeviceRequests, req)
	}
	return b
}

// WithHostOptions applies removal, network, IPC and runtime settings.
func (b *ContainerSpecBuilder) WithHostOptions(remove bool, networkMode, ipcMode, runtime string) *ContainerSpecBuilder {
	h := b.spec.HostConfig
	h.AutoRemove = remove
	h.NetworkMode = container.NetworkMode(networkMode)
	h.IpcMode = container.IpcMode(ipcMode)
	if runtime != "" && runtime != "docker" {
		h.Runtime = runtime
	}
	return b
}

// WithLabel adds a label, used to find lmn containers later.
func (b *ContainerSpecBuilder) WithLabel(key, value string) *ContainerSpecBuilder {
	b.spec.Config.Labels[key] = value
	return b
}

// Build returns the constructed spec.
func (b *ContainerSpecBuilder) Build() ContainerSpec {
	return b.spec
}

func gpuRequest(gpus string) (container.DeviceRequest, bool) {
	gpus = strings.TrimSpace(gpus)
	if gpus == "" || gpus == "none" {
		return container.DeviceRequest{}, false
	}
	req := container.DeviceRequest{Capabilities: [][]string{{"gpu"}}}
	switch {
	case gpus == "all":
		req.Count = -1
	case strings.ContainsAny(gpus, ",") || strings.HasPrefix(gpus, "device="):
		ids := strings.TrimPrefix(gpus, "device=")
		req.DeviceIDs = strings.Split(ids, ",")
	default:
		var n int
		if _, err := fmt.Sscanf(gpus, "%d", &n); err != nil {
			req.DeviceIDs = []string{gpus}
		} else {
			req.Count = n
		}
	}
	return req, true
}

// OutcomeKind tells an in-container exit apart from a docker API failure.
type OutcomeKind int

const (
	OutcomeExited OutcomeKind = iota
	OutcomeAPIError
)

// Outcome is the result of running an attached container.
type Outcome struct {
	Kind     OutcomeKind
	ExitCode int   // valid for OutcomeExited
	Err      error // valid for OutcomeAPIError
}

func exited(code int) Outcome {
	return Outcome{Kind: OutcomeExited, ExitCode: code}
}

func apiError(err error) Outcome {
	return Outcome{Kind: OutcomeAPIError, Err: err}
}
