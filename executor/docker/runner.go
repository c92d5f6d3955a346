// Package docker runs requests inside docker containers on a remote daemon.
package docker

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"gitlab.com/lmn-dev/lmn/executor"
	"gitlab.com/lmn-dev/lmn/executor/env"
	"gitlab.com/lmn-dev/lmn/models"
)

// startupDelay keeps a detached container alive long enough for the log stream to attach
// before a fast-failing command exits.
const startupDelay = "sleep 2"

// Runner dispatches docker-mode requests.
type Runner struct {
	client  *Client
	host    models.DirectoryLayout
	inside  models.DirectoryLayout
	project string
	user    string
	log     *zap.SugaredLogger

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	streams sync.WaitGroup
}

var _ executor.Runner = (*Runner)(nil)

// NewRunner returns a runner binding the host layout of project into the container.
func NewRunner(client *Client, host models.DirectoryLayout, project, user string, log *zap.Logger) *Runner {
	return &Runner{
		client:  client,
		host:    host,
		inside:  models.ContainerLayout(project),
		project: project,
		user:    user,
		log:     log.Sugar(),
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

// Exec creates and runs one container.
//
// Interactive requests run attached with a TTY. A non-zero exit inside the container is
// logged and returned in the handle; only docker API failures are returned as errors.
// Other requests run detached: the output is followed until the container exits, or, with
// LogStderrBackground, only stderr is streamed from a goroutine and Exec returns at once.
func (r *Runner) Exec(ctx context.Context, req *models.ExecutionRequest) (*models.JobHandle, error) {
	spec, interactive, err := r.containerSpec(req)
	if err != nil {
		return nil, err
	}

	h := &executionHandler{
		client: r.client,
		log:    r.log,
		tty:    spec.Config.Tty,
		stdin:  r.Stdin,
		stdout: r.Stdout,
		stderr: r.Stderr,
	}

	if req.Force && spec.Name != "" {
		id, err := r.client.FindContainer(ctx, spec.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to look up container %s: %w", spec.Name, err)
		}
		if id != "" {
			r.log.Warnf("removing the existing container: %s", spec.Name)
			if err := h.replace(ctx, id); err != nil {
				return nil, fmt.Errorf("failed to remove container %s: %w", spec.Name, err)
			}
		}
	}

	if err := r.client.EnsureImage(ctx, spec.Config.Image, nil); err != nil {
		return nil, err
	}

	id, err := r.client.CreateContainer(ctx, spec)
	if err != nil {
		return nil, err
	}
	h.containerID = id

	handle := &models.JobHandle{
		Mode:        models.ModeDocker,
		Name:        spec.Name,
		ContainerID: id,
		Disowned:    !interactive,
	}

	switch {
	case interactive:
		return r.finish(handle, h.runAttached(ctx))

	case req.LogStderrBackground:
		r.log.Infof("container %s started, listening to stderr only", spec.Name)
		return handle, h.startBackground(ctx, &r.streams)

	case req.Quiet:
		if err := r.client.StartContainer(ctx, id); err != nil {
			return nil, fmt.Errorf("failed to start container: %w", err)
		}
		return handle, nil
	}

	r.log.Infof("--- listening to container %s stdout/stderr ---", spec.Name)
	return r.finish(handle, h.runDetached(ctx))
}

func (r *Runner) finish(handle *models.JobHandle, out Outcome) (*models.JobHandle, error) {
	if out.Kind == OutcomeAPIError {
		return handle, out.Err
	}
	handle.Result = models.NewExecutionResult(out.ExitCode)
	if out.ExitCode != 0 {
		r.log.Warnf("container %s exited with status %d", handle.Name, out.ExitCode)
	}
	return handle, nil
}

// prepared is a request translated to the container side: full command, resolved env,
// binds and terminal settings.
type prepared struct {
	config      *models.DockerConfig
	cmd         string
	workdir     string
	interactive bool
}

// prepare translates req. The command runs from the container layout and sees the
// injected variables of that layout. req is not modified.
func (r *Runner) prepare(req *models.ExecutionRequest) (*prepared, error) {
	if req.Docker == nil {
		return nil, executor.NewConfigError("docker", "docker mode needs a docker section")
	}
	if req.Docker.Image == "" {
		return nil, executor.NewConfigError("docker", "docker image is not specified")
	}
	dc := req.Docker.Clone()

	interactive := req.Interactive && !req.Disown
	if req.LogStderrBackground && interactive {
		return nil, executor.NewValidationError("log_stderr_background", "cannot be combined with an interactive run")
	}

	resolved, err := env.Resolve(env.Injected(env.Prefixes, r.inside, req.Command), dc.Env, req.Env)
	if err != nil {
		return nil, err
	}
	dc.Env = resolved

	startup := dc.Startup
	if req.Startup != "" {
		startup = joinCommands(req.Startup, startup)
	}
	if !interactive {
		startup = joinCommands(startup, startupDelay)
	}
	dc.Startup = ""
	cmd := joinCommands(startup, req.Command) + " && chmod -R a+rw " + r.inside.Output

	var binds []models.Bind
	if !req.NoSync {
		binds = append(binds,
			models.Bind{Source: r.host.Code, Target: r.inside.Code},
			models.Bind{Source: r.host.Output, Target: r.inside.Output},
			models.Bind{Source: r.host.Mount, Target: r.inside.Mount},
		)
	}
	dc.Mounts = append(binds, dc.Mounts...)

	// Stderr can only be read separately when the output is not a TTY.
	dc.TTY = dc.TTY && !req.LogStderrBackground
	if interactive {
		dc.TTY = true
	}

	return &prepared{
		config:      dc,
		cmd:         cmd,
		workdir:     r.inside.Workdir(req.RelWorkdir),
		interactive: interactive,
	}, nil
}

// containerSpec builds the API request for req.
func (r *Runner) containerSpec(req *models.ExecutionRequest) (ContainerSpec, bool, error) {
	p, err := r.prepare(req)
	if err != nil {
		return ContainerSpec{}, false, err
	}
	dc := p.config

	spec := NewContainerSpecBuilder(dc.Image).
		WithName(dc.Name).
		WithShellCommand(p.cmd).
		WithEnv(dc.Env).
		WithWorkingDirectory(p.workdir).
		WithUser(dc.User()).
		WithBinds(dc.Mounts...).
		WithTTY(dc.TTY, p.interactive).
		WithGPUs(dc.GPUs).
		WithHostOptions(dc.Remove, dc.Network, dc.IPCMode, dc.Runtime).
		WithLabel(labelProject, r.project).
		WithLabel(labelUser, r.user).
		Build()

	return spec, p.interactive, spec.Validate()
}

// Close waits for background stderr streams to end, then closes the client.
func (r *Runner) Close() error {
	r.streams.Wait()
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func joinCommands(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " && " + b
}
