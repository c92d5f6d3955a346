package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/docker/cli/cli/connhelper"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ContainerAPI is the part of the docker engine API lmn uses. *client.Client implements it.
type ContainerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ImagePull(ctx context.Context, ref string, options types.ImagePullOptions) (io.ReadCloser, error)
	ContainerCreate(
		ctx context.Context,
		config *container.Config,
		hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig,
		platform *v1.Platform,
		containerName string,
	) (container.ContainerCreateCreatedBody, error)
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerAttach(ctx context.Context, containerID string, options types.ContainerAttachOptions) (types.HijackedResponse, error)
	ContainerResize(ctx context.Context, containerID string, options types.ResizeOptions) error
	ContainerWait(
		ctx context.Context,
		containerID string,
		condition container.WaitCondition,
	) (<-chan container.ContainerWaitOKBody, <-chan error)
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerLogs(ctx context.Context, containerID string, options types.ContainerLogsOptions) (io.ReadCloser, error)
	ContainerStop(ctx context.Context, containerID string, timeout *time.Duration) error
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
	ContainerList(ctx context.Context, options types.ContainerListOptions) ([]types.Container, error)
	Close() error
}

// Client wraps the docker API with the high level operations the runner needs.
type Client struct {
	api ContainerAPI
	log *zap.SugaredLogger
}

// NewClient connects to the docker daemon at host. An ssh://user@host address tunnels
// through the remote docker CLI; an empty host uses the DOCKER_* environment.
func NewClient(host string, log *zap.Logger) (*Client, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}

	if strings.HasPrefix(host, "ssh://") {
		helper, err := connhelper.GetConnectionHelper(host)
		if err != nil {
			return nil, errors.Wrap(err, "failed to set up docker over ssh")
		}
		httpClient := &http.Client{
			Transport: &http.Transport{DialContext: helper.Dialer},
		}
		opts = append(opts,
			client.WithHTTPClient(httpClient),
			client.WithHost(helper.Host),
			client.WithDialContext(helper.Dialer),
		)
	} else if host != "" {
		opts = append(opts, client.WithHost(host))
	} else {
		opts = append(opts, client.FromEnv)
	}

	c, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, err
	}
	return NewClientFromAPI(c, log), nil
}

// NewClientFromAPI wraps an existing API implementation.
func NewClientFromAPI(api ContainerAPI, log *zap.Logger) *Client {
	return &Client{api: api, log: log.Sugar()}
}

// IsInstalled checks if Docker is reachable by pinging the daemon.
func (c *Client) IsInstalled(ctx context.Context) bool {
	_, err := c.api.Ping(ctx)
	return err == nil
}

// EnsureImage pulls imageName unless the daemon already has it.
func (c *Client) EnsureImage(ctx context.Context, imageName string, progress io.Writer) error {
	_, _, err := c.api.ImageInspectWithRaw(ctx, imageName)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return errors.Wrap(err, "failed to inspect image")
	}
	c.log.Infof("pulling image %s", imageName)
	_, err = c.PullImage(ctx, imageName, progress)
	return err
}

// CreateContainer creates a container from spec and returns its id.
func (c *Client) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	resp, err := c.api.ContainerCreate(
		ctx,
		spec.Config,
		spec.HostConfig,
		&network.NetworkingConfig{},
		nil,
		spec.Name,
	)
	if err != nil {
		return "", errors.Wrap(err, "failed to create container")
	}
	for _, w := range resp.Warnings {
		c.log.Warn(w)
	}
	return resp.ID, nil
}

// InspectContainer returns detailed information about a Docker container.
func (c *Client) InspectContainer(ctx context.Context, id string) (types.ContainerJSON, error) {
	return c.api.ContainerInspect(ctx, id)
}

// StartContainer starts a specified Docker container.
func (c *Client) StartContainer(ctx context.Context, containerID string) error {
	return c.api.ContainerStart(ctx, containerID, types.ContainerStartOptions{})
}

// AttachContainer attaches to the stdio of a created container. It must be called
// before the container is started so no output is lost.
func (c *Client) AttachContainer(ctx context.Context, containerID string) (types.HijackedResponse, error) {
	return c.api.ContainerAttach(ctx, containerID, types.ContainerAttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
}

// ResizeTTY sets the container terminal size.
func (c *Client) ResizeTTY(ctx context.Context, containerID string, height, width uint) error {
	return c.api.ContainerResize(ctx, containerID, types.ResizeOptions{Height: height, Width: width})
}

// WaitContainer waits for a container to stop, returning channels for the result and errors.
// The condition also covers auto-removed containers.
func (c *Client) WaitContainer(
	ctx context.Context,
	containerID string,
) (<-chan container.ContainerWaitOKBody, <-chan error) {
	return c.api.ContainerWait(ctx, containerID, container.WaitConditionNextExit)
}

// FollowLogs copies the demultiplexed log streams of a container to stdout and stderr
// until the container exits or ctx is done. A nil writer drops that stream.
// tty must match the container configuration: TTY output is not multiplexed.
func (c *Client) FollowLogs(ctx context.Context, id string, stdout, stderr io.Writer, tty bool) error {
	logOptions := types.ContainerLogsOptions{
		ShowStdout: stdout != nil,
		ShowStderr: stderr != nil,
		Follow:     true,
	}

	logsReader, err := c.api.ContainerLogs(ctx, id, logOptions)
	if err != nil {
		return errors.Wrap(err, "failed to get container logs")
	}
	defer logsReader.Close()

	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	if tty {
		_, err = io.Copy(stdout, logsReader)
	} else {
		_, err = stdcopy.StdCopy(stdout, stderr, logsReader)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return errors.Wrap(err, "log stream interrupted")
	}
	return nil
}

// StopContainer stops a running Docker container with a specified timeout.
func (c *Client) StopContainer(
	ctx context.Context,
	containerID string,
	timeout time.Duration,
) error {
	return c.api.ContainerStop(ctx, containerID, &timeout)
}

// RemoveContainer force-removes a Docker container and its anonymous volumes.
func (c *Client) RemoveContainer(ctx context.Context, containerID string) error {
	return c.api.ContainerRemove(
		ctx,
		containerID,
		types.ContainerRemoveOptions{RemoveVolumes: true, Force: true},
	)
}

// FindContainer returns the id of the container named name, or "" when none exists.
func (c *Client) FindContainer(ctx context.Context, name string) (string, error) {
	containers, err := c.api.ContainerList(ctx, types.ContainerListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", "^/"+name+"$")),
	})
	if err != nil {
		return "", err
	}

	for _, cont := range containers {
		for _, n := range cont.Names {
			if strings.TrimPrefix(n, "/") == name {
				return cont.ID, nil
			}
		}
	}
	return "", nil
}

// PullImage pulls a Docker image from a registry, echoing progress to out.
func (c *Client) PullImage(ctx context.Context, imageName string, out io.Writer) (string, error) {
	rc, err := c.api.ImagePull(ctx, imageName, types.ImagePullOptions{})
	if err != nil {
		c.log.Errorf("unable to pull image: %v", err)
		return "", err
	}
	defer rc.Close()

	if out == nil {
		out = io.Discard
	}
	d := json.NewDecoder(io.TeeReader(rc, out))

	var message jsonmessage.JSONMessage
	var digest string
	for {
		if err := d.Decode(&message); err != nil {
			if err == io.EOF {
				break
			}
			c.log.Errorf("unable to pull image: %v", err)
			return "", err
		}
		if message.Aux != nil {
			continue
		}
		if message.Error != nil {
			c.log.Errorf("unable to pull image: %v", message.Error.Message)
			return "", errors.New(message.Error.Message)
		}
		if strings.HasPrefix(message.Status, "Digest") {
			digest = strings.TrimPrefix(message.Status, "Digest: ")
		}
	}

	return digest, nil
}

// Close releases the connection to the daemon.
func (c *Client) Close() error {
	if err := c.api.Close(); err != nil {
		return fmt.Errorf("failed to close docker client: %w", err)
	}
	return nil
}
