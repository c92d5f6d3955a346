package docker

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/moby/term"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DestroyTimeout bounds how long a replaced container may take to stop.
const DestroyTimeout = time.Second * 10

// outputDrainTimeout is how long to wait for buffered output after the container exited.
const outputDrainTimeout = 2 * time.Second

// executionHandler drives one created container through its lifecycle.
type executionHandler struct {
	client      *Client
	log         *zap.SugaredLogger
	containerID string
	tty         bool

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// runAttached streams the container's stdio to the terminal and waits for it to exit.
func (h *executionHandler) runAttached(ctx context.Context) Outcome {
	hijacked, err := h.client.AttachContainer(ctx, h.containerID)
	if err != nil {
		return apiError(errors.Wrap(err, "failed to attach to container"))
	}
	defer hijacked.Close()

	// Register the wait before starting so a fast exit is not missed.
	statusCh, errCh := h.client.WaitContainer(ctx, h.containerID)

	if err := h.client.StartContainer(ctx, h.containerID); err != nil {
		return apiError(errors.Wrap(err, "failed to start container"))
	}

	restore := h.prepareTerminal(ctx)
	defer restore()

	outputDone := make(chan error, 1)
	go func() {
		var err error
		if h.tty {
			_, err = io.Copy(h.stdout, hijacked.Reader)
		} else {
			_, err = stdcopy.StdCopy(h.stdout, h.stderr, hijacked.Reader)
		}
		outputDone <- err
	}()

	if h.stdin != nil {
		go func() {
			_, _ = io.Copy(hijacked.Conn, h.stdin)
			_ = hijacked.CloseWrite()
		}()
	}

	return h.wait(ctx, statusCh, errCh, outputDone)
}

// runDetached starts the container and follows its combined output until it exits.
func (h *executionHandler) runDetached(ctx context.Context) Outcome {
	statusCh, errCh := h.client.WaitContainer(ctx, h.containerID)

	if err := h.client.StartContainer(ctx, h.containerID); err != nil {
		return apiError(errors.Wrap(err, "failed to start container"))
	}

	outputDone := make(chan error, 1)
	go func() {
		outputDone <- h.client.FollowLogs(ctx, h.containerID, h.stdout, h.stderr, h.tty)
	}()

	return h.wait(ctx, statusCh, errCh, outputDone)
}

// startBackground starts the container and copies only its stderr on a goroutine
// registered with wg. It returns as soon as the container is running.
func (h *executionHandler) startBackground(ctx context.Context, wg *sync.WaitGroup) error {
	if err := h.client.StartContainer(ctx, h.containerID); err != nil {
		return errors.Wrap(err, "failed to start container")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		// The stream outlives the dispatch call, so it must not inherit its context.
		if err := h.client.FollowLogs(context.Background(), h.containerID, nil, h.stderr, false); err != nil {
			h.log.Debugf("stderr stream of %s ended: %v", h.containerID, err)
		}
	}()
	return nil
}

func (h *executionHandler) wait(
	ctx context.Context,
	statusCh <-chan container.ContainerWaitOKBody,
	errCh <-chan error,
	outputDone <-chan error,
) Outcome {
	select {
	case <-ctx.Done():
		return apiError(ctx.Err())
	case err := <-errCh:
		return apiError(errors.Wrap(err, "failed to wait for container"))
	case status := <-statusCh:
		select {
		case err := <-outputDone:
			if err != nil {
				h.log.Debugf("output stream of %s: %v", h.containerID, err)
			}
		case <-time.After(outputDrainTimeout):
		}
		if status.Error != nil {
			return apiError(errors.New(status.Error.Message))
		}
		return exited(int(status.StatusCode))
	}
}

// prepareTerminal puts a local terminal in raw mode and sizes the container TTY to it.
// The returned func restores the terminal.
func (h *executionHandler) prepareTerminal(ctx context.Context) func() {
	f, ok := h.stdin.(*os.File)
	if !ok || !h.tty {
		return func() {}
	}
	fd, isTerm := term.GetFdInfo(f)
	if !isTerm {
		return func() {}
	}

	if ws, err := term.GetWinsize(fd); err == nil {
		if err := h.client.ResizeTTY(ctx, h.containerID, uint(ws.Height), uint(ws.Width)); err != nil {
			h.log.Debugf("failed to resize tty: %v", err)
		}
	}

	state, err := term.SetRawTerminal(fd)
	if err != nil {
		h.log.Debugf("failed to set raw terminal: %v", err)
		return func() {}
	}
	return func() { _ = term.RestoreTerminal(fd, state) }
}

// replace force-removes an existing container, stopping it first.
func (h *executionHandler) replace(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, DestroyTimeout+5*time.Second)
	defer cancel()

	if err := h.client.StopContainer(ctx, id, DestroyTimeout); err != nil {
		h.log.Debugf("failed to stop container %s: %v", id, err)
	}
	return h.client.RemoveContainer(ctx, id)
}
