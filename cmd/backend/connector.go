package backend

import (
	"context"
	"io"

	"go.uber.org/zap"

	"gitlab.com/lmn-dev/lmn/dispatch"
	"gitlab.com/lmn-dev/lmn/executor"
	"gitlab.com/lmn-dev/lmn/executor/docker"
	"gitlab.com/lmn-dev/lmn/executor/scheduler"
	"gitlab.com/lmn-dev/lmn/executor/ssh"
	"gitlab.com/lmn-dev/lmn/internal/config"
	"gitlab.com/lmn-dev/lmn/models"
)

// Connector picks the runner for a plan's mode. The docker daemon is only dialled when a
// docker plan passed validation.
type Connector struct {
	Machine  *config.Machine
	Remote   executor.Remote
	Machines Machines
	DryRun   bool
	Log      *zap.Logger

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

var _ dispatch.Connector = (*Connector)(nil)

func (c *Connector) Runner(_ context.Context, plan *dispatch.Plan) (executor.Runner, error) {
	switch {
	case plan.Mode == models.ModeDocker && c.DryRun:
		return docker.NewPreview(plan.Layout, plan.Project, plan.User, c.Stdout, c.Log), nil
	case plan.Mode == models.ModeDocker:
		client, err := c.Machines.Docker(c.Machine, c.Log)
		if err != nil {
			return nil, err
		}
		runner := docker.NewRunner(client, plan.Layout, plan.Project, plan.User, c.Log)
		if c.Stdin != nil {
			runner.Stdin = c.Stdin
		}
		if c.Stdout != nil {
			runner.Stdout = c.Stdout
		}
		if c.Stderr != nil {
			runner.Stderr = c.Stderr
		}
		return runner, nil
	case plan.Mode.Scheduled():
		runner, err := scheduler.NewRunner(c.Remote, plan.Layout, plan.Mode, c.Log)
		if err != nil {
			return nil, err
		}
		return runner, nil
	default:
		return ssh.NewRunner(c.Remote, plan.Layout, c.Log), nil
	}
}
