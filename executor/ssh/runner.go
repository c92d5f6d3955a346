package ssh

import (
	"context"

	"go.uber.org/zap"

	"gitlab.com/lmn-dev/lmn/executor"
	"gitlab.com/lmn-dev/lmn/executor/env"
	"gitlab.com/lmn-dev/lmn/models"
)

// Runner executes requests directly in a remote shell.
type Runner struct {
	remote executor.Remote
	layout models.DirectoryLayout
	log    *zap.SugaredLogger
}

var _ executor.Runner = (*Runner)(nil)

func NewRunner(remote executor.Remote, layout models.DirectoryLayout, log *zap.Logger) *Runner {
	return &Runner{remote: remote, layout: layout, log: log.Sugar()}
}

// Exec runs `cd <workdir> && <exports> && <startup> && <cmd>`. A pseudo terminal is
// allocated unless the command is disowned.
func (r *Runner) Exec(ctx context.Context, req *models.ExecutionRequest) (*models.JobHandle, error) {
	resolved, err := env.Resolve(env.Injected(env.Prefixes, r.layout, req.Command), req.Env)
	if err != nil {
		return nil, err
	}

	cmd := req.Command
	if req.Startup != "" {
		cmd = req.Startup + " && " + cmd
	}

	workdir := r.layout.Workdir(req.RelWorkdir)
	r.log.Debugf("ssh run in %s: %s", workdir, cmd)

	res, err := r.remote.Run(ctx, cmd, executor.RunOptions{
		Dir:    workdir,
		Env:    resolved,
		PTY:    !req.Disown,
		Disown: req.Disown,
	})
	handle := &models.JobHandle{
		Mode:     models.ModeSSH,
		Name:     req.Name,
		Result:   res,
		Disowned: req.Disown,
	}
	return handle, err
}
