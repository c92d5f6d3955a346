package docker

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"gitlab.com/lmn-dev/lmn/executor"
	"gitlab.com/lmn-dev/lmn/executor/container"
	"gitlab.com/lmn-dev/lmn/models"
)

// Preview prints the docker CLI equivalent of each request instead of contacting a daemon.
type Preview struct {
	runner *Runner
	out    io.Writer
}

var _ executor.Runner = (*Preview)(nil)

func NewPreview(host models.DirectoryLayout, project, user string, out io.Writer, log *zap.Logger) *Preview {
	return &Preview{runner: NewRunner(nil, host, project, user, log), out: out}
}

func (p *Preview) Exec(_ context.Context, req *models.ExecutionRequest) (*models.JobHandle, error) {
	prep, err := p.runner.prepare(req)
	if err != nil {
		return nil, err
	}
	line := container.WrapDocker(prep.cmd, prep.config, prep.workdir)
	if _, err := fmt.Fprintln(p.out, line); err != nil {
		return nil, err
	}
	return &models.JobHandle{
		Mode:     models.ModeDocker,
		Name:     prep.config.Name,
		Result:   models.NewExecutionResult(0),
		Disowned: !prep.interactive,
	}, nil
}
