package executor

import (
	"context"
	"io"
	"sync"

	"go.uber.org/zap"

	"gitlab.com/lmn-dev/lmn/models"
)

// Call is one recorded remote operation.
type Call struct {
	Cmd     string
	Opts    RunOptions
	Path    string // set for uploads
	Content string // set for uploads
}

// DryRun is a Remote that logs and records what would have been executed.
type DryRun struct {
	log *zap.SugaredLogger

	mu    sync.Mutex
	calls []Call
}

var _ Remote = (*DryRun)(nil)

func NewDryRun(log *zap.Logger) *DryRun {
	return &DryRun{log: log.Sugar()}
}

func (d *DryRun) Run(_ context.Context, cmd string, opts RunOptions) (*models.ExecutionResult, error) {
	d.record(Call{Cmd: cmd, Opts: opts})
	d.log.Infow("dry run: remote command", "cmd", cmd, "dir", opts.Dir, "disown", opts.Disown)
	return models.NewExecutionResult(0), nil
}

func (d *DryRun) Put(_ context.Context, content io.Reader, path string) error {
	b, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	d.record(Call{Path: path, Content: string(b)})
	d.log.Infow("dry run: upload", "path", path, "bytes", len(b))
	return nil
}

// Calls returns a copy of everything recorded so far.
func (d *DryRun) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

func (d *DryRun) record(c Call) {
	d.mu.Lock()
	d.calls = append(d.calls, c)
	d.mu.Unlock()
}
