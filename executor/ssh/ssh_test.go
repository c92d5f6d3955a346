package ssh

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gitlab.com/lmn-dev/lmn/executor"
	"gitlab.com/lmn-dev/lmn/models"
)

func TestBuildCommand(t *testing.T) {
	opts := executor.RunOptions{
		Dir: "/tmp/alice/lmn/proj/code",
		Env: models.NewEnvMap("A", "1", "B", "has space", "C", "it's"),
	}

	assert.Equal(t,
		`cd /tmp/alice/lmn/proj/code && export A=1 B='has space' C='it'"'"'s' && python x.py`,
		BuildCommand("python x.py", opts, false))

	assert.Equal(t, "cd /tmp/alice/lmn/proj/code && python x.py", BuildCommand("python x.py", opts, true))
	assert.Equal(t, "ls", BuildCommand("ls", executor.RunOptions{}, false))
}

func TestBuildCommandDisown(t *testing.T) {
	got := BuildCommand("sleep 100", executor.RunOptions{Dir: "/w", Disown: true}, false)
	assert.Equal(t, `nohup bash -c 'cd /w && sleep 100' >/dev/null 2>&1 &`, got)
}

func TestConfigAddr(t *testing.T) {
	assert.Equal(t, "login.example.org:22", Config{Host: "login.example.org"}.Addr())
	assert.Equal(t, "10.0.0.1:2222", Config{Host: "10.0.0.1", Port: 2222}.Addr())
}

type recordingRemote struct {
	cmd  string
	opts executor.RunOptions
	err  error
}

func (r *recordingRemote) Run(_ context.Context, cmd string, opts executor.RunOptions) (*models.ExecutionResult, error) {
	r.cmd, r.opts = cmd, opts
	return models.NewExecutionResult(0), r.err
}

func (r *recordingRemote) Put(context.Context, io.Reader, string) error { return nil }

func TestRunner(t *testing.T) {
	remote := &recordingRemote{}
	layout := models.NewLayout("/tmp/alice/lmn", "proj")
	r := NewRunner(remote, layout, zap.NewNop())

	h, err := r.Exec(context.Background(), &models.ExecutionRequest{
		Command:    "python train.py",
		RelWorkdir: "src",
		Startup:    "module load cuda",
		Env:        models.NewEnvMap("OUT", "$LMN_OUTPUT_DIR/run"),
	})
	require.NoError(t, err)

	assert.Equal(t, models.ModeSSH, h.Mode)
	assert.False(t, h.Disowned)
	assert.Equal(t, "module load cuda && python train.py", remote.cmd)
	assert.Equal(t, "/tmp/alice/lmn/proj/code/src", remote.opts.Dir)
	assert.True(t, remote.opts.PTY)

	out, _ := remote.opts.Env.Get("OUT")
	assert.Equal(t, "/tmp/alice/lmn/proj/output/run", out)
	cmd, _ := remote.opts.Env.Get("LMN_USER_COMMAND")
	assert.Equal(t, "python train.py", cmd)
}

func TestRunnerDisown(t *testing.T) {
	remote := &recordingRemote{}
	r := NewRunner(remote, models.NewLayout("/r", "p"), zap.NewNop())

	h, err := r.Exec(context.Background(), &models.ExecutionRequest{Command: "sleep 1", Disown: true})
	require.NoError(t, err)
	assert.True(t, h.Disowned)
	assert.True(t, remote.opts.Disown)
	assert.False(t, remote.opts.PTY)
}

func TestRunnerPropagatesRemoteError(t *testing.T) {
	remote := &recordingRemote{err: &executor.RemoteExecutionError{Command: "false", ExitCode: 1, Stderr: "boom"}}
	r := NewRunner(remote, models.NewLayout("/r", "p"), zap.NewNop())

	_, err := r.Exec(context.Background(), &models.ExecutionRequest{Command: "false"})

	var remoteErr *executor.RemoteExecutionError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "boom", remoteErr.Stderr)
}
