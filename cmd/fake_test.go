package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"gitlab.com/lmn-dev/lmn/cmd/backend"
	"gitlab.com/lmn-dev/lmn/db/repositories"
	"gitlab.com/lmn-dev/lmn/executor"
	"gitlab.com/lmn-dev/lmn/executor/docker"
	"gitlab.com/lmn-dev/lmn/internal/config"
	"gitlab.com/lmn-dev/lmn/models"
)

type remoteCall struct {
	cmd  string
	opts executor.RunOptions
}

type upload struct {
	path string
	text string
}

type fakeRemote struct {
	mu     sync.Mutex
	runs   []remoteCall
	puts   []upload
	jobs   int
	stdout func(cmd string) string
	closed bool
}

func (r *fakeRemote) Run(_ context.Context, cmd string, opts executor.RunOptions) (*models.ExecutionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, remoteCall{cmd: cmd, opts: opts})

	res := models.NewExecutionResult(0)
	switch {
	case r.stdout != nil:
		res.STDOUT = r.stdout(cmd)
	case strings.HasPrefix(cmd, "sbatch"):
		r.jobs++
		res.STDOUT = fmt.Sprintf("Submitted batch job %d\n", 100+r.jobs)
	}
	return res, nil
}

func (r *fakeRemote) Put(_ context.Context, content io.Reader, path string) error {
	b, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.puts = append(r.puts, upload{path: path, text: string(b)})
	return nil
}

func (r *fakeRemote) Close() error {
	r.closed = true
	return nil
}

type syncCall struct {
	kind   string
	root   string
	layout models.DirectoryLayout
}

type fakeSyncer struct {
	calls []syncCall
}

func (s *fakeSyncer) Code(_ context.Context, root string, layout models.DirectoryLayout, _ []string) error {
	s.calls = append(s.calls, syncCall{kind: "code", root: root, layout: layout})
	return nil
}

func (s *fakeSyncer) Output(_ context.Context, _ executor.Remote, layout models.DirectoryLayout, outdir string) error {
	s.calls = append(s.calls, syncCall{kind: "output", root: outdir, layout: layout})
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// fakeBackend serves an in-memory home directory and records everything sent to machines.
type fakeBackend struct {
	fs       afero.Fs
	cwd      string
	remote   *fakeRemote
	syncer   *fakeSyncer
	launches repositories.LaunchRepository

	remotes       int
	dockerDialled int
	dryRun        bool
}

var _ backend.Backend = (*fakeBackend)(nil)

func (f *fakeBackend) FileSystem() afero.Fs { return f.fs }
func (f *fakeBackend) HomeDir() (string, error) { return "/home/alice", nil }
func (f *fakeBackend) Getwd() (string, error) { return f.cwd, nil }

func (f *fakeBackend) Remote(_ *config.Machine, _ config.Settings, dryRun bool, _ *zap.Logger) (backend.RemoteCloser, error) {
	f.remotes++
	f.dryRun = dryRun
	return f.remote, nil
}

func (f *fakeBackend) Docker(*config.Machine, *zap.Logger) (*docker.Client, error) {
	f.dockerDialled++
	return nil, errors.New("no docker daemon in tests")
}

func (f *fakeBackend) Syncer(*config.Machine, bool, *zap.Logger) backend.Syncer {
	return f.syncer
}

func (f *fakeBackend) Launches(string) (repositories.LaunchRepository, io.Closer, error) {
	if f.launches == nil {
		return nil, nil, errors.New("launch log disabled")
	}
	return f.launches, nopCloser{}, nil
}

// execute runs the command tree with args and returns stdout and stderr.
func execute(b backend.Backend, args ...string) (string, string, error) {
	var out, errOut bytes.Buffer
	root := NewRootCmd(b)
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(""))
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}
