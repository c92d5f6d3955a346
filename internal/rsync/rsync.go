// Package rsync moves the project tree to a machine and its output back, by shelling
// out to the local rsync binary over the user's ssh configuration.
package rsync

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/alessio/shellescape"
	"go.uber.org/zap"

	"gitlab.com/lmn-dev/lmn/executor"
	"gitlab.com/lmn-dev/lmn/models"
)

// Target is the machine side of a transfer.
type Target struct {
	Address      string // user@host
	Host         string
	Port         int
	IdentityFile string
}

// Commander runs a local program. It is swapped in tests.
type Commander func(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error

type Syncer struct {
	target Target
	run    Commander
	dryRun bool
	log    *zap.SugaredLogger

	Stdout io.Writer
	Stderr io.Writer
}

func NewSyncer(target Target, dryRun bool, log *zap.Logger) *Syncer {
	return &Syncer{
		target: target,
		run:    execCommand,
		dryRun: dryRun,
		log:    log.Sugar(),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// WithCommander replaces how rsync is started.
func (s *Syncer) WithCommander(run Commander) *Syncer {
	s.run = run
	return s
}

// Code uploads the contents of root into layout.Code. The remote side creates the four
// layout directories before receiving.
func (s *Syncer) Code(ctx context.Context, root string, layout models.DirectoryLayout, exclude []string) error {
	mkdirs := make([]string, 0, 5)
	for _, d := range layout.Dirs() {
		mkdirs = append(mkdirs, "mkdir -p "+shellescape.Quote(d))
	}
	mkdirs = append(mkdirs, "rsync")

	args := s.Args(withSlash(root), s.target.Address+":"+withSlash(layout.Code), exclude, "--rsync-path", strings.Join(mkdirs, " && "))
	return s.exec(ctx, args)
}

// Output pulls the remote output directory into outdir when it holds anything.
func (s *Syncer) Output(ctx context.Context, remote executor.Remote, layout models.DirectoryLayout, outdir string) error {
	n, err := countEntries(ctx, remote, layout.Output)
	if err != nil {
		return err
	}
	if n == 0 {
		s.log.Debugf("remote output %s is empty, nothing to sync", layout.Output)
		return nil
	}
	if !s.dryRun {
		if err := os.MkdirAll(outdir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", outdir, err)
		}
	}
	return s.exec(ctx, s.Args(s.target.Address+":"+withSlash(layout.Output), withSlash(outdir), nil))
}

// Args renders the rsync argument list. A source ending in "/" transfers its contents.
func (s *Syncer) Args(src, dst string, exclude []string, extra ...string) []string {
	args := []string{"-e", s.sshCommand(), "--archive", "--compress"}
	for _, e := range exclude {
		args = append(args, "--exclude", e)
	}
	args = append(args, extra...)
	return append(args, src, dst)
}

// sshCommand reuses a multiplexed connection when one is open for the host.
func (s *Syncer) sshCommand() string {
	parts := []string{"ssh", "-o", shellescape.Quote("ControlPath=~/.ssh/lmn-ssh-socket-" + s.target.Host)}
	if s.target.Port != 0 && s.target.Port != 22 {
		parts = append(parts, "-p", strconv.Itoa(s.target.Port))
	}
	if s.target.IdentityFile != "" {
		parts = append(parts, "-i", shellescape.Quote(s.target.IdentityFile))
	}
	return strings.Join(parts, " ")
}

func (s *Syncer) exec(ctx context.Context, args []string) error {
	if s.dryRun {
		s.log.Infof("dry run: rsync %s", shellescape.QuoteCommand(args))
		return nil
	}
	s.log.Debugf("rsync %s", shellescape.QuoteCommand(args))
	if err := s.run(ctx, "rsync", args, s.Stdout, s.Stderr); err != nil {
		return fmt.Errorf("rsync failed: %w", err)
	}
	return nil
}

func countEntries(ctx context.Context, remote executor.Remote, dir string) (int, error) {
	cmd := fmt.Sprintf(`ls -l %s | grep -v "^total" | wc -l`, shellescape.Quote(dir))
	res, err := remote.Run(ctx, cmd, executor.RunOptions{Hide: true})
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	out := strings.TrimSpace(res.STDOUT)
	if out == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("unexpected output listing %s: %q", dir, out)
	}
	return n, nil
}

func execCommand(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%s is not installed: %w", name, err)
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

func withSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}
