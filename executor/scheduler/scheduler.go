// Package scheduler renders, uploads and submits Slurm and PBS job scripts.
package scheduler

import (
	"context"
	"path"
	"strings"

	"github.com/alessio/shellescape"

	"gitlab.com/lmn-dev/lmn/executor"
	"gitlab.com/lmn-dev/lmn/executor/env"
	"gitlab.com/lmn-dev/lmn/models"
)

// Job is what a script is rendered from.
type Job struct {
	Command     string         // Final line of the script
	Env         *models.EnvMap // Exported before Command
	EnvFromHost []string       // Forwarded into singularity/apptainer at run time
	Interactive bool           // Render without batch directives
	ScriptDir   string         // Remote directory the script is uploaded to
	Timestamp   string         // Makes the script name unique
}

// Script is a rendered job script and the remote path it is uploaded to.
type Script struct {
	Path string
	Text string
}

// SubmitOptions shape the submission call.
type SubmitOptions struct {
	Dir         string // Submission directory; batch jobs inherit it as their cwd
	Interactive bool
	NumSequence int
}

// Submission is the outcome of submitting a script one or more times.
type Submission struct {
	JobID  string   // Id of the first submission, empty for interactive runs
	JobIDs []string // Every id that could be parsed
	Result *models.ExecutionResult
}

// Scheduler is one batch system.
type Scheduler interface {
	Name() string
	// Materialize renders job without touching the remote host.
	Materialize(job Job) Script
	// Submit runs the submission command(s) for an uploaded script.
	Submit(ctx context.Context, remote executor.Remote, script Script, opts SubmitOptions) (*Submission, error)
}

// shebang turns a configured shell ("bash" or "/usr/bin/env bash") into an interpreter line.
func shebang(shell string) string {
	if shell == "" {
		shell = "bash"
	}
	if strings.HasPrefix(shell, "/") {
		return "#!" + shell
	}
	return "#!/usr/bin/env " + shell
}

// body renders everything after the directives: host forwarding, exports, then the command.
func body(job Job) []string {
	lines := env.ForwardFromHost(job.EnvFromHost)
	job.Env.Each(func(k, v string) {
		lines = append(lines, "export "+k+"="+shellescape.Quote(v))
	})
	return append(lines, job.Command)
}

func scriptPath(dir, kind, ts string) string {
	return path.Join(dir, "."+kind+"-script-"+ts+".sh")
}

func render(lines []string) string {
	return strings.Join(lines, "\n") + "\n"
}
