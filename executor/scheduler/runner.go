package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"gitlab.com/lmn-dev/lmn/executor"
	"gitlab.com/lmn-dev/lmn/executor/env"
	"gitlab.com/lmn-dev/lmn/models"
	"gitlab.com/lmn-dev/lmn/utils"
)

// Runner dispatches requests to Slurm or PBS on one machine.
type Runner struct {
	remote executor.Remote
	layout models.DirectoryLayout
	mode   models.Mode
	log    *zap.SugaredLogger

	// now is replaced in tests to get stable script names.
	now func() time.Time
}

var _ executor.Runner = (*Runner)(nil)

// NewRunner returns a runner for a scheduled mode.
func NewRunner(remote executor.Remote, layout models.DirectoryLayout, mode models.Mode, log *zap.Logger) (*Runner, error) {
	if !mode.Scheduled() {
		return nil, fmt.Errorf("mode %s does not submit to a scheduler", mode)
	}
	return &Runner{
		remote: remote,
		layout: layout,
		mode:   mode,
		log:    log.Sugar(),
		now:    time.Now,
	}, nil
}

// Exec renders the job script, uploads it and submits it. Batch submissions return as soon
// as the scheduler accepted them; interactive ones return when the allocation ends.
func (r *Runner) Exec(ctx context.Context, req *models.ExecutionRequest) (*models.JobHandle, error) {
	sched, err := r.scheduler(req)
	if err != nil {
		return nil, err
	}

	interactive := req.Interactive && !req.Disown
	numSequence := req.NumSequence
	if numSequence < 1 {
		numSequence = 1
	}
	if numSequence > 1 {
		if interactive {
			r.log.Warnf("num_sequence is %d (> 1), submitting in batch mode", numSequence)
			interactive = false
		}
		sched = withSingleton(sched)
	}

	resolved, err := env.Resolve(env.Injected(env.Prefixes, r.layout, req.Command), req.Env)
	if err != nil {
		return nil, err
	}

	cmd := req.Command
	if req.Startup != "" {
		cmd = req.Startup + " && " + cmd
	}

	script := sched.Materialize(Job{
		Command:     cmd,
		Env:         resolved,
		EnvFromHost: req.EnvFromHost,
		Interactive: interactive,
		ScriptDir:   r.layout.Script,
		Timestamp:   utils.Timestamp(r.now()),
	})
	r.log.Debugf("%s script %s:\n%s", sched.Name(), script.Path, script.Text)

	if err := r.remote.Put(ctx, strings.NewReader(script.Text), script.Path); err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", script.Path, err)
	}

	workdir := r.layout.Workdir(req.RelWorkdir)
	r.log.Debugf("submitting from %s", workdir)
	sub, err := sched.Submit(ctx, r.remote, script, SubmitOptions{
		Dir:         workdir,
		Interactive: interactive,
		NumSequence: numSequence,
	})

	handle := &models.JobHandle{
		Mode:     r.mode,
		Name:     jobName(sched),
		Disowned: !interactive,
	}
	if sub != nil {
		handle.JobID = sub.JobID
		handle.Result = sub.Result
	}
	if err != nil {
		return handle, err
	}

	if !interactive {
		if sub.Result != nil && strings.TrimSpace(sub.Result.STDERR) != "" {
			r.log.Warnf("%s submission printed to stderr: %s", sched.Name(), sub.Result.STDERR)
		}
		if sub.JobID == "" {
			r.log.Warnf("could not parse a job id from the %s output", sched.Name())
		} else {
			r.log.Infof("submitted %s job %s", sched.Name(), sub.JobID)
		}
	}
	return handle, nil
}

func (r *Runner) scheduler(req *models.ExecutionRequest) (Scheduler, error) {
	switch r.mode.Scheduler() {
	case "slurm":
		if req.Slurm == nil {
			return nil, executor.NewConfigError("slurm", "mode %s needs a slurm section", r.mode)
		}
		return NewSlurm(req.Slurm), nil
	case "pbs":
		if req.PBS == nil {
			return nil, executor.NewConfigError("pbs", "mode %s needs a pbs section", r.mode)
		}
		return NewPBS(req.PBS), nil
	}
	return nil, fmt.Errorf("unsupported scheduler for mode %s", r.mode)
}

func withSingleton(s Scheduler) Scheduler {
	switch v := s.(type) {
	case *Slurm:
		v.Config.Dependency = models.DependencySingleton
	case *PBS:
		v.Config.Dependency = models.DependencySingleton
	}
	return s
}

func jobName(s Scheduler) string {
	switch v := s.(type) {
	case *Slurm:
		return v.Config.JobName
	case *PBS:
		return v.Config.JobName
	}
	return ""
}
