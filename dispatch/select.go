// Package dispatch selects the backend for a request, checks that the machine is
// configured for it, expands sweeps and hands each member to the backend runner.
package dispatch

import (
	"gitlab.com/lmn-dev/lmn/executor"
	"gitlab.com/lmn-dev/lmn/executor/sweep"
	"gitlab.com/lmn-dev/lmn/models"
	"gitlab.com/lmn-dev/lmn/utils/validate"
)

// Plan is everything needed to dispatch one invocation to one machine.
type Plan struct {
	Machine string
	User    string
	Project string
	Mode    models.Mode

	// Layout is the host-side layout, already relocated when Contained is set.
	Layout models.DirectoryLayout

	// Mounts are extra host to container binds (mount_from_host).
	Mounts []models.Bind

	// RelocatedRoot is set when the machine configures its own root_dir.
	RelocatedRoot bool
	Contained     bool

	Request *models.ExecutionRequest
}

// BaseName is the container or job name shared by every member of the invocation.
func (p *Plan) BaseName() string {
	name := p.User + "-lmn-" + p.Project
	if p.Request != nil && p.Request.Name != "" {
		name += "--" + p.Request.Name
	}
	return name
}

// SelectMode picks the explicit mode, else the machine's configured mode, else ssh.
// defaulted reports the last case so the caller can warn about it.
func SelectMode(explicit, configured string) (mode models.Mode, defaulted bool, err error) {
	for _, s := range []string{explicit, configured} {
		if validate.IsBlank(s) {
			continue
		}
		mode, err = models.ParseMode(s)
		if err != nil {
			return "", false, executor.NewValidationError("mode", "%v", err)
		}
		return mode, false, nil
	}
	return models.ModeSSH, true, nil
}

// Validate checks that the request carries every section its mode needs, and the sweep
// preconditions. It never touches the network.
func Validate(plan *Plan) error {
	req := plan.Request
	if req == nil {
		return executor.NewValidationError("request", "nothing to dispatch")
	}

	switch plan.Mode.Scheduler() {
	case "slurm":
		if req.Slurm == nil {
			return executor.NewConfigError("slurm", "machine %q must have a slurm section (or --sconf) to use %s mode", plan.Machine, plan.Mode)
		}
	case "pbs":
		if req.PBS == nil {
			return executor.NewConfigError("pbs", "machine %q must have a pbs section (or --pconf) to use %s mode", plan.Machine, plan.Mode)
		}
	}

	if plan.Mode == models.ModeDocker {
		if req.Docker == nil {
			return executor.NewConfigError("docker", "machine %q must have a docker section to use docker mode", plan.Machine)
		}
		if req.Docker.Image == "" {
			return executor.NewConfigError("docker", "docker image is not specified")
		}
	}

	if plan.Mode.Containerized() {
		if req.Singularity == nil {
			return executor.NewConfigError("singularity", "machine %q must have a singularity section to use %s mode", plan.Machine, plan.Mode)
		}
		if req.Singularity.SIFFile == "" {
			return executor.NewConfigError("singularity", "sif_file is not specified")
		}
	}

	if req.Sweep != "" {
		if !req.Disown {
			return executor.NewValidationError("sweep", "you must set --disown to use the sweep functionality")
		}
		// Without a unique root every member would share one script and output tree.
		if plan.Mode.Containerized() && plan.RelocatedRoot && !plan.Contained {
			return executor.NewValidationError("sweep", "machine %q relocates root_dir; a containerized sweep needs --contain", plan.Machine)
		}
		if _, err := Indices(req); err != nil {
			return err
		}
	}
	return nil
}

// Indices parses the sweep of req. It returns nil when no sweep was requested.
func Indices(req *models.ExecutionRequest) ([]int, error) {
	if req.Sweep == "" {
		return nil, nil
	}
	idx, err := sweep.ParseIndices(req.Sweep)
	if err != nil {
		return nil, executor.NewValidationError("sweep", "%v", err)
	}
	return idx, nil
}
