package dispatch

import (
	"strconv"

	"gitlab.com/lmn-dev/lmn/executor/container"
	"gitlab.com/lmn-dev/lmn/executor/env"
	"gitlab.com/lmn-dev/lmn/models"
)

// Member is one request produced from a plan, with its sweep index if any.
type Member struct {
	Index   *int
	Name    string
	Request *models.ExecutionRequest
}

// Expand turns plan into the requests handed to the runner: one per sweep index, or a
// single one without a sweep. Every request is an independent deep copy of plan.Request.
func Expand(plan *Plan, indices []int) ([]Member, error) {
	if indices == nil {
		m, err := member(plan, nil, false)
		if err != nil {
			return nil, err
		}
		return []Member{m}, nil
	}

	background := len(indices) > 1
	members := make([]Member, 0, len(indices))
	for i := range indices {
		m, err := member(plan, &indices[i], background)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, nil
}

func member(plan *Plan, idx *int, background bool) (Member, error) {
	req := plan.Request.Clone()
	base := plan.BaseName()
	name := suffixed(base, idx)

	if idx != nil {
		i := *idx
		idx = &i
		req.Env = req.Env.Clone().Merge(env.SweepEnv(strconv.Itoa(i), plan.Mode.Containerized()))
		req.Interactive = false
		req.LogStderrBackground = background && plan.Mode == models.ModeDocker && !req.Quiet
	}

	if req.Docker != nil {
		req.Docker.Name = suffixed(nonEmpty(req.Docker.Name, base), idx)
		req.Docker.Mounts = append(req.Docker.Mounts, plan.Mounts...)
		name = req.Docker.Name
	}
	if req.Slurm != nil {
		req.Slurm.JobName = suffixed(nonEmpty(req.Slurm.JobName, base), idx)
		name = req.Slurm.JobName
	}
	if req.PBS != nil {
		req.PBS.JobName = suffixed(nonEmpty(req.PBS.JobName, base), idx)
		name = req.PBS.JobName
	}

	if plan.Mode.Containerized() {
		if err := nest(plan, req); err != nil {
			return Member{}, err
		}
	}
	return Member{Index: idx, Name: name, Request: req}, nil
}

// nest rewrites req.Command to run inside the singularity/apptainer image. The container
// sees the project under the container layout, with its own resolved environment.
func nest(plan *Plan, req *models.ExecutionRequest) error {
	inside := models.ContainerLayout(plan.Project)
	spec := req.Singularity.Clone()

	if !req.NoSync {
		spec = spec.
			WithBind(plan.Layout.Code, inside.Code).
			WithBind(plan.Layout.Output, inside.Output).
			WithBind(plan.Layout.Mount, inside.Mount)
	}
	for _, b := range plan.Mounts {
		spec = spec.WithBind(b.Source, b.Target)
	}
	if spec.Pwd == "" {
		spec.Pwd = inside.Workdir(req.RelWorkdir)
	}

	resolved, err := env.Resolve(env.Injected(env.Prefixes, inside, req.Command), req.Env, spec.Env)
	if err != nil {
		return err
	}
	// The user command is exported rather than inlined so $ and quotes reach the
	// container untouched.
	inline, moved := container.SplitEnv(resolved,
		env.Name(env.Prefix, env.UserCommand), env.Name(env.LegacyPrefix, env.UserCommand))
	spec.Env = inline
	req.Env = req.Env.Clone().Merge(env.Forward(moved))

	req.Command = container.Wrap(req.Command, spec)
	req.Singularity = spec
	return nil
}

func suffixed(name string, idx *int) string {
	if idx == nil {
		return name
	}
	return name + "-" + strconv.Itoa(*idx)
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
