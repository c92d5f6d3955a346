package cmd

import (
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gitlab.com/lmn-dev/lmn/dispatch"
	"gitlab.com/lmn-dev/lmn/executor"
	"gitlab.com/lmn-dev/lmn/internal/config"
	"gitlab.com/lmn-dev/lmn/models"
	"gitlab.com/lmn-dev/lmn/utils"
	"gitlab.com/lmn-dev/lmn/utils/validate"
)

// runOptions are the flags of `lmn run`.
type runOptions struct {
	mode        string
	disown      bool
	force       bool
	noSync      bool
	quiet       bool
	contain     bool
	numSequence int
	sweep       string
	image       string
	name        string
	sconf       string
	pconf       string
	dconf       string
}

// buildPlan resolves configuration and flags into a dispatch plan. defaulted reports
// that neither the flag nor the machine picked a mode.
func buildPlan(cfg *config.Config, m *config.Machine, opts runOptions, cwd, command string, now time.Time) (plan *dispatch.Plan, defaulted bool, err error) {
	if validate.IsBlank(command) {
		return nil, false, executor.NewValidationError("command", "no command given")
	}
	mode, defaulted, err := dispatch.SelectMode(opts.mode, m.Mode)
	if err != nil {
		return nil, false, err
	}

	root := m.LmnDir()
	name := opts.name
	if opts.contain {
		ts := utils.Timestamp(now)
		root = path.Join(root, ts)
		if name == "" {
			name = ts
		} else {
			name += "-" + ts
		}
	}

	req := &models.ExecutionRequest{
		Command:     command,
		RelWorkdir:  relWorkdir(cfg.Project.RootDir, cwd),
		Startup:     cfg.Startup(m),
		Interactive: !opts.disown,
		Disown:      opts.disown,
		Env:         cfg.ProjectEnv().Merge(m.Environment),
		Sweep:       opts.sweep,
		NumSequence: opts.numSequence,
		Name:        name,
		Force:       opts.force,
		Quiet:       opts.quiet,
		NoSync:      opts.noSync,
		Singularity: m.Singularity.Clone(),
	}
	if req.Docker, err = dockerSection(cfg, m, opts); err != nil {
		return nil, false, err
	}
	if req.Slurm, err = slurmSection(cfg, m, opts.sconf); err != nil {
		return nil, false, err
	}
	if req.PBS, err = pbsSection(cfg, m, opts.pconf); err != nil {
		return nil, false, err
	}
	if mode.Containerized() && req.Singularity != nil {
		req.EnvFromHost = append([]string(nil), req.Singularity.EnvFromHost...)
	}

	return &dispatch.Plan{
		Machine:       m.Name,
		User:          m.User,
		Project:       cfg.Project.Name,
		Mode:          mode,
		Layout:        models.NewLayout(root, cfg.Project.Name),
		Mounts:        cfg.Mounts(m),
		RelocatedRoot: m.RootDir != "",
		Contained:     opts.contain,
		Request:       req,
	}, defaulted, nil
}

func dockerSection(cfg *config.Config, m *config.Machine, opts runOptions) (*models.DockerConfig, error) {
	dc := m.Docker.Clone()
	if opts.dconf != "" {
		preset, ok := cfg.Presets.Docker[opts.dconf]
		if !ok {
			return nil, unknownPreset("docker-images", opts.dconf, cfg.Presets.Docker)
		}
		dc = preset.Clone()
	}
	if opts.image != "" {
		if dc == nil {
			def := models.DefaultDockerConfig()
			dc = &def
		}
		dc.Image = opts.image
	}
	return dc, nil
}

func slurmSection(cfg *config.Config, m *config.Machine, preset string) (*models.SlurmConfig, error) {
	if preset == "" {
		return m.Slurm.Clone(), nil
	}
	sc, ok := cfg.Presets.Slurm[preset]
	if !ok {
		return nil, unknownPreset("slurm-configs", preset, cfg.Presets.Slurm)
	}
	return sc.Clone(), nil
}

func pbsSection(cfg *config.Config, m *config.Machine, preset string) (*models.PBSConfig, error) {
	if preset == "" {
		return m.PBS.Clone(), nil
	}
	pc, ok := cfg.Presets.PBS[preset]
	if !ok {
		return nil, unknownPreset("pbs-configs", preset, cfg.Presets.PBS)
	}
	return pc.Clone(), nil
}

func unknownPreset[T any](section, name string, presets map[string]T) error {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	if len(names) == 0 {
		return executor.NewConfigError(section, "preset %q not found, no presets are configured", name)
	}
	sort.Strings(names)
	return executor.NewConfigError(section, "preset %q not found. Available presets are: %s", name, strings.Join(names, ", "))
}

// relWorkdir is cwd relative to the project root, or "" outside of it.
func relWorkdir(root, cwd string) string {
	rel, err := filepath.Rel(root, cwd)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return filepath.ToSlash(rel)
}
