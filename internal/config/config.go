package config

import (
	"sort"
	"strings"
	"time"

	"gitlab.com/lmn-dev/lmn/executor"
	"gitlab.com/lmn-dev/lmn/models"
	"gitlab.com/lmn-dev/lmn/utils/validate"
)

// Settings are application level options. They come from the "settings" section of the
// global config and may be overridden by LMN_* environment variables.
type Settings struct {
	Debug        bool          `mapstructure:"debug"`
	LogFile      string        `mapstructure:"log_file"`
	Database     string        `mapstructure:"database"`
	OTLPEndpoint string        `mapstructure:"otlp_endpoint"`
	SSHTimeout   time.Duration `mapstructure:"ssh_timeout"`
}

// Project holds what is specific to the local source tree.
type Project struct {
	Name          string            `mapstructure:"name"`
	RootDir       string            `mapstructure:"-"`
	Outdir        string            `mapstructure:"outdir"`
	Exclude       []string          `mapstructure:"exclude"`
	Startup       string            `mapstructure:"startup"`
	Environment   *models.EnvMap    `mapstructure:"-"`
	MountFromHost map[string]string `mapstructure:"mount_from_host"`
}

// Machine is one entry of the "machines" section.
type Machine struct {
	Name          string            `mapstructure:"-"`
	User          string            `mapstructure:"user"`
	Host          string            `mapstructure:"host"`
	Port          int               `mapstructure:"port"`
	IdentityFile  string            `mapstructure:"identity_file"`
	RootDir       string            `mapstructure:"root_dir"`
	Mode          string            `mapstructure:"mode"`
	Startup       string            `mapstructure:"startup"`
	UseSetenv     bool              `mapstructure:"use_setenv"`
	Environment   *models.EnvMap    `mapstructure:"-"`
	MountFromHost map[string]string `mapstructure:"mount_from_host"`

	Docker      *models.DockerConfig      `mapstructure:"-"`
	Slurm       *models.SlurmConfig       `mapstructure:"-"`
	PBS         *models.PBSConfig         `mapstructure:"-"`
	Singularity *models.SingularityConfig `mapstructure:"-"`
}

// Presets are named backend sections selectable from the command line.
type Presets struct {
	Slurm  map[string]*models.SlurmConfig
	PBS    map[string]*models.PBSConfig
	Docker map[string]*models.DockerConfig
}

// Config is the fully decoded configuration for one invocation.
type Config struct {
	Settings Settings
	Project  Project
	Machines map[string]*Machine
	Presets  Presets

	// Secret is read from the project's secret env file and layered over the project env.
	Secret *models.EnvMap
}

// Address renders user@host for rsync and logging.
func (m *Machine) Address() string {
	if m.User == "" {
		return m.Host
	}
	return m.User + "@" + m.Host
}

// LmnDir is the remote root all project directories live under.
func (m *Machine) LmnDir() string {
	return models.HostRoot(m.RootDir, m.User)
}

// MachineNames returns the configured machine names, sorted.
func (c *Config) MachineNames() []string {
	names := make([]string, 0, len(c.Machines))
	for name := range c.Machines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Machine looks up a machine by name.
func (c *Config) Machine(name string) (*Machine, error) {
	if len(c.Machines) == 0 {
		return nil, executor.NewConfigError("machines", "no machines are configured")
	}
	m, ok := c.Machines[name]
	if !ok {
		return nil, executor.NewConfigError("machines", "machine %q not found. Available machines are: %s",
			name, strings.Join(c.MachineNames(), ", "))
	}
	return m, nil
}

// ProjectEnv is the project environment with secrets layered on top.
func (c *Config) ProjectEnv() *models.EnvMap {
	return c.Project.Environment.Clone().Merge(c.Secret)
}

// Startup joins project and machine startup commands, skipping blanks.
func (c *Config) Startup(m *Machine) string {
	return strings.Join(validate.NonBlank(c.Project.Startup, m.Startup), " && ")
}

// Mounts merges project and machine mount_from_host entries (machine wins) into
// binds sorted by host path.
func (c *Config) Mounts(m *Machine) []models.Bind {
	merged := map[string]string{}
	for src, dst := range c.Project.MountFromHost {
		merged[src] = dst
	}
	for src, dst := range m.MountFromHost {
		merged[src] = dst
	}
	srcs := make([]string, 0, len(merged))
	for src := range merged {
		srcs = append(srcs, src)
	}
	sort.Strings(srcs)
	binds := make([]models.Bind, 0, len(srcs))
	for _, src := range srcs {
		binds = append(binds, models.Bind{Source: src, Target: merged[src]})
	}
	return binds
}
