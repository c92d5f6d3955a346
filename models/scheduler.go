package models

// DependencySingleton serialises jobs sharing a name and user.
const DependencySingleton = "singleton"

// SlurmConfig holds the sbatch/srun options lmn knows how to render.
// Empty fields are not rendered.
type SlurmConfig struct {
	JobName     string `mapstructure:"job_name" json:"job_name,omitempty"`
	Partition   string `mapstructure:"partition" json:"partition,omitempty"`
	CPUsPerTask int    `mapstructure:"cpus_per_task" json:"cpus_per_task,omitempty"`
	Time        string `mapstructure:"time" json:"time,omitempty"`
	NodeList    string `mapstructure:"nodelist" json:"nodelist,omitempty"`
	Exclude     string `mapstructure:"exclude" json:"exclude,omitempty"`
	Constraint  string `mapstructure:"constraint" json:"constraint,omitempty"`
	Dependency  string `mapstructure:"dependency" json:"dependency,omitempty"`
	Output      string `mapstructure:"output" json:"output,omitempty"`
	Error       string `mapstructure:"error" json:"error,omitempty"`
	Mem         string `mapstructure:"mem" json:"mem,omitempty"`
	Gres        string `mapstructure:"gres" json:"gres,omitempty"`
	Shell       string `mapstructure:"shell" json:"shell,omitempty"`
}

// DefaultSlurmConfig mirrors what sbatch users usually expect from lmn.
func DefaultSlurmConfig() SlurmConfig {
	return SlurmConfig{
		Partition:   "cpu",
		CPUsPerTask: 1,
		Shell:       "bash",
	}
}

// Clone returns a copy; SlurmConfig has no reference fields.
func (c *SlurmConfig) Clone() *SlurmConfig {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// PBSConfig holds the qsub options lmn knows how to render.
type PBSConfig struct {
	JobName     string `mapstructure:"job_name" json:"job_name,omitempty"`
	Account     string `mapstructure:"account" json:"account,omitempty"`
	Queue       string `mapstructure:"queue" json:"queue,omitempty"`
	Shell       string `mapstructure:"shell" json:"shell,omitempty"`
	Filesystems string `mapstructure:"filesystems" json:"filesystems,omitempty"`
	Select      string `mapstructure:"select" json:"select,omitempty"`
	Place       string `mapstructure:"place" json:"place,omitempty"`
	Walltime    string `mapstructure:"walltime" json:"walltime,omitempty"`
	Dependency  string `mapstructure:"dependency" json:"dependency,omitempty"`
}

// DefaultPBSConfig returns a single-node, free-placement request.
func DefaultPBSConfig() PBSConfig {
	return PBSConfig{
		Shell:       "/usr/bin/env bash",
		Filesystems: "home",
		Select:      "1",
		Place:       "free",
		Walltime:    "01:00:00",
	}
}

// ResourceList returns the values rendered as repeated -l options.
func (c *PBSConfig) ResourceList() []string {
	var out []string
	if c.Place != "" {
		out = append(out, "place="+c.Place)
	}
	if c.Walltime != "" {
		out = append(out, "walltime="+c.Walltime)
	}
	if c.Filesystems != "" {
		out = append(out, "filesystems="+c.Filesystems)
	}
	if c.Select != "" {
		out = append(out, "select="+c.Select)
	}
	return out
}

// Clone returns a copy; PBSConfig has no reference fields.
func (c *PBSConfig) Clone() *PBSConfig {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
