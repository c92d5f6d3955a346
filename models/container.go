package models

import (
	"strconv"
)

// Bind maps a host path into a container.
type Bind struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// DockerConfig describes the container a docker-mode request runs in.
type DockerConfig struct {
	Image   string  `mapstructure:"image" json:"image"`
	Name    string  `mapstructure:"name" json:"name,omitempty"`
	Env     *EnvMap `mapstructure:"-" json:"env,omitempty"`
	Mounts  []Bind  `mapstructure:"-" json:"mounts,omitempty"`
	Remove  bool    `mapstructure:"remove" json:"remove"`
	Network string  `mapstructure:"network" json:"network,omitempty"`
	IPCMode string  `mapstructure:"ipc_mode" json:"ipc_mode,omitempty"`
	Startup string  `mapstructure:"startup" json:"startup,omitempty"`
	TTY     bool    `mapstructure:"tty" json:"tty"`
	GPUs    string  `mapstructure:"gpus" json:"gpus,omitempty"`
	UserID  int     `mapstructure:"user_id" json:"user_id"`
	GroupID int     `mapstructure:"group_id" json:"group_id"`
	Runtime string  `mapstructure:"runtime" json:"runtime,omitempty"`
}

// DefaultDockerConfig returns the defaults applied before user configuration.
func DefaultDockerConfig() DockerConfig {
	return DockerConfig{
		Remove:  true,
		Network: "bridge",
		IPCMode: "private",
		TTY:     true,
		GPUs:    "all",
		Runtime: "docker",
	}
}

// User renders the uid:gid pair docker expects.
func (c *DockerConfig) User() string {
	return strconv.Itoa(c.UserID) + ":" + strconv.Itoa(c.GroupID)
}

// Clone deep-copies the config, including env and mounts.
func (c *DockerConfig) Clone() *DockerConfig {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Env = c.Env.Clone()
	cp.Mounts = append([]Bind(nil), c.Mounts...)
	return &cp
}

// SingularityConfig describes a singularity/apptainer container nested in a scheduler job.
type SingularityConfig struct {
	SIFFile       string   `mapstructure:"sif_file" json:"sif_file"`
	Env           *EnvMap  `mapstructure:"-" json:"env,omitempty"`
	EnvFromHost   []string `mapstructure:"env_from_host" json:"env_from_host,omitempty"`
	Binds         []Bind   `mapstructure:"-" json:"binds,omitempty"`
	Overlay       string   `mapstructure:"overlay" json:"overlay,omitempty"`
	Startup       string   `mapstructure:"startup" json:"startup,omitempty"`
	Pwd           string   `mapstructure:"pwd" json:"pwd,omitempty"`
	Runtime       string   `mapstructure:"runtime" json:"runtime,omitempty"`
	WritableTmpfs bool     `mapstructure:"writable_tmpfs" json:"writable_tmpfs"`
	NV            bool     `mapstructure:"nv" json:"nv"`
	ContainAll    bool     `mapstructure:"containall" json:"containall"`
}

// DefaultSingularityConfig enables the flags GPU jobs need.
// Without --containall nvidia-smi cannot find libnvidia-ml.so.
func DefaultSingularityConfig() SingularityConfig {
	return SingularityConfig{
		Runtime:       "singularity",
		WritableTmpfs: true,
		NV:            true,
		ContainAll:    true,
		EnvFromHost:   []string{"CUDA_VISIBLE_DEVICES"},
	}
}

// WithBind returns a copy with one more bind appended.
func (c *SingularityConfig) WithBind(source, target string) *SingularityConfig {
	cp := c.Clone()
	cp.Binds = append(cp.Binds, Bind{Source: source, Target: target})
	return cp
}

// Clone deep-copies the config.
func (c *SingularityConfig) Clone() *SingularityConfig {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Env = c.Env.Clone()
	cp.EnvFromHost = append([]string(nil), c.EnvFromHost...)
	cp.Binds = append([]Bind(nil), c.Binds...)
	return &cp
}
