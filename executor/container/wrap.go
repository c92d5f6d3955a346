// Package container renders commands that run inside singularity, apptainer or docker.
package container

import (
	"strings"

	"github.com/alessio/shellescape"

	"gitlab.com/lmn-dev/lmn/models"
)

const (
	RuntimeSingularity = "singularity"
	RuntimeApptainer   = "apptainer"
)

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// Escape prepares s for embedding in a double-quoted shell string.
// $ and backticks are kept so they expand inside the allocation, not on the login node.
func Escape(s string) string {
	return quoteEscaper.Replace(s)
}

// Wrap returns the invocation running cmd inside the singularity/apptainer image of spec:
//
//	<runtime> run <flags> <image> bash -c -- "<escaped cmd>"
//
// The startup command is joined with ';' so a failing startup still lets cmd run.
// Wrap never modifies spec.
func Wrap(cmd string, spec *models.SingularityConfig) string {
	if spec.Startup != "" {
		cmd = spec.Startup + "; " + cmd
	}

	runtime := spec.Runtime
	if runtime == "" {
		runtime = RuntimeSingularity
	}

	parts := []string{runtime, "run"}
	parts = append(parts, Options(spec)...)
	parts = append(parts, spec.SIFFile, "bash", "-c", "--", `"`+Escape(cmd)+`"`)
	return strings.Join(parts, " ")
}

// Options renders the runtime flags for spec in a fixed order: boolean flags, --pwd,
// the aggregated --env, one --env per host variable, binds, then --overlay.
func Options(spec *models.SingularityConfig) []string {
	var opts []string

	if spec.NV {
		opts = append(opts, "--nv")
	}
	if spec.ContainAll {
		opts = append(opts, "--containall")
	}
	if spec.WritableTmpfs {
		opts = append(opts, "--writable-tmpfs")
	}

	if spec.Pwd != "" {
		opts = append(opts, "--pwd "+spec.Pwd)
	}

	if spec.Env.Len() > 0 {
		pairs := make([]string, 0, spec.Env.Len())
		spec.Env.Each(func(k, v string) {
			pairs = append(pairs, k+`="`+Escape(v)+`"`)
		})
		opts = append(opts, "--env "+strings.Join(pairs, ","))
	}

	// Values such as CUDA_VISIBLE_DEVICES=0,1 would be split on the comma in the
	// aggregated flag, and must be read when the container starts anyway.
	for _, name := range spec.EnvFromHost {
		opts = append(opts, "--env "+name+"=$"+name)
	}

	for _, b := range spec.Binds {
		opts = append(opts, "-B "+b.Source+":"+b.Target)
	}

	if spec.Overlay != "" {
		opts = append(opts, "--overlay "+spec.Overlay)
	}
	return opts
}

// SplitEnv separates the variables that can travel in the aggregated --env flag from
// the ones that cannot: the runtime splits that flag on commas and rejects bare double
// quotes. Variables named in always are moved regardless of their value.
func SplitEnv(vars *models.EnvMap, always ...string) (inline, moved *models.EnvMap) {
	inline, moved = models.NewEnvMap(), models.NewEnvMap()
	vars.Each(func(k, v string) {
		if strings.ContainsAny(v, `,"`) || contains(always, k) {
			moved.Set(k, v)
			return
		}
		inline.Set(k, v)
	})
	return inline, moved
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// WrapDocker renders the docker CLI equivalent of a container run. It is printed on
// dry runs; real runs go through the docker API.
func WrapDocker(cmd string, spec *models.DockerConfig, workdir string) string {
	if spec.Startup != "" {
		cmd = spec.Startup + " && " + cmd
	}

	parts := []string{"docker", "run"}
	if spec.Remove {
		parts = append(parts, "--rm")
	}
	if spec.TTY {
		parts = append(parts, "-it")
	}
	if spec.Name != "" {
		parts = append(parts, "--name", shellescape.Quote(spec.Name))
	}
	if spec.GPUs != "" {
		parts = append(parts, "--gpus", shellescape.Quote(spec.GPUs))
	}
	if spec.Runtime != "" && spec.Runtime != "docker" {
		parts = append(parts, "--runtime", spec.Runtime)
	}
	if spec.Network != "" {
		parts = append(parts, "--network", spec.Network)
	}
	if spec.IPCMode != "" {
		parts = append(parts, "--ipc", spec.IPCMode)
	}
	parts = append(parts, "-u", spec.User())

	for _, kv := range spec.Env.List() {
		parts = append(parts, "-e", shellescape.Quote(kv))
	}
	for _, m := range spec.Mounts {
		parts = append(parts, "-v", shellescape.Quote(m.Source+":"+m.Target))
	}
	if workdir != "" {
		parts = append(parts, "-w", shellescape.Quote(workdir))
	}

	parts = append(parts, spec.Image, "bash", "-c", "--", `"`+Escape(cmd)+`"`)
	return strings.Join(parts, " ")
}
