// Package env builds the environment a remote command runs with.
package env

import (
	"regexp"
	"strings"

	"gitlab.com/lmn-dev/lmn/executor"
	"gitlab.com/lmn-dev/lmn/models"
)

const (
	// Prefix is the current prefix of engine-injected variables.
	Prefix = "LMN"
	// LegacyPrefix is emitted alongside Prefix for older project scripts.
	LegacyPrefix = "RMX"

	CodeDir     = "CODE_DIR"
	MountDir    = "MOUNT_DIR"
	OutputDir   = "OUTPUT_DIR"
	ScriptDir   = "SCRIPT_DIR"
	UserCommand = "USER_COMMAND"
	SweepIndex  = "RUN_SWEEP_IDX"

	// Prefixes singularity and apptainer strip before forwarding a variable into the container.
	SingularityEnvPrefix = "SINGULARITYENV_"
	ApptainerEnvPrefix   = "APPTAINERENV_"
)

// Prefixes lists every prefix injected variables are emitted under.
var Prefixes = []string{Prefix, LegacyPrefix}

// placeholder matches ${NAME} or $NAME for the four directory variables under either prefix.
// The bare form is word bounded so $LMN_CODE_DIRX is left alone.
var placeholder = regexp.MustCompile(
	`\$\{((?:LMN|RMX)_(?:CODE|MOUNT|OUTPUT|SCRIPT)_DIR)\}|\$((?:LMN|RMX)_(?:CODE|MOUNT|OUTPUT|SCRIPT)_DIR)\b`,
)

// Name joins a prefix and a variable suffix, e.g. Name(Prefix, CodeDir) is LMN_CODE_DIR.
func Name(prefix, suffix string) string {
	return prefix + "_" + suffix
}

// Injected builds the engine layer: the four directories and the user command under every prefix.
func Injected(prefixes []string, layout models.DirectoryLayout, cmd string) *models.EnvMap {
	out := models.NewEnvMap()
	for _, p := range prefixes {
		out.Set(Name(p, CodeDir), layout.Code)
		out.Set(Name(p, MountDir), layout.Mount)
		out.Set(Name(p, OutputDir), layout.Output)
		out.Set(Name(p, ScriptDir), layout.Script)
		out.Set(Name(p, UserCommand), cmd)
	}
	return out
}

// Resolve merges layers left to right, applies injected last and rewrites directory
// placeholders in every value with the injected paths. Substitution is a single pass:
// text produced by a replacement is not scanned again.
//
// A placeholder naming a directory variable absent from injected is a *executor.ConfigError.
func Resolve(injected *models.EnvMap, layers ...*models.EnvMap) (*models.EnvMap, error) {
	merged := models.NewEnvMap()
	for _, l := range layers {
		merged.Merge(l)
	}
	merged.Merge(injected)

	out := models.NewEnvMap()
	var missing []string
	merged.Each(func(k, v string) {
		s, m := substitute(v, injected)
		for _, name := range m {
			missing = append(missing, k+" references "+name)
		}
		out.Set(k, s)
	})
	if len(missing) > 0 {
		return nil, executor.NewConfigError("env", "%s, which is never injected", strings.Join(missing, "; "))
	}
	return out, nil
}

// Substitute rewrites directory placeholders in s with their values from injected.
func Substitute(s string, injected *models.EnvMap) (string, error) {
	res, missing := substitute(s, injected)
	if len(missing) > 0 {
		return "", executor.NewConfigError("env", "%s referenced but never injected", strings.Join(missing, ", "))
	}
	return res, nil
}

func substitute(s string, injected *models.EnvMap) (string, []string) {
	var missing []string
	res := placeholder.ReplaceAllStringFunc(s, func(m string) string {
		sub := placeholder.FindStringSubmatch(m)
		name := sub[1]
		if name == "" {
			name = sub[2]
		}
		v, ok := injected.Get(name)
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})
	return res, missing
}

// SweepEnv returns the variables set for one sweep member. When nested is true the
// container-forwarding copies are added so the index reaches the command inside the container.
func SweepEnv(idx string, nested bool) *models.EnvMap {
	out := models.NewEnvMap()
	for _, p := range Prefixes {
		name := Name(p, SweepIndex)
		out.Set(name, idx)
		if nested {
			out.Set(SingularityEnvPrefix+name, idx)
			out.Set(ApptainerEnvPrefix+name, idx)
		}
	}
	return out
}

// Forward renames every variable of vars under both container forwarding prefixes, so
// singularity/apptainer set it inside the container from the host environment.
func Forward(vars *models.EnvMap) *models.EnvMap {
	out := models.NewEnvMap()
	for _, prefix := range []string{SingularityEnvPrefix, ApptainerEnvPrefix} {
		vars.Each(func(k, v string) {
			out.Set(prefix+k, v)
		})
	}
	return out
}

// ForwardFromHost renders the exports that make host variables visible inside
// singularity/apptainer. Values are left as $NAME to evaluate inside the allocation.
func ForwardFromHost(names []string) []string {
	out := make([]string, 0, 2*len(names))
	for _, prefix := range []string{SingularityEnvPrefix, ApptainerEnvPrefix} {
		for _, n := range names {
			out = append(out, "export "+prefix+n+"=$"+n)
		}
	}
	return out
}
