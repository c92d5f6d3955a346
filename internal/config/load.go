package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"gitlab.com/lmn-dev/lmn/models"
)

var (
	// globalConfigPaths are relative to $HOME; the first existing one is used.
	globalConfigPaths = []string{".config/lmn.json5", ".config/rmx"}

	// LocalConfigNames are looked up in the project root; the first non-empty one is used.
	LocalConfigNames = []string{".lmn.json5", ".rmx.config"}

	secretEnvNames = []string{".secret.env", ".env.secret"}
)

// Loader reads lmn configuration files through an afero filesystem.
type Loader struct {
	fs   afero.Fs
	home string
	log  *zap.SugaredLogger
}

func NewLoader(fs afero.Fs, home string, log *zap.Logger) *Loader {
	return &Loader{fs: fs, home: home, log: log.Sugar()}
}

func setDefaultSettings(v *viper.Viper, home string) {
	v.SetDefault("settings.debug", false)
	v.SetDefault("settings.log_file", "")
	v.SetDefault("settings.database", filepath.Join(home, ".lmn", "launched.db"))
	v.SetDefault("settings.otlp_endpoint", "")
	v.SetDefault("settings.ssh_timeout", 10*time.Second)

	_ = v.BindEnv("settings.debug", "LMN_DEBUG")
	_ = v.BindEnv("settings.log_file", "LMN_LOG_FILE")
	_ = v.BindEnv("settings.database", "LMN_DATABASE")
	_ = v.BindEnv("settings.otlp_endpoint", "LMN_OTLP_ENDPOINT")
	_ = v.BindEnv("settings.ssh_timeout", "LMN_SSH_TIMEOUT")
}

// Load reads the global and local config files for the project at root and decodes them.
// Local values win over global ones; nested objects are merged key by key.
func (l *Loader) Load(root string) (*Config, error) {
	global, path, err := l.readFirst(l.globalPaths())
	if err != nil {
		return nil, err
	}
	if path == "" {
		l.log.Warn("lmn global config file cannot be found. You may place it at ~/.config/lmn.json5")
	} else {
		l.log.Debugw("loaded global config", "path", path)
	}

	var localPaths []string
	for _, name := range LocalConfigNames {
		localPaths = append(localPaths, filepath.Join(root, name))
	}
	local, path, err := l.readFirst(localPaths)
	if err != nil {
		return nil, err
	}
	if path != "" {
		l.log.Debugw("loaded local config", "path", path)
	}

	merged := mergeMaps(global, local)

	cfg := &Config{Machines: map[string]*Machine{}}
	if cfg.Settings, err = l.settings(merged); err != nil {
		return nil, err
	}
	if cfg.Project, err = decodeProject(merged["project"], root); err != nil {
		return nil, err
	}

	machines, _ := merged["machines"].(map[string]interface{})
	for name, raw := range machines {
		m, err := decodeMachine(name, raw)
		if err != nil {
			return nil, err
		}
		cfg.Machines[name] = m
	}

	if cfg.Presets, err = decodePresets(merged); err != nil {
		return nil, err
	}
	if cfg.Secret, err = l.secretEnv(root); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) globalPaths() []string {
	paths := make([]string, 0, len(globalConfigPaths))
	for _, p := range globalConfigPaths {
		paths = append(paths, filepath.Join(l.home, p))
	}
	return paths
}

// settings layers the "settings" section over defaults and LMN_* environment variables.
func (l *Loader) settings(merged map[string]interface{}) (Settings, error) {
	var out struct {
		Settings Settings `mapstructure:"settings"`
	}
	v := viper.New()
	setDefaultSettings(v, l.home)
	if raw, ok := merged["settings"].(map[string]interface{}); ok {
		if err := v.MergeConfigMap(map[string]interface{}{"settings": raw}); err != nil {
			return out.Settings, fmt.Errorf("failed to read settings: %w", err)
		}
	}
	if err := v.Unmarshal(&out); err != nil {
		return out.Settings, fmt.Errorf("failed to decode settings: %w", err)
	}
	return out.Settings, nil
}

// readFirst returns the decoded content of the first path that exists and is not empty.
func (l *Loader) readFirst(paths []string) (map[string]interface{}, string, error) {
	for _, p := range paths {
		ok, err := afero.Exists(l.fs, p)
		if err != nil {
			return nil, "", err
		}
		if !ok {
			continue
		}
		data, err := afero.ReadFile(l.fs, p)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read %s: %w", p, err)
		}
		out, err := parse(data)
		if err != nil {
			return nil, "", fmt.Errorf("failed to parse %s: %w", p, err)
		}
		if len(out) > 0 {
			return out, p, nil
		}
	}
	return nil, "", nil
}

func (l *Loader) secretEnv(root string) (*models.EnvMap, error) {
	for i, name := range secretEnvNames {
		p := filepath.Join(root, name)
		f, err := l.fs.Open(p)
		if err != nil {
			continue
		}
		values, err := godotenv.Parse(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", p, err)
		}
		if i > 0 {
			l.log.Infof("Reading from %q will be deprecated in the future. Please rename it to %q.", name, secretEnvNames[0])
		}
		env := models.EnvFromMap(values)
		l.log.Debugw("loaded secret env", "path", p, "keys", env.Keys())
		return env, nil
	}
	return models.NewEnvMap(), nil
}

// parse decodes JSON after dropping comments and trailing commas.
func parse(data []byte) (map[string]interface{}, error) {
	data = bytes.TrimSpace(removeTrailingCommas(removeComments(data)))
	if len(data) == 0 {
		return nil, nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// removeComments drops // and /* */ comments that are not inside a string literal.
func removeComments(src []byte) []byte {
	var out bytes.Buffer
	inString, escaped := false, false
	for i := 0; i < len(src); i++ {
		c := src[i]
		if inString {
			out.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out.WriteByte(c)
			continue
		}
		if c == '/' && i+1 < len(src) {
			switch src[i+1] {
			case '/':
				for i < len(src) && src[i] != '\n' {
					i++
				}
				if i < len(src) {
					out.WriteByte('\n')
				}
				continue
			case '*':
				end := bytes.Index(src[i+2:], []byte("*/"))
				if end < 0 {
					return out.Bytes()
				}
				i += end + 3
				continue
			}
		}
		out.WriteByte(c)
	}
	return out.Bytes()
}

// removeTrailingCommas drops a comma followed only by whitespace and a closing bracket.
func removeTrailingCommas(src []byte) []byte {
	var out bytes.Buffer
	inString, escaped := false, false
	for i := 0; i < len(src); i++ {
		c := src[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			out.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(src) && (src[j] == ' ' || src[j] == '\t' || src[j] == '\n' || src[j] == '\r') {
				j++
			}
			if j < len(src) && (src[j] == '}' || src[j] == ']') {
				continue
			}
		}
		out.WriteByte(c)
	}
	return out.Bytes()
}

// mergeMaps returns base overlaid with over. Nested objects merge; anything else is replaced.
func mergeMaps(base, over map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		bm, bok := out[k].(map[string]interface{})
		om, ook := v.(map[string]interface{})
		if bok && ook {
			out[k] = mergeMaps(bm, om)
			continue
		}
		out[k] = v
	}
	return out
}

// startupHook accepts a list of commands wherever a string is expected and joins them with "; ".
func startupHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to.Kind() != reflect.String || from.Kind() != reflect.Slice {
		return data, nil
	}
	items := reflect.ValueOf(data)
	parts := make([]string, 0, items.Len())
	for i := 0; i < items.Len(); i++ {
		parts = append(parts, fmt.Sprint(items.Index(i).Interface()))
	}
	return strings.Join(parts, "; "), nil
}

func decode(input, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			startupHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

func decodeEnv(section map[string]interface{}, key string) (*models.EnvMap, error) {
	raw, ok := section[key]
	if !ok || raw == nil {
		return models.NewEnvMap(), nil
	}
	values := map[string]string{}
	if err := decode(raw, &values); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return models.EnvFromMap(values), nil
}

func asSection(raw interface{}, name string) (map[string]interface{}, error) {
	if raw == nil {
		return map[string]interface{}{}, nil
	}
	section, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("section %q must be an object", name)
	}
	return section, nil
}

func decodeProject(raw interface{}, root string) (Project, error) {
	var p Project
	section, err := asSection(raw, "project")
	if err != nil {
		return p, err
	}
	if err := decode(section, &p); err != nil {
		return p, fmt.Errorf("project: %w", err)
	}
	if p.Environment, err = decodeEnv(section, "environment"); err != nil {
		return p, fmt.Errorf("project: %w", err)
	}
	p.RootDir = root
	if p.Name == "" {
		p.Name = filepath.Base(root)
	}
	if p.Outdir == "" {
		p.Outdir = filepath.Join(root, ".output")
	}
	return p, nil
}

func decodeMachine(name string, raw interface{}) (*Machine, error) {
	section, err := asSection(raw, "machines."+name)
	if err != nil {
		return nil, err
	}
	m := &Machine{Name: name}
	if err := decode(section, m); err != nil {
		return nil, fmt.Errorf("machines.%s: %w", name, err)
	}
	if m.Environment, err = decodeEnv(section, "environment"); err != nil {
		return nil, fmt.Errorf("machines.%s: %w", name, err)
	}
	if raw, ok := section["docker"]; ok {
		if m.Docker, err = decodeDocker(raw); err != nil {
			return nil, fmt.Errorf("machines.%s.docker: %w", name, err)
		}
	}
	if raw, ok := section["slurm"]; ok {
		if m.Slurm, err = decodeSlurm(raw); err != nil {
			return nil, fmt.Errorf("machines.%s.slurm: %w", name, err)
		}
	}
	if raw, ok := section["pbs"]; ok {
		if m.PBS, err = decodePBS(raw); err != nil {
			return nil, fmt.Errorf("machines.%s.pbs: %w", name, err)
		}
	}
	if raw, ok := section["singularity"]; ok {
		if m.Singularity, err = decodeSingularity(raw); err != nil {
			return nil, fmt.Errorf("machines.%s.singularity: %w", name, err)
		}
	}
	return m, nil
}

func decodeDocker(raw interface{}) (*models.DockerConfig, error) {
	section, err := asSection(raw, "docker")
	if err != nil {
		return nil, err
	}
	dc := models.DefaultDockerConfig()
	if err := decode(section, &dc); err != nil {
		return nil, err
	}
	if dc.Env, err = decodeEnv(section, "env"); err != nil {
		return nil, err
	}
	return &dc, nil
}

func decodeSlurm(raw interface{}) (*models.SlurmConfig, error) {
	section, err := asSection(raw, "slurm")
	if err != nil {
		return nil, err
	}
	sc := models.DefaultSlurmConfig()
	if err := decode(section, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

func decodePBS(raw interface{}) (*models.PBSConfig, error) {
	section, err := asSection(raw, "pbs")
	if err != nil {
		return nil, err
	}
	pc := models.DefaultPBSConfig()
	if err := decode(section, &pc); err != nil {
		return nil, err
	}
	return &pc, nil
}

func decodeSingularity(raw interface{}) (*models.SingularityConfig, error) {
	section, err := asSection(raw, "singularity")
	if err != nil {
		return nil, err
	}
	sc := models.DefaultSingularityConfig()
	if err := decode(section, &sc); err != nil {
		return nil, err
	}
	if sc.Env, err = decodeEnv(section, "env"); err != nil {
		return nil, err
	}
	return &sc, nil
}

func decodePresets(merged map[string]interface{}) (Presets, error) {
	p := Presets{
		Slurm:  map[string]*models.SlurmConfig{},
		PBS:    map[string]*models.PBSConfig{},
		Docker: map[string]*models.DockerConfig{},
	}
	if section, ok := merged["slurm-configs"].(map[string]interface{}); ok {
		for name, raw := range section {
			sc, err := decodeSlurm(raw)
			if err != nil {
				return p, fmt.Errorf("slurm-configs.%s: %w", name, err)
			}
			p.Slurm[name] = sc
		}
	}
	if section, ok := merged["pbs-configs"].(map[string]interface{}); ok {
		for name, raw := range section {
			pc, err := decodePBS(raw)
			if err != nil {
				return p, fmt.Errorf("pbs-configs.%s: %w", name, err)
			}
			p.PBS[name] = pc
		}
	}
	if section, ok := merged["docker-images"].(map[string]interface{}); ok {
		for name, raw := range section {
			dc, err := decodeDocker(raw)
			if err != nil {
				return p, fmt.Errorf("docker-images.%s: %w", name, err)
			}
			p.Docker[name] = dc
		}
	}
	return p, nil
}
