package config

import (
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"gitlab.com/lmn-dev/lmn/executor"
)

const globalConfig = `{
  // machines shared by every project
  "settings": {
    "otlp_endpoint": "http://localhost:4317", // not a comment inside a string
    "ssh_timeout": "30s",
  },
  "machines": {
    "cluster": {
      "user": "alice",
      "host": "login.cluster.example",
      "root_dir": "/scratch",
      "mode": "slurm",
      "startup": ["module load cuda", "source venv/bin/activate"],
      "environment": {"OMP_NUM_THREADS": 4},
      "slurm": {"partition": "gpu", "time": "01:00:00"},
      "singularity": {"sif_file": "/images/app.sif"},
    },
    "gpubox": {
      "user": "alice",
      "host": "gpubox",
      "docker": {"image": "pytorch:latest", "user_id": 1000, "group_id": 1000},
      "mount_from_host": {"/data": "/data"},
    },
  },
  /* presets */
  "slurm-configs": {
    "long": {"partition": "cpu", "time": "48:00:00"},
  },
  "docker-images": {
    "tf": {"image": "tensorflow:latest"},
  },
}`

const localConfig = `{
  "project": {
    "name": "demo",
    "startup": "export A=1",
    "environment": {"WANDB_PROJECT": "demo"},
    "mount_from_host": {"/data": "/mnt/data", "/models": "/models"},
  },
  "machines": {
    "cluster": {"slurm": {"partition": "a100"}},
  },
}`

type LoaderTestSuite struct {
	suite.Suite
	fs     afero.Fs
	loader *Loader
}

func (s *LoaderTestSuite) SetupTest() {
	s.fs = afero.NewMemMapFs()
	s.loader = NewLoader(s.fs, "/home/alice", zap.NewNop())
	s.Require().NoError(afero.WriteFile(s.fs, "/home/alice/.config/lmn.json5", []byte(globalConfig), 0o644))
	s.Require().NoError(afero.WriteFile(s.fs, "/home/alice/src/demo/.lmn.json5", []byte(localConfig), 0o644))
}

func (s *LoaderTestSuite) TestMergesLocalOverGlobal() {
	cfg, err := s.loader.Load("/home/alice/src/demo")
	s.Require().NoError(err)

	m, err := cfg.Machine("cluster")
	s.Require().NoError(err)
	s.Equal("a100", m.Slurm.Partition)
	s.Equal("01:00:00", m.Slurm.Time)
	s.Equal(1, m.Slurm.CPUsPerTask, "defaults survive decoding")
	s.Equal("module load cuda; source venv/bin/activate", m.Startup)
	s.Equal("/scratch/alice", m.LmnDir())
	s.Equal("alice@login.cluster.example", m.Address())

	v, ok := m.Environment.Get("OMP_NUM_THREADS")
	s.True(ok)
	s.Equal("4", v)

	s.Equal("/images/app.sif", m.Singularity.SIFFile)
	s.True(m.Singularity.ContainAll)
	s.Nil(m.Docker)
}

func (s *LoaderTestSuite) TestProject() {
	cfg, err := s.loader.Load("/home/alice/src/demo")
	s.Require().NoError(err)

	s.Equal("demo", cfg.Project.Name)
	s.Equal("/home/alice/src/demo/.output", cfg.Project.Outdir)
	s.Equal("/home/alice/src/demo", cfg.Project.RootDir)

	m, err := cfg.Machine("gpubox")
	s.Require().NoError(err)
	s.Equal("export A=1", cfg.Startup(m))
	s.Equal("/tmp/alice/lmn", m.LmnDir())

	binds := cfg.Mounts(m)
	s.Require().Len(binds, 2)
	s.Equal("/data", binds[0].Source)
	s.Equal("/data", binds[0].Target, "machine mounts win")
	s.Equal("/models", binds[1].Source)

	s.Equal("pytorch:latest", m.Docker.Image)
	s.Equal("1000:1000", m.Docker.User())
	s.True(m.Docker.Remove)
}

func (s *LoaderTestSuite) TestSettings() {
	cfg, err := s.loader.Load("/home/alice/src/demo")
	s.Require().NoError(err)
	s.Equal("http://localhost:4317", cfg.Settings.OTLPEndpoint)
	s.Equal(30*time.Second, cfg.Settings.SSHTimeout)
	s.Equal("/home/alice/.lmn/launched.db", cfg.Settings.Database)
	s.False(cfg.Settings.Debug)
}

func (s *LoaderTestSuite) TestSettingsFromEnvironment() {
	s.T().Setenv("LMN_DEBUG", "true")
	s.T().Setenv("LMN_DATABASE", "/tmp/launched.db")

	cfg, err := s.loader.Load("/home/alice/src/demo")
	s.Require().NoError(err)
	s.True(cfg.Settings.Debug)
	s.Equal("/tmp/launched.db", cfg.Settings.Database)
}

func (s *LoaderTestSuite) TestPresets() {
	cfg, err := s.loader.Load("/home/alice/src/demo")
	s.Require().NoError(err)
	s.Equal("48:00:00", cfg.Presets.Slurm["long"].Time)
	s.Equal("tensorflow:latest", cfg.Presets.Docker["tf"].Image)
	s.Empty(cfg.Presets.PBS)
}

func (s *LoaderTestSuite) TestUnknownMachine() {
	cfg, err := s.loader.Load("/home/alice/src/demo")
	s.Require().NoError(err)

	_, err = cfg.Machine("nope")
	var cerr *executor.ConfigError
	s.Require().True(errors.As(err, &cerr))
	s.Contains(err.Error(), "cluster, gpubox")
}

func (s *LoaderTestSuite) TestNoMachines() {
	loader := NewLoader(afero.NewMemMapFs(), "/home/bob", zap.NewNop())
	cfg, err := loader.Load("/home/bob/proj")
	s.Require().NoError(err)
	s.Equal("proj", cfg.Project.Name)

	_, err = cfg.Machine("cluster")
	s.ErrorContains(err, "no machines")
}

func (s *LoaderTestSuite) TestSecretEnv() {
	s.Require().NoError(afero.WriteFile(s.fs, "/home/alice/src/demo/.secret.env", []byte("TOKEN=abc\nWANDB_PROJECT=override\n"), 0o600))

	cfg, err := s.loader.Load("/home/alice/src/demo")
	s.Require().NoError(err)

	env := cfg.ProjectEnv()
	v, _ := env.Get("WANDB_PROJECT")
	s.Equal("override", v)
	v, _ = env.Get("TOKEN")
	s.Equal("abc", v)

	v, _ = cfg.Project.Environment.Get("WANDB_PROJECT")
	s.Equal("demo", v, "project env is not mutated")
}

func (s *LoaderTestSuite) TestLegacySecretEnv() {
	s.Require().NoError(afero.WriteFile(s.fs, "/home/alice/src/demo/.env.secret", []byte("TOKEN=legacy\n"), 0o600))

	cfg, err := s.loader.Load("/home/alice/src/demo")
	s.Require().NoError(err)
	v, _ := cfg.Secret.Get("TOKEN")
	s.Equal("legacy", v)
}

func (s *LoaderTestSuite) TestLegacyConfigNames() {
	fs := afero.NewMemMapFs()
	s.Require().NoError(afero.WriteFile(fs, "/home/bob/.config/rmx", []byte(`{"machines": {"old": {"host": "h"}}}`), 0o644))
	loader := NewLoader(fs, "/home/bob", zap.NewNop())

	cfg, err := loader.Load("/home/bob/proj")
	s.Require().NoError(err)
	s.Equal([]string{"old"}, cfg.MachineNames())
}

func (s *LoaderTestSuite) TestMalformed() {
	s.Require().NoError(afero.WriteFile(s.fs, "/home/alice/src/demo/.lmn.json5", []byte(`{"project": `), 0o644))
	_, err := s.loader.Load("/home/alice/src/demo")
	s.ErrorContains(err, ".lmn.json5")
}

func TestLoaderTestSuite(t *testing.T) {
	suite.Run(t, new(LoaderTestSuite))
}

func TestFindProjectRoot(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/home/alice/src/demo/.git", 0o755))
	require.NoError(t, fs.MkdirAll("/home/alice/src/demo/pkg/sub", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/home/alice/other/.rmx.config", []byte("{}"), 0o644))
	require.NoError(t, fs.MkdirAll("/home/alice/loose/dir", 0o755))
	loader := NewLoader(fs, "/home/alice", zap.NewNop())

	root, err := loader.FindProjectRoot("/home/alice/src/demo/pkg/sub")
	require.NoError(t, err)
	assert.Equal(t, "/home/alice/src/demo", root)

	root, err = loader.FindProjectRoot("/home/alice/other")
	require.NoError(t, err)
	assert.Equal(t, "/home/alice/other", root)

	root, err = loader.FindProjectRoot("/home/alice/loose/dir")
	require.NoError(t, err)
	assert.Equal(t, "/home/alice/loose/dir", root)

	_, err = loader.FindProjectRoot("/home/alice")
	assert.ErrorContains(t, err, "home directory")

	_, err = loader.FindProjectRoot("/")
	assert.ErrorContains(t, err, "system root")
}

func TestRemoveComments(t *testing.T) {
	in := "{\n  \"url\": \"http://x\", // trailing\n  /* block */ \"a\": [1, 2,],\n}"
	out, err := parse([]byte(in))
	require.NoError(t, err)
	assert.Equal(t, "http://x", out["url"])
	assert.Len(t, out["a"], 2)
}

func TestMergeMaps(t *testing.T) {
	base := map[string]interface{}{"a": map[string]interface{}{"x": 1, "y": 2}, "b": 1}
	over := map[string]interface{}{"a": map[string]interface{}{"y": 3}, "b": "s"}
	got := mergeMaps(base, over)
	assert.Equal(t, map[string]interface{}{"a": map[string]interface{}{"x": 1, "y": 3}, "b": "s"}, got)
	assert.Equal(t, 2, base["a"].(map[string]interface{})["y"], "inputs are not mutated")
}
