package dispatch

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"gitlab.com/lmn-dev/lmn/executor"
	"gitlab.com/lmn-dev/lmn/executor/container"
	"gitlab.com/lmn-dev/lmn/models"
)

// fakeRunner records every request it receives.
type fakeRunner struct {
	mu     sync.Mutex
	reqs   []*models.ExecutionRequest
	failAt int
	closed bool
}

func (f *fakeRunner) Exec(_ context.Context, req *models.ExecutionRequest) (*models.JobHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.failAt > 0 && len(f.reqs) == f.failAt {
		return nil, errors.New("boom")
	}
	h := &models.JobHandle{Mode: models.ModeSlurm, JobID: string(rune('0' + len(f.reqs)))}
	if req.Slurm != nil {
		h.Name = req.Slurm.JobName
	}
	return h, nil
}

func (f *fakeRunner) Close() error {
	f.closed = true
	return nil
}

// fakeConnector counts connection attempts.
type fakeConnector struct {
	calls  int
	runner *fakeRunner
	err    error
}

func (f *fakeConnector) Runner(context.Context, *Plan) (executor.Runner, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.runner, nil
}

type fakeLaunches struct {
	recs []models.LaunchRecord
}

func (f *fakeLaunches) Create(_ context.Context, rec models.LaunchRecord) (models.LaunchRecord, error) {
	f.recs = append(f.recs, rec)
	return rec, nil
}

type DispatcherTestSuite struct {
	suite.Suite
	connector *fakeConnector
	launches  *fakeLaunches
	d         *Dispatcher
}

func (s *DispatcherTestSuite) SetupTest() {
	s.connector = &fakeConnector{runner: &fakeRunner{}}
	s.launches = &fakeLaunches{}
	s.d = NewDispatcher(s.connector, s.launches, zap.NewNop())
}

func TestDispatcherTestSuite(t *testing.T) {
	suite.Run(t, new(DispatcherTestSuite))
}

func slurmPlan() *Plan {
	sc := models.DefaultSlurmConfig()
	return &Plan{
		Machine: "cluster",
		User:    "alice",
		Project: "proj",
		Mode:    models.ModeSlurm,
		Layout:  models.NewLayout("/tmp/alice/lmn", "proj"),
		Request: &models.ExecutionRequest{
			Command: "python train.py --seed $LMN_RUN_SWEEP_IDX",
			Disown:  true,
			Env:     models.NewEnvMap("A", "1"),
			Slurm:   &sc,
		},
	}
}

func (s *DispatcherTestSuite) TestDockerWithoutSectionNeverConnects() {
	plan := slurmPlan()
	plan.Mode = models.ModeDocker

	_, err := s.d.Dispatch(context.Background(), plan)

	var cerr *executor.ConfigError
	s.Require().ErrorAs(err, &cerr)
	s.Equal("docker", cerr.Section)
	s.Zero(s.connector.calls)
}

func (s *DispatcherTestSuite) TestSweepWithoutDisownNeverConnects() {
	plan := slurmPlan()
	plan.Request.Disown = false
	plan.Request.Sweep = "0-3"

	_, err := s.d.Dispatch(context.Background(), plan)

	var verr *executor.ValidationError
	s.Require().ErrorAs(err, &verr)
	s.Zero(s.connector.calls)
}

func (s *DispatcherTestSuite) TestMalformedSweepNeverConnects() {
	plan := slurmPlan()
	plan.Request.Sweep = "a-b"

	_, err := s.d.Dispatch(context.Background(), plan)
	s.Require().Error(err)
	s.Contains(err.Error(), "'1,2,7'")
	s.Zero(s.connector.calls)
}

func (s *DispatcherTestSuite) TestSweepProducesIndependentRequests() {
	plan := slurmPlan()
	plan.Request.Sweep = "0-3"

	handles, err := s.d.Dispatch(context.Background(), plan)
	s.Require().NoError(err)
	s.Len(handles, 3)
	s.Equal(1, s.connector.calls)
	s.True(s.connector.runner.closed)

	reqs := s.connector.runner.reqs
	s.Require().Len(reqs, 3)
	for i, req := range reqs {
		v, ok := req.Env.Get("LMN_RUN_SWEEP_IDX")
		s.True(ok)
		s.Equal(string(rune('0'+i)), v)
		v, _ = req.Env.Get("RMX_RUN_SWEEP_IDX")
		s.Equal(string(rune('0'+i)), v)
		s.Equal("alice-lmn-proj-"+string(rune('0'+i)), req.Slurm.JobName)
		s.False(req.Interactive)
	}
	s.NotSame(reqs[0].Slurm, reqs[1].Slurm)
	s.NotSame(reqs[1].Slurm, reqs[2].Slurm)
	s.NotSame(reqs[0].Slurm, plan.Request.Slurm)
	s.Empty(plan.Request.Slurm.JobName, "plan is not modified")
	_, ok := plan.Request.Env.Get("LMN_RUN_SWEEP_IDX")
	s.False(ok)

	s.Require().Len(s.launches.recs, 3)
	s.Equal(s.launches.recs[0].InvocationID, s.launches.recs[2].InvocationID)
	s.Equal(2, *s.launches.recs[2].SweepIndex)
	s.Equal("3", s.launches.recs[2].JobID)
	s.Contains(s.launches.recs[1].Env, `"LMN_RUN_SWEEP_IDX":"1"`)
}

func (s *DispatcherTestSuite) TestStopsAtFirstFailure() {
	s.connector.runner.failAt = 2
	plan := slurmPlan()
	plan.Request.Sweep = "1,2,7"

	handles, err := s.d.Dispatch(context.Background(), plan)
	s.EqualError(err, "boom")
	s.Len(handles, 1)
	s.Len(s.connector.runner.reqs, 2)
	s.True(s.connector.runner.closed)
}

func (s *DispatcherTestSuite) TestConnectorError() {
	s.connector.err = errors.New("dial tcp: refused")
	_, err := s.d.Dispatch(context.Background(), slurmPlan())
	s.ErrorContains(err, "refused")
	s.Empty(s.launches.recs)
}

func (s *DispatcherTestSuite) TestNameSuffix() {
	plan := slurmPlan()
	plan.Request.Name = "exp1"

	handles, err := s.d.Dispatch(context.Background(), plan)
	s.Require().NoError(err)
	s.Equal("alice-lmn-proj--exp1", handles[0].Name)
}

func TestSelectMode(t *testing.T) {
	mode, defaulted, err := SelectMode("", "")
	require.NoError(t, err)
	assert.Equal(t, models.ModeSSH, mode)
	assert.True(t, defaulted)

	mode, defaulted, err = SelectMode("", "pbs")
	require.NoError(t, err)
	assert.Equal(t, models.ModePBS, mode)
	assert.False(t, defaulted)

	mode, _, err = SelectMode("sing-slurm", "pbs")
	require.NoError(t, err)
	assert.Equal(t, models.ModeSlurmContainer, mode)

	_, _, err = SelectMode("kubernetes", "")
	var verr *executor.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestValidate(t *testing.T) {
	dc := models.DefaultDockerConfig()
	sing := models.DefaultSingularityConfig()
	sing.SIFFile = "/img.sif"

	tests := []struct {
		name    string
		mutate  func(p *Plan)
		section string
		field   string
	}{
		{"slurm ok", func(p *Plan) {}, "", ""},
		{"missing slurm", func(p *Plan) { p.Request.Slurm = nil }, "slurm", ""},
		{"missing pbs", func(p *Plan) { p.Mode = models.ModePBS }, "pbs", ""},
		{"docker without image", func(p *Plan) {
			p.Mode = models.ModeDocker
			d := dc
			p.Request.Docker = &d
		}, "docker", ""},
		{"nested without singularity", func(p *Plan) { p.Mode = models.ModeSlurmContainer }, "singularity", ""},
		{"nested without sif", func(p *Plan) {
			p.Mode = models.ModeSlurmContainer
			p.Request.Singularity = &models.SingularityConfig{}
		}, "singularity", ""},
		{"nested sweep on relocated root", func(p *Plan) {
			p.Mode = models.ModeSlurmContainer
			p.Request.Singularity = sing.Clone()
			p.Request.Sweep = "0-2"
			p.RelocatedRoot = true
		}, "", "sweep"},
		{"nested sweep contained", func(p *Plan) {
			p.Mode = models.ModeSlurmContainer
			p.Request.Singularity = sing.Clone()
			p.Request.Sweep = "0-2"
			p.RelocatedRoot = true
			p.Contained = true
		}, "", ""},
		{"sweep without disown", func(p *Plan) {
			p.Request.Sweep = "4"
			p.Request.Disown = false
		}, "", "sweep"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := slurmPlan()
			tt.mutate(p)
			err := Validate(p)

			var cerr *executor.ConfigError
			var verr *executor.ValidationError
			switch {
			case tt.section != "":
				require.ErrorAs(t, err, &cerr)
				assert.Equal(t, tt.section, cerr.Section)
			case tt.field != "":
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tt.field, verr.Field)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestExpandNested(t *testing.T) {
	sing := models.DefaultSingularityConfig()
	sing.SIFFile = "/images/app.sif"
	sing.Env = models.NewEnvMap("DATA", "$LMN_MOUNT_DIR/data")

	p := slurmPlan()
	p.Mode = models.ModeSlurmContainer
	p.Request.Singularity = &sing
	p.Request.RelWorkdir = "src"
	p.Request.Sweep = "5"
	p.Mounts = []models.Bind{{Source: "/datasets", Target: "/datasets"}}

	members, err := Expand(p, []int{5})
	require.NoError(t, err)
	require.Len(t, members, 1)
	req := members[0].Request

	assert.True(t, strings.HasPrefix(req.Command, "singularity run --nv --containall --writable-tmpfs --pwd /lmn/proj/code/src --env "))
	assert.Contains(t, req.Command, `DATA="/lmn/proj/mount/data"`)
	assert.Contains(t, req.Command, `LMN_CODE_DIR="/lmn/proj/code"`)
	assert.Contains(t, req.Command, "--env CUDA_VISIBLE_DEVICES=$CUDA_VISIBLE_DEVICES")
	assert.Contains(t, req.Command, "-B /tmp/alice/lmn/proj/code:/lmn/proj/code -B /tmp/alice/lmn/proj/output:/lmn/proj/output -B /tmp/alice/lmn/proj/mount:/lmn/proj/mount -B /datasets:/datasets")
	assert.True(t, strings.HasSuffix(req.Command, `/images/app.sif bash -c -- "python train.py --seed $LMN_RUN_SWEEP_IDX"`))

	v, _ := req.Env.Get("SINGULARITYENV_LMN_RUN_SWEEP_IDX")
	assert.Equal(t, "5", v)
	v, _ = req.Env.Get("APPTAINERENV_LMN_RUN_SWEEP_IDX")
	assert.Equal(t, "5", v)

	assert.Empty(t, sing.Binds, "section of the plan is not modified")
	assert.Equal(t, "$LMN_MOUNT_DIR/data", func() string { v, _ := sing.Env.Get("DATA"); return v }())
	assert.Equal(t, "alice-lmn-proj-5", members[0].Name)
}

var aggregatedEnv = regexp.MustCompile(`--env (\S+)`)

func TestExpandNestedKeepsCommasAndQuotesOutOfEnvFlag(t *testing.T) {
	for _, cmd := range []string{
		"python t.py --seeds 1,2",
		`python -c "print(1)"`,
	} {
		sing := models.DefaultSingularityConfig()
		sing.SIFFile = "/images/app.sif"
		sing.Env = models.NewEnvMap("GPUS", "0,1", "DATA", "$LMN_MOUNT_DIR/data")

		p := slurmPlan()
		p.Mode = models.ModeSlurmContainer
		p.Request.Command = cmd
		p.Request.Singularity = &sing

		members, err := Expand(p, nil)
		require.NoError(t, err, cmd)
		req := members[0].Request

		m := aggregatedEnv.FindStringSubmatch(req.Command)
		require.NotNil(t, m, cmd)
		for _, pair := range strings.Split(m[1], ",") {
			assert.Regexp(t, `^[A-Z_]+="[^"]*"$`, pair, cmd)
		}
		assert.Contains(t, m[1], `DATA="/lmn/proj/mount/data"`)
		assert.NotContains(t, m[1], "USER_COMMAND", cmd)
		assert.NotContains(t, m[1], "GPUS", cmd)

		for _, prefix := range []string{"SINGULARITYENV_", "APPTAINERENV_"} {
			v, ok := req.Env.Get(prefix + "LMN_USER_COMMAND")
			assert.True(t, ok, prefix)
			assert.Equal(t, cmd, v)
			v, _ = req.Env.Get(prefix + "RMX_USER_COMMAND")
			assert.Equal(t, cmd, v)
			v, _ = req.Env.Get(prefix + "GPUS")
			assert.Equal(t, "0,1", v)
		}
		assert.True(t, strings.HasSuffix(req.Command, `bash -c -- "`+container.Escape(cmd)+`"`), cmd)
	}
}

func TestExpandDockerSweep(t *testing.T) {
	dc := models.DefaultDockerConfig()
	dc.Image = "pytorch"
	p := slurmPlan()
	p.Mode = models.ModeDocker
	p.Request.Slurm = nil
	p.Request.Docker = &dc
	p.Mounts = []models.Bind{{Source: "/data", Target: "/data"}}

	members, err := Expand(p, []int{0, 1})
	require.NoError(t, err)
	require.Len(t, members, 2)
	for i, m := range members {
		assert.True(t, m.Request.LogStderrBackground)
		assert.Equal(t, "alice-lmn-proj-"+string(rune('0'+i)), m.Request.Docker.Name)
		assert.Equal(t, p.Mounts, m.Request.Docker.Mounts)
	}
	assert.Empty(t, dc.Name)
	assert.Empty(t, dc.Mounts)

	p.Request.Quiet = true
	quiet, err := Expand(p, []int{0, 1})
	require.NoError(t, err)
	for _, m := range quiet {
		assert.False(t, m.Request.LogStderrBackground, "quiet members are not followed at all")
		assert.True(t, m.Request.Quiet)
	}
	p.Request.Quiet = false

	single, err := Expand(p, []int{3})
	require.NoError(t, err)
	assert.False(t, single[0].Request.LogStderrBackground, "a single member follows its output")

	plain, err := Expand(p, nil)
	require.NoError(t, err)
	assert.Nil(t, plain[0].Index)
	assert.Equal(t, "alice-lmn-proj", plain[0].Request.Docker.Name)
}
