package scheduler

import (
	"context"
	"strconv"
	"strings"

	"github.com/alessio/shellescape"

	"gitlab.com/lmn-dev/lmn/executor"
	"gitlab.com/lmn-dev/lmn/models"
)

// Slurm submits through sbatch and srun.
type Slurm struct {
	Config *models.SlurmConfig
}

// NewSlurm wraps a copy of conf.
func NewSlurm(conf *models.SlurmConfig) *Slurm {
	return &Slurm{Config: conf.Clone()}
}

func (s *Slurm) Name() string { return "slurm" }

// Options returns one --key=value per configured field. Unset fields are skipped.
func (s *Slurm) Options() []string {
	return s.options(func(v string) string { return v })
}

func (s *Slurm) options(quote func(string) string) []string {
	c := s.Config
	fields := []struct {
		key, value string
	}{
		{"cpus-per-task", positive(c.CPUsPerTask)},
		{"job-name", c.JobName},
		{"partition", c.Partition},
		{"time", c.Time},
		{"nodelist", c.NodeList},
		{"exclude", c.Exclude},
		{"constraint", c.Constraint},
		{"dependency", c.Dependency},
		{"output", c.Output},
		{"error", c.Error},
		{"mem", c.Mem},
		{"gres", c.Gres},
	}

	var opts []string
	for _, f := range fields {
		if f.value != "" {
			opts = append(opts, "--"+f.key+"="+quote(f.value))
		}
	}
	return opts
}

func (s *Slurm) Materialize(job Job) Script {
	lines := []string{shebang(s.Config.Shell)}
	kind := "srun"
	if !job.Interactive {
		kind = "sbatch"
		for _, opt := range s.Options() {
			lines = append(lines, "#SBATCH "+opt)
		}
	}
	lines = append(lines, body(job)...)

	return Script{
		Path: scriptPath(job.ScriptDir, kind, job.Timestamp),
		Text: render(lines),
	}
}

// Submit runs srun --pty for interactive jobs. Batch jobs are submitted with one
// sbatch call per sequence member in a single remote command; with dependency=singleton
// they run one after another.
func (s *Slurm) Submit(ctx context.Context, remote executor.Remote, script Script, opts SubmitOptions) (*Submission, error) {
	if opts.Interactive {
		args := append([]string{"srun"}, s.options(shellescape.Quote)...)
		args = append(args, "--pty", s.shell(), script.Path)
		res, err := remote.Run(ctx, strings.Join(args, " "), executor.RunOptions{Dir: opts.Dir, PTY: true})
		return &Submission{Result: res}, err
	}

	n := opts.NumSequence
	if n < 1 {
		n = 1
	}
	cmds := make([]string, n)
	for i := range cmds {
		cmds[i] = "sbatch " + script.Path
	}

	res, err := remote.Run(ctx, strings.Join(cmds, "\n"), executor.RunOptions{Dir: opts.Dir, Hide: true})
	if err != nil {
		return &Submission{Result: res}, err
	}

	sub := &Submission{Result: res}
	for _, line := range strings.Split(res.STDOUT, "\n") {
		if id := ParseSbatchJobID(line); id != "" {
			sub.JobIDs = append(sub.JobIDs, id)
		}
	}
	if len(sub.JobIDs) > 0 {
		sub.JobID = sub.JobIDs[0]
	}
	return sub, nil
}

func (s *Slurm) shell() string {
	if s.Config.Shell == "" {
		return "bash"
	}
	return s.Config.Shell
}

// ParseSbatchJobID extracts the id from "Submitted batch job <id>": the last token of
// the first non-empty line. It returns "" when there is nothing to parse.
func ParseSbatchJobID(stdout string) string {
	for _, line := range strings.Split(stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 {
			return fields[len(fields)-1]
		}
	}
	return ""
}

func positive(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}
