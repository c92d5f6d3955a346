package scheduler

import (
	"context"
	"strings"

	"github.com/alessio/shellescape"

	"gitlab.com/lmn-dev/lmn/executor"
	"gitlab.com/lmn-dev/lmn/models"
)

// PBS submits through qsub.
type PBS struct {
	Config *models.PBSConfig
}

// NewPBS wraps a copy of conf.
func NewPBS(conf *models.PBSConfig) *PBS {
	return &PBS{Config: conf.Clone()}
}

func (p *PBS) Name() string { return "pbs" }

// Options returns the qsub arguments: single-valued flags first, then one -l per resource.
func (p *PBS) Options() []string {
	return p.options(func(s string) string { return s })
}

// options renders with quote applied to every value, so the same list serves both
// directive lines and a qsub command line.
func (p *PBS) options(quote func(string) string) []string {
	c := p.Config
	var opts []string
	for _, f := range []struct{ flag, value string }{
		{"-A", c.Account},
		{"-N", c.JobName},
		{"-q", c.Queue},
		{"-S", c.Shell},
	} {
		if f.value != "" {
			opts = append(opts, f.flag+" "+quote(f.value))
		}
	}
	// Sequences are chained with afterany at submission time instead.
	if c.Dependency != "" && c.Dependency != models.DependencySingleton {
		opts = append(opts, "-W depend="+quote(c.Dependency))
	}
	for _, r := range c.ResourceList() {
		opts = append(opts, "-l "+quote(r))
	}
	return opts
}

func (p *PBS) Materialize(job Job) Script {
	lines := []string{shebang(p.Config.Shell)}
	if !job.Interactive {
		for _, opt := range p.Options() {
			lines = append(lines, "#PBS "+opt)
		}
	}
	lines = append(lines, body(job)...)

	return Script{
		Path: scriptPath(job.ScriptDir, "qsub", job.Timestamp),
		Text: render(lines),
	}
}

// Submit runs qsub -I for interactive jobs. Batch sequences are submitted one at a time,
// each later submission depending afterany on the previous id.
func (p *PBS) Submit(ctx context.Context, remote executor.Remote, script Script, opts SubmitOptions) (*Submission, error) {
	if opts.Interactive {
		args := append([]string{"qsub"}, p.options(shellescape.Quote)...)
		args = append(args, "-I", "--", p.shell(), script.Path)
		res, err := remote.Run(ctx, strings.Join(args, " "), executor.RunOptions{Dir: opts.Dir, PTY: true})
		return &Submission{Result: res}, err
	}

	n := opts.NumSequence
	if n < 1 {
		n = 1
	}

	sub := &Submission{}
	prev := ""
	for i := 0; i < n; i++ {
		cmd := "qsub " + script.Path
		if prev != "" {
			cmd = "qsub -W depend=afterany:" + prev + " " + script.Path
		}
		res, err := remote.Run(ctx, cmd, executor.RunOptions{Dir: opts.Dir, Hide: true})
		sub.Result = res
		if err != nil {
			return sub, err
		}
		prev = ParsePBSJobID(res.STDOUT)
		if prev == "" {
			// Dry runs print nothing; without an id there is nothing to chain on.
			continue
		}
		sub.JobIDs = append(sub.JobIDs, prev)
	}
	if len(sub.JobIDs) > 0 {
		sub.JobID = sub.JobIDs[0]
	}
	return sub, nil
}

func (p *PBS) shell() string {
	if p.Config.Shell == "" {
		return "bash"
	}
	return p.Config.Shell
}

// ParsePBSJobID returns the id qsub prints, such as "4242.pbs01".
func ParsePBSJobID(stdout string) string {
	for _, line := range strings.Split(stdout, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			return s
		}
	}
	return ""
}
