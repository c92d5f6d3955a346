package ssh

import (
	"strings"

	"github.com/alessio/shellescape"

	"gitlab.com/lmn-dev/lmn/executor"
)

// BuildCommand renders the shell line sent to the remote host:
//
//	cd <dir> && export K=V ... && <cmd>
//
// The export clause is omitted when the environment travels through SSH setenv requests.
// A disowned command is detached with nohup so the session can close right away.
func BuildCommand(cmd string, opts executor.RunOptions, setenv bool) string {
	var parts []string
	if opts.Dir != "" {
		parts = append(parts, "cd "+shellescape.Quote(opts.Dir))
	}
	if !setenv && opts.Env.Len() > 0 {
		assigns := make([]string, 0, opts.Env.Len())
		opts.Env.Each(func(k, v string) {
			assigns = append(assigns, k+"="+shellescape.Quote(v))
		})
		parts = append(parts, "export "+strings.Join(assigns, " "))
	}
	parts = append(parts, cmd)
	line := strings.Join(parts, " && ")

	if opts.Disown {
		return "nohup bash -c " + shellescape.Quote(line) + " >/dev/null 2>&1 &"
	}
	return line
}
