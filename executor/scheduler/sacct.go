package scheduler

import (
	"strings"
)

// SacctCommand lists the jobs of the last 40 hours in a machine readable form.
const SacctCommand = "sacct --starttime $(date -d '40 hours ago' +%D-%R) --endtime now " +
	"--format JobID,JobName%-100,NodeList,Elapsed,State,ExitCode --parsable2"

// SacctEntry is one row of SacctCommand output.
type SacctEntry struct {
	JobID    string
	JobName  string
	NodeList string
	Elapsed  string
	State    string
	ExitCode string
}

// ParseSacct parses --parsable2 output. Job steps (".batch", ".extern") are dropped
// so that each submission appears once.
func ParseSacct(out string) []SacctEntry {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return nil
	}

	header := strings.Split(lines[0], "|")
	var entries []SacctEntry
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		row := make(map[string]string, len(header))
		for i, v := range strings.Split(line, "|") {
			if i < len(header) {
				row[header[i]] = strings.TrimSpace(v)
			}
		}
		id := row["JobID"]
		if strings.Contains(id, ".") {
			continue
		}
		entries = append(entries, SacctEntry{
			JobID:    id,
			JobName:  row["JobName"],
			NodeList: row["NodeList"],
			Elapsed:  row["Elapsed"],
			State:    row["State"],
			ExitCode: row["ExitCode"],
		})
	}
	return entries
}
