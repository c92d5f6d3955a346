package models

import (
	"fmt"
	"strings"
)

// Mode selects the backend a request is dispatched to.
type Mode string

const (
	ModeSSH            Mode = "ssh"
	ModeDocker         Mode = "docker"
	ModeSlurm          Mode = "slurm"
	ModePBS            Mode = "pbs"
	ModeSlurmContainer Mode = "slurm-sing"
	ModePBSContainer   Mode = "pbs-sing"
)

// modeAliases maps accepted spellings to their canonical mode.
var modeAliases = map[string]Mode{
	"ssh":        ModeSSH,
	"docker":     ModeDocker,
	"slurm":      ModeSlurm,
	"pbs":        ModePBS,
	"slurm-sing": ModeSlurmContainer,
	"sing-slurm": ModeSlurmContainer,
	"pbs-sing":   ModePBSContainer,
	"sing-pbs":   ModePBSContainer,
}

// ModeNames lists every accepted spelling, for flag help.
func ModeNames() []string {
	return []string{"ssh", "docker", "slurm", "pbs", "slurm-sing", "sing-slurm", "pbs-sing", "sing-pbs"}
}

// ParseMode normalises a user supplied mode name.
func ParseMode(s string) (Mode, error) {
	m, ok := modeAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unrecognized mode %q (choose from %s)", s, strings.Join(ModeNames(), ", "))
	}
	return m, nil
}

// Scheduled reports whether the mode submits through a batch scheduler.
func (m Mode) Scheduled() bool {
	switch m {
	case ModeSlurm, ModePBS, ModeSlurmContainer, ModePBSContainer:
		return true
	}
	return false
}

// Containerized reports whether the command is wrapped in singularity/apptainer.
func (m Mode) Containerized() bool {
	return m == ModeSlurmContainer || m == ModePBSContainer
}

// Scheduler returns the scheduler family of a scheduled mode.
func (m Mode) Scheduler() string {
	switch m {
	case ModeSlurm, ModeSlurmContainer:
		return "slurm"
	case ModePBS, ModePBSContainer:
		return "pbs"
	}
	return ""
}

func (m Mode) String() string {
	return string(m)
}
