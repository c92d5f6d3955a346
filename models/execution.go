package models

// ExecutionRequest is the logical description of one remote run.
// Sweep expansion clones it once per index; clones share no mutable state.
type ExecutionRequest struct {
	Command     string   // Command to execute on the remote side
	RelWorkdir  string   // Working directory relative to the project root
	Startup     string   // Command(s) run before Command
	Interactive bool     // Attach a terminal and wait for completion
	Disown      bool     // Return as soon as the remote process started
	Env         *EnvMap  // User environment (project then machine layer)
	EnvFromHost []string // Variables evaluated inside the allocation, not at submission
	Sweep       string   // Sweep specification, see sweep.ParseIndices
	NumSequence int      // Number of chained submissions (batch backends)
	Name        string   // Suffix for container and job names
	Force       bool     // Remove a running container with the same name first
	Quiet       bool     // Start detached containers without following their output
	NoSync      bool     // Code was not synced; skip binding the project tree

	// LogStderrBackground streams only stderr from a detached container on a
	// background goroutine.
	LogStderrBackground bool

	Docker      *DockerConfig
	Singularity *SingularityConfig
	Slurm       *SlurmConfig
	PBS         *PBSConfig
}

// Clone deep-copies the request and every backend section.
func (r *ExecutionRequest) Clone() *ExecutionRequest {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Env = r.Env.Clone()
	cp.EnvFromHost = append([]string(nil), r.EnvFromHost...)
	cp.Docker = r.Docker.Clone()
	cp.Singularity = r.Singularity.Clone()
	cp.Slurm = r.Slurm.Clone()
	cp.PBS = r.PBS.Clone()
	return &cp
}

// ExecutionResult is the captured outcome of a synchronous remote call.
type ExecutionResult struct {
	STDOUT   string `json:"stdout"`    // STDOUT of the execution
	STDERR   string `json:"stderr"`    // STDERR of the execution
	ExitCode int    `json:"exit_code"` // Exit code of the execution
}

// NewExecutionResult creates a result with the given exit code.
func NewExecutionResult(code int) *ExecutionResult {
	return &ExecutionResult{
		STDOUT:   "",
		STDERR:   "",
		ExitCode: code,
	}
}

// JobHandle identifies what a runner started.
type JobHandle struct {
	Mode        Mode             `json:"mode"`
	Name        string           `json:"name,omitempty"`         // container or job name
	JobID       string           `json:"job_id,omitempty"`       // scheduler job id
	ContainerID string           `json:"container_id,omitempty"` // docker container id
	Result      *ExecutionResult `json:"result,omitempty"`
	Disowned    bool             `json:"disowned"`
}
