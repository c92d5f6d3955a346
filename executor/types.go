package executor

import (
	"context"
	"io"

	"gitlab.com/lmn-dev/lmn/models"
)

// Runner dispatches a resolved ExecutionRequest to one backend.
type Runner interface {
	// Exec performs the dispatch. Synchronous calls that exit non-zero return a
	// *RemoteExecutionError; disowned calls return as soon as the process started.
	Exec(ctx context.Context, request *models.ExecutionRequest) (*models.JobHandle, error)
}

// RunOptions shapes a single remote shell invocation.
type RunOptions struct {
	Dir    string         // Directory to cd into first; empty keeps the login directory
	Env    *models.EnvMap // Environment for the command
	PTY    bool           // Allocate a pseudo terminal
	Disown bool           // Start in the background and return immediately
	Hide   bool           // Capture output without echoing it
}

// Remote is a shell on the target machine.
type Remote interface {
	// Run executes cmd and returns its captured output. A non-zero exit returns a
	// *RemoteExecutionError together with the result.
	Run(ctx context.Context, cmd string, opts RunOptions) (*models.ExecutionResult, error)

	// Put uploads content to path, creating the parent directory if needed.
	Put(ctx context.Context, content io.Reader, path string) error
}
