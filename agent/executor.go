package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/saverelay/saverelay/pkg/core"
)

// ProgressFunc reports advisory transfer progress back to the server.
type ProgressFunc func(p core.Progress)

// TransferExecutor performs the actual remote file transfer for one
// operation. The dispatch core is transport-agnostic; deployments plug in
// whatever moves bytes (an rclone wrapper, an FTP client, a local copy).
type TransferExecutor interface {
	Execute(ctx context.Context, op Operation, report ProgressFunc) (resultData []byte, err error)
}

// ExecutorFunc adapts a function to the TransferExecutor interface.
type ExecutorFunc func(ctx context.Context, op Operation, report ProgressFunc) ([]byte, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, op Operation, report ProgressFunc) ([]byte, error) {
	return f(ctx, op, report)
}

// CommandExecutor shells out to an external transfer tool per operation.
// The operation (id, kind, payload) is written to the command's stdin as
// JSON; stdout becomes the operation's result data.
type CommandExecutor struct {
	// Command is the executable to run, e.g. "rclone-dispatch".
	Command string
	// Args are passed before the operation kind argument.
	Args []string
}

// Execute runs the configured command for the operation.
func (e *CommandExecutor) Execute(ctx context.Context, op Operation, report ProgressFunc) ([]byte, error) {
	if e.Command == "" {
		return nil, fmt.Errorf("agent: no transfer command configured")
	}

	input, err := json.Marshal(op)
	if err != nil {
		return nil, err
	}

	args := append(append([]string{}, e.Args...), string(op.Kind))
	cmd := exec.CommandContext(ctx, e.Command, args...)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	report(core.Progress{Message: "transfer started"})
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return nil, fmt.Errorf("agent: transfer command failed: %s", detail)
	}
	return bytes.TrimSpace(stdout.Bytes()), nil
}
