package transcode

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
)

// commandRunner abstracts subprocess execution for testability.
type commandRunner interface {
	// Output runs a command to completion and returns captured stdout.
	Output(ctx context.Context, name string, args ...string) (string, error)
	// Stream runs a command, feeding each stdout line to onLine as it
	// arrives. It returns captured stderr alongside the exit error.
	Stream(ctx context.Context, name string, args []string, onLine func(string)) (string, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

func (r *execRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return stdout.String(), err
	}
	return stdout.String(), nil
}

func (r *execRunner) Stream(ctx context.Context, name string, args []string, onLine func(string)) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}

	if err := cmd.Start(); err != nil {
		return stderr.String(), err
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		onLine(scanner.Text())
	}

	if err := cmd.Wait(); err != nil {
		return stderr.String(), err
	}
	return stderr.String(), scanner.Err()
}
