package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// DockerRunner runs the interpreter in a throwaway container.
type DockerRunner struct {
	Policy Policy
	Image  string
	Binary string // docker CLI, defaults to "docker"
}

// NewDockerRunner creates a runner for image under policy.
func NewDockerRunner(policy Policy, image string) *DockerRunner {
	return &DockerRunner{Policy: policy, Image: image, Binary: "docker"}
}

// Prepare checks the image against the policy and pulls it when it is not
// present locally.
func (d *DockerRunner) Prepare(ctx context.Context) error {
	if !d.Policy.IsImageAllowed(d.Image) {
		return fmt.Errorf("image %q not in allowlist", d.Image)
	}
	if err := exec.CommandContext(ctx, d.Binary, "image", "inspect", d.Image).Run(); err == nil {
		return nil
	}
	out, err := exec.CommandContext(ctx, d.Binary, "pull", d.Image).CombinedOutput()
	if err != nil {
		return fmt.Errorf("pulling %s: %w: %s", d.Image, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (d *DockerRunner) Exec(ctx context.Context, opts ExecOpts) (*ExecResult, error) {
	tmpDir, err := writeScratch(opts)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	cmd := exec.CommandContext(ctx, d.Binary, d.runArgs(tmpDir, opts.Script)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Stdin = strings.NewReader(opts.Stdin)

	return finish(cmd.Run(), &stdout, &stderr, "running docker")
}

func (d *DockerRunner) runArgs(dir, script string) []string {
	args := []string{
		"run", "--rm", "-i",
		"-v", dir + ":/workspace:ro",
		"-w", "/workspace",
	}
	if !d.Policy.Network {
		args = append(args, "--network=none")
	}
	if d.Policy.Memory != "" {
		args = append(args, "--memory="+d.Policy.Memory)
	}
	return append(args, d.Image, "python", "-I", "/workspace/"+script)
}

// finish converts a completed command into an ExecResult. A non-zero exit
// is a result, not an error; failing to start is an error.
func finish(runErr error, stdout, stderr *bytes.Buffer, what string) (*ExecResult, error) {
	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("%s: %w", what, runErr)
		}
		exitCode = exitErr.ExitCode()
	}
	return &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}, nil
}
