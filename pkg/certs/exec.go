package certs

import (
	"context"
	"os/exec"
)

// execRunner is the production CommandRunner
func execRunner(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}
