package fetch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// GitSource shallow-clones the item's default branch.
type GitSource struct {
	GitBin      string
	Depth       int
	URLTemplate string
}

// Materialize runs git clone into dest.
func (g *GitSource) Materialize(ctx context.Context, id, dest string) error {
	bin := g.GitBin
	if bin == "" {
		bin = "git"
	}
	args := []string{"clone", "--quiet"}
	if g.Depth > 0 {
		args = append(args, "--depth", strconv.Itoa(g.Depth))
	}
	args = append(args, fmt.Sprintf(g.URLTemplate, id), dest)

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second
	if err := cmd.Run(); err != nil {
		// A killed clone reports the cancellation, not the signal exit.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("git clone: %w: %s", err, msg)
		}
		return fmt.Errorf("git clone: %w", err)
	}
	return nil
}
