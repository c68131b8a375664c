package archive

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/containerd/log"
)

// SubprocessArchiver invokes an external copy tool as a child process for
// each included clip root. The coordinator's cancel path must signal the
// child and wait, bounded, before returning: an orphaned child can corrupt
// a partial upload (spec.md §9).
type SubprocessArchiver struct {
	// BinaryPath is the copy tool to invoke, e.g. "rclone".
	BinaryPath string
	// ExtraArgs are appended after the source and destination arguments.
	ExtraArgs []string
	// GracePeriod bounds how long a cancelled child is given to exit after
	// SIGTERM before SIGKILL is sent. Defaults to 5s if zero.
	GracePeriod time.Duration
}

const defaultGracePeriod = 5 * time.Second

// Archive walks the requested TeslaCam/ roots and invokes the configured
// binary once per included root with (root, destination) arguments,
// relying on the tool's own idempotent copy-if-newer semantics.
func (a *SubprocessArchiver) Archive(ctx context.Context, req Request) error {
	for _, root := range clipRootNames(req.Roots) {
		source := req.SourceRoot + "/TeslaCam/" + root
		if err := a.runOne(ctx, source, req.Destination+"/"+root); err != nil {
			return err
		}
	}
	return nil
}

func (a *SubprocessArchiver) runOne(ctx context.Context, source, dest string) error {
	args := append([]string{source, dest}, a.ExtraArgs...)
	cmd := exec.Command(a.BinaryPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return &FatalError{Err: fmt.Errorf("start %s: %w", a.BinaryPath, err)}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return classifyExit(err, stderr.String())
	case <-ctx.Done():
		return a.cancelAndWait(cmd, done)
	}
}

// cancelAndWait signals the child with SIGTERM, waits up to GracePeriod,
// and escalates to SIGKILL if it hasn't exited. Always returns a
// RecoverableError: cancellation during archive never deletes the
// snapshot (spec.md §5 "Cancellation").
func (a *SubprocessArchiver) cancelAndWait(cmd *exec.Cmd, done chan error) error {
	grace := a.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}

	if cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-done:
	case <-time.After(grace):
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
	}
	return &RecoverableError{Err: context.Canceled}
}

func classifyExit(err error, stderr string) error {
	if err == nil {
		return nil
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		// Failed to even run (binary missing, permissions): treat as fatal,
		// this is a configuration problem, not a transient network issue.
		return &FatalError{Err: err}
	}
	code := exitErr.ExitCode()
	switch {
	case code >= 10 && code < 20:
		// Convention: auth/config errors occupy 10-19.
		return &FatalError{Err: fmt.Errorf("exit %d: %s", code, stderr)}
	default:
		return &RecoverableError{Err: fmt.Errorf("exit %d: %s", code, stderr)}
	}
}

func clipRootNames(r ClipRoots) []string {
	var out []string
	if r.SavedClips {
		out = append(out, "SavedClips")
	}
	if r.SentryClips {
		out = append(out, "SentryClips")
	}
	if r.RecentClips {
		out = append(out, "RecentClips")
	}
	if r.TrackModeClips {
		out = append(out, "TrackModeClips")
	}
	log.L.WithField("roots", out).Debug("archive roots selected")
	return out
}

var _ Archiver = (*SubprocessArchiver)(nil)
