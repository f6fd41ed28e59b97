package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
)

// waitDelay bounds how long a killed command may keep its output open.
const waitDelay = 10 * time.Second

// Syncer brings the working copy at path up to date with its upstream and
// returns the human-readable output of doing so.
type Syncer interface {
	Sync(ctx context.Context, path string) (string, error)
}

// Deployer acts on a working copy after it was synchronized.
type Deployer interface {
	Deploy(ctx context.Context, path string) error
}

// SyncError reports that the synchronization itself ran and failed, as
// opposed to it not being runnable at all. Output holds what the sync
// printed or reported.
type SyncError struct {
	Output string
	Err    error
}

func (e *SyncError) Error() string {
	if e.Err == nil {
		return "sync failed"
	}
	return fmt.Sprintf("sync failed: %v", e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// CommandSyncer runs an external command, "git pull" by default, inside the
// working copy.
type CommandSyncer struct {
	command []string
	logger  *slog.Logger
}

func NewCommandSyncer(command []string, logger *slog.Logger) *CommandSyncer {
	if len(command) == 0 {
		command = []string{"git", "pull"}
	}
	return &CommandSyncer{command: command, logger: logger}
}

func (c *CommandSyncer) Sync(ctx context.Context, path string) (string, error) {
	c.logger.Info("Running sync command", "command", strings.Join(c.command, " "), "dir", path)

	cmd := exec.CommandContext(ctx, c.command[0], c.command[1:]...)
	cmd.Dir = path
	cmd.WaitDelay = waitDelay

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("sync command interrupted: %w", ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &SyncError{Output: string(output), Err: err}
		}
		return "", fmt.Errorf("failed to run sync command: %w", err)
	}
	return string(output), nil
}

// SerialSyncer lets at most one synchronization run at a time. Callers
// queue on the semaphore until their context is done.
type SerialSyncer struct {
	next Syncer
	sem  *semaphore.Weighted
}

func NewSerialSyncer(next Syncer) *SerialSyncer {
	return &SerialSyncer{next: next, sem: semaphore.NewWeighted(1)}
}

func (s *SerialSyncer) Sync(ctx context.Context, path string) (string, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("waiting for running sync: %w", err)
	}
	defer s.sem.Release(1)
	return s.next.Sync(ctx, path)
}

// DeployingSyncer runs the deployer after every successful sync.
type DeployingSyncer struct {
	next     Syncer
	deployer Deployer
	logger   *slog.Logger
}

func NewDeployingSyncer(next Syncer, deployer Deployer, logger *slog.Logger) *DeployingSyncer {
	return &DeployingSyncer{next: next, deployer: deployer, logger: logger}
}

func (d *DeployingSyncer) Sync(ctx context.Context, path string) (string, error) {
	output, err := d.next.Sync(ctx, path)
	if err != nil {
		return output, err
	}
	d.logger.Info("Sync finished, starting deployment...")
	if err := d.deployer.Deploy(ctx, path); err != nil {
		return output, fmt.Errorf("deployment failed: %w", err)
	}
	return output, nil
}
