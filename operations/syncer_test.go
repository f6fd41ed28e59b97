package operations_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sithukyaw666/pullhook/model"
	"github.com/sithukyaw666/pullhook/operations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh is not available")
	}
}

func TestCommandSyncer(t *testing.T) {
	t.Parallel()

	t.Run("should return combined output on success", func(t *testing.T) {
		t.Parallel()
		requireShell(t)

		// given
		syncer := operations.NewCommandSyncer([]string{"sh", "-c", "echo Already up to date.; echo warning >&2"}, discardLogger())

		// when
		output, err := syncer.Sync(context.Background(), t.TempDir())

		// then
		require.NoError(t, err)
		assert.Contains(t, output, "Already up to date.\n")
		assert.Contains(t, output, "warning\n")
	})

	t.Run("should run inside the working copy", func(t *testing.T) {
		t.Parallel()
		requireShell(t)

		// given
		dir := t.TempDir()
		syncer := operations.NewCommandSyncer([]string{"sh", "-c", "pwd -P"}, discardLogger())

		// when
		output, err := syncer.Sync(context.Background(), dir)

		// then
		require.NoError(t, err)
		resolved, err := filepath.EvalSymlinks(dir)
		require.NoError(t, err)
		assert.Equal(t, resolved+"\n", output)
	})

	t.Run("should report a non-zero exit as SyncError with the output", func(t *testing.T) {
		t.Parallel()
		requireShell(t)

		// given
		syncer := operations.NewCommandSyncer([]string{"sh", "-c", "printf 'fatal: conflict'; exit 1"}, discardLogger())

		// when
		_, err := syncer.Sync(context.Background(), t.TempDir())

		// then
		var syncErr *operations.SyncError
		require.ErrorAs(t, err, &syncErr)
		assert.Equal(t, "fatal: conflict", syncErr.Output)
	})

	t.Run("should report a missing working copy as an operational error", func(t *testing.T) {
		t.Parallel()
		requireShell(t)

		// given
		syncer := operations.NewCommandSyncer([]string{"sh", "-c", "true"}, discardLogger())

		// when
		_, err := syncer.Sync(context.Background(), filepath.Join(t.TempDir(), "missing"))

		// then
		require.Error(t, err)
		var syncErr *operations.SyncError
		assert.False(t, errors.As(err, &syncErr))
	})

	t.Run("should report a missing binary as an operational error", func(t *testing.T) {
		t.Parallel()

		// given
		syncer := operations.NewCommandSyncer([]string{"definitely-not-a-real-binary-4711"}, discardLogger())

		// when
		_, err := syncer.Sync(context.Background(), t.TempDir())

		// then
		require.Error(t, err)
		var syncErr *operations.SyncError
		assert.False(t, errors.As(err, &syncErr))
	})

	t.Run("should not classify a timeout as a sync failure", func(t *testing.T) {
		t.Parallel()
		requireShell(t)

		// given
		syncer := operations.NewCommandSyncer([]string{"sh", "-c", "exec sleep 5"}, discardLogger())
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		// when
		_, err := syncer.Sync(ctx, t.TempDir())

		// then
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

// concurrencySyncer records how many syncs overlap.
type concurrencySyncer struct {
	running atomic.Int32
	peak    atomic.Int32
	calls   atomic.Int32
	delay   time.Duration
}

func (p *concurrencySyncer) Sync(_ context.Context, _ string) (string, error) {
	p.calls.Add(1)
	n := p.running.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(p.delay)
	p.running.Add(-1)
	return "ok", nil
}

func TestSerialSyncer(t *testing.T) {
	t.Parallel()

	t.Run("should never run two syncs at once", func(t *testing.T) {
		t.Parallel()

		// given
		recorder := &concurrencySyncer{delay: 20 * time.Millisecond}
		syncer := operations.NewSerialSyncer(recorder)

		// when
		var wg sync.WaitGroup
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := syncer.Sync(context.Background(), "/srv")
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		// then
		assert.Equal(t, int32(5), recorder.calls.Load())
		assert.Equal(t, int32(1), recorder.peak.Load())
	})

	t.Run("should give up waiting when the context is done", func(t *testing.T) {
		t.Parallel()

		// given
		release := make(chan struct{})
		started := make(chan struct{})
		syncer := operations.NewSerialSyncer(syncFunc(func(context.Context, string) (string, error) {
			close(started)
			<-release
			return "", nil
		}))
		go func() { _, _ = syncer.Sync(context.Background(), "/srv") }()
		<-started

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		// when
		_, err := syncer.Sync(ctx, "/srv")
		close(release)

		// then
		require.ErrorIs(t, err, context.Canceled)
	})
}

type syncFunc func(ctx context.Context, path string) (string, error)

func (f syncFunc) Sync(ctx context.Context, path string) (string, error) { return f(ctx, path) }

type stubDeployer struct {
	err   error
	paths []string
}

func (s *stubDeployer) Deploy(_ context.Context, path string) error {
	s.paths = append(s.paths, path)
	return s.err
}

func TestDeployingSyncer(t *testing.T) {
	t.Parallel()

	t.Run("should deploy after a successful sync", func(t *testing.T) {
		t.Parallel()

		// given
		deployer := &stubDeployer{}
		syncer := operations.NewDeployingSyncer(syncFunc(func(context.Context, string) (string, error) {
			return "Fast-forward", nil
		}), deployer, discardLogger())

		// when
		output, err := syncer.Sync(context.Background(), "/srv/app")

		// then
		require.NoError(t, err)
		assert.Equal(t, "Fast-forward", output)
		assert.Equal(t, []string{"/srv/app"}, deployer.paths)
	})

	t.Run("should skip deployment when the sync fails", func(t *testing.T) {
		t.Parallel()

		// given
		deployer := &stubDeployer{}
		syncErr := &operations.SyncError{Output: "fatal: conflict"}
		syncer := operations.NewDeployingSyncer(syncFunc(func(context.Context, string) (string, error) {
			return "", syncErr
		}), deployer, discardLogger())

		// when
		_, err := syncer.Sync(context.Background(), "/srv/app")

		// then
		require.ErrorIs(t, err, syncErr)
		assert.Empty(t, deployer.paths)
	})

	t.Run("should report a deployment failure as an operational error", func(t *testing.T) {
		t.Parallel()

		// given
		deployer := &stubDeployer{err: errors.New("daemon unreachable")}
		syncer := operations.NewDeployingSyncer(syncFunc(func(context.Context, string) (string, error) {
			return "Fast-forward", nil
		}), deployer, discardLogger())

		// when
		_, err := syncer.Sync(context.Background(), "/srv/app")

		// then
		require.Error(t, err)
		assert.Contains(t, err.Error(), "daemon unreachable")
		var syncErr *operations.SyncError
		assert.False(t, errors.As(err, &syncErr))
	})
}

func TestProjectName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "site", operations.ProjectName(model.DeployConfig{}, "/srv/site/"))
	assert.Equal(t, "shop", operations.ProjectName(model.DeployConfig{ProjectName: "shop"}, "/srv/site"))
}
