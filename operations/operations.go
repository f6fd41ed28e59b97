package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/moby/moby/client"
	"github.com/sithukyaw666/pullhook/model"
	"github.com/sithukyaw666/pullhook/operations/controller"
)

// GitSyncer updates the working copy in-process with go-git. The local copy
// is treated as non-authoritative: it is hard-reset to the remote branch.
type GitSyncer struct {
	config model.GitConfig
	logger *slog.Logger
}

func NewGitSyncer(config model.GitConfig, logger *slog.Logger) *GitSyncer {
	if config.Remote == "" {
		config.Remote = "origin"
	}
	return &GitSyncer{config: config, logger: logger}
}

func (g *GitSyncer) Sync(ctx context.Context, path string) (string, error) {
	update, err := g.FetchAndReset(ctx, path)
	if err != nil {
		return "", err
	}
	if update.OldHash == update.NewHash {
		return "Already up to date.", nil
	}
	return fmt.Sprintf("Updating %s..%s", shortHash(update.OldHash), shortHash(update.NewHash)), nil
}

// FetchAndReset fetches the configured remote and moves the branch and
// worktree to the fetched commit. Failures of git itself are *SyncError.
func (g *GitSyncer) FetchAndReset(ctx context.Context, path string) (*model.RepoUpdate, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	headRef, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD: %w", err)
	}
	oldHash := headRef.Hash()

	branch := g.config.Branch
	if branch == "" {
		if !headRef.Name().IsBranch() {
			return nil, errors.New("HEAD is detached and git.branch is not configured")
		}
		branch = headRef.Name().Short()
	}

	auth, err := g.authFor(repo)
	if err != nil {
		return nil, err
	}

	g.logger.Info("Fetching updates...", "remote", g.config.Remote, "branch", branch)
	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: g.config.Remote,
		Auth:       auth,
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil, &SyncError{Output: err.Error(), Err: fmt.Errorf("failed to fetch: %w", err)}
	}

	remoteRefName := plumbing.NewRemoteReferenceName(g.config.Remote, branch)
	remoteRef, err := repo.Reference(remoteRefName, true)
	if err != nil {
		return nil, &SyncError{Output: err.Error(), Err: fmt.Errorf("failed to get remote reference %s: %w", remoteRefName, err)}
	}
	newHash := remoteRef.Hash()

	if oldHash == newHash {
		g.logger.Info("Repository is already up-to-date")
		return &model.RepoUpdate{OldHash: oldHash, NewHash: newHash}, nil
	}
	g.logger.Info("Updating repository", "old_hash", oldHash, "new_hash", newHash)

	w, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	branchRef := plumbing.NewBranchReferenceName(branch)
	err = w.Checkout(&git.CheckoutOptions{
		Branch: branchRef,
		Force:  true,
	})
	if errors.Is(err, plumbing.ErrReferenceNotFound) || errors.Is(err, git.ErrBranchNotFound) {
		err = w.Checkout(&git.CheckoutOptions{
			Hash:   newHash,
			Branch: branchRef,
			Create: true,
			Force:  true,
		})
	}
	if err != nil {
		return nil, &SyncError{Output: err.Error(), Err: fmt.Errorf("failed to checkout branch: %w", err)}
	}

	err = w.Reset(&git.ResetOptions{
		Commit: newHash,
		Mode:   git.HardReset,
	})
	if err != nil {
		return nil, &SyncError{Output: err.Error(), Err: fmt.Errorf("failed to reset the worktree: %w", err)}
	}

	g.logger.Info("Update successful.")
	return &model.RepoUpdate{OldHash: oldHash, NewHash: newHash}, nil
}

// authFor picks credentials by remote transport: SSH agent, then SSH key
// file for ssh remotes; basic auth for http(s) remotes when a username is
// configured. A nil method means anonymous access.
func (g *GitSyncer) authFor(repo *git.Repository) (transport.AuthMethod, error) {
	remote, err := repo.Remote(g.config.Remote)
	if err != nil {
		return nil, fmt.Errorf("failed to look up remote %s: %w", g.config.Remote, err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return nil, fmt.Errorf("remote %s has no URL", g.config.Remote)
	}
	endpoint, err := transport.NewEndpoint(urls[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse remote URL: %w", err)
	}

	switch endpoint.Protocol {
	case "ssh":
		user := endpoint.User
		if user == "" {
			user = "git"
		}
		if os.Getenv("SSH_AUTH_SOCK") != "" {
			g.logger.Info("SSH Agent detected, attempting authentication.")
			agentAuth, err := ssh.NewSSHAgentAuth(user)
			if err == nil {
				return agentAuth, nil
			}
			g.logger.Warn("SSH agent auth failed, will attempt key file.", "error", err)
		}
		if g.config.SSHKeyPath == "" {
			return nil, nil
		}
		g.logger.Info("Using SSH key file for authentication.", "path", g.config.SSHKeyPath)
		keyAuth, err := ssh.NewPublicKeysFromFile(user, g.config.SSHKeyPath, "")
		if err != nil {
			return nil, fmt.Errorf("could not create SSH authentication: %w", err)
		}
		return keyAuth, nil
	case "http", "https":
		if g.config.Username == "" {
			return nil, nil
		}
		return &githttp.BasicAuth{Username: g.config.Username, Password: g.config.Password}, nil
	}
	return nil, nil
}

func shortHash(h plumbing.Hash) string {
	return h.String()[:7]
}

// ComposeDeployer reconciles the compose project kept in the working copy
// against the local Docker daemon.
type ComposeDeployer struct {
	cli    *client.Client
	config model.DeployConfig
	logger *slog.Logger
}

func NewComposeDeployer(cli *client.Client, config model.DeployConfig, logger *slog.Logger) *ComposeDeployer {
	return &ComposeDeployer{cli: cli, config: config, logger: logger}
}

func (d *ComposeDeployer) Deploy(ctx context.Context, path string) error {
	composePath := filepath.Join(path, d.config.ComposeFile)

	composeConfig, err := controller.ParseComposeFile(composePath)
	if err != nil {
		return fmt.Errorf("could not process compose file: %w", err)
	}
	d.logger.Info("Successfully parsed compose file", "services_count", len(composeConfig.Services))

	projectName := ProjectName(d.config, path)
	d.logger.Info("Using project name", "project_name", projectName)

	reconciler := controller.NewReconciler(d.cli, projectName, d.logger)
	if err := reconciler.Apply(ctx, composeConfig); err != nil {
		return fmt.Errorf("failed to apply compose config: %w", err)
	}
	d.logger.Info("Deployment applied successfully.")
	return nil
}

// ProjectName is the configured compose project, or the working copy's
// directory name.
func ProjectName(config model.DeployConfig, path string) string {
	if config.ProjectName != "" {
		return config.ProjectName
	}
	return filepath.Base(filepath.Clean(path))
}
