package model

import (
	"time"

	"github.com/go-git/go-git/v5/plumbing"
)

const (
	StrategyCommand = "command"
	StrategyGoGit   = "gogit"
)

type Config struct {
	RepoPath string `mapstructure:"repo_path"`
	Secret   string `mapstructure:"secret"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	LogFile  string `mapstructure:"log_file"`
	LogLevel string `mapstructure:"log_level"`

	Sync   SyncConfig   `mapstructure:"sync"`
	Git    GitConfig    `mapstructure:"git"`
	Deploy DeployConfig `mapstructure:"deploy"`
}

type SyncConfig struct {
	Strategy       string   `mapstructure:"strategy"`
	Command        []string `mapstructure:"command"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
}

// Timeout returns zero when synchronizations may run unbounded.
func (s SyncConfig) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

type GitConfig struct {
	Remote     string `mapstructure:"remote"`
	Branch     string `mapstructure:"branch"`
	SSHKeyPath string `mapstructure:"ssh_key_path"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
}

type DeployConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	ComposeFile      string `mapstructure:"compose_file"`
	ProjectName      string `mapstructure:"project_name"`
	DockerAPIVersion string `mapstructure:"docker_api_version"`
}

type RepoUpdate struct {
	OldHash plumbing.Hash
	NewHash plumbing.Hash
}

// Notification is the subset of a GitLab push event body that gets logged.
// Every field is optional.
type Notification struct {
	ObjectKind  string `json:"object_kind"`
	Ref         string `json:"ref"`
	CheckoutSHA string `json:"checkout_sha"`
	Repository  struct {
		Name string `json:"name"`
	} `json:"repository"`
}
