package utils

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/sithukyaw666/pullhook/model"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "PULLHOOK"

// RegisterFlags declares the command-line flags LoadConfig understands.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to a YAML config file (default ./config.yaml if present).")
	flags.String("repo-path", "", "Working copy to synchronize.")
	flags.String("secret", "", "Shared secret expected in the X-Gitlab-Token header.")
	flags.String("host", "0.0.0.0", "Interface to listen on.")
	flags.Int("port", 5000, "Port to listen on.")
	flags.String("log-file", "webhook.log", "Log file; empty logs to stdout.")
	flags.String("log-level", "info", "Log level (debug, info, warn, error).")
}

// setDefaults registers every key; AutomaticEnv only reaches keys viper
// already knows about when unmarshalling.
func setDefaults(v *viper.Viper) {
	v.SetDefault("repo_path", "")
	v.SetDefault("secret", "")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 5000)
	v.SetDefault("log_file", "webhook.log")
	v.SetDefault("log_level", "info")
	v.SetDefault("sync.strategy", model.StrategyCommand)
	v.SetDefault("sync.command", []string{"git", "pull"})
	v.SetDefault("sync.timeout_seconds", 0)
	v.SetDefault("git.remote", "origin")
	v.SetDefault("git.branch", "")
	v.SetDefault("git.ssh_key_path", "")
	v.SetDefault("git.username", "")
	v.SetDefault("git.password", "")
	v.SetDefault("deploy.enabled", false)
	v.SetDefault("deploy.compose_file", "docker-compose.yml")
	v.SetDefault("deploy.project_name", "")
	v.SetDefault("deploy.docker_api_version", "")
}

// LoadConfig merges defaults, an optional config file, PULLHOOK_* environment
// variables and flags, in increasing order of precedence. flags may be nil.
func LoadConfig(flags *pflag.FlagSet) (model.Config, error) {
	var config model.Config

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for flagName, key := range map[string]string{
			"repo-path": "repo_path",
			"secret":    "secret",
			"host":      "host",
			"port":      "port",
			"log-file":  "log_file",
			"log-level": "log_level",
		} {
			if f := flags.Lookup(flagName); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return config, fmt.Errorf("unable to bind flag %s: %w", flagName, err)
				}
			}
		}
	}

	configFile := ""
	if flags != nil {
		configFile, _ = flags.GetString("config")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return config, fmt.Errorf("fatal error config file: %w", err)
		}
	}

	if err := v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("unable to unmarshal config: %w", err)
	}
	config.Sync.Command = splitCommand(config.Sync.Command)

	if err := validate(config); err != nil {
		return config, err
	}
	return config, nil
}

func validate(config model.Config) error {
	if config.RepoPath == "" {
		return errors.New("repo_path is required")
	}
	if config.Secret == "" {
		return errors.New("secret is required")
	}
	if config.Port <= 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is out of range", config.Port)
	}
	switch config.Sync.Strategy {
	case model.StrategyCommand:
		if len(config.Sync.Command) == 0 {
			return errors.New("sync.command must not be empty")
		}
	case model.StrategyGoGit:
	default:
		return fmt.Errorf("unknown sync.strategy %q", config.Sync.Strategy)
	}
	return nil
}

// splitCommand turns a command given as one string, as PULLHOOK_SYNC_COMMAND
// is, into its arguments. A list given in YAML is kept as written.
func splitCommand(command []string) []string {
	if len(command) != 1 || !strings.ContainsAny(command[0], " \t") {
		return command
	}
	return strings.Fields(command[0])
}

// CheckSyncCommand fails when the command strategy names an executable that
// is not on PATH.
func CheckSyncCommand(config model.Config) error {
	if config.Sync.Strategy != model.StrategyCommand {
		return nil
	}
	if len(config.Sync.Command) == 0 {
		return errors.New("sync command is not runnable: no command configured")
	}
	if _, err := exec.LookPath(config.Sync.Command[0]); err != nil {
		return fmt.Errorf("sync command is not runnable: %w", err)
	}
	return nil
}

// CheckWorkingCopy fails when path is missing or is not a directory.
func CheckWorkingCopy(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("repository path is not valid: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("repository path is not a directory: %s", path)
	}
	return nil
}
