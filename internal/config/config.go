// Package config loads the project configuration (.v0.rc and its optional
// per-user profile override) into a typed value threaded through every
// constructor in the core — no package re-reads the file or an environment
// variable mid-call.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/v0dev/v0core/internal/constants"
	"github.com/v0dev/v0core/internal/verr"
)

// Config is the typed, fully-resolved project configuration.
type Config struct {
	Project      string `toml:"PROJECT"`
	IssuePrefix  string `toml:"ISSUE_PREFIX"`
	DevelopBranch string `toml:"V0_DEVELOP_BRANCH"`
	WorkspaceMode string `toml:"V0_WORKSPACE_MODE"`
	GitRemote     string `toml:"V0_GIT_REMOTE"`
	FeatureBranch string `toml:"V0_FEATURE_BRANCH"`
	BugfixBranch  string `toml:"V0_BUGFIX_BRANCH"`
	ChoreBranch   string `toml:"V0_CHORE_BRANCH"`

	// ProjectRoot is the directory the config was resolved from, not a file
	// field — set by Load so downstream constructors never re-derive cwd.
	ProjectRoot string `toml:"-"`
}

// defaults returns the built-in default configuration values.
func defaults() Config {
	return Config{
		DevelopBranch: "main",
		GitRemote:     "origin",
		FeatureBranch: "feature/{name}",
		BugfixBranch:  "fix/{id}",
		ChoreBranch:   "chore/{id}",
	}
}

// Load reads <projectRoot>/.v0.rc, merges <projectRoot>/.v0.profile.rc on top
// when present, and falls back to the main repository's profile file when
// the workspace-local one is absent. mainRepoRoot may equal
// projectRoot; pass "" when there is no separate main repository to consult.
func Load(projectRoot, mainRepoRoot string) (*Config, error) {
	rcPath := filepath.Join(projectRoot, constants.ConfigFileName)
	cfg := defaults()

	data, err := os.ReadFile(rcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", verr.ErrConfigNotFound, rcPath)
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", rcPath, err)
	}

	profilePath := filepath.Join(projectRoot, constants.ProfileFileName)
	if _, statErr := os.Stat(profilePath); statErr != nil && mainRepoRoot != "" && mainRepoRoot != projectRoot {
		profilePath = filepath.Join(mainRepoRoot, constants.ProfileFileName)
	}
	if profData, err := os.ReadFile(profilePath); err == nil {
		if _, err := toml.Decode(string(profData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing profile %s: %w", profilePath, err)
		}
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	cfg.ProjectRoot = projectRoot
	return &cfg, nil
}

func validate(c *Config) error {
	if c.Project == "" {
		return fmt.Errorf("%w: PROJECT", verr.ErrConfigMissingKey)
	}
	if c.IssuePrefix == "" {
		return fmt.Errorf("%w: ISSUE_PREFIX", verr.ErrConfigMissingKey)
	}
	if c.WorkspaceMode != "" && c.WorkspaceMode != "worktree" && c.WorkspaceMode != "clone" {
		return fmt.Errorf("%w: V0_WORKSPACE_MODE must be 'worktree' or 'clone', got %q", verr.ErrConfigInvalidType, c.WorkspaceMode)
	}
	return nil
}

// InferredWorkspaceMode returns the configured mode, or the mode inferred
// from DevelopBranch when unset: clone for the
// conventional shared branches, worktree otherwise.
func (c *Config) InferredWorkspaceMode() string {
	if c.WorkspaceMode != "" {
		return c.WorkspaceMode
	}
	if constants.CloneModeBranches[c.DevelopBranch] {
		return "clone"
	}
	return "worktree"
}

// ExpandBranch substitutes both the {name} and {id} placeholders of a
// branch-name template with the same value.
func ExpandBranch(template, value string) string {
	r := strings.NewReplacer("{name}", value, "{id}", value)
	return r.Replace(template)
}

// BuildDir returns the project-local build directory.
func (c *Config) BuildDir() string {
	return filepath.Join(c.ProjectRoot, constants.BuildDirName)
}

// MergeQueueDir returns the merge queue's directory.
func (c *Config) MergeQueueDir() string {
	return filepath.Join(c.BuildDir(), constants.MergeQueueDirName)
}

// OperationsDir returns the directory holding per-operation state.
func (c *Config) OperationsDir() string {
	return filepath.Join(c.BuildDir(), constants.OperationsDirName)
}
