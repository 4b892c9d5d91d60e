package config

import "fmt"

// ChildEnv returns the environment variables the Merge Daemon and Merge
// Executor MUST export before spawning any child process: the
// main-repository paths, never the workspace's own paths, so a re-derivation
// from the child's current directory can't yield a wrong answer.
func (c *Config) ChildEnv() map[string]string {
	return map[string]string{
		"BUILD_DIR":         c.BuildDir(),
		"MERGEQ_DIR":        c.MergeQueueDir(),
		"V0_DEVELOP_BRANCH": c.DevelopBranch,
	}
}

// ExportLine renders the child environment as a shell "export K=V ..."
// prefix suitable for prepending to an agent startup command.
func (c *Config) ExportLine() string {
	env := c.ChildEnv()
	line := ""
	for _, k := range []string{"BUILD_DIR", "MERGEQ_DIR", "V0_DEVELOP_BRANCH"} {
		line += fmt.Sprintf("%s=%q ", k, env[k])
	}
	return "export " + line
}
