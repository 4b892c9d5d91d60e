/*
v0 drives long-running coding agents through a structured lifecycle: plan,
decompose into tracked issues, execute in an isolated workspace, and merge
into a shared branch — coordinating many such operations concurrently while
serializing writes to the target branch.

Usage:

	v0 <command> [arguments]

Common commands:

	v0 op plan <name>       Create a new operation
	v0 op status <name>     Show an operation's phase and merge status
	v0 merge enqueue <name> Queue an operation for merging
	v0 daemon start         Start the merge daemon
	v0 watch                Live dashboard of every tracked operation
	v0 doctor               Run health checks against the project

See 'v0 help <command>' for more information on a specific command.
*/
package main

import (
	"github.com/v0dev/v0core/internal/cmd"
)

func main() {
	cmd.Execute()
}
