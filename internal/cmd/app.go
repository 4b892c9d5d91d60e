package cmd

import (
	"path/filepath"

	"github.com/v0dev/v0core/internal/config"
	"github.com/v0dev/v0core/internal/constants"
	"github.com/v0dev/v0core/internal/doctor"
	"github.com/v0dev/v0core/internal/gitw"
	"github.com/v0dev/v0core/internal/mergedaemon"
	"github.com/v0dev/v0core/internal/mergeexec"
	"github.com/v0dev/v0core/internal/mergequeue"
	"github.com/v0dev/v0core/internal/opstate"
	"github.com/v0dev/v0core/internal/phase"
	"github.com/v0dev/v0core/internal/sessionctl"
	"github.com/v0dev/v0core/internal/tracker"
	"github.com/v0dev/v0core/internal/workspace"
)

// app bundles every wired component for one project root, constructed once
// per command invocation by persistentPreRun.
type app struct {
	cfg       *config.Config
	store     *opstate.Store
	git       *gitw.Runner
	sessions  *sessionctl.Controller
	tracker   *tracker.Tracker
	phase     *phase.Machine
	queue     *mergequeue.Queue
	executor  *mergeexec.Executor
	daemon    *mergedaemon.Daemon
	workspace *workspace.Manager
}

func newApp(projectRoot string) (*app, error) {
	root := projectRoot
	if root == "" {
		discovered, err := workspace.Find(".")
		if err != nil {
			return nil, err
		}
		root = discovered
	}

	cfg, err := config.Load(root, root)
	if err != nil {
		return nil, err
	}

	store := opstate.New(cfg.OperationsDir())
	git := gitw.NewRunner()
	sessions := sessionctl.New()
	trk := tracker.New(store)

	branches := &branchResolver{git: git, mainRepoDir: root}
	ph := phase.New(store, trk, sessions, branches)
	// *phase.Machine satisfies tracker.DependentResumer; wired in after
	// construction to break the construction cycle (Machine needs a
	// Tracker, Tracker needs a Machine to resume dependents).
	trk.Resumer = ph

	// Queue and Daemon need each other (Queue.Daemon.EnsureRunning spawns the
	// watch loop on Enqueue; Daemon.pollOnce drains the Queue), so wire the
	// queue with no starter first and attach the daemon afterward.
	queue := mergequeue.New(cfg.MergeQueueDir(), nil)

	execCfg := mergeexec.Config{
		Remote:         cfg.GitRemote,
		TargetBranch:   cfg.DevelopBranch,
		ResolveEnabled: true,
	}
	executor := mergeexec.New(git, sessions, ph, store, queue, trk, execCfg)

	daemonCfg := mergedaemon.Config{
		ProjectRoot:  root,
		MergeqDir:    cfg.MergeQueueDir(),
		PidFilePath:  filepath.Join(cfg.BuildDir(), constants.DaemonPidFileName),
		LogFilePath:  filepath.Join(cfg.BuildDir(), constants.LogsDirName, constants.MergesLogFileName),
		PollInterval: constants.QueuePollInterval,
	}
	daemon, err := mergedaemon.New(daemonCfg, queue, ph, executor, store)
	if err != nil {
		return nil, err
	}
	queue.Daemon = daemon

	return &app{
		cfg:       cfg,
		store:     store,
		git:       git,
		sessions:  sessions,
		tracker:   trk,
		phase:     ph,
		queue:     queue,
		executor:  executor,
		daemon:    daemon,
		workspace: workspace.New(git),
	}, nil
}

// branchResolver satisfies phase.BranchResolver over a *gitw.Runner.
type branchResolver struct {
	git         *gitw.Runner
	mainRepoDir string
}

func (b *branchResolver) WorktreeExists(path string) bool {
	return b.git.IsGitDir(path)
}

func (b *branchResolver) BranchExists(branch string) bool {
	return b.git.BranchExistsLocal(b.mainRepoDir, branch) || b.git.BranchExistsRemote(b.mainRepoDir, "origin", branch)
}

func (a *app) doctorContext() *doctor.CheckContext {
	return &doctor.CheckContext{ProjectRoot: a.cfg.ProjectRoot, MainRepoRoot: a.cfg.ProjectRoot}
}

func (a *app) pidFilePath() string {
	return filepath.Join(a.cfg.BuildDir(), constants.DaemonPidFileName)
}
