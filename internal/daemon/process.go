package daemon

import (
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	aerrors "git.home.luguber.info/inful/autobuild/internal/errors"
	"git.home.luguber.info/inful/autobuild/internal/logfields"
)

// pidAlive reports whether a process with the given PID currently exists.
// Any probe error is treated as "not alive": orphan recovery and stop
// correction both prefer settling state over spinning on an unreadable PID.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	return err == nil && exists
}

// terminateTree stops the process rooted at pid together with all of its
// descendants. Descendants are signalled first so a shell wrapper cannot
// re-parent children mid-kill, then the root. Survivors past the grace
// interval are force-killed. Returns ProcessControlFailure only when the root
// outlives the escalation.
func terminateTree(pid int, grace time.Duration) error {
	root, err := process.NewProcess(int32(pid))
	if err != nil {
		// Already gone.
		return nil
	}

	targets := collectTree(root)

	for i := len(targets) - 1; i >= 0; i-- {
		if err := targets[i].Terminate(); err != nil {
			slog.Debug("Terminate signal not delivered", logfields.PID(int(targets[i].Pid)), logfields.Error(err))
		}
	}

	if waitTreeExit(targets, grace) {
		return nil
	}

	for i := len(targets) - 1; i >= 0; i-- {
		if alive, err := process.PidExists(targets[i].Pid); err != nil || !alive {
			continue
		}
		if err := targets[i].Kill(); err != nil {
			slog.Debug("Kill signal not delivered", logfields.PID(int(targets[i].Pid)), logfields.Error(err))
		}
	}

	if waitTreeExit(targets, killSettleInterval) {
		return nil
	}

	return aerrors.New(aerrors.CategoryProcess, aerrors.SeverityError, "process tree survived kill escalation").
		WithContext("pid", pid)
}

// killSettleInterval bounds the post-SIGKILL wait. A process that survives
// SIGKILL this long is in uninterruptible sleep and nothing more can be done.
const killSettleInterval = 2 * time.Second

// collectTree returns root plus all descendants, parents before children.
func collectTree(root *process.Process) []*process.Process {
	tree := []*process.Process{root}
	for i := 0; i < len(tree); i++ {
		children, err := tree[i].Children()
		if err != nil {
			continue
		}
		tree = append(tree, children...)
	}
	return tree
}

// waitTreeExit polls until every process in targets is gone or the deadline
// passes.
func waitTreeExit(targets []*process.Process, window time.Duration) bool {
	deadline := time.Now().Add(window)
	for {
		anyAlive := false
		for _, p := range targets {
			if alive, err := process.PidExists(p.Pid); err == nil && alive {
				anyAlive = true
				break
			}
		}
		if !anyAlive {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
}
