package process

import (
	"context"
	"errors"

	gops "github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// Entry is one row of a process table snapshot.
type Entry struct {
	PID     int
	PPID    int
	Cmdline string
}

// Lister snapshots the process table.
type Lister func(ctx context.Context) ([]Entry, error)

// Killer sends a forced kill to a single PID.
type Killer func(pid int) error

// ListProcesses snapshots every process visible in /proc. Processes that
// exit while the table is being read are skipped.
func ListProcesses(ctx context.Context) ([]Entry, error) {
	procs, err := gops.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(procs))
	for _, p := range procs {
		ppid, err := p.PpidWithContext(ctx)
		if err != nil {
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{PID: int(p.Pid), PPID: int(ppid), Cmdline: cmdline})
	}
	return entries, nil
}

// KillPID sends SIGKILL to pid.
func KillPID(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}

// isGone reports errors that mean the target no longer needs killing or
// cannot be touched by us; both are expected during teardown races.
func isGone(err error) bool {
	return errors.Is(err, unix.ESRCH) || errors.Is(err, unix.EPERM) || errors.Is(err, gops.ErrorProcessNotRunning)
}

// Descendants returns every descendant of root in the snapshot, deepest
// first, so children of children come before their parents. root itself is
// not included.
func Descendants(entries []Entry, root int) []int {
	children := make(map[int][]int, len(entries))
	for _, e := range entries {
		if e.PID == e.PPID {
			continue
		}
		children[e.PPID] = append(children[e.PPID], e.PID)
	}

	var order []int
	seen := map[int]bool{root: true}
	var walk func(pid int)
	walk = func(pid int) {
		for _, child := range children[pid] {
			if seen[child] {
				continue
			}
			seen[child] = true
			walk(child)
			order = append(order, child)
		}
	}
	walk(root)
	return order
}

// killGroup sends SIGKILL to the process group led by pgid and reports
// whether the signal was delivered. The child is started with Setpgid so
// its PID is its PGID. An already empty group is not an error.
func killGroup(pgid int) (bool, error) {
	if pgid <= 1 || pgid == unix.Getpgrp() {
		return false, nil
	}
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
