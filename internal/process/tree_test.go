package process

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"golang.org/x/sys/unix"
)

func TestDescendantsDeepestFirst(t *testing.T) {
	// 100 -> 101 -> 103 -> 104
	//     -> 102
	// 200 is unrelated
	entries := []Entry{
		{PID: 1, PPID: 0},
		{PID: 100, PPID: 1},
		{PID: 101, PPID: 100},
		{PID: 102, PPID: 100},
		{PID: 103, PPID: 101},
		{PID: 104, PPID: 103},
		{PID: 200, PPID: 1},
	}

	got := Descendants(entries, 100)
	want := []int{104, 103, 101, 102}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Descendants() = %v, want %v", got, want)
	}
}

func TestDescendantsUnknownRoot(t *testing.T) {
	if got := Descendants([]Entry{{PID: 5, PPID: 1}}, 999); len(got) != 0 {
		t.Errorf("Descendants() = %v, want empty", got)
	}
}

func TestDescendantsIgnoresCycles(t *testing.T) {
	entries := []Entry{{PID: 10, PPID: 11}, {PID: 11, PPID: 10}}
	if got := Descendants(entries, 10); !reflect.DeepEqual(got, []int{11}) {
		t.Errorf("Descendants() = %v, want [11]", got)
	}
}

func TestSweepMatchesTokensAndSkipsSelf(t *testing.T) {
	entries := []Entry{
		{PID: 10, Cmdline: "python3 ./lib/rk3566/push.py --codec h265"},
		{PID: 11, Cmdline: "gst-launch-1.0 v4l2src ! fakesink"},
		{PID: 12, Cmdline: "/usr/bin/mediamtx"},
		{PID: 13, Cmdline: "capturewatch h265 3000000 60 push.py"},
		{PID: 14, Cmdline: "python3 push.py"},
	}
	list := func(context.Context) ([]Entry, error) { return entries, nil }

	var killed []int
	kill := func(pid int) error {
		if pid == 14 {
			return unix.ESRCH
		}
		killed = append(killed, pid)
		return nil
	}

	s := NewSweeper([]string{"gst-launch", "push.py", " "}, list, kill, testLogger())
	n := s.Sweep(context.Background(), 13)

	if n != 2 {
		t.Errorf("Sweep() = %d, want 2", n)
	}
	if !reflect.DeepEqual(killed, []int{10, 11}) {
		t.Errorf("killed = %v, want [10 11]", killed)
	}
}

func TestSweepListError(t *testing.T) {
	list := func(context.Context) ([]Entry, error) { return nil, errors.New("proc unavailable") }
	s := NewSweeper([]string{"push.py"}, list, func(int) error {
		t.Fatal("kill should not be called")
		return nil
	}, testLogger())

	if n := s.Sweep(context.Background(), 1); n != 0 {
		t.Errorf("Sweep() = %d, want 0", n)
	}
}

func TestSweepWithoutTokens(t *testing.T) {
	s := NewSweeper(nil, func(context.Context) ([]Entry, error) {
		t.Fatal("list should not be called without tokens")
		return nil, nil
	}, nil, testLogger())

	if n := s.Sweep(context.Background(), 1); n != 0 {
		t.Errorf("Sweep() = %d, want 0", n)
	}
}

func TestIsGone(t *testing.T) {
	if !isGone(unix.ESRCH) || !isGone(unix.EPERM) {
		t.Error("ESRCH and EPERM are expected teardown races")
	}
	if isGone(errors.New("other")) {
		t.Error("unrelated errors must not be swallowed")
	}
}
