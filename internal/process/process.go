package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/capturewatch/internal/metrics"
	"github.com/smazurov/capturewatch/internal/stream"
)

// ErrAlreadyRunning is returned by Start while a pipeline is still managed.
var ErrAlreadyRunning = errors.New("pipeline already running")

// Options configures a Supervisor.
type Options struct {
	// Command is the pipeline launcher, e.g. "python3 ./lib/rk3566/push.py".
	// The stream flags are appended to it on every start.
	Command string

	// SweepTokens identify stray pipeline processes by command line substring.
	SweepTokens []string

	// DrainTimeout bounds the wait for the output drain goroutine in Stop.
	DrainTimeout time.Duration

	// KillTimeout bounds the wait for the killed child to be reaped.
	KillTimeout time.Duration

	// Logger for supervisor operations. If nil, uses slog.Default().
	Logger *slog.Logger

	// OutputLogger receives pipeline output lines. If nil, uses Logger.
	OutputLogger *slog.Logger

	// LogParser extracts a level from pipeline output. Nil logs everything at info.
	LogParser LogParser

	// Lister and Killer override process table access, mainly for tests.
	Lister Lister
	Killer Killer
}

// managedProcess is the single live pipeline child.
type managedProcess struct {
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	output    *os.File      // read end of the combined stdout/stderr pipe
	drainDone chan struct{} // closed when the drain goroutine returns
	exited    chan struct{} // closed after cmd.Wait returns
	exitErr   error
}

// Supervisor owns the lifecycle of the streaming pipeline process.
type Supervisor struct {
	mu           sync.Mutex
	command      []string
	current      *managedProcess
	last         Info
	sweeper      *Sweeper
	list         Lister
	kill         Killer
	self         int
	logger       *slog.Logger
	outputLogger *slog.Logger
	logParser    LogParser
	drainTimeout time.Duration
	killTimeout  time.Duration
}

// NewSupervisor creates a supervisor for the configured pipeline command.
func NewSupervisor(opts Options) (*Supervisor, error) {
	args, err := parseCommand(opts.Command)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty pipeline command")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	outputLogger := opts.OutputLogger
	if outputLogger == nil {
		outputLogger = logger
	}
	list := opts.Lister
	if list == nil {
		list = ListProcesses
	}
	kill := opts.Killer
	if kill == nil {
		kill = KillPID
	}
	drainTimeout := opts.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = time.Second
	}
	killTimeout := opts.KillTimeout
	if killTimeout <= 0 {
		killTimeout = 2 * time.Second
	}

	return &Supervisor{
		command:      args,
		sweeper:      NewSweeper(opts.SweepTokens, list, kill, logger),
		list:         list,
		kill:         kill,
		self:         os.Getpid(),
		logger:       logger,
		outputLogger: outputLogger,
		logParser:    opts.LogParser,
		drainTimeout: drainTimeout,
		killTimeout:  killTimeout,
	}, nil
}

// Start launches the pipeline with the stream flags and begins draining
// its combined output. On failure no process is recorded.
func (s *Supervisor) Start(cfg stream.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return ErrAlreadyRunning
	}

	argv := append(slices.Clone(s.command), cfg.Args()...)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	reader, writer, err := os.Pipe()
	if err != nil {
		metrics.IncStreamStartFailures()
		return fmt.Errorf("create output pipe: %w", err)
	}
	cmd.Stdout = writer
	cmd.Stderr = writer

	if err := cmd.Start(); err != nil {
		reader.Close()
		writer.Close()
		metrics.IncStreamStartFailures()
		return fmt.Errorf("start pipeline %q: %w", argv[0], err)
	}
	// The child holds its own copy of the write end
	writer.Close()

	mp := &managedProcess{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		output:    reader,
		drainDone: make(chan struct{}),
		exited:    make(chan struct{}),
	}

	go func() {
		defer close(mp.drainDone)
		s.drain(reader)
	}()
	go func() {
		mp.exitErr = cmd.Wait()
		close(mp.exited)
	}()

	s.current = mp
	s.last = Info{PID: mp.pid, Command: argv, StartedAt: mp.startedAt, Running: true}
	metrics.IncStreamStarts()
	metrics.SetStreamRunning(true)
	s.logger.Info("Pipeline started", "pid", mp.pid, "command", strings.Join(argv, " "))
	return nil
}

// Stop tears down the pipeline and any stray pipeline processes. It is
// idempotent and safe to call when nothing is running.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	mp := s.current
	if mp != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.killTimeout)
		s.killTree(ctx, mp)
		cancel()
	}

	// Always sweep: helpers may have escaped the recorded tree. The sweep
	// gets its own deadline so a slow kill wait cannot skip it.
	ctx, cancel := context.WithTimeout(context.Background(), s.killTimeout)
	defer cancel()
	swept := s.sweeper.Sweep(ctx, s.self)
	metrics.AddProcessesKilled(metrics.PassSweep, swept)

	if mp == nil {
		if swept > 0 {
			s.logger.Info("Cleanup sweep removed stray processes", "swept", swept)
		}
		return
	}

	s.joinDrain(mp)
	s.last.Running = false
	s.last.ExitCode = mp.exitCode()
	s.current = nil
	metrics.SetStreamRunning(false)
	metrics.IncStreamStops()
	s.logger.Info("Pipeline stopped", "pid", mp.pid, "swept", swept)
}

// reaped reports whether cmd.Wait has returned for the child.
func (mp *managedProcess) reaped() bool {
	select {
	case <-mp.exited:
		return true
	default:
		return false
	}
}

// exitCode is the child's exit status, or -1 while it has not been reaped.
func (mp *managedProcess) exitCode() int {
	if !mp.reaped() {
		return -1
	}
	return exitCodeFromError(mp.exitErr)
}

// killTree kills the recorded tree deepest first, then the process group,
// then the root, and waits for the root to be reaped. A root that was
// already reaped has a PID the kernel may have reused, so its tree is not
// walked and orphans are left to the group kill and the sweep.
func (s *Supervisor) killTree(ctx context.Context, mp *managedProcess) {
	killed := 0
	if mp.reaped() {
		s.logger.Debug("Pipeline already reaped, skipping tree walk", "pid", mp.pid)
	} else {
		killed = s.killDescendants(ctx, mp.pid)
	}

	if delivered, err := killGroup(mp.pid); err != nil {
		s.logger.Warn("Failed to kill pipeline process group", "pgid", mp.pid, "error", err)
	} else if delivered {
		metrics.AddProcessesKilled(metrics.PassGroup, 1)
	}

	if err := mp.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Warn("Failed to kill pipeline", "pid", mp.pid, "error", err)
	}

	select {
	case <-mp.exited:
	case <-time.After(s.killTimeout):
		s.logger.Error("Pipeline did not exit after kill signal", "pid", mp.pid, "timeout", s.killTimeout)
	}

	if killed > 0 {
		s.logger.Debug("Killed pipeline descendants", "pid", mp.pid, "count", killed)
	}
}

// killDescendants SIGKILLs every descendant of root, deepest first.
func (s *Supervisor) killDescendants(ctx context.Context, root int) int {
	entries, err := s.list(ctx)
	if err != nil {
		s.logger.Warn("Failed to list pipeline process tree", "pid", root, "error", err)
	}

	killed := 0
	for _, pid := range Descendants(entries, root) {
		if pid == s.self {
			continue
		}
		if err := s.kill(pid); err != nil {
			if !isGone(err) {
				s.logger.Warn("Failed to kill pipeline descendant", "pid", pid, "error", err)
			}
			continue
		}
		killed++
	}
	metrics.AddProcessesKilled(metrics.PassTree, killed)
	return killed
}

// joinDrain waits for the drain goroutine. If a leaked descendant still
// holds the pipe open the read end is closed to release the goroutine.
func (s *Supervisor) joinDrain(mp *managedProcess) {
	select {
	case <-mp.drainDone:
	case <-time.After(s.drainTimeout):
		s.logger.Warn("Output drain did not finish in time, closing pipe", "pid", mp.pid, "timeout", s.drainTimeout)
		metrics.IncDrainTimeouts()
	}
	mp.output.Close()
	<-mp.drainDone
}

// Exited reports whether the managed pipeline has exited on its own.
// It returns false when nothing is managed.
func (s *Supervisor) Exited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current != nil && s.current.reaped()
}

// Info returns the current or most recent pipeline process.
func (s *Supervisor) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := s.last
	info.Command = slices.Clone(info.Command)
	if s.current != nil && s.current.reaped() {
		info.Running = false
		info.ExitCode = s.current.exitCode()
	}
	return info
}

// exitCodeFromError extracts exit code from process error.
// Returns 0 for nil error, the exit code for ExitError, or 1 for other errors.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

// maxLineBytes caps a single logged output line. Longer lines are
// truncated and the rest of the line is read and discarded.
const maxLineBytes = 1024 * 1024

// drain forwards pipeline output to the output logger until EOF. It keeps
// reading whatever the child writes so the pipe never fills up.
func (s *Supervisor) drain(reader io.Reader) {
	br := bufio.NewReaderSize(reader, 64*1024)
	var line []byte
	truncated := false

	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if len(line) > 0 {
				s.logLine(string(line), truncated)
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.logger.Warn("Error reading pipeline output", "error", err)
			}
			return
		}

		if room := maxLineBytes - len(line); len(chunk) > room {
			chunk = chunk[:room]
			truncated = true
		}
		line = append(line, chunk...)
		if isPrefix {
			continue
		}

		s.logLine(string(line), truncated)
		line = line[:0]
		truncated = false
	}
}

// logLine logs one output line at the level the parser assigns.
func (s *Supervisor) logLine(line string, truncated bool) {
	if line == "" {
		return
	}

	level, msg := "info", line
	if s.logParser != nil {
		level, msg = s.logParser(line)
	}

	var args []any
	if truncated {
		args = append(args, "truncated", true)
	}

	switch level {
	case "fatal", "error":
		s.outputLogger.Error(msg, args...)
	case "warning":
		s.outputLogger.Warn(msg, args...)
	case "debug", "trace":
		s.outputLogger.Debug(msg, args...)
	default:
		s.outputLogger.Info(msg, args...)
	}
}

// parseCommand parses a command string into arguments
// Handles quoted strings and basic escaping.
func parseCommand(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)

	command = strings.TrimSpace(command)
	runes := []rune(command)

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			switch {
			case !inQuote:
				inQuote = true
				quoteChar = r
			case r == quoteChar:
				inQuote = false
				quoteChar = 0
			default:
				current.WriteRune(r)
			}
		case r == ' ' && !inQuote:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
		default:
			current.WriteRune(r)
		}
	}

	if current.Len() > 0 {
		args = append(args, current.String())
	}

	if inQuote {
		return nil, fmt.Errorf("unclosed quote in command")
	}

	return args, nil
}
