package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrNoSignal means the query tool reported a failure marker.
	ErrNoSignal = errors.New("no signal")

	// ErrParse means the output lacked the expected timing fields.
	ErrParse = errors.New("unparseable timings output")
)

// failureMarker is printed by v4l2-ctl when the subdevice has no lock.
const failureMarker = "failed"

var (
	widthPattern  = regexp.MustCompile(`Active width: (\d+)`)
	heightPattern = regexp.MustCompile(`Active height: (\d+)`)
	fpsPattern    = regexp.MustCompile(`(\d+\.\d+) frames per second`)
)

// Result is the outcome of one device query.
type Result struct {
	HasSignal  bool
	Resolution string // "1920x1080", empty without signal
	FPS        string // "60.00", empty without signal
}

// ParseTimings interprets --query-dv-timings output. Any output containing
// the failure marker yields ErrNoSignal; output missing width, height or
// frame rate yields ErrParse. In both cases HasSignal is false.
func ParseTimings(output string) (Result, error) {
	if strings.Contains(output, failureMarker) {
		return Result{}, ErrNoSignal
	}

	width := widthPattern.FindStringSubmatch(output)
	height := heightPattern.FindStringSubmatch(output)
	fps := fpsPattern.FindStringSubmatch(output)

	var missing []string
	if width == nil {
		missing = append(missing, "width")
	}
	if height == nil {
		missing = append(missing, "height")
	}
	if fps == nil {
		missing = append(missing, "fps")
	}
	if len(missing) > 0 {
		return Result{}, fmt.Errorf("%w: missing %s", ErrParse, strings.Join(missing, ", "))
	}

	return Result{
		HasSignal:  true,
		Resolution: width[1] + "x" + height[1],
		FPS:        fps[1],
	}, nil
}

// Runner executes an external command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run returns stdout even when the command exits non-zero, since the
// query tool reports "no lock" through its exit status as well as its text.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, nil
	}
	return out, err
}

// TimingsProbe queries DV timings of a capture subdevice.
type TimingsProbe struct {
	device  string
	command string
	timeout time.Duration
	runner  Runner
	logger  *slog.Logger
}

// NewTimingsProbe creates a probe for device using command (normally
// "v4l2-ctl"). A nil runner uses ExecRunner.
func NewTimingsProbe(device, command string, timeout time.Duration, runner Runner, logger *slog.Logger) *TimingsProbe {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &TimingsProbe{
		device:  device,
		command: command,
		timeout: timeout,
		runner:  runner,
		logger:  logger,
	}
}

// Query runs the timings command once. The returned Result is always
// usable: on any error HasSignal is false.
func (p *TimingsProbe) Query(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.runner.Run(ctx, p.command, "-d", p.device, "--query-dv-timings")
	if err != nil {
		return Result{}, fmt.Errorf("query %s: %w", p.device, err)
	}

	res, err := ParseTimings(string(out))
	if errors.Is(err, ErrParse) {
		p.logger.Warn("Timings output not understood, treating as no signal", "device", p.device, "error", err)
	}
	return res, err
}
