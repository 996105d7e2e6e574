// Package command implements the tunnel driver by running external
// commands, e.g. systemctl or a vendor CLI for the tunnel daemon.
package command

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/anyportal/tproxyctl/internal/ports"
	"github.com/anyportal/tproxyctl/pkg/log"
)

// maxOutput caps how much command output is carried in an error.
const maxOutput = 512

// Config holds the argv of each driver command.
type Config struct {
	Start  []string
	Stop   []string
	Status []string
}

// Validate checks that every command is set.
func (c Config) Validate() error {
	if len(c.Start) == 0 {
		return errors.New("start command is required")
	}
	if len(c.Stop) == 0 {
		return errors.New("stop command is required")
	}
	if len(c.Status) == 0 {
		return errors.New("status command is required")
	}
	return nil
}

// Driver implements ports.Driver with external commands.
//
// Start and Stop succeed when their command exits 0. The status command
// reports running with exit 0 and not running with any other exit code,
// following the systemctl is-active convention.
type Driver struct {
	cfg    Config
	logger log.Logger
}

// New creates a command driver.
func New(cfg Config, logger log.Logger) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Driver{cfg: cfg, logger: logger}, nil
}

func (d *Driver) Start(ctx context.Context) error {
	_, err := d.run(ctx, "start", d.cfg.Start)
	return err
}

func (d *Driver) Stop(ctx context.Context) error {
	_, err := d.run(ctx, "stop", d.cfg.Stop)
	return err
}

// Probe runs the status command on its own goroutine and replies once.
func (d *Driver) Probe(ctx context.Context, reply func(running bool, err error)) {
	go func() {
		_, err := d.run(ctx, "status", d.cfg.Status)

		var exitErr *exec.ExitError
		switch {
		case err == nil:
			reply(true, nil)
		case ctx.Err() != nil:
			reply(false, ctx.Err())
		case errors.As(err, &exitErr):
			reply(false, nil)
		default:
			reply(false, err)
		}
	}()
}

func (d *Driver) run(ctx context.Context, op string, argv []string) ([]byte, error) {
	started := time.Now()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()

	d.logger.Debug("driver command finished",
		log.String("op", op),
		log.String("command", strings.Join(argv, " ")),
		log.Duration("took", time.Since(started)),
		log.Bool("ok", err == nil),
	)

	if err != nil {
		return out, &CommandError{Op: op, Argv: argv, Output: trimOutput(out), Err: err}
	}
	return out, nil
}

// CommandError reports a failed driver command with its output.
type CommandError struct {
	Op     string
	Argv   []string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s command %q: %v", e.Op, strings.Join(e.Argv, " "), e.Err)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func trimOutput(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > maxOutput {
		s = s[:maxOutput] + "..."
	}
	return s
}

var _ ports.Driver = (*Driver)(nil)
