package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"imagelens/internal/metrics"
)

// waitDelay bounds how long Run waits for output pipes to drain after the
// process has been killed.
const waitDelay = 2 * time.Second

// Engine analyzes one stored image.
type Engine interface {
	Analyze(ctx context.Context, imagePath string) (*Invocation, error)
}

// Invocation records one engine run.
type Invocation struct {
	Command  []string
	Input    string
	Timeout  time.Duration
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

type SubprocessConfig struct {
	// Command is the program and its fixed leading arguments. The image
	// path is appended as the last argument.
	Command []string
	WorkDir string
	Env     []string
	Timeout time.Duration
}

// Subprocess runs the engine as a separate OS process per call.
type Subprocess struct {
	command []string
	workDir string
	env     []string
	timeout time.Duration
	logger  *zap.Logger
}

func NewSubprocess(cfg SubprocessConfig, logger *zap.Logger) (*Subprocess, error) {
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, errors.New("engine command is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	command := make([]string, len(cfg.Command))
	copy(command, cfg.Command)
	return &Subprocess{
		command: command,
		workDir: cfg.WorkDir,
		env:     cfg.Env,
		timeout: cfg.Timeout,
		logger:  logger.Named("engine"),
	}, nil
}

func (s *Subprocess) Analyze(ctx context.Context, imagePath string) (*Invocation, error) {
	input, err := filepath.Abs(imagePath)
	if err != nil {
		return nil, &InvocationError{Reason: ReasonSpawn, Message: "resolve image path", ExitCode: -1, Err: err}
	}

	args := make([]string, 0, len(s.command))
	args = append(args, s.command[1:]...)
	args = append(args, input)

	inv := &Invocation{
		Command:  append([]string{s.command[0]}, args...),
		Input:    input,
		Timeout:  s.timeout,
		ExitCode: -1,
	}

	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, s.command[0], args...)
	cmd.Dir = s.workDir
	if len(s.env) > 0 {
		cmd.Env = append(cmd.Environ(), s.env...)
	}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	s.logger.Debug("starting analysis engine", zap.Strings("command", inv.Command))

	start := time.Now()
	runErr := cmd.Run()
	inv.Duration = time.Since(start)
	inv.Stdout = stdout.Bytes()
	inv.Stderr = stderr.Bytes()
	if cmd.ProcessState != nil {
		inv.ExitCode = cmd.ProcessState.ExitCode()
	}

	if runErr != nil {
		invErr := s.classify(runCtx, inv, runErr)
		metrics.EngineDuration.WithLabelValues(invErr.Reason).Observe(inv.Duration.Seconds())
		s.logger.Debug("analysis engine failed",
			zap.String("reason", invErr.Reason),
			zap.Int("exit_code", inv.ExitCode),
			zap.Duration("duration", inv.Duration),
			zap.ByteString("stdout", inv.Stdout),
			zap.ByteString("stderr", inv.Stderr),
		)
		return inv, invErr
	}

	metrics.EngineDuration.WithLabelValues("ok").Observe(inv.Duration.Seconds())
	if len(bytes.TrimSpace(inv.Stderr)) > 0 {
		s.logger.Warn("analysis engine wrote to stderr",
			zap.String("input", input),
			zap.ByteString("stderr", inv.Stderr),
		)
	}
	s.logger.Debug("analysis engine finished",
		zap.Duration("duration", inv.Duration),
		zap.Int("stdout_bytes", len(inv.Stdout)),
	)
	return inv, nil
}

func (s *Subprocess) classify(runCtx context.Context, inv *Invocation, runErr error) *InvocationError {
	base := InvocationError{
		ExitCode: inv.ExitCode,
		Stdout:   inv.Stdout,
		Stderr:   inv.Stderr,
		Err:      runErr,
	}

	// A killed process reports an ExitError too, so the context is checked
	// first.
	switch ctxErr := runCtx.Err(); {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		base.Reason = ReasonTimeout
		base.Message = "deadline exceeded"
		if s.timeout > 0 {
			base.Message = fmt.Sprintf("did not finish within %s", s.timeout)
		}
		return &base
	case errors.Is(ctxErr, context.Canceled):
		base.Reason = ReasonCanceled
		base.Message = "request canceled"
		return &base
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		base.Reason = ReasonExit
		base.Message = fmt.Sprintf("exited with status %d", exitErr.ExitCode())
		return &base
	}

	base.Reason = ReasonSpawn
	base.Message = "failed to start " + s.command[0]
	return &base
}
