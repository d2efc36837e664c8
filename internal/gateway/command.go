package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/YujiSuzuki/hostgate/internal/config"
	"github.com/YujiSuzuki/hostgate/internal/executor"
	"github.com/YujiSuzuki/hostgate/internal/security"
)

// maxTimeoutMs bounds the caller's timeout so the millisecond conversion
// cannot overflow time.Duration.
const maxTimeoutMs = int64(config.MaxCommandTimeout / time.Millisecond)

// executeCommand authorizes, sanitizes and runs one allow-listed program.
// Authorization happens before anything else; a rejected command never
// reaches the runner.
func (g *Gateway) executeCommand(ctx context.Context, args Args) Outcome {
	command, aerr := args.RequiredString("command")
	if aerr != nil {
		return failed(aerr)
	}
	argv, aerr := args.StringSlice("args")
	if aerr != nil {
		return failed(aerr)
	}
	timeoutMs, aerr := args.Int("timeout", g.commandTimeout.Milliseconds())
	if aerr != nil {
		return failed(aerr)
	}
	if timeoutMs <= 0 || timeoutMs > maxTimeoutMs {
		return failed(invalidArg("timeout"))
	}

	if err := g.policy.Authorize(command); err != nil {
		return failed(newError(KindCommandNotAllowed, "Command '%s' is not allowed", command))
	}

	return g.run(ctx, command, security.SanitizeArgs(argv), time.Duration(timeoutMs)*time.Millisecond)
}

// run spawns an authorized command and maps the result to an outcome.
func (g *Gateway) run(ctx context.Context, command string, argv []string, timeout time.Duration) Outcome {
	result, err := g.runner.Run(ctx, command, argv, executor.Options{
		Dir:       g.Root(),
		Timeout:   timeout,
		MaxOutput: g.maxOutput,
	})
	if err != nil {
		return failed(g.commandError(err, timeout))
	}

	stdout := g.masker.MaskOutput(result.Stdout)
	if result.Truncated {
		stdout += fmt.Sprintf("\n[output truncated at %d bytes]", g.maxOutput)
	}
	texts := []string{"Command executed successfully:\n" + stdout}
	if result.Stderr != "" {
		texts = append(texts, "Stderr:\n"+g.masker.MaskOutput(result.Stderr))
	}
	return textOutcome(texts...)
}

func (g *Gateway) commandError(err error, timeout time.Duration) *Error {
	if errors.Is(err, executor.ErrTimeout) {
		return newError(KindCommandTimedOut, "Command timed out after %dms", timeout.Milliseconds())
	}
	return newError(KindCommandExecutionFailed, "Command failed: %s", g.masker.MaskOutput(err.Error()))
}
