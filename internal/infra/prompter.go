package infra

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/eliteGoblin/focusd/svcgate/internal/domain"
)

// InteractivePrompter asks yes/no questions on a terminal.
type InteractivePrompter struct {
	reader *bufio.Reader
	writer io.Writer
}

// NewInteractivePrompterWithIO creates a prompter over arbitrary streams (for testing).
func NewInteractivePrompterWithIO(r io.Reader, w io.Writer) *InteractivePrompter {
	return &InteractivePrompter{reader: bufio.NewReader(r), writer: w}
}

// Confirm prints "prompt [y/N]: " and accepts y or yes. EOF counts as no.
func (p *InteractivePrompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fmt.Fprintf(p.writer, "%s [y/N]: ", prompt)

	line, err := p.reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// NonInteractivePrompter answers every question the same way (--yes / --no, or no terminal).
type NonInteractivePrompter struct {
	answer bool
}

// NewNonInteractivePrompter creates a prompter with a fixed answer.
func NewNonInteractivePrompter(answer bool) *NonInteractivePrompter {
	return &NonInteractivePrompter{answer: answer}
}

// Confirm returns the fixed answer.
func (p *NonInteractivePrompter) Confirm(ctx context.Context, _ string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return p.answer, nil
}

// NewPrompter picks a prompter: forced answers win, a terminal on stdin gets an
// interactive prompter, anything else declines.
func NewPrompter(yes, no bool) domain.Prompter {
	switch {
	case yes:
		return NewNonInteractivePrompter(true)
	case no:
		return NewNonInteractivePrompter(false)
	case isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()):
		return NewInteractivePrompterWithIO(os.Stdin, os.Stderr)
	default:
		return NewNonInteractivePrompter(false)
	}
}

// Ensure prompters implement domain.Prompter.
var (
	_ domain.Prompter = (*InteractivePrompter)(nil)
	_ domain.Prompter = (*NonInteractivePrompter)(nil)
)
