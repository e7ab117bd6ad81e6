package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
)

// ErrPromptAborted is returned when the user interrupts a prompt.
var ErrPromptAborted = errors.New("prompt aborted")

// Prompter asks the user for input.
type Prompter interface {
	// Confirm asks a yes/no question. Anything but yes counts as no.
	Confirm(question string) (bool, error)
	// ReadLine asks for one line of input.
	ReadLine(prompt string) (string, error)
}

// TerminalPrompter reads from a terminal through readline.
type TerminalPrompter struct {
	In  io.ReadCloser
	Out io.Writer
}

func (p *TerminalPrompter) newInstance(prompt string) (*readline.Instance, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		Stdin:           p.In,
		Stdout:          p.Out,
		InterruptPrompt: "^C",
		DisableAutoSaveHistory: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialise prompt: %w", err)
	}
	return rl, nil
}

func (p *TerminalPrompter) ReadLine(prompt string) (string, error) {
	rl, err := p.newInstance(prompt)
	if err != nil {
		return "", err
	}
	defer rl.Close()

	line, err := rl.Readline()
	switch {
	case errors.Is(err, readline.ErrInterrupt), errors.Is(err, io.EOF):
		return "", ErrPromptAborted
	case err != nil:
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (p *TerminalPrompter) Confirm(question string) (bool, error) {
	answer, err := p.ReadLine(question + " [y/N]: ")
	if err != nil {
		if errors.Is(err, ErrPromptAborted) {
			return false, nil
		}
		return false, err
	}
	return IsYes(answer), nil
}

// IsYes reports whether answer is an affirmative reply.
func IsYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
