package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ControlAction is a command typed during an interactive upload.
type ControlAction int

const (
	ControlUnknown ControlAction = iota
	ControlPause
	ControlResume
	ControlStatus
	ControlQuit
	ControlHelp
)

// parseControl maps a typed line to an action.
func parseControl(line string) ControlAction {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "p", "pause":
		return ControlPause
	case "r", "resume":
		return ControlResume
	case "s", "status":
		return ControlStatus
	case "q", "quit", "exit":
		return ControlQuit
	case "h", "help", "?":
		return ControlHelp
	default:
		return ControlUnknown
	}
}

const controlHelp = "Commands: p/pause, r/resume, s/status, q/quit"

// readControls streams actions typed on r until r is exhausted or ctx ends.
// Blank lines are skipped. The channel is closed when reading stops.
func readControls(ctx context.Context, r io.Reader) <-chan ControlAction {
	out := make(chan ControlAction)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}
			select {
			case out <- parseControl(line):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// prompter asks questions on an interactive terminal.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

// String asks for a value, returning def on an empty answer.
func (p *prompter) String(question, def string) string {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", question, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", question)
	}
	input, _ := p.in.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return def
	}
	return input
}

// Int asks for a positive integer, returning def on an empty or invalid answer.
func (p *prompter) Int(question string, def int) int {
	v, err := strconv.Atoi(p.String(question, strconv.Itoa(def)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// Choice asks until the answer is one of options. An empty answer picks def.
func (p *prompter) Choice(question string, options []string, def string) (string, error) {
	for {
		answer := strings.ToLower(p.String(fmt.Sprintf("%s (%s)", question, strings.Join(options, ", ")), def))
		for _, o := range options {
			if answer == o {
				return answer, nil
			}
		}
		if _, err := p.in.Peek(1); err != nil {
			return "", fmt.Errorf("no valid answer for %q: %w", question, err)
		}
		fmt.Fprintln(p.out, "Invalid choice, please try again.")
	}
}

// Confirm asks a yes/no question defaulting to no.
func (p *prompter) Confirm(question string) bool {
	answer := strings.ToLower(p.String(question+" [y/N]", ""))
	return answer == "y" || answer == "yes"
}
