// Package console is a terminal-backed Prompter for the agentctl host.
// Questions go to stderr so piped stdout stays machine-readable; answers
// come from stdin. Secret values are read with echo disabled when stdin is
// a real terminal.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/formvault/formvault/internal/domain/model"
	"github.com/formvault/formvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Prompter = (*Prompter)(nil)

// Prompter asks the user on the terminal. Reads block until the user
// answers; a cancelled context takes effect at the next prompt, since a
// terminal read in flight cannot be interrupted.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
	// stdinFd enables no-echo secret reads; negative means plain reads only.
	stdinFd int
}

// New creates a Prompter over os.Stdin and os.Stderr.
func New() *Prompter {
	return &Prompter{
		in:      bufio.NewReader(os.Stdin),
		out:     os.Stderr,
		stdinFd: int(os.Stdin.Fd()),
	}
}

// NewWithStreams creates a Prompter over explicit streams. Secret reads
// echo like any other line; meant for tests and piped input.
func NewWithStreams(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{
		in:      bufio.NewReader(in),
		out:     out,
		stdinFd: -1,
	}
}

// ConfirmPresence asks whether the user holds an account for the
// application. Default answer is no, so a stray enter never opts in.
func (p *Prompter) ConfirmPresence(ctx context.Context, app *model.AppDescriptor) (bool, error) {
	fmt.Fprintf(p.out, "\n%s (%s) is showing a login form.\n", app.AppID, app.Origin)
	return p.confirm(ctx, "Do you have an account here worth storing? [y/N] ")
}

// ConfirmSave shows the captured values, secrets masked, and asks whether
// to store them.
func (p *Prompter) ConfirmSave(ctx context.Context, app *model.AppDescriptor, fields model.Fields) (bool, error) {
	fmt.Fprintf(p.out, "\nCaptured credentials for %s:\n", app.AppID)
	for _, sf := range app.LoginSchema {
		value, ok := fields[sf.Name]
		if !ok {
			continue
		}
		if sf.Kind == model.FieldKindPassword {
			value = strings.Repeat("*", len(value))
		}
		fmt.Fprintf(p.out, "  %-12s %s\n", sf.Name+":", value)
	}
	return p.confirm(ctx, "Store these in the vault? [y/N] ")
}

// ChooseRecovery asks what to do after stored credentials bounced off the
// login form. Unrecognized input re-asks rather than guessing.
func (p *Prompter) ChooseRecovery(ctx context.Context, app *model.AppDescriptor) (model.RecoveryChoice, error) {
	fmt.Fprintf(p.out, "\nStored credentials for %s did not work; the login form came back.\n", app.AppID)
	fmt.Fprintln(p.out, "  r) retry the stored credentials once")
	fmt.Fprintln(p.out, "  m) log in by hand, leave the vault alone")
	fmt.Fprintln(p.out, "  l) relearn: type the credentials again and replace the stored record")

	for {
		line, err := p.readLine(ctx, "Choice [r/m/l]: ")
		if err != nil {
			return "", err
		}
		switch strings.ToLower(line) {
		case "r":
			return model.RecoveryRetry, nil
		case "m":
			return model.RecoveryManual, nil
		case "l":
			return model.RecoveryRelearn, nil
		}
	}
}

// CollectFields asks for each named value in order. Names the login schema
// marks as password kind, and names the schema does not know at all, are
// read without echo: unknown names come from password-change forms.
func (p *Prompter) CollectFields(ctx context.Context, app *model.AppDescriptor, names []string) (model.Fields, error) {
	visible := make(map[string]bool, len(app.LoginSchema))
	for _, sf := range app.LoginSchema {
		visible[sf.Name] = sf.Kind != model.FieldKindPassword
	}

	fmt.Fprintf(p.out, "\nEnter values for %s:\n", app.AppID)
	fields := make(model.Fields, len(names))
	for _, name := range names {
		prompt := fmt.Sprintf("  %s: ", name)
		var (
			value string
			err   error
		)
		if visible[name] {
			value, err = p.readLine(ctx, prompt)
		} else {
			value, err = p.readSecret(ctx, prompt)
		}
		if err != nil {
			return nil, err
		}
		fields[name] = value
	}
	return fields, nil
}

func (p *Prompter) confirm(ctx context.Context, prompt string) (bool, error) {
	line, err := p.readLine(ctx, prompt)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(line) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (p *Prompter) readLine(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fmt.Fprint(p.out, prompt)
	line, err := p.in.ReadString('\n')
	if err != nil {
		// A final unterminated line still counts as an answer.
		if errors.Is(err, io.EOF) && strings.TrimSpace(line) != "" {
			return strings.TrimSpace(line), nil
		}
		return "", fmt.Errorf("read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (p *Prompter) readSecret(ctx context.Context, prompt string) (string, error) {
	if p.stdinFd < 0 || !term.IsTerminal(p.stdinFd) {
		return p.readLine(ctx, prompt)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fmt.Fprint(p.out, prompt)
	raw, err := term.ReadPassword(p.stdinFd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("read secret answer: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
