// Package human is the line-based channel to the operator used by ask_user
// and request_confirmation.
package human

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ErrClosed is returned once the input stream has ended.
var ErrClosed = errors.New("operator input closed")

// Channel asks the operator questions, one at a time.
type Channel interface {
	Ask(ctx context.Context, question string) (string, error)
	Confirm(ctx context.Context, action, reason, impact string) (bool, error)
}

// Prompter reads answers line by line. A single reader goroutine feeds lines
// so a blocked read never outlives a cancelled question.
type Prompter struct {
	out   io.Writer
	lines chan string
	errc  chan error
	once  sync.Once
	in    *bufio.Scanner
	mu    sync.Mutex
}

func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{
		out:   out,
		in:    bufio.NewScanner(in),
		lines: make(chan string),
		errc:  make(chan error, 1),
	}
}

func (p *Prompter) start() {
	p.once.Do(func() {
		go func() {
			for p.in.Scan() {
				p.lines <- p.in.Text()
			}
			err := p.in.Err()
			if err == nil {
				err = ErrClosed
			}
			p.errc <- err
			close(p.lines)
		}()
	})
}

func (p *Prompter) readLine(ctx context.Context) (string, error) {
	p.start()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-p.lines:
		if !ok {
			select {
			case err := <-p.errc:
				p.errc <- err
				return "", err
			default:
				return "", ErrClosed
			}
		}
		return strings.TrimSpace(line), nil
	}
}

// Ask prints the question and waits for one line. There is no timeout.
func (p *Prompter) Ask(ctx context.Context, question string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "\n? %s\n> ", question)
	return p.readLine(ctx)
}

// Confirm describes the pending action and waits for an explicit yes or no.
// Anything other than y/yes is a rejection.
func (p *Prompter) Confirm(ctx context.Context, action, reason, impact string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "\n! Confirmation required\n  action: %s\n", action)
	if reason != "" {
		fmt.Fprintf(p.out, "  reason: %s\n", reason)
	}
	if impact != "" {
		fmt.Fprintf(p.out, "  impact: %s\n", impact)
	}
	fmt.Fprint(p.out, "Proceed? [y/N] ")

	line, err := p.readLine(ctx)
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
