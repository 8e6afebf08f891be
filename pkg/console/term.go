package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// DefaultPrompt is shown before each command line
const DefaultPrompt = "vidbridge> "

type lineReader interface {
	ReadLine() (string, error)
}

type scanReader struct {
	s *bufio.Scanner
}

func (r scanReader) ReadLine() (string, error) {
	if r.s.Scan() {
		return r.s.Text(), nil
	}
	if err := r.s.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// Serve reads command lines from r and runs them until EOF, quit, or ctx
// is cancelled. No prompt is written.
func (c *Console) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	return c.serve(ctx, scanReader{bufio.NewScanner(r)}, w)
}

// ServeTerminal serves an interactive terminal with line editing and
// history. If in is not a terminal it behaves like Serve. attach, if not
// nil, receives the writer that keeps the prompt intact, so log output can be
// sent to it while the console runs.
func (c *Console) ServeTerminal(ctx context.Context, in *os.File, out io.Writer, prompt string, attach func(io.Writer)) error {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		if attach != nil {
			attach(out)
		}
		return c.Serve(ctx, in, out)
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("failed to set raw mode: %w", err)
	}
	defer func() { _ = term.Restore(fd, oldState) }()

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{in, out}, prompt)
	if w, _, err := term.GetSize(fd); err == nil {
		_ = t.SetSize(w, 0)
	}
	if attach != nil {
		attach(t)
	}
	fmt.Fprintln(t, "Type help for commands")
	return c.serve(ctx, t, t)
}

type line struct {
	text string
	err  error
}

func (c *Console) serve(ctx context.Context, r lineReader, w io.Writer) error {
	lines := make(chan line)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			s, err := r.ReadLine()
			select {
			case lines <- line{s, err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case l := <-lines:
			if l.err != nil {
				if errors.Is(l.err, io.EOF) {
					return nil
				}
				return l.err
			}
			if err := c.Dispatch(ctx, l.text, w); errors.Is(err, ErrQuit) {
				return nil
			}
		}
	}
}
