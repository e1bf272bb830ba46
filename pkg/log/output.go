package log

import (
	"io"
	"os"
)

// ConsoleOutput writes formatted entries to os.Stdout (or a custom writer).
type ConsoleOutput struct {
	w io.Writer
}

// NewConsoleOutput returns a ConsoleOutput writing to os.Stdout.
func NewConsoleOutput() *ConsoleOutput { return &ConsoleOutput{w: os.Stdout} }

// NewConsoleOutputTo returns a ConsoleOutput writing to an arbitrary writer, for tests.
func NewConsoleOutputTo(w io.Writer) *ConsoleOutput { return &ConsoleOutput{w: w} }

func (c *ConsoleOutput) Write(_ *Entry, formatted []byte) error {
	if c.w == nil {
		c.w = os.Stdout
	}
	_, err := c.w.Write(formatted)
	return err
}

func (c *ConsoleOutput) Close() error { return nil }

// NullOutput discards all entries. Useful in tests that only assert on state,
// not log output.
type NullOutput struct{}

func (NullOutput) Write(*Entry, []byte) error { return nil }
func (NullOutput) Close() error               { return nil }
