// Package convert invokes the vendor's format conversion executable on
// anonymised recordings. The conversion itself is a black box: this
// package only launches it, bounds its runtime, and reports how it
// ended. Nothing here inspects the converted output.
package convert

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DefaultTimeout is a reasonable per file limit for callers with no
// better idea. Long recordings convert in well under this.
const DefaultTimeout = 10 * time.Minute

// An Error is one failed conversion. Err holds the launch failure, exit
// status, or timeout; Stderr keeps whatever the executable printed so
// the operator sees the vendor's own diagnostic.
type Error struct {
	Input  string
	Output string
	Stderr []byte
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("convert %s: %s", e.Input, e.Err)
	if s := strings.TrimSpace(string(e.Stderr)); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// A Converter runs the external executable. The zero Timeout means no
// limit; batch callers should set one so a hung conversion cannot stall
// a worker forever.
type Converter struct {
	Exe     string
	Timeout time.Duration
}

// Convert runs the executable synchronously as
//
//	exe input output
//
// and returns nil exactly when it exits zero. A missing executable, a
// launch failure, a non zero exit, and an expired timeout all come back
// as *Error.
func (c Converter) Convert(input, output string) error {
	fi, err := os.Stat(c.Exe)
	if err != nil {
		return &Error{Input: input, Output: output, Err: err}
	}
	if fi.IsDir() {
		return &Error{Input: input, Output: output,
			Err: fmt.Errorf("converter %s is a directory", c.Exe)}
	}

	ctx := context.Background()
	cancel := func() {}
	if c.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Exe, input, output)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err = cmd.Run()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = ctx.Err()
		}
		return &Error{Input: input, Output: output, Stderr: stderr.Bytes(), Err: err}
	}
	return nil
}

// DefaultOutput returns where the conversion of input lands when the
// caller does not choose: next to the input, extension swapped for
// ".EDF". The upper case extension matches what the vendor tool names
// its own outputs.
func DefaultOutput(input string) string {
	ext := filepath.Ext(input)
	return input[:len(input)-len(ext)] + ".EDF"
}
