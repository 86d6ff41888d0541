// Package progress provides a single-line progress printer whose updates
// overwrite each other in the terminal.
package progress

import (
	"fmt"
	"io"
	"strings"
)

// Printer prints progress messages that overwrite the previous message.
// It tracks the longest line printed so shorter updates fully clear it.
type Printer struct {
	w   io.Writer
	max int
}

// New creates a printer writing to w.
func New(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Update prints a progress message over the previous one.
func (p *Printer) Update(message string) {
	pad := strings.Repeat(" ", max(0, p.max-len(message)))
	_, _ = fmt.Fprint(p.w, message+pad+"\r")
	if len(message) > p.max {
		p.max = len(message)
	}
}

// Complete prints a final message and moves to the next line.
func (p *Printer) Complete(message string) {
	p.Update(message)
	_, _ = fmt.Fprintln(p.w)
}
