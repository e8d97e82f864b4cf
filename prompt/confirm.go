// Package prompt asks the operator to confirm a destructive run.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Expected answers. Comparison is exact after trimming surrounding whitespace.
const (
	IntentAnswer = "yes"
	BackupAnswer = "I have a backup"
)

// Confirmer reads answers line by line from in and writes questions to out
type Confirmer struct {
	in  *bufio.Reader
	out io.Writer
}

// NewConfirmer creates a confirmer, typically over os.Stdin and os.Stdout
func NewConfirmer(in io.Reader, out io.Writer) *Confirmer {
	return &Confirmer{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// ConfirmIntent asks whether count rows should be updated
func (c *Confirmer) ConfirmIntent(count int) (bool, error) {
	question := fmt.Sprintf("About to set the auth service for %d users in the database.\nType %q to continue: ", count, IntentAnswer)
	return c.ask(question, IntentAnswer)
}

// ConfirmBackup asks the operator to acknowledge a tested backup exists
func (c *Confirmer) ConfirmBackup() (bool, error) {
	question := fmt.Sprintf("Have you made and tested a backup of the database?\nType %q to continue: ", BackupAnswer)
	return c.ask(question, BackupAnswer)
}

func (c *Confirmer) ask(question, want string) (bool, error) {
	if _, err := fmt.Fprint(c.out, question); err != nil {
		return false, errors.Wrap(err, "failed to write prompt")
	}

	line, err := c.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, errors.Wrap(err, "failed to read answer")
	}
	// a closed stdin is a "no"
	if err == io.EOF && line == "" {
		fmt.Fprintln(c.out)
		return false, nil
	}

	return strings.TrimSpace(line) == want, nil
}
