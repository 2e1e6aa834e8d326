package cli

import "fmt"

// exitError carries a petition's exit code out of a cobra RunE so Execute
// can hand it to os.Exit.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.code)
}

// exitCode turns a petition exit code into a RunE result.
func exitCode(code int) error {
	if code == 0 {
		return nil
	}
	return &exitError{code: code}
}
