package commands

import (
	"errors"
	"strings"

	"github.com/rescale/cloudcmd/internal/constants"
)

// ErrNotInteractive is returned by Confirm when nobody can answer.
var ErrNotInteractive = errors.New("confirmation required but the client is not interactive")

// Confirmation is an answer to a destructive-operation question. All and
// None apply to every remaining item of a batch.
type Confirmation int

const (
	ConfirmNo Confirmation = iota
	ConfirmYes
	ConfirmAll
	ConfirmNone
)

func (c Confirmation) String() string {
	switch c {
	case ConfirmYes:
		return "yes"
	case ConfirmAll:
		return "all"
	case ConfirmNone:
		return "none"
	default:
		return "no"
	}
}

// Accepts reports whether the current item should proceed.
func (c Confirmation) Accepts() bool {
	return c == ConfirmYes || c == ConfirmAll
}

// ParseConfirmation reads one answer. ok is false when the answer is not
// one of y, yes, n, no, a, all or none.
func ParseConfirmation(s string) (c Confirmation, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return ConfirmYes, true
	case "n", "no":
		return ConfirmNo, true
	case "a", "all":
		return ConfirmAll, true
	case "none":
		return ConfirmNone, true
	}
	return ConfirmNo, false
}

// Asker obtains one line of input from the client that issued a petition.
type Asker interface {
	Ask(prompt string) (string, error)
}

// Confirm asks prompt until a valid answer arrives.
func Confirm(a Asker, prompt string) (Confirmation, error) {
	if a == nil {
		return ConfirmNo, ErrNotInteractive
	}
	for {
		answer, err := a.Ask(prompt)
		if err != nil {
			return ConfirmNo, err
		}
		if c, ok := ParseConfirmation(answer); ok {
			return c, nil
		}
		prompt = constants.PromptConfirmRetry
	}
}
