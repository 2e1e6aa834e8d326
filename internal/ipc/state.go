package ipc

import (
	"strconv"
	"strings"
)

// StateKind classifies a state line pushed by the daemon.
type StateKind int

const (
	StateUnknown StateKind = iota
	StateClientID
	StatePrompt
	StateMessage
	StateProgress
	StateAck
)

// State is a decoded state line.
type State struct {
	Kind StateKind
	// Text is the prompt or message text.
	Text     string
	ClientID int

	// Progress counters. Transferred is constants.ProgressCompleted once the
	// operation is done.
	Transferred int64
	Total       int64
	Title       string
}

// ParseState decodes one state line (without its separator). Lines it does
// not understand come back as StateUnknown with Text set to the raw line.
func ParseState(line string) State {
	if line == "ack" {
		return State{Kind: StateAck}
	}
	key, value, ok := strings.Cut(line, ":")
	if !ok {
		return State{Kind: StateUnknown, Text: line}
	}

	switch key {
	case "clientID":
		id, err := strconv.Atoi(value)
		if err != nil {
			break
		}
		return State{Kind: StateClientID, ClientID: id}
	case "prompt":
		return State{Kind: StatePrompt, Text: value}
	case "message":
		return State{Kind: StateMessage, Text: value}
	case "progress":
		// transferred:total[:title]; the title may itself contain colons
		parts := strings.SplitN(value, ":", 3)
		if len(parts) < 2 {
			break
		}
		transferred, err1 := strconv.ParseInt(parts[0], 10, 64)
		total, err2 := strconv.ParseInt(parts[1], 10, 64)
		if err1 != nil || err2 != nil {
			break
		}
		s := State{Kind: StateProgress, Transferred: transferred, Total: total}
		if len(parts) == 3 {
			s.Title = parts[2]
		}
		return s
	}
	return State{Kind: StateUnknown, Text: line}
}
