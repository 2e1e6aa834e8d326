package commands

import (
	"strconv"

	"github.com/rescale/cloudcmd/internal/engine"
)

// ExitCode is the numeric outcome of a petition, handed back to the process
// that issued it.
type ExitCode int

const (
	OK           ExitCode = 0
	EArgs        ExitCode = -51
	InvalidEmail ExitCode = -52
	NotFound     ExitCode = -53
	InvalidState ExitCode = -54
	InvalidType  ExitCode = -55
	NotPermitted ExitCode = -56
	NotLoggedIn  ExitCode = -57
	NoFetch      ExitCode = -58
	EUnexpected  ExitCode = -59
	ReqConfirm   ExitCode = -60
)

var exitCodeNames = map[ExitCode]string{
	OK:           "OK",
	EArgs:        "EARGS",
	InvalidEmail: "INVALIDEMAIL",
	NotFound:     "NOTFOUND",
	InvalidState: "INVALIDSTATE",
	InvalidType:  "INVALIDTYPE",
	NotPermitted: "NOTPERMITTED",
	NotLoggedIn:  "NOTLOGGEDIN",
	NoFetch:      "NOFETCH",
	EUnexpected:  "EUNEXPECTED",
	ReqConfirm:   "REQCONFIRM",
}

func (c ExitCode) String() string {
	if s, ok := exitCodeNames[c]; ok {
		return s
	}
	return strconv.Itoa(int(c))
}

// ExitCodeFor maps an engine outcome onto an exit code.
func ExitCodeFor(err error) ExitCode {
	switch engine.CodeOf(err) {
	case engine.OK:
		return OK
	case engine.ENoent:
		return NotFound
	case engine.EArgs:
		return EArgs
	case engine.EAccess:
		return NotPermitted
	case engine.ESid:
		return NotLoggedIn
	default:
		return EUnexpected
	}
}
