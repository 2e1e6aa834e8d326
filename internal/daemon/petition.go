package daemon

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rescale/cloudcmd/internal/constants"
)

// ErrTransportClosed is returned by Transport.Accept once the transport is closed.
var ErrTransportClosed = errors.New("petition transport closed")

// Conn is the client side of one petition as seen by the daemon.
type Conn interface {
	// Write sends command output to the client.
	io.Writer
	// Ask sends prompt to the client and waits for its answer.
	Ask(prompt string) (string, error)
	// Finish sends the exit code and closes the connection.
	Finish(code int) error
	// WriteState pushes one state line, terminated by the unit separator.
	WriteState(line string) error
	Close() error
}

// Transport hands over petitions one at a time.
type Transport interface {
	// Accept blocks until a petition arrives. A petition that could not be
	// read is delivered as constants.ErrorPetition.
	Accept() (line string, conn Conn, err error)
	Close() error
}

// Petition is one command line submitted by a client.
type Petition struct {
	ID       string
	Received time.Time

	// Raw is the line as received.
	Raw string
	// Line is Raw without the interactive marker and the clientID argument.
	Line string
	Args []string

	Interactive bool
	// ClientID is the state listener to route notifications to; zero when absent.
	ClientID int

	Conn Conn
}

// ParsePetition splits raw into a petition.
func ParsePetition(raw string, conn Conn) *Petition {
	p := &Petition{
		ID:       uuid.NewString(),
		Received: time.Now(),
		Raw:      raw,
		Conn:     conn,
	}

	line := strings.TrimRight(raw, "\r\n")
	if strings.HasPrefix(line, string(constants.InteractiveMarker)) {
		p.Interactive = true
		line = line[1:]
	}

	args := SplitWords(line)
	for _, prefix := range []string{constants.ClientIDParam, "--" + constants.ClientIDParam} {
		n := len(args)
		if n < 2 || !strings.HasPrefix(args[n-1], prefix) {
			continue
		}
		if id, err := strconv.Atoi(strings.TrimPrefix(args[n-1], prefix)); err == nil {
			p.ClientID = id
			args = args[:n-1]
			line = strings.TrimSpace(line[:strings.LastIndex(line, prefix)])
			break
		}
	}

	p.Line = line
	p.Args = args
	return p
}

// Command returns the command word, or "".
func (p *Petition) Command() string {
	if len(p.Args) == 0 {
		return ""
	}
	return p.Args[0]
}

// IsError reports whether the transport failed to read the petition.
func (p *Petition) IsError() bool {
	return p.Raw == constants.ErrorPetition
}

// IsStateListener reports whether the client asks to receive state pushes.
func (p *Petition) IsStateListener() bool {
	return strings.HasPrefix(p.Line, "registerstatelistener")
}

// SplitWords splits a command line on blanks. Single or double quotes group
// words and are removed; a backslash escapes the next character outside
// single quotes.
func SplitWords(line string) []string {
	var (
		words   []string
		current strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			inWord = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inWord = true
		case r == ' ' || r == '\t':
			if inWord {
				words = append(words, current.String())
				current.Reset()
				inWord = false
			}
		default:
			current.WriteRune(r)
			inWord = true
		}
	}
	if inWord {
		words = append(words, current.String())
	}
	return words
}
