// Package ipc carries petitions between cloudcmd clients and the daemon over
// a Unix domain socket, or a named pipe on Windows.
//
// A client connection starts with one petition frame. For a command the
// daemon answers with output and ask frames and ends with a result frame
// holding the exit code; the client answers each ask frame with an answer
// frame. For "registerstatelistener" the connection instead turns into a
// stream of state lines, each terminated by constants.StateSeparator.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FrameType identifies the type of frame.
type FrameType string

const (
	// Client -> server
	FramePetition FrameType = "petition"
	FrameAnswer   FrameType = "answer"

	// Server -> client
	FrameOutput FrameType = "output"
	FrameAsk    FrameType = "ask"
	FrameResult FrameType = "result"
)

// Frame is one newline-delimited JSON message.
type Frame struct {
	Type FrameType `json:"type"`
	// Line is the petition, the question asked or the answer given.
	Line string `json:"line,omitempty"`
	// Data is command output.
	Data string `json:"data,omitempty"`
	// Code is the exit code of a result frame.
	Code int `json:"code"`
}

// Sentinel errors
var (
	// ErrServerNotRunning is returned when nothing listens on the address.
	ErrServerNotRunning = errors.New("cloudcmd server is not running")
	// ErrClosed is returned once the connection is closed.
	ErrClosed = errors.New("connection closed")
)

// NewPetition returns the frame opening a connection.
func NewPetition(line string) *Frame {
	return &Frame{Type: FramePetition, Line: line}
}

// NewAnswer returns the reply to an ask frame.
func NewAnswer(answer string) *Frame {
	return &Frame{Type: FrameAnswer, Line: answer}
}

// Encode serializes a frame, newline included.
func (f *Frame) Encode() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// DecodeFrame deserializes a frame and checks its type.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	switch f.Type {
	case FramePetition, FrameAnswer, FrameOutput, FrameAsk, FrameResult:
		return &f, nil
	}
	return nil, fmt.Errorf("unknown frame type %q", f.Type)
}
