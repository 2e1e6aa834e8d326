package ipc

import (
	"testing"

	"github.com/rescale/cloudcmd/internal/constants"
)

func TestParseState(t *testing.T) {
	tests := []struct {
		line string
		want State
	}{
		{"ack", State{Kind: StateAck}},
		{"clientID:7", State{Kind: StateClientID, ClientID: 7}},
		{"clientID:x", State{Kind: StateUnknown, Text: "clientID:x"}},
		{"prompt:cloudcmd> ", State{Kind: StatePrompt, Text: "cloudcmd> "}},
		{"message:New version: v2", State{Kind: StateMessage, Text: "New version: v2"}},
		{"progress:10:100", State{Kind: StateProgress, Transferred: 10, Total: 100}},
		{"progress:10:100:a:b", State{Kind: StateProgress, Transferred: 10, Total: 100, Title: "a:b"}},
		{"progress:-2:100:UPLOAD", State{Kind: StateProgress, Transferred: constants.ProgressCompleted, Total: 100, Title: "UPLOAD"}},
		{"progress:10", State{Kind: StateUnknown, Text: "progress:10"}},
		{"whatever", State{Kind: StateUnknown, Text: "whatever"}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if got := ParseState(tt.line); got != tt.want {
				t.Errorf("ParseState(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}
