package ipc

import (
	"bytes"
	"testing"
)

func TestFrameEncode(t *testing.T) {
	data, err := NewPetition("ls -l /docs").Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !bytes.HasSuffix(data, []byte("\n")) {
		t.Errorf("encoded frame %q is not newline terminated", data)
	}
	if bytes.Count(data, []byte("\n")) != 1 {
		t.Errorf("encoded frame %q spans several lines", data)
	}

	f, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if f.Type != FramePetition || f.Line != "ls -l /docs" {
		t.Errorf("decoded %+v", f)
	}
}

func TestFrameEncodeKeepsNewlinesInData(t *testing.T) {
	f := &Frame{Type: FrameOutput, Data: "a\nb\n"}
	data, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if bytes.Count(data, []byte("\n")) != 1 {
		t.Fatalf("output frame %q not escaped", data)
	}
	got, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if got.Data != f.Data {
		t.Errorf("Data = %q, want %q", got.Data, f.Data)
	}
}

func TestDecodeFrameErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "ls\n"},
		{"unknown type", `{"type":"shutdown"}`},
		{"missing type", `{"line":"ls"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeFrame([]byte(tt.data)); err == nil {
				t.Error("DecodeFrame() succeeded")
			}
		})
	}
}
