package domain_test

import (
	"errors"
	"testing"

	"github.com/doeshing/cmdrelay/internal/domain"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantKind    domain.CommandKind
		wantPayload string
		wantFile    domain.FileOp
		wantIndex   int
		wantError   bool
	}{
		{name: "shell", raw: "CMD: echo hi", wantKind: domain.KindShell, wantPayload: "echo hi"},
		{name: "code", raw: "CODE:print(1)", wantKind: domain.KindCode, wantPayload: "print(1)"},
		{name: "info ignores payload", raw: "INFO: whatever", wantKind: domain.KindInfo, wantPayload: "whatever"},
		{name: "bare info", raw: "INFO:", wantKind: domain.KindInfo},
		{
			name:        "file read",
			raw:         "FILE:read notes.txt",
			wantKind:    domain.KindFile,
			wantPayload: "read notes.txt",
			wantFile:    domain.FileOp{Op: domain.FileRead, Path: "notes.txt"},
		},
		{
			name:        "file write splits on first delimiter",
			raw:         "FILE:write out/a.txt || hello || world",
			wantKind:    domain.KindFile,
			wantPayload: "write out/a.txt || hello || world",
			wantFile:    domain.FileOp{Op: domain.FileWrite, Path: "out/a.txt", Content: "hello || world"},
		},
		{
			name:        "file list",
			raw:         "FILE:list .",
			wantKind:    domain.KindFile,
			wantPayload: "list .",
			wantFile:    domain.FileOp{Op: domain.FileList, Path: "."},
		},
		{name: "replay", raw: "REPLAY:2", wantKind: domain.KindReplay, wantPayload: "2", wantIndex: 2},
		{name: "replay with spaces", raw: "REPLAY: 3 ", wantKind: domain.KindReplay, wantPayload: "3", wantIndex: 3},
		{name: "no prefix", raw: "echo hi", wantError: true},
		{name: "lowercase prefix", raw: "cmd: echo hi", wantError: true},
		{name: "empty", raw: "", wantError: true},
		{name: "empty shell payload", raw: "CMD:   ", wantError: true},
		{name: "replay not a number", raw: "REPLAY:invalid", wantError: true},
		{name: "replay zero", raw: "REPLAY:0", wantError: true},
		{name: "file write without delimiter", raw: "FILE:write a.txt hello", wantError: true},
		{name: "file unknown op", raw: "FILE:delete a.txt", wantError: true},
		{name: "file read without path", raw: "FILE:read", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := domain.ParseCommand(tt.raw)
			if tt.wantError {
				var fe *domain.FormatError
				if !errors.As(err, &fe) {
					t.Fatalf("expected FormatError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cmd.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", cmd.Kind, tt.wantKind)
			}
			if cmd.Raw != tt.raw {
				t.Errorf("raw = %q, want %q", cmd.Raw, tt.raw)
			}
			if cmd.Payload != tt.wantPayload {
				t.Errorf("payload = %q, want %q", cmd.Payload, tt.wantPayload)
			}
			if cmd.File != tt.wantFile {
				t.Errorf("file = %+v, want %+v", cmd.File, tt.wantFile)
			}
			if cmd.ReplayIndex != tt.wantIndex {
				t.Errorf("index = %d, want %d", cmd.ReplayIndex, tt.wantIndex)
			}
		})
	}
}

func TestHasValidPrefix(t *testing.T) {
	for _, raw := range []string{"CMD:x", "CODE:x", "INFO:", "FILE:x", "REPLAY:1"} {
		if !domain.HasValidPrefix(raw) {
			t.Errorf("expected %q to have a valid prefix", raw)
		}
	}
	for _, raw := range []string{"", "ECHO:x", " CMD:x", "OUTPUT:"} {
		if domain.HasValidPrefix(raw) {
			t.Errorf("expected %q to be rejected", raw)
		}
	}
}
