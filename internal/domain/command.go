package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// CommandKind enumerates the five wire prefixes.
type CommandKind int

const (
	KindShell CommandKind = iota + 1
	KindCode
	KindInfo
	KindFile
	KindReplay
)

// Wire prefixes, in the order they are matched.
const (
	PrefixShell  = "CMD:"
	PrefixCode   = "CODE:"
	PrefixInfo   = "INFO:"
	PrefixFile   = "FILE:"
	PrefixReplay = "REPLAY:"
)

var kindPrefixes = []struct {
	kind   CommandKind
	prefix string
}{
	{KindShell, PrefixShell},
	{KindCode, PrefixCode},
	{KindInfo, PrefixInfo},
	{KindFile, PrefixFile},
	{KindReplay, PrefixReplay},
}

// Prefix returns the wire prefix of the kind.
func (k CommandKind) Prefix() string {
	for _, kp := range kindPrefixes {
		if kp.kind == k {
			return kp.prefix
		}
	}
	return ""
}

func (k CommandKind) String() string {
	switch k {
	case KindShell:
		return "shell"
	case KindCode:
		return "code"
	case KindInfo:
		return "info"
	case KindFile:
		return "file"
	case KindReplay:
		return "replay"
	default:
		return "unknown"
	}
}

// FileOpKind enumerates FILE: sub-operations.
type FileOpKind string

const (
	FileRead  FileOpKind = "read"
	FileWrite FileOpKind = "write"
	FileList  FileOpKind = "list"
)

// FileOp is a decoded FILE: payload.
type FileOp struct {
	Op      FileOpKind
	Path    string
	Content string
}

// Command is a message decoded once at the protocol boundary.
type Command struct {
	Kind CommandKind
	// Raw is the message exactly as received; it is the ledger key.
	Raw     string
	Payload string
	File    FileOp
	// ReplayIndex is 1-based and only set for KindReplay.
	ReplayIndex int
}

// FormatError reports a message that cannot be decoded into a Command.
type FormatError struct {
	Input  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unsupported command format: %s", e.Reason)
}

// HasValidPrefix reports whether raw starts with one of the five prefixes.
func HasValidPrefix(raw string) bool {
	_, ok := matchPrefix(raw)
	return ok
}

func matchPrefix(raw string) (CommandKind, bool) {
	for _, kp := range kindPrefixes {
		if strings.HasPrefix(raw, kp.prefix) {
			return kp.kind, true
		}
	}
	return 0, false
}

// ParseCommand decodes a raw wire message.
func ParseCommand(raw string) (Command, error) {
	kind, ok := matchPrefix(raw)
	if !ok {
		return Command{}, &FormatError{Input: raw, Reason: "expected one of CMD:, CODE:, INFO:, FILE:, REPLAY:"}
	}

	cmd := Command{
		Kind:    kind,
		Raw:     raw,
		Payload: strings.TrimSpace(raw[len(kind.Prefix()):]),
	}

	switch kind {
	case KindShell, KindCode:
		if cmd.Payload == "" {
			return Command{}, &FormatError{Input: raw, Reason: fmt.Sprintf("empty %s payload", kind)}
		}
	case KindFile:
		op, err := ParseFileOp(cmd.Payload)
		if err != nil {
			return Command{}, err
		}
		cmd.File = op
	case KindReplay:
		index, err := ParseReplayIndex(cmd.Payload)
		if err != nil {
			return Command{}, err
		}
		cmd.ReplayIndex = index
	}
	return cmd, nil
}

// ParseReplayIndex parses a REPLAY: payload into a positive index.
func ParseReplayIndex(payload string) (int, error) {
	payload = strings.TrimSpace(payload)
	index, err := strconv.Atoi(payload)
	if err != nil {
		return 0, &FormatError{Input: payload, Reason: fmt.Sprintf("invalid REPLAY index %q, expected a number", payload)}
	}
	if index < 1 {
		return 0, &FormatError{Input: payload, Reason: fmt.Sprintf("invalid REPLAY index %d, indices start at 1", index)}
	}
	return index, nil
}

// ParseFileOp decodes "read <path>", "write <path> || <content>" and "list <path>".
func ParseFileOp(payload string) (FileOp, error) {
	verb, rest, _ := strings.Cut(payload, " ")
	switch FileOpKind(verb) {
	case FileRead, FileList:
		path := strings.TrimSpace(rest)
		if path == "" {
			return FileOp{}, &FormatError{Input: payload, Reason: fmt.Sprintf("FILE:%s requires a path", verb)}
		}
		return FileOp{Op: FileOpKind(verb), Path: path}, nil
	case FileWrite:
		path, content, found := strings.Cut(rest, "||")
		if !found {
			return FileOp{}, &FormatError{Input: payload, Reason: "use 'FILE:write path/to/file || content'"}
		}
		path = strings.TrimSpace(path)
		if path == "" {
			return FileOp{}, &FormatError{Input: payload, Reason: "FILE:write requires a path"}
		}
		return FileOp{Op: FileWrite, Path: path, Content: strings.TrimSpace(content)}, nil
	default:
		return FileOp{}, &FormatError{Input: payload, Reason: fmt.Sprintf("unsupported FILE operation %q", verb)}
	}
}
