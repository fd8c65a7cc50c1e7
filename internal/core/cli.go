package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type ValidationError struct {
	Arg   string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

type Mode int

const (
	ModeSnap Mode = iota
	ModeAsk
)

// Command is a parsed CLI invocation.
type Command struct {
	Mode      Mode
	ImagePath string // snap: explicit photo file
	ImageDir  string // snap --dir: use the newest image in a directory
	Question  string // ask: free-form question, may be empty
	Server    string
	Token     string
}

const defaultServer = "http://localhost:9999"

// ParseArgs parses "snap <image>", "snap --dir <dir>" or "ask [question]".
// Server and token fall back to TINGJIAN_SERVER / TINGJIAN_TOKEN; getenv is
// injected so tests don't depend on the process environment.
func ParseArgs(args []string, getenv func(string) string) (*Command, error) {
	if len(args) == 0 {
		return nil, &ValidationError{Arg: "<command>", Cause: "expected 'snap' or 'ask'"}
	}

	cmd := &Command{
		Server: getenv("TINGJIAN_SERVER"),
		Token:  getenv("TINGJIAN_TOKEN"),
	}
	if cmd.Server == "" {
		cmd.Server = defaultServer
	}

	switch args[0] {
	case "snap":
		cmd.Mode = ModeSnap
	case "ask":
		cmd.Mode = ModeAsk
	default:
		return nil, &ValidationError{Arg: args[0], Cause: "unknown command, expected 'snap' or 'ask'"}
	}

	var positional []string
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--server":
			if i+1 >= len(rest) {
				return nil, &ValidationError{Arg: "--server", Cause: "missing value"}
			}
			i++
			cmd.Server = rest[i]
		case "--token":
			if i+1 >= len(rest) {
				return nil, &ValidationError{Arg: "--token", Cause: "missing value"}
			}
			i++
			cmd.Token = rest[i]
		case "--dir":
			if cmd.Mode != ModeSnap {
				return nil, &ValidationError{Arg: "--dir", Cause: "only valid with 'snap'"}
			}
			if i+1 >= len(rest) {
				return nil, &ValidationError{Arg: "--dir", Cause: "missing value"}
			}
			i++
			cmd.ImageDir = rest[i]
		default:
			if strings.HasPrefix(rest[i], "-") {
				return nil, &ValidationError{Arg: rest[i], Cause: "unknown flag"}
			}
			positional = append(positional, rest[i])
		}
	}

	if cmd.Token == "" {
		return nil, &ValidationError{Arg: "--token", Cause: "no access token provided (set TINGJIAN_TOKEN or pass --token)"}
	}

	switch cmd.Mode {
	case ModeSnap:
		if cmd.ImageDir != "" {
			if len(positional) > 0 {
				return nil, &ValidationError{Arg: positional[0], Cause: "cannot combine an image path with --dir"}
			}
			info, err := os.Stat(cmd.ImageDir)
			if err != nil || !info.IsDir() {
				return nil, &ValidationError{Arg: cmd.ImageDir, Cause: "not a directory"}
			}
			return cmd, nil
		}
		if len(positional) != 1 {
			return nil, &ValidationError{Arg: "<image>", Cause: "expected exactly one image path"}
		}
		p := filepath.Clean(positional[0])
		info, err := os.Stat(p)
		if err != nil {
			return nil, &ValidationError{Arg: positional[0], Cause: "not found or not accessible"}
		}
		if info.IsDir() {
			return nil, &ValidationError{Arg: positional[0], Cause: "is a directory, pass --dir to use the newest image in it"}
		}
		cmd.ImagePath = p
	case ModeAsk:
		cmd.Question = strings.Join(positional, " ")
	}

	return cmd, nil
}
