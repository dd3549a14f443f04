package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/chzyer/readline"
	"github.com/sushant-115/gojostore/pkg/logger"
)

// ShellCmd runs commands read interactively. Stores stay open between
// commands, so changes accumulate until commit, rollback or exit. The
// configured commit and backup schedules run while the shell is open.
type ShellCmd struct{}

// shellLine is the grammar of one shell line.
type shellLine struct {
	Commands `embed:""`

	LogLevel LogLevelCmd `cmd:"" name:"log-level" help:"Change the log level of this session"`
}

// LogLevelCmd changes the level of the running logger.
type LogLevelCmd struct {
	Level string `arg:"" help:"debug, info, warn or error"`
}

func (c *LogLevelCmd) Run(a *app) error {
	l, err := logger.ParseLevel(c.Level)
	if err != nil {
		return err
	}
	a.level.SetLevel(l)
	fmt.Fprintf(a.out, "log level %s\n", l)
	return nil
}

func (c *ShellCmd) Run(a *app) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gojostore> ",
		HistoryFile:     filepath.Join(a.cfg.Store.DataDir, ".gojostore_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          a.out,
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	if err := a.manager.StartScheduler(); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "gojostore shell. Type 'help' for commands, 'exit' or 'quit' to leave.")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if done := a.execLine(line); done {
			return nil
		}
	}
}

// execLine runs one shell line and reports whether the shell should exit.
func (a *app) execLine(line string) bool {
	args, err := splitArgs(line)
	if err != nil {
		fmt.Fprintln(a.out, "error:", err)
		return false
	}
	if len(args) == 0 {
		return false
	}
	switch args[0] {
	case "exit", "quit":
		return true
	case "help":
		args = []string{"--help"}
	}

	var cmd shellLine
	exited := false
	parser, err := kong.New(&cmd,
		kong.Name("gojostore"),
		kong.Writers(a.out, a.out),
		kong.Exit(func(int) { exited = true }),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true, NoAppSummary: true}),
	)
	if err != nil {
		fmt.Fprintln(a.out, "error:", err)
		return false
	}
	kctx, err := parser.Parse(args)
	if exited {
		return false
	}
	if err != nil {
		fmt.Fprintln(a.out, "error:", err)
		return false
	}
	if err := kctx.Run(a); err != nil {
		fmt.Fprintln(a.out, "error:", err)
	}
	return false
}

// splitArgs splits a shell line on whitespace, keeping single- or
// double-quoted runs together.
func splitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		quote   rune
		inToken bool
	)
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inToken = true
		case r == ' ' || r == '\t':
			if inToken {
				args = append(args, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote")
	}
	if inToken {
		args = append(args, cur.String())
	}
	return args, nil
}
