package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/lvcoi/tunefetch/internal/failure"
)

const usage = `usage: tunefetch <command> [flags] [args]

commands:
  search    <text>                 list raw catalog results
  resolve   <title[ - artist]>     pick the playable track for a query
  stream    <title[ - artist]>     resolve and print the best audio stream
  download  <title[ - artist]>...  download one or more queries
  play      <title[ - artist]>     resolve and play through mpv
  discover  <term>                 search the iTunes catalog
  library   ls|play|rm <id>|scan     manage and play downloaded tracks
  serve                            run the HTTP API

Run "tunefetch <command> --help" for command flags.
`

type command struct {
	name  string
	flags func(fs *pflag.FlagSet)
	run   func(ctx context.Context, e *env, args []string) error
}

var commands = []command{
	{name: "search", flags: searchFlags, run: runSearch},
	{name: "resolve", flags: queryFlags, run: runResolve},
	{name: "stream", flags: streamFlags, run: runStream},
	{name: "download", flags: downloadFlags, run: runDownload},
	{name: "play", flags: queryFlags, run: runPlay},
	{name: "discover", flags: discoverFlags, run: runDiscover},
	{name: "library", flags: libraryFlags, run: runLibrary},
	{name: "serve", run: runServe},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, argv []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(argv) == 0 || argv[0] == "-h" || argv[0] == "--help" || argv[0] == "help" {
		fmt.Fprint(stderr, usage)
		if len(argv) == 0 {
			return 2
		}
		return 0
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == argv[0] {
			cmd = &commands[i]
			break
		}
	}
	if cmd == nil {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", argv[0], usage)
		return 2
	}

	fs := pflag.NewFlagSet("tunefetch "+cmd.name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	globals := addGlobalFlags(fs)
	if cmd.flags != nil {
		cmd.flags(fs)
	}
	if err := fs.Parse(argv[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	e, err := newEnv(globals, fs, stdin, stdout, stderr)
	if err != nil {
		return report(stdout, stderr, globals.json, "", failure.Wrap(failure.CategoryInvalidInput, err))
	}
	defer e.Close()

	if err := cmd.run(ctx, e, fs.Args()); err != nil {
		if ctx.Err() != nil && !errors.Is(err, errReported) {
			err = ctx.Err()
		}
		return report(stdout, stderr, globals.json, cmd.name, err)
	}
	return 0
}

// report prints err in the requested format and returns its exit code.
func report(stdout, stderr io.Writer, asJSON bool, cmd string, err error) int {
	if errors.Is(err, errReported) {
		return exitCodeOf(err)
	}
	if asJSON {
		writeJSONError(stdout, cmd, err)
	} else {
		fmt.Fprintf(stderr, "error: %v\n", err)
	}
	return failure.ExitCode(err)
}
