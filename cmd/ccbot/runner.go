package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// Runner dispatches ccbot's three subcommands: parse a flag set, switch
// on args[0], one private run<Name> method per subcommand. Every
// subcommand here runs in-process; none calls out to a daemon over a
// Unix socket.
type Runner struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

func NewRunner(in io.Reader, out, errOut io.Writer) *Runner {
	return &Runner{in: in, out: out, errOut: errOut}
}

func (r *Runner) Run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		return r.runRun(ctx, nil)
	}
	switch args[0] {
	case "run":
		return r.runRun(ctx, args[1:])
	case "hook":
		return r.runHook(ctx, args[1:])
	case "sync":
		return r.runSync(ctx, args[1:])
	case "-h", "--help", "help":
		r.printUsage()
		return 0
	default:
		_, _ = fmt.Fprintf(r.errOut, "unknown command: %s\n", args[0])
		r.printUsage()
		return 2
	}
}

func (r *Runner) printUsage() {
	_, _ = fmt.Fprintln(r.errOut, "usage: ccbot [run] | ccbot hook [--install] | ccbot sync <project_dir>")
}

// colorEnabled reports whether w is an interactive terminal worth
// colorizing output for.
func colorEnabled(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
