// sarctl is a terminal front-end for the System Authorization Review
// dashboard.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// command is one sarctl subcommand. run receives the arguments left after
// the command name.
type command struct {
	name    string
	summary string
	run     func(ctx context.Context, s *shell, args []string) error
}

var commands = []command{
	{"login", "sign in and store the session", cmdLogin},
	{"logout", "end the session", cmdLogout},
	{"whoami", "show the signed-in user", cmdWhoami},
	{"schedules", "list, create, update status of or delete schedules", cmdSchedules},
	{"systems", "list or delete system master records", cmdSystems},
	{"pic", "list PIC users", cmdPics},
	{"progress", "show UAR progress", cmdProgress},
	{"logs", "list process logs", cmdLogs},
	{"cache", "inspect or clear the offline cache", cmdCache},
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func usage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintln(w, "Usage: sarctl [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	names := make([]string, 0, len(commands))
	width := 0
	for _, c := range commands {
		names = append(names, c.name)
		width = max(width, len(c.name))
	}
	sort.Strings(names)
	for _, n := range names {
		c, _ := lookup(n)
		fmt.Fprintf(w, "  %-*s  %s\n", width, c.name, c.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprint(w, fs.FlagUsages())
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var configPath string
	fs := pflag.NewFlagSet("sarctl", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)
	fs.StringVarP(&configPath, "config", "c", "sarctl.yaml", "path to the sarctl configuration file")
	fs.Usage = func() { usage(stderr, fs) }
	if err := fs.Parse(args); err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		usage(stderr, fs)
		return fmt.Errorf("command required")
	}
	cmd, ok := lookup(rest[0])
	if !ok {
		return fmt.Errorf("unknown command %q (commands: %s)", rest[0], strings.Join(commandNames(), ", "))
	}

	sh, err := openShell(ctx, configPath, stdin, stdout, stderr)
	if err != nil {
		return err
	}
	defer sh.close()
	return cmd.run(ctx, sh, rest[1:])
}

func commandNames() []string {
	out := make([]string, len(commands))
	for i, c := range commands {
		out[i] = c.name
	}
	return out
}
