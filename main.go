package main

import (
	"fmt"
	"os"

	"github.com/okdaichi/overlaysync/internal/cli"
	"github.com/okdaichi/overlaysync/internal/version"
)

var (
	// overridable command handlers for easier unit-testing
	runRelay   = cli.RunRelay
	runWatch   = cli.RunWatch
	runPublish = cli.RunPublish
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the command logic and returns an exit code (0 = success).
func run(args []string) int {
	if len(args) < 1 {
		printUsage()
		return 1
	}

	cmd := args[0]
	cmdArgs := args[1:]

	var err error
	switch cmd {
	case "relay":
		err = runRelay(cmdArgs)
	case "watch":
		err = runWatch(cmdArgs)
	case "publish":
		err = runPublish(cmdArgs)
	case "version", "-version", "--version":
		fmt.Fprintln(os.Stdout, version.Full())
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: overlaysync <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  relay    Start the relay server")
	fmt.Fprintln(os.Stderr, "  watch    Render received documents into an output directory")
	fmt.Fprintln(os.Stderr, "  publish  Send one document (from -file or stdin)")
	fmt.Fprintln(os.Stderr, "  version  Print version information")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Flags:")
	fmt.Fprintln(os.Stderr, "  -config string   path to config file (defaults apply when omitted)")
	fmt.Fprintln(os.Stderr, "  -relay string    relay URL (watch, publish)")
}
