// hrm - home row modifiers
//
// hrm intercepts the keyboard and turns the home-row keys into dual-role
// keys: tapped they type their letter, held they act as a modifier.
//
//	hrm run                 Intercept the keyboard until interrupted
//	hrm check               Check keyboard access permissions
//	hrm config <action>     Create, show or validate the configuration
//	hrm stats               Show per-key tap and hold statistics
//	hrm version             Show version information
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return 1
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "run":
		return cmdRun(rest, stdout, stderr)
	case "check":
		return cmdCheck(rest, stdout, stderr)
	case "config":
		return cmdConfig(rest, stdout, stderr)
	case "stats":
		return cmdStats(rest, stdout, stderr)
	case "version", "-v", "--version":
		return cmdVersion(stdout)
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", cmd)
		usage(stderr)
		return 1
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `hrm - Home Row Modifiers

USAGE:
    hrm <command> [options]

COMMANDS:
    run                 Intercept the keyboard until interrupted
    check               Check keyboard access permissions
    config init         Write the default configuration file
    config show         Print the configuration in use
    config validate     Validate a configuration file
    config path         Print the configuration file path
    stats               Show per-key tap and hold statistics
    version             Show version information
    help                Show this help message

RUN OPTIONS:
    -config <path>      Configuration file (default: platform config dir, or $HRM_CONFIG)
    -stats <path>       Statistics database, "-" to disable
    -metrics <addr>     Serve metrics over HTTP, e.g. 127.0.0.1:9273
    -no-update-check    Do not look for a newer release
    -log-level <level>  debug, info, warn or error
    -log-format <fmt>   text or json
    -log-file <path>    Also write logs to a rotated file

SIGNALS:
    SIGHUP              Reload the configuration and retry interception
    SIGINT, SIGTERM     Release held modifiers and exit

PRIVACY NOTE:
    hrm stores daily per-key counts of taps and holds for the configured
    keys only. It never records what you type.`)
}
