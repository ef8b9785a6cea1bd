package main

import (
	"fmt"
	"io"
	"os"

	"github.com/allaspectsdev/screenman/internal/version"
)

// commands maps CLI verbs to handlers in the order the usage text lists
// them. Handlers that take no options ignore the args slice.
var commands = []struct {
	name string
	help string
	run  func(args []string)
}{
	{"start", "Start the screenman daemon", cmdStart},
	{"stop", "Stop the running daemon", func([]string) { cmdStop() }},
	{"status", "Show daemon status and summary stats", func([]string) { cmdStatus() }},
	{"setup", "Interactive setup wizard", cmdSetup},
	{"keys", "Manage provider API keys (list|set|delete [provider])", cmdKeys},
	{"init-config", "Generate default config file", func([]string) { cmdInitConfig() }},
	{"config-export", "Export current config to a TOML file", cmdConfigExport},
	{"config-import", "Import config from a TOML file", cmdConfigImport},
	{"install-service", "Install as system service (launchd on macOS)", func([]string) { cmdInstallService() }},
	{"uninstall-service", "Remove the installed system service", func([]string) { cmdUninstallService() }},
	{"version", "Print version information", func([]string) { fmt.Println(version.String()) }},
	{"help", "Show this help message", nil},
}

// The help handler calls printUsage, which ranges over commands; assigning it
// inline would form an initialization cycle, so bind it here instead.
func init() {
	for i := range commands {
		if commands[i].name == "help" {
			commands[i].run = func([]string) { printUsage(os.Stdout) }
		}
	}
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	name, args := os.Args[1], os.Args[2:]
	if name == "--help" || name == "-h" {
		name = "help"
	}

	for _, c := range commands {
		if c.name == name {
			c.run(args)
			return
		}
	}

	fmt.Fprintf(os.Stderr, "unknown command: %s\n", name)
	printUsage(os.Stderr)
	os.Exit(1)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: screenman <command> [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-17s  %s\n", c.name, c.help)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fmt.Fprintln(w, "  --foreground       Run in foreground (with 'start')")
	fmt.Fprintln(w, "  --non-interactive  Skip interactive prompts (with 'setup')")
}
