package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/allaspectsdev/screenman/internal/config"
	"github.com/allaspectsdev/screenman/internal/daemon"
	"github.com/allaspectsdev/screenman/internal/settings"
	"github.com/allaspectsdev/screenman/internal/vault"
)

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func cmdStart(args []string) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	var foreground bool
	fs.BoolVar(&foreground, "foreground", false, "run in the foreground instead of detaching")
	fs.BoolVar(&foreground, "f", false, "shorthand for --foreground")
	fs.Parse(args)

	cfg, err := config.Load("")
	if err != nil {
		fatalf("error loading config: %v", err)
	}
	if err := daemon.Run(cfg, foreground); err != nil {
		fatalf("error: %v", err)
	}
}

func cmdStop() {
	if err := daemon.Stop(); err != nil {
		fatalf("error stopping daemon: %v", err)
	}
	fmt.Println("screenman stopped")
}

func cmdStatus() {
	if err := daemon.Status(); err != nil {
		fatalf("%v", err)
	}
}

func cmdSetup(args []string) {
	fs := flag.NewFlagSet("setup", flag.ExitOnError)
	var nonInteractive bool
	fs.BoolVar(&nonInteractive, "non-interactive", false, "write the default config without prompts")
	fs.Parse(args)

	if !nonInteractive {
		fmt.Print("Screenman Setup Wizard\n======================\n\n")
	}

	cmdInitConfig()

	if !nonInteractive {
		promptForKey()
	}
	fmt.Println("Setup complete. Run 'screenman start' to begin.")
}

// promptForKey offers to store the EODHD API key in the keychain. Off a
// terminal term.ReadPassword fails, which lands on the skip path.
func promptForKey() {
	fmt.Print("Enter your EODHD API key (leave empty to skip): ")
	key, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()

	trimmed := strings.TrimSpace(string(key))
	if err != nil || trimmed == "" {
		fmt.Print(`No key stored. You can add one later with: screenman keys set eodhd
Without a key, screenman falls back to the EODHD_API_TOKEN
environment variable and finally the public demo token,
which only serves a handful of sample symbols.

`)
		return
	}

	if err := vault.New().Set(settings.DefaultProviderID, trimmed); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not store key in the keychain: %v\n", err)
		fmt.Println("Set the EODHD_API_TOKEN environment variable instead.")
		return
	}
	fmt.Println("Key stored in the OS keychain")
}

func cmdInitConfig() {
	if err := config.InitConfig(); err != nil {
		fatalf("error generating config: %v", err)
	}
}

func cmdInstallService() {
	if err := daemon.InstallService(); err != nil {
		fatalf("error installing service: %v", err)
	}
	fmt.Println("Service installed")
}

func cmdUninstallService() {
	if err := daemon.UninstallService(); err != nil {
		fatalf("error uninstalling service: %v", err)
	}
	fmt.Println("Service uninstalled")
}

func cmdConfigExport(args []string) {
	path := "screenman-export.toml"
	if len(args) > 0 {
		path = args[0]
	}
	if _, err := config.Load(""); err != nil {
		fatalf("error loading config: %v", err)
	}
	if err := config.ExportConfig(path); err != nil {
		fatalf("error exporting config: %v", err)
	}
	fmt.Printf("Wrote current config to %s\n", path)
}

func cmdConfigImport(args []string) {
	if len(args) == 0 {
		fatalf("usage: screenman config-import <file>")
	}
	if err := config.ImportConfig(args[0]); err != nil {
		fatalf("error importing config: %v", err)
	}
	fmt.Printf("Imported config from %s\n", args[0])
}
