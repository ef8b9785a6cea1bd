package main

import (
	"fmt"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/allaspectsdev/screenman/internal/settings"
	"github.com/allaspectsdev/screenman/internal/vault"
)

func cmdKeys(args []string) {
	if len(args) == 0 {
		fatalf("Usage: screenman keys <list|set|delete> [provider]")
	}

	v := vault.New()
	switch verb := args[0]; verb {
	case "list":
		keysList(v)
	case "set":
		keysSet(v, keyProvider(args))
	case "delete":
		keysDelete(v, keyProvider(args))
	default:
		fatalf("unknown keys command: %s", verb)
	}
}

func keysList(v *vault.Vault) {
	providers, err := v.List()
	if err != nil {
		fatalf("error listing keys: %v", err)
	}
	if len(providers) == 0 {
		fmt.Println("No API keys stored")
		return
	}
	for _, p := range providers {
		fmt.Printf("  %s: ****\n", p)
	}
}

// keysSet prompts for the key on the terminal with echo disabled.
func keysSet(v *vault.Vault, provider string) {
	fmt.Printf("Enter API key for %s: ", provider)
	key, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fatalf("error reading key: %v", err)
	}
	if err := v.Set(provider, string(key)); err != nil {
		fatalf("error storing key: %v", err)
	}
	fmt.Printf("Key for %s stored successfully\n", provider)
}

func keysDelete(v *vault.Vault, provider string) {
	if err := v.Delete(provider); err != nil {
		fatalf("error deleting key: %v", err)
	}
	fmt.Printf("Key for %s deleted\n", provider)
}

// keyProvider returns the provider named on the command line, defaulting to
// the market data provider when omitted.
func keyProvider(args []string) string {
	if len(args) >= 2 {
		return strings.ToLower(args[1])
	}
	return settings.DefaultProviderID
}
