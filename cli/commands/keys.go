package commands

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/petal-labs/conduit/cli/keystore"
)

func (a *App) newKeysCommand() *cobra.Command {
	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
		Long:  `Manage API keys for manifest-backed providers. Keys are stored securely using encryption.`,
	}

	keysCmd.AddCommand(&cobra.Command{
		Use:   "set <ref>",
		Short: "Set an API key under a keystore reference",
		Long:  `Store an API key under a reference name (matched by a manifest's api_key_ref in config.yaml). The key is prompted without echo for security.`,
		Args:  cobra.ExactArgs(1),
		RunE:  a.runKeysSet,
	})
	keysCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored API key references",
		Long:  `List all stored keystore references. Only reference names are shown, never key values.`,
		RunE:  a.runKeysList,
	})
	keysCmd.AddCommand(&cobra.Command{
		Use:   "delete <ref>",
		Short: "Delete a stored API key",
		Args:  cobra.ExactArgs(1),
		RunE:  a.runKeysDelete,
	})

	return keysCmd
}

func (a *App) runKeysSet(cmd *cobra.Command, args []string) error {
	ref := args[0]

	fmt.Fprintf(a.stdout, "Enter API key for %s: ", ref)

	var apiKey string
	if f, ok := a.stdin.(fileDescriptor); ok && term.IsTerminal(int(f.Fd())) {
		keyBytes, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
		apiKey = string(keyBytes)
		fmt.Fprintln(a.stdout)
	} else {
		reader := bufio.NewReader(a.stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
		apiKey = strings.TrimSpace(line)
	}

	if apiKey == "" {
		return fmt.Errorf("API key cannot be empty")
	}

	ks, err := a.newKeystore()
	if err != nil {
		return fmt.Errorf("failed to open keystore: %w", err)
	}

	if err := ks.Set(ref, apiKey); err != nil {
		return fmt.Errorf("failed to store key: %w", err)
	}

	fmt.Fprintf(a.stdout, "API key for %s stored successfully.\n", ref)
	return nil
}

func (a *App) runKeysList(cmd *cobra.Command, args []string) error {
	ks, err := a.newKeystore()
	if err != nil {
		return fmt.Errorf("failed to open keystore: %w", err)
	}

	names, err := ks.List()
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}

	if len(names) == 0 {
		fmt.Fprintln(a.stdout, "No API keys stored.")
		return nil
	}

	fmt.Fprintln(a.stdout, "Stored keys:")
	for _, name := range names {
		fmt.Fprintf(a.stdout, "  - %s\n", name)
	}

	return nil
}

func (a *App) runKeysDelete(cmd *cobra.Command, args []string) error {
	ref := args[0]

	ks, err := a.newKeystore()
	if err != nil {
		return fmt.Errorf("failed to open keystore: %w", err)
	}

	if err := ks.Delete(ref); err != nil {
		if _, ok := err.(*keystore.ErrKeyNotFound); ok {
			return fmt.Errorf("no key stored for %s", ref)
		}
		return fmt.Errorf("failed to delete key: %w", err)
	}

	fmt.Fprintf(a.stdout, "API key for %s deleted.\n", ref)
	return nil
}

// fileDescriptor is satisfied by os.Stdin; used to detect a real terminal
// without requiring every injected stdin in tests to implement Fd().
type fileDescriptor interface {
	Fd() uintptr
}
