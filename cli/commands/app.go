// Package commands implements the CLI command structure using Cobra.
package commands

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/petal-labs/conduit/cli/config"
	"github.com/petal-labs/conduit/cli/keystore"
	"github.com/petal-labs/conduit/client"
	"github.com/petal-labs/conduit/core"
)

// ConfigLoader loads CLI config from a path.
type ConfigLoader func(path string) (*config.Config, error)

// KeystoreFactory creates a keystore instance.
type KeystoreFactory func() (keystore.Keystore, error)

// AppOption customizes App dependencies.
type AppOption func(*App)

// App holds CLI state and runtime dependencies.
type App struct {
	root *cobra.Command

	loadConfig  ConfigLoader
	newClient   ClientFactory
	newKeystore KeystoreFactory
	stdin       io.Reader
	stdout      io.Writer
	stderr      io.Writer

	cfgFile    string
	provider   string
	model      string
	jsonOutput bool
	verbose    bool
	cfg        *config.Config

	chatPrompt      string
	chatSystem      string
	chatTemperature float64
	chatMaxTokens   int
	chatStream      bool

	initProvider string
}

// WithConfigLoader injects a config loader dependency.
func WithConfigLoader(loader ConfigLoader) AppOption {
	return func(a *App) {
		if loader != nil {
			a.loadConfig = loader
		}
	}
}

// WithClientFactory injects the dependency that builds an *client.AiClient
// from the loaded config and keystore.
func WithClientFactory(factory ClientFactory) AppOption {
	return func(a *App) {
		if factory != nil {
			a.newClient = factory
		}
	}
}

// WithKeystoreFactory injects a keystore factory dependency.
func WithKeystoreFactory(factory KeystoreFactory) AppOption {
	return func(a *App) {
		if factory != nil {
			a.newKeystore = factory
		}
	}
}

// WithIO injects process I/O streams.
func WithIO(stdin io.Reader, stdout, stderr io.Writer) AppOption {
	return func(a *App) {
		if stdin != nil {
			a.stdin = stdin
		}
		if stdout != nil {
			a.stdout = stdout
		}
		if stderr != nil {
			a.stderr = stderr
		}
	}
}

// NewApp creates a new CLI app with default dependencies.
func NewApp(opts ...AppOption) *App {
	a := &App{
		loadConfig:   config.LoadConfig,
		newClient:    defaultClientFactory(),
		newKeystore:  keystore.NewKeystore,
		stdin:        os.Stdin,
		stdout:       os.Stdout,
		stderr:       os.Stderr,
		initProvider: "openai",
	}

	for _, opt := range opts {
		opt(a)
	}

	a.root = a.newRootCommand()
	return a
}

func (a *App) newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "conduit",
		Short: "conduit - manifest-driven multi-provider AI runtime CLI",
		Long: `conduit drives any manifest-described provider API through a single,
unified chat interface.

Use conduit to manage API keys, chat with models, and inspect manifests.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig()
		},
		SilenceUsage: true,
	}

	// Global flags available to all commands.
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ~/.conduit/config.yaml)")
	root.PersistentFlags().StringVar(&a.provider, "provider", "", "provider ID declared in config.yaml")
	root.PersistentFlags().StringVar(&a.model, "model", "", "model name (e.g. gpt-4o)")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "emit JSON output")
	root.PersistentFlags().BoolVar(&a.verbose, "verbose", false, "enable debug logging")

	root.AddCommand(a.newChatCommand())
	root.AddCommand(a.newKeysCommand())
	root.AddCommand(a.newInitCommand())
	root.AddCommand(a.newVersionCommand())

	return root
}

// Execute runs the root command.
func (a *App) Execute() error {
	return a.root.Execute()
}

func (a *App) initConfig() error {
	path := a.cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}

	cfg, err := a.loadConfig(path)
	if err != nil {
		return err
	}
	a.cfg = cfg

	// Apply config defaults if flags not set.
	if a.provider == "" && cfg.DefaultProvider != "" {
		a.provider = cfg.DefaultProvider
	}
	if a.model == "" && cfg.DefaultModel != "" {
		a.model = cfg.DefaultModel
	}

	if a.verbose {
		core.SetLevel(zerolog.DebugLevel)
	}

	return nil
}

// resolvedClient builds the AiClient for the providers declared in the
// loaded config, opening the keystore only once per invocation.
func (a *App) resolvedClient() (*client.AiClient, error) {
	ks, err := a.newKeystore()
	if err != nil {
		return nil, err
	}
	return a.newClient(a.cfg, ks)
}

var defaultApp = NewApp()

// Execute runs the default app's root command.
func Execute() error {
	return defaultApp.Execute()
}
