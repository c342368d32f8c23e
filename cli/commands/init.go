package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
)

func (a *App) newInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init <project-name>",
		Short: "Initialize a new conduit project",
		Long: `Initialize a new conduit project with a standard directory structure.

Creates a project directory with:
  - main.go: a starter Go file using the conduit client facade
  - conduit.yaml: project configuration
  - agents/: directory for agent definitions
  - tools/: directory for custom tools

Example:
  conduit init myagent
  conduit init myagent --provider openai`,
		Args: cobra.ExactArgs(1),
		RunE: a.runInit,
	}

	cmd.Flags().StringVar(&a.initProvider, "provider", "openai", "default provider for generated code")

	return cmd
}

func (a *App) runInit(cmd *cobra.Command, args []string) error {
	projectPath := args[0]
	return buildProject(projectPath, a.initProvider)
}

// buildProject scaffolds a new project at projectPath for the given
// provider. It is a free function, not an App method, so tests can drive
// it directly without constructing a full App.
func buildProject(projectPath, provider string) error {
	projectName := filepath.Base(projectPath)

	if err := validateProjectName(projectName); err != nil {
		return err
	}

	if _, err := os.Stat(projectPath); err == nil {
		return fmt.Errorf("directory %q already exists", projectPath)
	}

	dirs := []string{
		projectPath,
		filepath.Join(projectPath, "agents"),
		filepath.Join(projectPath, "tools"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	gitkeepDirs := []string{
		filepath.Join(projectPath, "agents"),
		filepath.Join(projectPath, "tools"),
	}
	for _, dir := range gitkeepDirs {
		path := filepath.Join(dir, ".gitkeep")
		if err := os.WriteFile(path, []byte{}, 0644); err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
	}

	mainPath := filepath.Join(projectPath, "main.go")
	if err := generateFile(mainPath, mainGoTemplate, templateData{Provider: provider}); err != nil {
		return fmt.Errorf("failed to create main.go: %w", err)
	}

	configPath := filepath.Join(projectPath, "conduit.yaml")
	if err := generateFile(configPath, conduitYamlTemplate, templateData{Provider: provider}); err != nil {
		return fmt.Errorf("failed to create conduit.yaml: %w", err)
	}

	fmt.Printf("Created conduit project: %s\n\n", projectName)
	fmt.Println("Next steps:")
	fmt.Printf("  cd %s\n", projectPath)
	fmt.Printf("  conduit keys set %s_key\n", provider)
	fmt.Println("  go run main.go")

	return nil
}

func validateProjectName(name string) error {
	if name == "" {
		return fmt.Errorf("project name cannot be empty")
	}

	validName := regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)
	if !validName.MatchString(name) {
		return fmt.Errorf("invalid project name %q: must start with a letter and contain only letters, numbers, underscores, and hyphens", name)
	}

	reserved := []string{".", "..", "conduit"}
	for _, r := range reserved {
		if name == r {
			return fmt.Errorf("invalid project name %q: reserved name", name)
		}
	}

	return nil
}

type templateData struct {
	Provider string
}

var templateFuncs = template.FuncMap{
	"envVar":       envVarForProvider,
	"defaultModel": defaultModel,
}

func generateFile(path string, tmplContent string, data templateData) error {
	tmpl, err := template.New("file").Funcs(templateFuncs).Parse(tmplContent)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return tmpl.Execute(f, data)
}

func envVarForProvider(provider string) string {
	return strings.ToUpper(provider) + "_API_KEY"
}

func defaultModel(provider string) string {
	switch provider {
	case "openai":
		return "gpt-4o"
	case "anthropic":
		return "claude-sonnet-4-5"
	case "gemini":
		return "gemini-2.5-flash"
	case "xai":
		return "grok-4-1-fast-non-reasoning"
	case "zai":
		return "glm-4.7-flash"
	case "ollama":
		return "llama3.2"
	default:
		return "default"
	}
}

// Templates

var mainGoTemplate = `package main

import (
	"context"
	"fmt"
	"os"

	"github.com/petal-labs/conduit/client"
	"github.com/petal-labs/conduit/core"
	"github.com/petal-labs/conduit/manifest"
)

func main() {
	data, err := os.ReadFile("manifests/{{.Provider}}.yaml")
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error reading manifest:", err)
		os.Exit(1)
	}

	m, err := manifest.Parse(data)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error parsing manifest:", err)
		os.Exit(1)
	}

	apiKey := os.Getenv("{{.Provider | envVar}}")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "{{.Provider | envVar}} not set")
		os.Exit(1)
	}

	c, err := client.New([]*manifest.Manifest{m}, client.WithCredential("{{.Provider}}", core.NewSecret(apiKey)))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	resp, _, err := c.Chat(core.ModelID("{{.Provider}}/{{.Provider | defaultModel}}")).
		User("Hello, world!").
		GetResponse(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	fmt.Println(resp.Content)
}
`

var conduitYamlTemplate = `# conduit project configuration
default_provider: {{.Provider}}
default_model: {{.Provider | defaultModel}}

# Provider configurations.
# API keys are resolved via 'conduit keys set <ref>' or the manifest's own
# auth.env_var.
providers:
  {{.Provider}}:
    manifest_path: manifests/{{.Provider}}.yaml
    api_key_ref: {{.Provider}}_key
`
