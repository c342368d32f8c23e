package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petal-labs/conduit/core"
)

// Exit codes.
const (
	ExitSuccess    = 0
	ExitValidation = 1
	ExitProvider   = 2
	ExitNetwork    = 3
)

func (a *App) newChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Send a chat completion request",
		Long: `Send a chat completion request to a manifest-described provider.

Examples:
  conduit chat --provider openai --model gpt-4o --prompt "Hello"
  conduit chat --prompt "Hello" --stream
  conduit chat --prompt "Hello" --json`,
		RunE: a.runChat,
	}

	cmd.Flags().StringVar(&a.chatPrompt, "prompt", "", "User message (required)")
	cmd.Flags().StringVar(&a.chatSystem, "system", "", "System message")
	cmd.Flags().Float64Var(&a.chatTemperature, "temperature", 0, "Temperature (0 = use default)")
	cmd.Flags().IntVar(&a.chatMaxTokens, "max-tokens", 0, "Max tokens (0 = use default)")
	cmd.Flags().BoolVar(&a.chatStream, "stream", false, "Enable streaming output")
	_ = cmd.MarkFlagRequired("prompt")

	return cmd
}

func (a *App) runChat(cmd *cobra.Command, args []string) error {
	if a.provider == "" {
		return exitWithCode(ExitValidation, fmt.Errorf("provider required: use --provider flag or set default_provider in config"))
	}
	if a.model == "" {
		return exitWithCode(ExitValidation, fmt.Errorf("model required: use --model flag or set default_model in config"))
	}

	aiClient, err := a.resolvedClient()
	if err != nil {
		return exitWithCode(ExitValidation, err)
	}

	builder := aiClient.Chat(core.ModelID(a.provider + "/" + a.model))
	if a.chatSystem != "" {
		builder = builder.System(a.chatSystem)
	}
	builder = builder.User(a.chatPrompt)
	if a.chatTemperature > 0 {
		builder = builder.Temperature(a.chatTemperature)
	}
	if a.chatMaxTokens > 0 {
		builder = builder.MaxTokens(a.chatMaxTokens)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if a.chatStream {
		return a.runStreamingChat(ctx, builder)
	}
	return a.runNonStreamingChat(ctx, builder)
}

func (a *App) runNonStreamingChat(ctx context.Context, builder interface {
	GetResponse(context.Context) (*core.ChatResponse, *core.CallStats, error)
}) error {
	resp, stats, err := builder.GetResponse(ctx)
	if err != nil {
		return a.handleChatError(err)
	}

	if a.jsonOutput {
		return a.outputJSON(resp, stats)
	}

	fmt.Fprintf(a.stdout, "> %s\n", a.chatPrompt)
	fmt.Fprintln(a.stdout, resp.Content)
	return nil
}

func (a *App) runStreamingChat(ctx context.Context, builder interface {
	Stream(context.Context) (*core.ChatStream, *core.CallStats, error)
}) error {
	chatStream, stats, err := builder.Stream(ctx)
	if err != nil {
		return a.handleChatError(err)
	}

	if a.jsonOutput {
		resp, err := core.Drain(ctx, chatStream, nil)
		if err != nil {
			return a.handleChatError(err)
		}
		return a.outputJSON(resp, stats)
	}

	fmt.Fprintf(a.stdout, "> %s\n", a.chatPrompt)
	resp, err := core.Drain(ctx, chatStream, func(delta string) {
		fmt.Fprint(a.stdout, delta)
	})
	fmt.Fprintln(a.stdout)
	if err != nil {
		return a.handleChatError(err)
	}

	if a.verbose {
		fmt.Fprintf(a.stderr, "Usage: %d prompt + %d completion = %d total tokens, %d attempts\n",
			resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens, stats.AttemptCount)
	}

	return nil
}

func (a *App) handleChatError(err error) error {
	var aiErr *core.AIError
	if errors.As(err, &aiErr) {
		if a.jsonOutput {
			a.outputErrorJSON(aiErr)
		} else {
			fmt.Fprintf(a.stderr, "Error: %s\n", aiErr.HumanMessage)
			if aiErr.UpstreamRequestID != "" {
				fmt.Fprintf(a.stderr, "  Provider: %s, Request ID: %s\n", aiErr.Provider, aiErr.UpstreamRequestID)
			}
		}

		switch aiErr.Code {
		case core.CodeTimeout, core.CodeOverloaded:
			return exitWithCode(ExitNetwork, err)
		default:
			return exitWithCode(ExitProvider, err)
		}
	}

	if errors.Is(err, core.ErrModelRequired) || errors.Is(err, core.ErrNoMessages) {
		if a.jsonOutput {
			a.outputSimpleErrorJSON("validation_error", err.Error())
		} else {
			fmt.Fprintf(a.stderr, "Error: %v\n", err)
		}
		return exitWithCode(ExitValidation, err)
	}

	if a.jsonOutput {
		a.outputSimpleErrorJSON("error", err.Error())
	} else {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
	}
	return exitWithCode(ExitProvider, err)
}

func (a *App) outputJSON(resp *core.ChatResponse, stats *core.CallStats) error {
	output := map[string]interface{}{
		"content":       resp.Content,
		"finish_reason": resp.FinishReason,
		"usage": map[string]int{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		},
	}
	if stats != nil {
		output["stats"] = map[string]interface{}{
			"attempt_count":  stats.AttemptCount,
			"retry_count":    stats.RetryCount,
			"fallback_count": stats.FallbackCount,
		}
	}

	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

func (a *App) outputErrorJSON(aiErr *core.AIError) {
	output := map[string]interface{}{
		"error": map[string]interface{}{
			"code":       aiErr.Code,
			"message":    aiErr.HumanMessage,
			"provider":   aiErr.Provider,
			"request_id": aiErr.UpstreamRequestID,
		},
	}

	enc := json.NewEncoder(a.stderr)
	enc.SetIndent("", "  ")
	_ = enc.Encode(output)
}

func (a *App) outputSimpleErrorJSON(errType, message string) {
	output := map[string]interface{}{
		"error": map[string]interface{}{
			"type":    errType,
			"message": message,
		},
	}

	enc := json.NewEncoder(a.stderr)
	enc.SetIndent("", "  ")
	_ = enc.Encode(output)
}

// exitError wraps an error with an exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) ExitCode() int {
	return e.code
}

func exitWithCode(code int, err error) error {
	return &exitError{code: code, err: err}
}
