package commands

import (
	"bytes"
	"errors"
	"testing"

	"github.com/petal-labs/conduit/core"
)

func TestExitError(t *testing.T) {
	err := exitWithCode(ExitValidation, errors.New("test error"))

	if err.Error() != "test error" {
		t.Errorf("Error() = %q, want 'test error'", err.Error())
	}

	exitErr, ok := err.(*exitError)
	if !ok {
		t.Fatal("expected *exitError type")
	}

	if exitErr.ExitCode() != ExitValidation {
		t.Errorf("ExitCode() = %d, want %d", exitErr.ExitCode(), ExitValidation)
	}
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name string
		code int
		want int
	}{
		{"success", ExitSuccess, 0},
		{"validation", ExitValidation, 1},
		{"provider", ExitProvider, 2},
		{"network", ExitNetwork, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code != tt.want {
				t.Errorf("Exit%s = %d, want %d", tt.name, tt.code, tt.want)
			}
		})
	}
}

func testApp(t *testing.T) (*App, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := NewApp(WithIO(nil, &stdout, &stderr))
	return app, &stdout, &stderr
}

func TestHandleChatErrorValidation(t *testing.T) {
	app, _, _ := testApp(t)
	err := app.handleChatError(core.ErrModelRequired)

	exitErr, ok := err.(*exitError)
	if !ok {
		t.Fatal("expected *exitError type")
	}
	if exitErr.ExitCode() != ExitValidation {
		t.Errorf("ExitCode() = %d, want %d (ExitValidation)", exitErr.ExitCode(), ExitValidation)
	}
}

func TestHandleChatErrorTimeoutIsNetwork(t *testing.T) {
	app, _, _ := testApp(t)
	aiErr := &core.AIError{Code: core.CodeTimeout, HumanMessage: "upstream timed out"}

	err := app.handleChatError(aiErr)

	exitErr, ok := err.(*exitError)
	if !ok {
		t.Fatal("expected *exitError type")
	}
	if exitErr.ExitCode() != ExitNetwork {
		t.Errorf("ExitCode() = %d, want %d (ExitNetwork)", exitErr.ExitCode(), ExitNetwork)
	}
}

func TestHandleChatErrorProvider(t *testing.T) {
	app, _, stderr := testApp(t)
	aiErr := &core.AIError{
		Provider:          "openai",
		Code:              core.CodeRateLimited,
		UpstreamRequestID: "req_123",
		HumanMessage:      "Too many requests",
	}

	err := app.handleChatError(aiErr)

	exitErr, ok := err.(*exitError)
	if !ok {
		t.Fatal("expected *exitError type")
	}
	if exitErr.ExitCode() != ExitProvider {
		t.Errorf("ExitCode() = %d, want %d (ExitProvider)", exitErr.ExitCode(), ExitProvider)
	}
	if !bytes.Contains(stderr.Bytes(), []byte("req_123")) {
		t.Errorf("stderr = %q, want it to mention the upstream request id", stderr.String())
	}
}

func TestHandleChatErrorJSON(t *testing.T) {
	app, _, stderr := testApp(t)
	app.jsonOutput = true
	aiErr := &core.AIError{Provider: "openai", Code: core.CodeServerError, HumanMessage: "boom"}

	_ = app.handleChatError(aiErr)

	if !bytes.Contains(stderr.Bytes(), []byte(`"provider": "openai"`)) {
		t.Errorf("stderr = %q, want JSON error envelope mentioning the provider", stderr.String())
	}
}
