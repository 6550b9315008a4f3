package cmd

import (
	"testing"

	"mcpbroker/internal/domain"
)

func TestSetVersion(t *testing.T) {
	testVersion := "1.2.3-test"
	SetVersion(testVersion)

	if rootCmd.Version != testVersion {
		t.Errorf("expected version %s, got %s", testVersion, rootCmd.Version)
	}
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "mcpbroker" {
		t.Errorf("expected Use to be 'mcpbroker', got %s", rootCmd.Use)
	}
	if rootCmd.Short == "" {
		t.Error("expected Short description to be set")
	}
	if !rootCmd.SilenceUsage {
		t.Error("expected SilenceUsage to be true")
	}
	if !rootCmd.SilenceErrors {
		t.Error("expected SilenceErrors to be true")
	}
}

func TestSubcommandsRegistered(t *testing.T) {
	expected := []string{"version", "serve", "server", "client", "token", "auth", "tools"}
	found := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		found[c.Name()] = true
	}
	for _, name := range expected {
		if !found[name] {
			t.Errorf("expected subcommand %q to be registered", name)
		}
	}
}

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil-ish generic", errPlain("boom"), ExitCodeError},
		{"unauthenticated", &domain.UnauthenticatedError{Reason: "no token"}, ExitCodeAuthRequired},
		{"oauth flow", &domain.OAuthFlowError{ServerID: "s1", Kind: domain.FlowCancelled, Message: "denied"}, ExitCodeAuthFailed},
		{"oauth token", &domain.OAuthTokenError{ServerID: "s1", Kind: domain.TokenExpired, Message: "expired"}, ExitCodeAuthFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCodeFor(tc.err); got != tc.want {
				t.Errorf("exitCodeFor(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
