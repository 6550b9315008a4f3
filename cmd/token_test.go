package cmd

import "testing"

func TestTokenCommandStructure(t *testing.T) {
	t.Run("token command exists", func(t *testing.T) {
		if tokenCmd == nil {
			t.Fatal("tokenCmd should not be nil")
		}
	})

	t.Run("token has subcommands", func(t *testing.T) {
		expected := []string{"generate", "list", "revoke"}
		found := make(map[string]bool)
		for _, c := range tokenCmd.Commands() {
			found[c.Name()] = true
		}
		for _, name := range expected {
			if !found[name] {
				t.Errorf("expected subcommand %q to be registered", name)
			}
		}
	})
}

func TestTokenGenerateHasServerFlag(t *testing.T) {
	if tokenGenerateCmd.Flags().Lookup("server") == nil {
		t.Error("expected --server flag to be registered on token generate")
	}
}

func TestTokenSubcommandArity(t *testing.T) {
	if err := tokenGenerateCmd.Args(tokenGenerateCmd, nil); err == nil {
		t.Error("expected token generate to require exactly one arg")
	}
	if err := tokenRevokeCmd.Args(tokenRevokeCmd, []string{"tok-1"}); err != nil {
		t.Errorf("expected token revoke to accept exactly one arg, got %v", err)
	}
}
