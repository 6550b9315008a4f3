package cmd

import "testing"

func TestServerCommandStructure(t *testing.T) {
	t.Run("server command exists", func(t *testing.T) {
		if serverCmd == nil {
			t.Fatal("serverCmd should not be nil")
		}
	})

	t.Run("server command properties", func(t *testing.T) {
		if serverCmd.Use != "server" {
			t.Errorf("expected Use 'server', got %q", serverCmd.Use)
		}
		if serverCmd.Short == "" {
			t.Error("expected Short description to be set")
		}
	})

	t.Run("server has subcommands", func(t *testing.T) {
		expected := []string{"add", "list", "remove", "start", "stop"}
		found := make(map[string]bool)
		for _, c := range serverCmd.Commands() {
			found[c.Name()] = true
		}
		for _, name := range expected {
			if !found[name] {
				t.Errorf("expected subcommand %q to be registered", name)
			}
		}
	})
}

func TestServerAddFlags(t *testing.T) {
	cases := []string{"type", "command", "arg", "env", "url", "bearer-token", "autostart", "disabled"}
	for _, name := range cases {
		if serverAddCmd.Flags().Lookup(name) == nil {
			t.Errorf("expected --%s flag to be registered on server add", name)
		}
	}
}

func TestServerAddDefaultType(t *testing.T) {
	f := serverAddCmd.Flags().Lookup("type")
	if f == nil {
		t.Fatal("expected type flag to exist")
	}
	if f.DefValue != "local" {
		t.Errorf("expected default server type to be 'local', got %q", f.DefValue)
	}
}
