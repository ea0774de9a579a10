package main

import (
	"strings"
	"testing"

	"tulip/internal/config"
)

func TestConfigCmdSubcommands(t *testing.T) {
	cfg := config.Default()
	cmd := newConfigCmd(&cfg)

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"get", "set", "path"} {
		if !names[want] {
			t.Fatalf("expected %q subcommand, have %v", want, names)
		}
	}

	if !strings.Contains(cmd.Long, "[backends.") {
		t.Fatalf("expected backend-table pointer in help, got %q", cmd.Long)
	}
}

func TestConfigGetCmdListsAllowedKeys(t *testing.T) {
	cfg := config.Default()
	get := newConfigGetCmd(&cfg)
	for _, key := range config.AllowedKeys() {
		if !strings.Contains(get.Long, key) {
			t.Fatalf("expected key %q listed in help, got %q", key, get.Long)
		}
	}
}
