package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"serve", "schedule", "subagent"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestScheduleListRequiresSessionFlag(t *testing.T) {
	cmd := buildScheduleCmd()
	cmd.SetArgs([]string{"list"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error when --session is omitted")
	}
}

func TestSubagentListRequiresSessionFlag(t *testing.T) {
	cmd := buildSubagentCmd()
	cmd.SetArgs([]string{"list"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error when --session is omitted")
	}
}
