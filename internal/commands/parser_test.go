package commands

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		name     string
		text     string
		wantOK   bool
		wantVerb string
		wantArgs string
	}{
		{"simple verb", "/help", true, "help", ""},
		{"verb with args", "/link abc123", true, "link", "abc123"},
		{"verb with extra whitespace in args", "/space   status now", true, "space", "status now"},
		{"not a command", "hello there", false, "", ""},
		{"bare slash is not a command", "/", false, "", ""},
		{"slash mid-sentence is not a command", "check /help please", false, "", ""},
		{"case normalized", "/HELP", true, "help", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			parsed, ok := Parse(tc.text)
			if ok != tc.wantOK {
				t.Fatalf("Parse(%q) ok = %v, want %v", tc.text, ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if parsed.Name != tc.wantVerb {
				t.Errorf("Name = %q, want %q", parsed.Name, tc.wantVerb)
			}
			if parsed.Args != tc.wantArgs {
				t.Errorf("Args = %q, want %q", parsed.Args, tc.wantArgs)
			}
		})
	}
}

func TestIsCommand(t *testing.T) {
	if !IsCommand("/status") {
		t.Error("expected /status to be detected as a command")
	}
	if IsCommand("just chatting") {
		t.Error("expected plain text not to be detected as a command")
	}
}
