package security

import (
	"errors"
	"reflect"
	"testing"

	"github.com/YujiSuzuki/hostgate/internal/config"
)

func TestCommandPolicy_Authorize_Allowed(t *testing.T) {
	p := NewCommandPolicy(config.DefaultAllowedCommands)

	for _, cmd := range config.DefaultAllowedCommands {
		t.Run(cmd, func(t *testing.T) {
			if err := p.Authorize(cmd); err != nil {
				t.Errorf("Authorize(%q) error = %v, want nil", cmd, err)
			}
		})
	}
}

func TestCommandPolicy_Authorize_Denied(t *testing.T) {
	p := NewCommandPolicy(config.DefaultAllowedCommands)

	tests := []struct {
		name    string
		command string
	}{
		{"not listed", "rm"},
		{"uppercase", "LS"},
		{"mixed case", "Ls"},
		{"absolute path", "/bin/ls"},
		{"relative path", "./ls"},
		{"with args", "ls -la"},
		{"empty", ""},
		{"chained", "ls;rm"},
		{"piped", "ls|sh"},
		{"substitution", "$(ls)"},
		{"backtick", "`ls`"},
		{"trailing newline", "ls\n"},
		{"shell", "sh"},
		{"bash", "bash"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Authorize(tt.command)
			if err == nil {
				t.Fatalf("Authorize(%q) = nil, want error", tt.command)
			}
			if !errors.Is(err, ErrCommandNotAllowed) {
				t.Errorf("Authorize(%q) error = %v, want ErrCommandNotAllowed", tt.command, err)
			}
		})
	}
}

func TestCommandPolicy_ErrorNamesCommand(t *testing.T) {
	p := NewCommandPolicy([]string{"echo"})
	err := p.Authorize("rm")
	if err == nil || err.Error() != "command not allowed: rm" {
		t.Errorf("Authorize(rm) error = %v, want %q", err, "command not allowed: rm")
	}
}

func TestCommandPolicy_CopiesAllowList(t *testing.T) {
	list := []string{"echo", "echo", " ", "date"}
	p := NewCommandPolicy(list)
	list[0] = "rm"

	if err := p.Authorize("rm"); err == nil {
		t.Error("mutating the input slice must not widen the policy")
	}
	if got, want := p.AllowedCommands(), []string{"echo", "date"}; !reflect.DeepEqual(got, want) {
		t.Errorf("AllowedCommands() = %v, want %v", got, want)
	}
}

func TestCommandPolicy_EmptyAllowList(t *testing.T) {
	p := NewCommandPolicy(nil)
	if err := p.Authorize("ls"); err == nil {
		t.Error("empty allow-list should deny everything")
	}
}

func TestSanitizeArgs(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"clean", []string{"-la", "/tmp"}, []string{"-la", "/tmp"}},
		{"semicolon", []string{"a;b"}, []string{"ab"}},
		{"injection", []string{"hello; rm -rf /"}, []string{"hello rm -rf /"}},
		{"all stripped", []string{"<>&|;"}, []string{""}},
		{"redirect", []string{"x > /etc/passwd"}, []string{"x  /etc/passwd"}},
		{"other metachars kept", []string{"$HOME", "`id`", "*"}, []string{"$HOME", "`id`", "*"}},
		{"empty", []string{}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeArgs(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SanitizeArgs(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeArgs_DoesNotMutateInput(t *testing.T) {
	in := []string{"a|b"}
	_ = SanitizeArgs(in)
	if in[0] != "a|b" {
		t.Errorf("input mutated to %q", in[0])
	}
}

func TestContainsShellMetaChars(t *testing.T) {
	tests := []struct {
		s    string
		want bool
	}{
		{"ls", false},
		{"ls -la", false},
		{"a|b", true},
		{"a>b", true},
		{"a<b", true},
		{"a;b", true},
		{"a&b", true},
		{"`a`", true},
		{"$(a)", true},
		{"$HOME", false},
		{"a\nb", true},
	}
	for _, tt := range tests {
		if got := containsShellMetaChars(tt.s); got != tt.want {
			t.Errorf("containsShellMetaChars(%q) = %v, want %v", tt.s, got, tt.want)
		}
	}
}
