package utils

import "testing"

func TestChallengeSlug(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Street Fighter Duel!", "street-fighter-duel"},
		{"1v1 FIFA best of 3", "1v1-fifa-best-of-3"},
		{"Éclair Cup", "eclair-cup"},
	}
	for _, tc := range tests {
		if got := ChallengeSlug(tc.in); got != tc.want {
			t.Errorf("ChallengeSlug(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeGameKey(t *testing.T) {
	tests := []struct{ in, want string }{
		{"street fighter 6", "Street Fighter 6"},
		{"STREET FIGHTER 6", "Street Fighter 6"},
		{"  chess ", "Chess"},
		{"", "Unknown"},
		{"pokémon", "Pokemon"},
	}
	for _, tc := range tests {
		if got := NormalizeGameKey(tc.in); got != tc.want {
			t.Errorf("NormalizeGameKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeDisplayName(t *testing.T) {
	if got := SanitizeDisplayName("   "); got != "" {
		t.Errorf("blank name = %q, want empty", got)
	}
	if got := SanitizeDisplayName("PlayerOne"); got != "PlayerOne" {
		t.Errorf("clean name = %q", got)
	}
	long := "abcdefghijklmnopqrstuvwxyz"
	if got := SanitizeDisplayName(long); len(got) != 20 {
		t.Errorf("long name length = %d, want 20", len(got))
	}
}
