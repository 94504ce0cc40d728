package language

import "testing"

func TestToISO2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"en", "en"},
		{"EN", "en"},
		{"eng", "en"},
		{"deu", "de"},
		{"en-US", "en"},
		{"pt_BR", "pt"},
		{"English", "en"},
		{" japanese ", "ja"},
		{"", ""},
		{"auto", ""},
		{"not a language", ""},
	}
	for _, tc := range tests {
		if got := ToISO2(tc.input); got != tc.expected {
			t.Errorf("ToISO2(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func TestValid(t *testing.T) {
	for _, value := range []string{"", "auto", "en", "french"} {
		if !Valid(value) {
			t.Errorf("expected %q to be valid", value)
		}
	}
	if Valid("zz top") {
		t.Error("expected garbage to be invalid")
	}
}

func TestDisplayName(t *testing.T) {
	if got := DisplayName("de"); got != "German" {
		t.Fatalf("DisplayName(de) = %q", got)
	}
	if got := DisplayName(""); got != "Auto" {
		t.Fatalf("DisplayName(empty) = %q", got)
	}
}
