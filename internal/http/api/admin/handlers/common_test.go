package handlers

import (
	"testing"
	"unicode/utf8"
)

func TestMaskAPIKey(t *testing.T) {
	cases := []struct {
		key  string
		want string
	}{
		{key: "", want: ""},
		{key: "short", want: "*****"},
		{key: "sk-abcdefgh", want: "sk-****efgh"},
		{key: "ключ-секрет-1234", want: "клю****1234"},
		{key: "日本語のキー", want: "******"},
		{key: "🔑🔑🔑-middle-🔒🔒🔒🔒", want: "🔑🔑🔑****🔒🔒🔒🔒"},
	}
	for _, tc := range cases {
		got := maskAPIKey(tc.key)
		if got != tc.want {
			t.Fatalf("maskAPIKey(%q) = %q, want %q", tc.key, got, tc.want)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("maskAPIKey(%q) produced invalid UTF-8: %q", tc.key, got)
		}
	}
}
