package auth

import (
	"testing"
)

func TestHashKey(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "empty string",
			input: "",
			want:  "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name:  "key with whitespace trimmed",
			input: "  test-api-key  ",
			want:  HashKey("test-api-key"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HashKey(tt.input); got != tt.want {
				t.Errorf("HashKey() = %v, want %v", got, tt.want)
			}
		})
	}

	if len(HashKey("test-api-key")) != 64 {
		t.Error("HashKey() should return a 64-char hex string")
	}
}

func TestHashKey_DifferentInputsDifferentOutputs(t *testing.T) {
	if HashKey("key1") == HashKey("key2") {
		t.Error("Different keys produced same hash")
	}
}

func TestKeySet_Match(t *testing.T) {
	ks := NewKeySet([]string{"alpha", "", "  ", "beta"})

	if ks.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 (blank keys ignored)", ks.Len())
	}

	for _, key := range []string{"alpha", "beta", " beta "} {
		h, ok := ks.Match(key)
		if !ok {
			t.Errorf("Match(%q) rejected a configured key", key)
		}
		if h != HashKey(key) {
			t.Errorf("Match(%q) hash = %s, want %s", key, h, HashKey(key))
		}
	}

	for _, key := range []string{"gamma", "", "   "} {
		if _, ok := ks.Match(key); ok {
			t.Errorf("Match(%q) accepted an unknown key", key)
		}
	}
}
