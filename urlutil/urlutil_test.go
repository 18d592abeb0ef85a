package urlutil

import "testing"

func TestRoundTrip(t *testing.T) {
	inputs := []string{"hello world", "a/b?c=d&e=f", "日本語", "100% sure", ""}
	for _, in := range inputs {
		enc := Encode(in)
		got, err := Decode(enc)
		if err != nil {
			t.Fatalf("Decode(%q) error: %v", enc, err)
		}
		if got != in {
			t.Fatalf("round trip mismatch: got %q want %q", got, in)
		}
	}
}

func TestMalformedPercent(t *testing.T) {
	cases := []string{"%", "%1", "%1g", "%zz"}
	for _, c := range cases {
		if _, err := Decode(c); err == nil {
			t.Fatalf("Decode(%q) expected error", c)
		}
	}
}

func TestEncodingAllowlist(t *testing.T) {
	if !EncodingUTF8.Valid() || !EncodingBinary.Valid() || !EncodingHex.Valid() {
		t.Fatal("expected known encodings to validate")
	}
	if Encoding("latin1").Valid() {
		t.Fatal("expected unknown encoding to be invalid")
	}
}
