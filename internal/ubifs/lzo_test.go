package ubifs

import "testing"

func TestDecompressLZO1XLiteralRunThenEOF(t *testing.T) {
	// First-literal-run opcode 28 (src[0]-17 = 11 = len("hello world") literal
	// bytes) followed by the canonical 0x11 0x00 0x00 end-of-stream match.
	src := []byte{28, 'h', 'e', 'l', 'l', 'o', ' ', 'w', 'o', 'r', 'l', 'd', 0x11, 0x00, 0x00}
	out, err := decompressLZO1X(src, len("hello world"))
	if err != nil {
		t.Fatalf("decompressLZO1X: %v", err)
	}
	if string(out) != "hello world" {
		t.Fatalf("expected %q, got %q", "hello world", out)
	}
}

func TestDecompressLZO1XEmptyInput(t *testing.T) {
	if _, err := decompressLZO1X(nil, 0); err != nil {
		t.Fatalf("expected an empty input with outLen 0 to succeed, got %v", err)
	}
	if _, err := decompressLZO1X(nil, 4); err == nil {
		t.Fatalf("expected an error decompressing empty input with a non-zero expected length")
	}
}

func TestDecompressLZO1XTruncatedLiteralRun(t *testing.T) {
	// Declares an 11-byte literal run (28-17) but supplies none of it.
	src := []byte{28}
	if _, err := decompressLZO1X(src, 11); err == nil {
		t.Fatalf("expected an error decompressing a truncated literal run")
	}
}

func TestDecompressLZO1XLengthMismatch(t *testing.T) {
	src := []byte{28, 'h', 'e', 'l', 'l', 'o', ' ', 'w', 'o', 'r', 'l', 'd', 0x11, 0x00, 0x00}
	if _, err := decompressLZO1X(src, 5); err == nil {
		t.Fatalf("expected an error when the decompressed length does not match the declared length")
	}
}
