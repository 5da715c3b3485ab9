package compress

import (
	"bytes"
	"testing"
)

func TestZstdRoundTrip(t *testing.T) {
	body := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 50)
	framed, err := Compress(Zstd, body)
	if err != nil {
		t.Fatalf("compress error: %v", err)
	}
	out, err := Decompress(framed)
	if err != nil {
		t.Fatalf("decompress error: %v", err)
	}
	if !bytes.Equal(out, body) {
		t.Fatal("round trip mismatch")
	}
}

func TestLZFRoundTrip(t *testing.T) {
	body := bytes.Repeat([]byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), 10)
	framed, err := Compress(LZF, body)
	if err != nil {
		t.Fatalf("compress error: %v", err)
	}
	out, err := Decompress(framed)
	if err != nil {
		t.Fatalf("decompress error: %v", err)
	}
	if !bytes.Equal(out, body) {
		t.Fatal("round trip mismatch")
	}
}

func TestDecompressRejectsShortFrame(t *testing.T) {
	if _, err := Decompress([]byte{1, 2}); err == nil {
		t.Fatal("expected error for too-short frame")
	}
}

func TestDecompressRejectsUnknownAlgorithm(t *testing.T) {
	framed := Wrap(Algorithm(99), 0, nil)
	if _, err := Decompress(framed); err == nil {
		t.Fatal("expected error for unknown algorithm")
	}
}
