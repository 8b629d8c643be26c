package eol

import (
	"bytes"
	"testing"
)

func TestNormalizeLF(t *testing.T) {
	in := []byte("line1\r\nline2\nline3\rline4")
	want := []byte("line1\nline2\nline3\nline4")
	if got := Normalize(in, LF); !bytes.Equal(got, want) {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestNormalizeCRLF(t *testing.T) {
	in := []byte("line1\r\nline2\nline3\r")
	want := []byte("line1\r\nline2\r\nline3\r\n")
	if got := Normalize(in, CRLF); !bytes.Equal(got, want) {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := [][]byte{
		[]byte("a\r\nb\rc\nd"),
		[]byte(""),
		[]byte("no terminators"),
		[]byte("\n\n\n"),
	}
	for _, mode := range []Mode{LF, CRLF, Keep} {
		for _, in := range inputs {
			once := Normalize(in, mode)
			twice := Normalize(once, mode)
			if !bytes.Equal(once, twice) {
				t.Fatalf("mode %s not idempotent for %q: %q vs %q", mode, in, once, twice)
			}
		}
	}
}

func TestNormalizeBinaryUntouched(t *testing.T) {
	in := []byte("bin\x00ary\r\ncontent")
	for _, mode := range []Mode{LF, CRLF, Keep} {
		if got := Normalize(in, mode); !bytes.Equal(got, in) {
			t.Fatalf("mode %s modified binary content", mode)
		}
	}
}

func TestFingerprintIgnoresLineEndings(t *testing.T) {
	a := Fingerprint("a.txt", []byte("hello\r\nworld\r\n"), LF)
	b := Fingerprint("a.txt", []byte("hello\nworld\n"), LF)
	if a != b {
		t.Fatalf("fingerprints differ: %s vs %s", a, b)
	}
	c := Fingerprint("a.txt", []byte("hello\nWORLD\n"), LF)
	if a == c {
		t.Fatal("different content produced the same fingerprint")
	}
}

func TestIsTextPath(t *testing.T) {
	if !IsTextPath("src/main.go") {
		t.Fatal("main.go should be text")
	}
	if !IsTextPath("Dockerfile") {
		t.Fatal("Dockerfile should be text")
	}
	if IsTextPath("photo.PNG") {
		t.Fatal("photo.PNG should be binary")
	}
	if IsTextPath("blob.bin") {
		t.Fatal("unknown extension should not be text by default")
	}
}

func TestParseMode(t *testing.T) {
	if ParseMode("LF") != LF || ParseMode("crlf") != CRLF || ParseMode("") != Keep || ParseMode("gibberish") != Keep {
		t.Fatal("ParseMode mapping broken")
	}
}
