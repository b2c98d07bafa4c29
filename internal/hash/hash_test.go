package hash

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"testing"
)

func TestCalculateHash_SHA256(t *testing.T) {
	content := []byte("hello world")
	tmpFile, _ := os.CreateTemp("", "hash_test")
	defer os.Remove(tmpFile.Name())
	tmpFile.Write(content)
	tmpFile.Close()

	expected := sha256.Sum256(content)
	expectedStr := hex.EncodeToString(expected[:])

	actual, err := CalculateHash(tmpFile.Name(), SHA256)
	if err != nil {
		t.Fatalf("CalculateHash failed: %v", err)
	}
	if actual != expectedStr {
		t.Errorf("Expected %s, got %s", expectedStr, actual)
	}
}

func TestCalculateHash_MD5(t *testing.T) {
	content := []byte("hello world")
	tmpFile, _ := os.CreateTemp("", "hash_test")
	defer os.Remove(tmpFile.Name())
	tmpFile.Write(content)
	tmpFile.Close()

	expected := md5.Sum(content)
	expectedStr := hex.EncodeToString(expected[:])

	actual, err := CalculateHash(tmpFile.Name(), MD5)
	if err != nil {
		t.Fatalf("CalculateHash failed: %v", err)
	}
	if actual != expectedStr {
		t.Errorf("Expected %s, got %s", expectedStr, actual)
	}
}

func TestVerifier_MismatchDetection(t *testing.T) {
	content := []byte("hello world")
	tmpFile, _ := os.CreateTemp("", "hash_test")
	defer os.Remove(tmpFile.Name())
	tmpFile.Write(content)
	tmpFile.Close()

	v := NewVerifier()
	err := v.Verify(tmpFile.Name(), MD5, "wronghash")
	if err == nil {
		t.Error("Expected error for mismatching hash, got nil")
	}
}

func TestMurmur2Fingerprint_StripsWhitespace(t *testing.T) {
	a, _ := os.CreateTemp("", "murmur_a")
	defer os.Remove(a.Name())
	a.Write([]byte("abc def"))
	a.Close()

	b, _ := os.CreateTemp("", "murmur_b")
	defer os.Remove(b.Name())
	b.Write([]byte("abcdef"))
	b.Close()

	fa, err := Murmur2Fingerprint(a.Name())
	if err != nil {
		t.Fatalf("Murmur2Fingerprint failed: %v", err)
	}
	fb, err := Murmur2Fingerprint(b.Name())
	if err != nil {
		t.Fatalf("Murmur2Fingerprint failed: %v", err)
	}

	if fa != fb {
		t.Errorf("expected whitespace-stripped fingerprints to match: %d != %d", fa, fb)
	}
}
