package credential

import "testing"

func TestHashAndVerify(t *testing.T) {
	hash, salt, err := Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash == "" || salt == "" {
		t.Fatalf("expected non-empty hash and salt")
	}
	if !Verify("correct horse battery staple", hash, salt) {
		t.Fatalf("expected verification to succeed")
	}
	if Verify("correct horse battery stapl", hash, salt) {
		t.Fatalf("truncated password must not verify")
	}
	if Verify("Correct horse battery staple", hash, salt) {
		t.Fatalf("case-flipped password must not verify")
	}
	if Verify("", hash, salt) {
		t.Fatalf("empty password must not verify")
	}
}

func TestHashRejectsEmptyPassword(t *testing.T) {
	if _, _, err := Hash(""); err == nil {
		t.Fatalf("expected error for empty password")
	}
}

func TestVerifyMalformedInputs(t *testing.T) {
	hash, salt, err := Hash("secret")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if Verify("secret", "not base64!!", salt) {
		t.Fatalf("malformed hash must not verify")
	}
	if Verify("secret", hash, "not base64!!") {
		t.Fatalf("malformed salt must not verify")
	}
	if Verify("secret", hash[:len(hash)-4], salt) {
		t.Fatalf("truncated hash must not verify")
	}
}

func TestSaltUniqueness(t *testing.T) {
	// Collision probability over 256-bit salts is negligible; any
	// repeat indicates a broken randomness source.
	const rounds = 10000
	seen := make(map[string]struct{}, rounds)
	for i := 0; i < rounds; i++ {
		salt, err := newSalt()
		if err != nil {
			t.Fatalf("newSalt: %v", err)
		}
		key := string(salt)
		if _, dup := seen[key]; dup {
			t.Fatalf("salt repeated after %d rounds", i)
		}
		seen[key] = struct{}{}
	}
}

func TestSameSaltSameHash(t *testing.T) {
	hash, salt, err := Hash("deterministic check")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !Verify("deterministic check", hash, salt) {
		t.Fatalf("stored pair must verify")
	}
	hash2, salt2, err := Hash("deterministic check")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if salt == salt2 || hash == hash2 {
		t.Fatalf("fresh call must generate a fresh salt and hash")
	}
}
