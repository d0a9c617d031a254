package hash

import "testing"

func TestHashPasswordRoundTrip(t *testing.T) {
	hashed, err := HashPassword("s3cret-password")
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	if hashed == "s3cret-password" {
		t.Fatal("HashPassword must not return the plaintext")
	}

	if !CheckPasswordHash("s3cret-password", hashed) {
		t.Error("CheckPasswordHash should accept the original password")
	}
	if CheckPasswordHash("wrong-password", hashed) {
		t.Error("CheckPasswordHash should reject a wrong password")
	}
}

func TestCheckPasswordHashGarbage(t *testing.T) {
	if CheckPasswordHash("anything", "not-a-bcrypt-hash") {
		t.Error("CheckPasswordHash should reject a malformed hash")
	}
}
