package dpop

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return key
}

const (
	method = "POST"
	url    = "https://palioxis-server:8443/"
)

func TestGenerateVerifyHappyPath(t *testing.T) {
	key := testKey(t)

	token, err := Generate(key, method, url)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	claims, verr := Verify(token, method, url, &key.PublicKey, nil)
	if verr != nil {
		t.Fatalf("Verify: %v", verr)
	}
	if claims.Method != method || claims.URL != url {
		t.Errorf("claims = %+v, want method=%s url=%s", claims, method, url)
	}
}

func TestVerifyRejectsKeyMismatch(t *testing.T) {
	signer := testKey(t)
	peer := testKey(t)

	token, err := Generate(signer, method, url)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	_, verr := Verify(token, method, url, &peer.PublicKey, nil)
	if verr == nil {
		t.Fatal("expected verification to fail on key mismatch")
	}
	if verr.Reason != ReasonKeyMismatch {
		t.Errorf("Reason = %v, want %v", verr.Reason, ReasonKeyMismatch)
	}
}

func TestVerifyRejectsMethodMismatch(t *testing.T) {
	key := testKey(t)
	token, err := Generate(key, method, url)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	_, verr := Verify(token, "GET", url, &key.PublicKey, nil)
	if verr == nil || verr.Reason != ReasonMethodMismatch {
		t.Fatalf("expected ReasonMethodMismatch, got %v", verr)
	}
}

func TestVerifyRejectsURLMismatch(t *testing.T) {
	key := testKey(t)
	token, err := Generate(key, method, url)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	_, verr := Verify(token, method, "https://palioxis-server:8443/other", &key.PublicKey, nil)
	if verr == nil || verr.Reason != ReasonURLMismatch {
		t.Fatalf("expected ReasonURLMismatch, got %v", verr)
	}
}

func TestVerifyRejectsMissingToken(t *testing.T) {
	key := testKey(t)
	_, verr := Verify("", method, url, &key.PublicKey, nil)
	if verr == nil || verr.Reason != ReasonMissingToken {
		t.Fatalf("expected ReasonMissingToken, got %v", verr)
	}
}

func TestVerifyRejectsStaleIat(t *testing.T) {
	key := testKey(t)

	claims := Claims{
		IssuedAt: time.Now().Add(-10 * time.Minute).Unix(),
		ID:       "stale-jti",
		Method:   method,
		URL:      url,
	}
	token, err := GenerateWithClaims(key, claims)
	if err != nil {
		t.Fatalf("GenerateWithClaims: %v", err)
	}

	_, verr := Verify(token, method, url, &key.PublicKey, nil)
	if verr == nil || verr.Reason != ReasonStaleIat {
		t.Fatalf("expected ReasonStaleIat, got %v", verr)
	}
}

func TestVerifyRejectsReplayedJTI(t *testing.T) {
	key := testKey(t)
	token, err := Generate(key, method, url)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	cache := NewReplayCache()
	if _, verr := Verify(token, method, url, &key.PublicKey, cache); verr != nil {
		t.Fatalf("first Verify should succeed: %v", verr)
	}
	_, verr := Verify(token, method, url, &key.PublicKey, cache)
	if verr == nil || verr.Reason != ReasonReplay {
		t.Fatalf("expected ReasonReplay on second use, got %v", verr)
	}
}

func TestVerifyNilReplayCacheAllowsReuse(t *testing.T) {
	key := testKey(t)
	token, err := Generate(key, method, url)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if _, verr := Verify(token, method, url, &key.PublicKey, nil); verr != nil {
		t.Fatalf("first Verify: %v", verr)
	}
	if _, verr := Verify(token, method, url, &key.PublicKey, nil); verr != nil {
		t.Fatalf("second Verify with nil cache should still succeed, got %v", verr)
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	key := testKey(t)
	token, err := Generate(key, method, url)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	tampered := token[:len(token)-4] + "abcd"
	_, verr := Verify(tampered, method, url, &key.PublicKey, nil)
	if verr == nil {
		t.Fatal("expected tampered signature to fail verification")
	}
}

func TestJWKRoundTripRSA(t *testing.T) {
	key := testKey(t)
	j, err := jwkFromPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("jwkFromPublicKey: %v", err)
	}
	pub, err := publicKeyFromJWK(j)
	if err != nil {
		t.Fatalf("publicKeyFromJWK: %v", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		t.Fatalf("publicKeyFromJWK returned %T, want *rsa.PublicKey", pub)
	}
	if rsaPub.E != key.PublicKey.E || rsaPub.N.Cmp(key.PublicKey.N) != 0 {
		t.Error("round-tripped RSA public key does not match original")
	}
}

func TestReplayCachePrunesStaleEntries(t *testing.T) {
	cache := NewReplayCache()
	base := time.Now()

	if cache.Seen("a", base) {
		t.Fatal("first sighting of a should report false")
	}
	later := base.Add(FreshnessWindow + time.Second)
	if cache.Seen("a", later) {
		t.Fatal("entry older than the freshness window should have been pruned")
	}
}
