// Package dpop implements DPoP-style proof-of-possession tokens bound
// to an mTLS client certificate's public key, per spec.md §4.4: a
// short-lived signed JWT whose header carries the presenter's public
// key, binding the HTTP method and URL of a single request, with an
// additional check that the embedded key matches the mTLS peer's key.
package dpop

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType is the fixed `typ` header claim required of every proof.
const TokenType = "dpop+jwt"

// FreshnessWindow is the maximum allowed clock skew between a proof's
// `iat` claim and the verifier's notion of now, per spec.md §4.4 step 5.
const FreshnessWindow = 300 * time.Second

// Claims is the DPoP payload: iat, jti, htm, htu.
type Claims struct {
	IssuedAt int64  `json:"iat"`
	ID       string `json:"jti"`
	Method   string `json:"htm"`
	URL      string `json:"htu"`
}

// GetExpirationTime, GetIssuedAt, GetNotBefore, GetIssuer, GetSubject,
// GetAudience satisfy jwt.Claims. DPoP proofs carry none of the
// standard time/audience claims beyond iat (validated separately, by
// hand, against the 300s freshness window), so every method returns a
// zero value and no error.
func (Claims) GetExpirationTime() (*jwt.NumericDate, error) { return nil, nil }
func (Claims) GetIssuedAt() (*jwt.NumericDate, error)       { return nil, nil }
func (Claims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (Claims) GetIssuer() (string, error)                   { return "", nil }
func (Claims) GetSubject() (string, error)                  { return "", nil }
func (Claims) GetAudience() (jwt.ClaimStrings, error)       { return nil, nil }

// jwk is the subset of JSON Web Key fields DPoP actually needs: RSA
// (kty=RSA, n, e) or EC P-256 (kty=EC, crv=P-256, x, y). Palioxis
// hand-builds/-reads this shape rather than depending on a full JWK
// library, mirroring the Python original's manual dict construction.
type jwk struct {
	Kty string `json:"kty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

func b64url(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func b64urlDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// jwkFromPublicKey converts an RSA or ECDSA (P-256) public key into the
// JWK shape DPoP embeds in its header.
func jwkFromPublicKey(pub crypto.PublicKey) (jwk, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		eBytes := big.NewInt(int64(k.E)).Bytes()
		return jwk{
			Kty: "RSA",
			N:   b64url(k.N.Bytes()),
			E:   b64url(eBytes),
		}, nil
	case *ecdsa.PublicKey:
		if k.Curve.Params().Name != "P-256" {
			return jwk{}, fmt.Errorf("dpop: unsupported EC curve %s", k.Curve.Params().Name)
		}
		size := (k.Curve.Params().BitSize + 7) / 8
		return jwk{
			Kty: "EC",
			Crv: "P-256",
			X:   b64url(padLeft(k.X.Bytes(), size)),
			Y:   b64url(padLeft(k.Y.Bytes(), size)),
		}, nil
	default:
		return jwk{}, fmt.Errorf("dpop: unsupported public key type %T", pub)
	}
}

// publicKeyFromJWK is the dual of jwkFromPublicKey: it materializes a
// crypto.PublicKey from the JWK embedded in a DPoP header.
func publicKeyFromJWK(j jwk) (crypto.PublicKey, error) {
	switch j.Kty {
	case "RSA":
		nBytes, err := b64urlDecode(j.N)
		if err != nil {
			return nil, fmt.Errorf("dpop: decode jwk.n: %w", err)
		}
		eBytes, err := b64urlDecode(j.E)
		if err != nil {
			return nil, fmt.Errorf("dpop: decode jwk.e: %w", err)
		}
		eBuf := make([]byte, 8)
		copy(eBuf[8-len(eBytes):], eBytes)
		return &rsa.PublicKey{
			N: new(big.Int).SetBytes(nBytes),
			E: int(binary.BigEndian.Uint64(eBuf)),
		}, nil
	case "EC":
		if j.Crv != "P-256" {
			return nil, fmt.Errorf("dpop: unsupported EC curve %s", j.Crv)
		}
		xBytes, err := b64urlDecode(j.X)
		if err != nil {
			return nil, fmt.Errorf("dpop: decode jwk.x: %w", err)
		}
		yBytes, err := b64urlDecode(j.Y)
		if err != nil {
			return nil, fmt.Errorf("dpop: decode jwk.y: %w", err)
		}
		return &ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(xBytes),
			Y:     new(big.Int).SetBytes(yBytes),
		}, nil
	default:
		return nil, fmt.Errorf("dpop: unsupported jwk.kty %q", j.Kty)
	}
}

func padLeft(b []byte, size int) []byte {
	if len(b) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

// subjectPublicKeyInfo returns the DER-encoded SubjectPublicKeyInfo of
// a public key, the representation spec.md §4.4 step 3 compares
// byte-for-byte.
func subjectPublicKeyInfo(pub crypto.PublicKey) ([]byte, error) {
	return x509.MarshalPKIXPublicKey(pub)
}

// Generate builds a DPoP proof for the given method/URL, signed by
// priv. This is the client-side dual of Verify, per spec.md §4.4's
// closing paragraph.
func Generate(priv crypto.Signer, method, url string) (string, error) {
	pub := priv.Public()
	j, err := jwkFromPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("dpop: build jwk: %w", err)
	}

	signingMethod, err := signingMethodFor(priv)
	if err != nil {
		return "", err
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("dpop: generate jti: %w", err)
	}

	claims := Claims{
		IssuedAt: time.Now().Unix(),
		ID:       id.String(),
		Method:   method,
		URL:      url,
	}

	return signClaimsWithMethod(priv, signingMethod, j, claims)
}

// GenerateWithClaims signs an arbitrary Claims value, bypassing the
// iat/jti defaults Generate applies. It exists for callers (chiefly
// tests elsewhere in this module) that need to construct a proof with
// claims Generate itself would never produce — a stale iat, a reused
// jti — in order to exercise Verify's rejection paths end to end.
func GenerateWithClaims(priv crypto.Signer, claims Claims) (string, error) {
	j, err := jwkFromPublicKey(priv.Public())
	if err != nil {
		return "", fmt.Errorf("dpop: build jwk: %w", err)
	}
	return signClaims(priv, j, claims)
}

// signClaims signs claims with priv's natural signing method, embedding
// j as the header's jwk. Split out from Generate so tests can construct
// proofs with claims Generate itself would never produce (e.g. a stale
// iat), to exercise Verify's validation paths.
func signClaims(priv crypto.Signer, j jwk, claims Claims) (string, error) {
	signingMethod, err := signingMethodFor(priv)
	if err != nil {
		return "", err
	}
	return signClaimsWithMethod(priv, signingMethod, j, claims)
}

func signClaimsWithMethod(priv crypto.Signer, signingMethod jwt.SigningMethod, j jwk, claims Claims) (string, error) {
	token := jwt.NewWithClaims(signingMethod, claims)
	token.Header["typ"] = TokenType
	token.Header["jwk"] = j

	signed, err := token.SignedString(priv)
	if err != nil {
		return "", fmt.Errorf("dpop: sign proof: %w", err)
	}
	return signed, nil
}

func signingMethodFor(priv crypto.Signer) (jwt.SigningMethod, error) {
	switch priv.(type) {
	case *rsa.PrivateKey:
		return jwt.SigningMethodRS256, nil
	case *ecdsa.PrivateKey:
		return jwt.SigningMethodES256, nil
	default:
		return nil, fmt.Errorf("dpop: unsupported private key type %T", priv)
	}
}

// Reason is a stable identifier for why verification failed, suitable
// for log lines (spec.md §8 scenario 4/5 reference "DpopInvalid/iat"
// style reasons).
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonMissingToken   Reason = "missing_token"
	ReasonHeader         Reason = "header"
	ReasonJWK            Reason = "jwk"
	ReasonKeyMismatch    Reason = "key_mismatch"
	ReasonSignature      Reason = "signature"
	ReasonMethodMismatch Reason = "htm"
	ReasonURLMismatch    Reason = "htu"
	ReasonStaleIat       Reason = "iat"
	ReasonReplay         Reason = "jti_replay"
)

// VerifyError wraps a Reason so callers can map it to the HTTP status
// and log line spec.md §7 requires.
type VerifyError struct {
	Reason Reason
	Err    error
}

func (e *VerifyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dpop: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("dpop: %s", e.Reason)
}

func (e *VerifyError) Unwrap() error { return e.Err }

func fail(reason Reason, err error) *VerifyError {
	return &VerifyError{Reason: reason, Err: err}
}

// ReplayCache is a bounded record of recently-seen jti values, the
// optional-but-recommended nonce/replay protection spec.md §4.4/§9
// calls out. Entries older than FreshnessWindow are pruned lazily on
// each Seen call, so the cache never grows past the set of proofs that
// could still be within the freshness window.
type ReplayCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewReplayCache returns an empty ReplayCache.
func NewReplayCache() *ReplayCache {
	return &ReplayCache{seen: make(map[string]time.Time)}
}

// Seen records jti and reports whether it had already been seen within
// the freshness window. A nil *ReplayCache is valid and always reports
// not-seen (replay protection becomes a no-op, per spec.md's "optional"
// wording).
func (c *ReplayCache) Seen(jti string, now time.Time) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, t := range c.seen {
		if now.Sub(t) > FreshnessWindow {
			delete(c.seen, id)
		}
	}

	if _, ok := c.seen[jti]; ok {
		return true
	}
	c.seen[jti] = now
	return false
}

// Verify implements the five-step algorithm of spec.md §4.4: decode the
// header without verifying, materialize a public key from the embedded
// jwk, compare its DER SubjectPublicKeyInfo against peerKey's, verify
// the signature, then validate htm/htu/iat/jti. replay may be nil to
// skip replay protection.
func Verify(token, expectedMethod, expectedURL string, peerKey crypto.PublicKey, replay *ReplayCache) (*Claims, *VerifyError) {
	if token == "" {
		return nil, fail(ReasonMissingToken, nil)
	}

	parser := jwt.NewParser()
	unverified, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, fail(ReasonHeader, err)
	}

	typ, _ := unverified.Header["typ"].(string)
	if typ != TokenType {
		return nil, fail(ReasonHeader, fmt.Errorf("unexpected typ %q", typ))
	}
	alg, _ := unverified.Header["alg"].(string)
	if alg != jwt.SigningMethodRS256.Alg() && alg != jwt.SigningMethodES256.Alg() {
		return nil, fail(ReasonHeader, fmt.Errorf("unsupported alg %q", alg))
	}

	jwkRaw, ok := unverified.Header["jwk"]
	if !ok {
		return nil, fail(ReasonJWK, fmt.Errorf("missing jwk header"))
	}
	j, err := decodeJWK(jwkRaw)
	if err != nil {
		return nil, fail(ReasonJWK, err)
	}

	dpopKey, err := publicKeyFromJWK(j)
	if err != nil {
		return nil, fail(ReasonJWK, err)
	}

	dpopSPKI, err := subjectPublicKeyInfo(dpopKey)
	if err != nil {
		return nil, fail(ReasonJWK, err)
	}
	peerSPKI, err := subjectPublicKeyInfo(peerKey)
	if err != nil {
		return nil, fail(ReasonKeyMismatch, err)
	}
	if !bytesEqual(dpopSPKI, peerSPKI) {
		return nil, fail(ReasonKeyMismatch, nil)
	}

	var claims Claims
	_, err = jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return dpopKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg(), jwt.SigningMethodES256.Alg()}))
	if err != nil {
		return nil, fail(ReasonSignature, err)
	}

	if claims.Method != expectedMethod {
		return nil, fail(ReasonMethodMismatch, nil)
	}
	if claims.URL != expectedURL {
		return nil, fail(ReasonURLMismatch, nil)
	}
	now := time.Now()
	iat := time.Unix(claims.IssuedAt, 0)
	skew := now.Sub(iat)
	if skew < 0 {
		skew = -skew
	}
	if skew >= FreshnessWindow {
		return nil, fail(ReasonStaleIat, fmt.Errorf("iat skew %s exceeds %s", skew, FreshnessWindow))
	}
	if claims.ID == "" {
		return nil, fail(ReasonReplay, fmt.Errorf("empty jti"))
	}
	if replay.Seen(claims.ID, now) {
		return nil, fail(ReasonReplay, fmt.Errorf("jti %s already used", claims.ID))
	}

	return &claims, nil
}

func decodeJWK(raw interface{}) (jwk, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return jwk{}, fmt.Errorf("jwk header is not an object")
	}
	get := func(k string) string {
		v, _ := m[k].(string)
		return v
	}
	return jwk{
		Kty: get("kty"),
		N:   get("n"),
		E:   get("e"),
		Crv: get("crv"),
		X:   get("x"),
		Y:   get("y"),
	}, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
