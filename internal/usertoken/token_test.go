package usertoken

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"testing"
	"time"
)

func newKeyPair(t *testing.T) (*Signer, *Verifier) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	signer, err := NewSigner(SignerOptions{PrivateKey: key, TTL: time.Minute})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	verifier, err := NewVerifier(VerifierOptions{PublicKey: &key.PublicKey})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return signer, verifier
}

func TestSignAndVerifySubject(t *testing.T) {
	signer, verifier := newKeyPair(t)
	token, err := signer.Sign("user-42")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	subject, err := verifier.VerifySubject(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if subject != "user-42" {
		t.Fatalf("expected subject user-42, got %q", subject)
	}
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	signer, _ := newKeyPair(t)
	_, verifier := newKeyPair(t)
	token, err := signer.Sign("user-42")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verifier.VerifySubject(token); err == nil {
		t.Fatalf("token signed by a different key must be rejected")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	_, verifier := newKeyPair(t)
	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := verifier.VerifySubject(token); err == nil {
			t.Fatalf("token %q must be rejected", token)
		}
	}
}

func TestBearerToken(t *testing.T) {
	r, _ := http.NewRequest(http.MethodPost, "/chat", nil)
	if _, ok := BearerToken(r); ok {
		t.Fatalf("missing header should not yield a token")
	}
	r.Header.Set("Authorization", "Bearer  abc ")
	token, ok := BearerToken(r)
	if !ok || token != "abc" {
		t.Fatalf("expected token abc, got %q (ok=%v)", token, ok)
	}
	r.Header.Set("Authorization", "Basic abc")
	if _, ok := BearerToken(r); ok {
		t.Fatalf("non-bearer scheme should be rejected")
	}
}
