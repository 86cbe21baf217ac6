package usertoken

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultIssuer   = "docuchat-auth"
	defaultAudience = "docuchat-api"
	defaultTTL      = 24 * time.Hour
	defaultLeeway   = 30 * time.Second
	defaultKeyID    = "user-active"
)

// Signer issues RS256 access tokens whose subject is a user id.
type Signer struct {
	issuer   string
	audience string
	ttl      time.Duration
	key      *rsa.PrivateKey
	kid      string
}

// SignerOptions configures access-token signing.
type SignerOptions struct {
	PrivateKeyPath string
	PrivateKey     *rsa.PrivateKey
	KeyID          string
	Issuer         string
	Audience       string
	TTL            time.Duration
}

// NewSigner creates a signer from a PEM file or an in-memory key.
func NewSigner(opts SignerOptions) (*Signer, error) {
	key := opts.PrivateKey
	if key == nil {
		path := strings.TrimSpace(opts.PrivateKeyPath)
		if path == "" {
			return nil, errors.New("user token private key is required")
		}
		loaded, err := loadRSAPrivateKeyFromPEMFile(path)
		if err != nil {
			return nil, fmt.Errorf("load user token private key: %w", err)
		}
		key = loaded
	}
	issuer := strings.TrimSpace(opts.Issuer)
	if issuer == "" {
		issuer = defaultIssuer
	}
	audience := strings.TrimSpace(opts.Audience)
	if audience == "" {
		audience = defaultAudience
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	kid := strings.TrimSpace(opts.KeyID)
	if kid == "" {
		kid = defaultKeyID
	}
	return &Signer{issuer: issuer, audience: audience, ttl: ttl, key: key, kid: kid}, nil
}

// Sign issues a token for the given user id.
func (s *Signer) Sign(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("user id is required")
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   userID,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}

// Verifier validates access tokens and extracts the subject user id.
type Verifier struct {
	issuer   string
	audience string
	leeway   time.Duration
	keys     map[string]*rsa.PublicKey
}

// VerifierOptions configures access-token verification.
// VerifyKeyPaths maps kid -> public key PEM path and can include previous
// keys so rotation does not invalidate tokens in flight.
type VerifierOptions struct {
	PublicKeyPath  string
	PublicKey      *rsa.PublicKey
	KeyID          string
	VerifyKeyPaths map[string]string
	Issuer         string
	Audience       string
	Leeway         time.Duration
}

// NewVerifier creates a token verifier.
func NewVerifier(opts VerifierOptions) (*Verifier, error) {
	kid := strings.TrimSpace(opts.KeyID)
	if kid == "" {
		kid = defaultKeyID
	}
	keys := make(map[string]*rsa.PublicKey)
	if opts.PublicKey != nil {
		keys[kid] = opts.PublicKey
	} else if path := strings.TrimSpace(opts.PublicKeyPath); path != "" {
		pub, err := loadRSAPublicKeyFromPEMFile(path)
		if err != nil {
			return nil, fmt.Errorf("load user token public key: %w", err)
		}
		keys[kid] = pub
	}
	for extraKid, path := range opts.VerifyKeyPaths {
		extraKid = strings.TrimSpace(extraKid)
		path = strings.TrimSpace(path)
		if extraKid == "" || path == "" {
			continue
		}
		pub, err := loadRSAPublicKeyFromPEMFile(path)
		if err != nil {
			return nil, fmt.Errorf("load verify key %q: %w", extraKid, err)
		}
		keys[extraKid] = pub
	}
	if len(keys) == 0 {
		return nil, errors.New("user token verifier requires an rsa public key")
	}
	issuer := strings.TrimSpace(opts.Issuer)
	if issuer == "" {
		issuer = defaultIssuer
	}
	audience := strings.TrimSpace(opts.Audience)
	if audience == "" {
		audience = defaultAudience
	}
	leeway := opts.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	return &Verifier{issuer: issuer, audience: audience, leeway: leeway, keys: keys}, nil
}

// VerifySubject validates the token and returns the subject user id.
func (v *Verifier) VerifySubject(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("token required")
	}
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		kid = strings.TrimSpace(kid)
		if kid == "" {
			return nil, errors.New("token key id required")
		}
		pub, ok := v.keys[kid]
		if !ok {
			return nil, errors.New("unknown token key")
		}
		return pub, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return "", err
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", errors.New("token subject missing")
	}
	return subject, nil
}

// BearerToken extracts a bearer token from the request header.
func BearerToken(r *http.Request) (string, bool) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func loadRSAPrivateKeyFromPEMFile(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	if pkcs1, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return pkcs1, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	privateKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not rsa")
	}
	return privateKey, nil
}

func loadRSAPublicKeyFromPEMFile(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	if pkcs1, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return pkcs1, nil
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	publicKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not rsa")
	}
	return publicKey, nil
}
