package jwks

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultTTL     = time.Hour
	minRefreshWait = 30 * time.Second
)

var ErrUnknownKey = errors.New("jwks: unknown kid")

type keySet struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// KeySet caches the public signing keys published at a JWKS endpoint.
type KeySet struct {
	url        string
	ttl        time.Duration
	httpClient *http.Client

	mu      sync.RWMutex
	cache   map[string]any
	fetched time.Time
	now     func() time.Time
}

// New returns a key set for url. Keys are fetched lazily.
func New(url string, client *http.Client) *KeySet {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &KeySet{
		url:        url,
		ttl:        defaultTTL,
		httpClient: client,
		cache:      make(map[string]any),
		now:        time.Now,
	}
}

// SupabaseURL is the JWKS endpoint of a Supabase project.
func SupabaseURL(projectURL string) string {
	base := strings.TrimRight(strings.TrimSpace(projectURL), "/")
	if base == "" {
		return ""
	}
	return base + "/auth/v1/.well-known/jwks.json"
}

// Key returns the public key for kid, refetching once when kid is unknown.
func (s *KeySet) Key(ctx context.Context, kid string) (any, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}
	if key, ok := s.lookup(kid); ok {
		return key, nil
	}
	s.mu.RLock()
	recent := s.now().Sub(s.fetched) < minRefreshWait
	s.mu.RUnlock()
	if recent {
		return nil, ErrUnknownKey
	}
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}
	if key, ok := s.lookup(kid); ok {
		return key, nil
	}
	return nil, ErrUnknownKey
}

func (s *KeySet) lookup(kid string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.cache[kid]
	return key, ok
}

func (s *KeySet) ensure(ctx context.Context) error {
	s.mu.RLock()
	fresh := s.now().Sub(s.fetched) < s.ttl && len(s.cache) > 0
	s.mu.RUnlock()
	if fresh {
		return nil
	}
	return s.refresh(ctx)
}

func (s *KeySet) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks: fetch returned %d", resp.StatusCode)
	}
	var set keySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return err
	}
	keys := make(map[string]any, len(set.Keys))
	for _, key := range set.Keys {
		pub, err := publicKey(key)
		if err != nil {
			continue
		}
		keys[key.Kid] = pub
	}
	s.mu.Lock()
	s.cache = keys
	s.fetched = s.now()
	s.mu.Unlock()
	return nil
}

func publicKey(key jwk) (any, error) {
	switch key.Kty {
	case "RSA":
		return rsaKeyFromJWK(key)
	case "EC":
		return ecKeyFromJWK(key)
	default:
		return nil, fmt.Errorf("jwks: unsupported kty %q", key.Kty)
	}
}

func rsaKeyFromJWK(key jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(key.N)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(key.E)
	if err != nil {
		return nil, err
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}
	if e == 0 {
		return nil, errors.New("jwks: invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}

func ecKeyFromJWK(key jwk) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch key.Crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	default:
		return nil, fmt.Errorf("jwks: unsupported curve %q", key.Crv)
	}
	xBytes, err := base64.RawURLEncoding.DecodeString(key.X)
	if err != nil {
		return nil, err
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(key.Y)
	if err != nil {
		return nil, err
	}
	return &ecdsa.PublicKey{Curve: curve, X: new(big.Int).SetBytes(xBytes), Y: new(big.Int).SetBytes(yBytes)}, nil
}
