package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jogardn/creperie/internal/apperr"
	"github.com/jogardn/creperie/internal/circuitbreaker"
)

// ErrInvalidToken means the identity provider rejected the token. It is an
// authentication failure, not an outage.
var ErrInvalidToken = fmt.Errorf("invalid identity token: %w", apperr.ErrUnauthenticated)

// Identity is what a third-party provider vouches for. Roles are never taken from it.
type Identity struct {
	Email       string
	DisplayName string
}

type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// IsProviderFailure keeps rejected tokens from tripping an identity provider breaker.
func IsProviderFailure(err error) bool {
	return !errors.Is(err, ErrInvalidToken) && !errors.Is(err, context.Canceled)
}

func guarded(ctx context.Context, breaker *circuitbreaker.CircuitBreaker, fn func(context.Context) error) error {
	if breaker == nil {
		return fn(ctx)
	}
	return breaker.Execute(ctx, fn)
}

const GoogleCertsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

// FirebaseVerifier checks Firebase ID tokens: RS256 signatures against Google's
// published certificates, with issuer and audience bound to the project.
type FirebaseVerifier struct {
	projectID string
	certsURL  string
	client    *http.Client
	breaker   *circuitbreaker.CircuitBreaker
	now       func() time.Time

	mu      sync.Mutex
	keys    map[string]*rsa.PublicKey
	expires time.Time
}

type firebaseClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	jwt.RegisteredClaims
}

func NewFirebaseVerifier(projectID, certsURL string, client *http.Client, breaker *circuitbreaker.CircuitBreaker) *FirebaseVerifier {
	if certsURL == "" {
		certsURL = GoogleCertsURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &FirebaseVerifier{
		projectID: projectID,
		certsURL:  certsURL,
		client:    client,
		breaker:   breaker,
		now:       time.Now,
	}
}

func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	var fetchErr error
	claims := &firebaseClaims{}

	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) {
			kid, _ := t.Header["kid"].(string)
			key, err := v.key(ctx, kid)
			if err != nil {
				fetchErr = err
			}
			return key, err
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer("https://securetoken.google.com/"+v.projectID),
		jwt.WithAudience(v.projectID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if fetchErr != nil && !errors.Is(fetchErr, ErrInvalidToken) {
		return Identity{}, fetchErr
	}
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.Email == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject or email", ErrInvalidToken)
	}
	return Identity{Email: strings.ToLower(claims.Email), DisplayName: claims.Name}, nil
}

func (v *FirebaseVerifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.keys == nil || !v.now().Before(v.expires) {
		if err := guarded(ctx, v.breaker, v.refreshLocked); err != nil {
			return nil, err
		}
	}
	key, ok := v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: unknown key id %q", ErrInvalidToken, kid)
	}
	return key, nil
}

// refreshLocked downloads the certificate set and honours its Cache-Control max-age.
func (v *FirebaseVerifier) refreshLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.certsURL, nil)
	if err != nil {
		return fmt.Errorf("build certs request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch firebase certs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch firebase certs: status %d", resp.StatusCode)
	}

	var certs map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&certs); err != nil {
		return fmt.Errorf("decode firebase certs: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(certs))
	for kid, certPEM := range certs {
		block, _ := pem.Decode([]byte(certPEM))
		if block == nil {
			return fmt.Errorf("firebase cert %s: no PEM block", kid)
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return fmt.Errorf("firebase cert %s: %w", kid, err)
		}
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("firebase cert %s: not an RSA key", kid)
		}
		keys[kid] = pub
	}

	v.keys = keys
	v.expires = v.now().Add(maxAge(resp.Header.Get("Cache-Control"), time.Hour))
	return nil
}

func maxAge(cacheControl string, fallback time.Duration) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		if secs, ok := strings.CutPrefix(directive, "max-age="); ok {
			if n, err := strconv.Atoi(secs); err == nil && n > 0 {
				return time.Duration(n) * time.Second
			}
		}
	}
	return fallback
}

// SupabaseVerifier asks the Supabase auth API who owns an access token.
type SupabaseVerifier struct {
	baseURL string
	anonKey string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

func NewSupabaseVerifier(baseURL, anonKey string, client *http.Client, breaker *circuitbreaker.CircuitBreaker) *SupabaseVerifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SupabaseVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		client:  client,
		breaker: breaker,
	}
}

type supabaseUser struct {
	Email        string `json:"email"`
	UserMetadata struct {
		FullName string `json:"full_name"`
		Name     string `json:"name"`
	} `json:"user_metadata"`
}

func (v *SupabaseVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, fmt.Errorf("%w: empty access token", ErrInvalidToken)
	}

	var user supabaseUser
	err := guarded(ctx, v.breaker, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/auth/v1/user", nil)
		if err != nil {
			return fmt.Errorf("build supabase request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("apikey", v.anonKey)

		resp, err := v.client.Do(req)
		if err != nil {
			return fmt.Errorf("call supabase: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: supabase returned %d", ErrInvalidToken, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("supabase returned status %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
			return fmt.Errorf("decode supabase user: %w", err)
		}
		return nil
	})
	if err != nil {
		return Identity{}, err
	}
	if user.Email == "" {
		return Identity{}, fmt.Errorf("%w: supabase user has no email", ErrInvalidToken)
	}

	name := user.UserMetadata.FullName
	if name == "" {
		name = user.UserMetadata.Name
	}
	return Identity{Email: strings.ToLower(user.Email), DisplayName: name}, nil
}
