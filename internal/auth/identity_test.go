package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jogardn/creperie/internal/apperr"
	"github.com/jogardn/creperie/internal/circuitbreaker"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProject = "creperie-kinder-5"

type googleCerts struct {
	key     *rsa.PrivateKey
	server  *httptest.Server
	fetches atomic.Int32
}

func newGoogleCerts(t *testing.T) *googleCerts {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "securetoken.system.gserviceaccount.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	certPEM := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))

	g := &googleCerts{key: key}
	g.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.fetches.Add(1)
		w.Header().Set("Cache-Control", "public, max-age=3600, must-revalidate")
		json.NewEncoder(w).Encode(map[string]string{"kid-1": certPEM})
	}))
	t.Cleanup(g.server.Close)
	return g
}

func (g *googleCerts) sign(t *testing.T, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(g.key)
	require.NoError(t, err)
	return s
}

func validClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   "https://securetoken.google.com/" + testProject,
		"aud":   testProject,
		"sub":   "firebase-uid-1",
		"email": "Yacine@Example.com",
		"name":  "Yacine B.",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
}

func TestFirebaseVerify(t *testing.T) {
	g := newGoogleCerts(t)
	v := NewFirebaseVerifier(testProject, g.server.URL, g.server.Client(), nil)

	id, err := v.Verify(context.Background(), g.sign(t, "kid-1", validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "yacine@example.com", id.Email)
	assert.Equal(t, "Yacine B.", id.DisplayName)

	_, err = v.Verify(context.Background(), g.sign(t, "kid-1", validClaims()))
	require.NoError(t, err)
	assert.Equal(t, int32(1), g.fetches.Load(), "certificates are cached for max-age")
}

func TestFirebaseRejects(t *testing.T) {
	g := newGoogleCerts(t)
	v := NewFirebaseVerifier(testProject, g.server.URL, g.server.Client(), nil)

	tests := []struct {
		name   string
		kid    string
		mutate func(jwt.MapClaims)
	}{
		{"wrong_audience", "kid-1", func(c jwt.MapClaims) { c["aud"] = "another-project" }},
		{"wrong_issuer", "kid-1", func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" }},
		{"expired", "kid-1", func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Minute).Unix() }},
		{"unknown_key", "kid-9", func(jwt.MapClaims) {}},
		{"no_email", "kid-1", func(c jwt.MapClaims) { delete(c, "email") }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			claims := validClaims()
			tc.mutate(claims)
			_, err := v.Verify(context.Background(), g.sign(t, tc.kid, claims))
			assert.ErrorIs(t, err, ErrInvalidToken)
			assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
		})
	}

	_, err := v.Verify(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestFirebaseCertOutageIsNotInvalidToken(t *testing.T) {
	g := newGoogleCerts(t)
	token := g.sign(t, "kid-1", validClaims())
	g.server.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "firebase", MaxFailures: 1, IsFailure: IsProviderFailure}, logger)
	v := NewFirebaseVerifier(testProject, g.server.URL, nil, breaker)

	_, err := v.Verify(context.Background(), token)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())
}

func TestSupabaseVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/user", r.URL.Path)
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			w.Write([]byte(`{"id":"u1","email":"Lina@Example.com","user_metadata":{"full_name":"Lina K."}}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"msg":"invalid JWT"}`))
		}
	}))
	defer srv.Close()

	v := NewSupabaseVerifier(srv.URL+"/", "anon-key", srv.Client(), nil)

	id, err := v.Verify(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, Identity{Email: "lina@example.com", DisplayName: "Lina K."}, id)

	_, err = v.Verify(context.Background(), "forged")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSupabaseRejectedTokensKeepBreakerClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "supabase", MaxFailures: 1, IsFailure: IsProviderFailure}, logger)
	v := NewSupabaseVerifier(srv.URL, "anon-key", srv.Client(), breaker)

	for i := 0; i < 3; i++ {
		_, err := v.Verify(context.Background(), "forged")
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())
}

func TestMaxAge(t *testing.T) {
	assert.Equal(t, 19000*time.Second, maxAge("public, max-age=19000, must-revalidate", time.Hour))
	assert.Equal(t, time.Hour, maxAge("no-cache", time.Hour))
}
