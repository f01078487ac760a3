package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/jogardn/creperie/internal/httpx"
	"github.com/jogardn/creperie/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*mux.Router, *Service) {
	t.Helper()
	svc, _ := newTestService(t)
	logger := quietLogger()
	r := mux.NewRouter()
	NewHandler(svc, NewMiddleware(svc, logger), time.Hour, false, logger).RegisterRoutes(r)
	return r, svc
}

func do(r http.Handler, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decodeAuth(t *testing.T, rr *httptest.ResponseRecorder) AuthResponse {
	t.Helper()
	var resp AuthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestRegisterSetsSessionCookie(t *testing.T) {
	r, _ := newTestRouter(t)

	rr := do(r, http.MethodPost, "/api/auth/register", RegisterRequest{
		Email: "amel@example.com", Password: "crepes-au-sucre", Name: "Amel",
	}, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	resp := decodeAuth(t, rr)
	assert.True(t, resp.Success)
	assert.Equal(t, models.RoleClient, resp.User.Role)
	assert.NotContains(t, rr.Body.String(), "password")

	var sid *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == SessionCookie {
			sid = c
		}
	}
	require.NotNil(t, sid)
	assert.Equal(t, resp.Token, sid.Value)
	assert.True(t, sid.HttpOnly)
	assert.Equal(t, 3600, sid.MaxAge)

	me := do(r, http.MethodGet, "/api/auth/me", nil, sid.Value)
	require.Equal(t, http.StatusOK, me.Code)
	assert.Equal(t, "amel@example.com", decodeAuth(t, me).User.Email)
}

func TestBearerTokenAccepted(t *testing.T) {
	r, _ := newTestRouter(t)
	rr := do(r, http.MethodPost, "/api/auth/register", RegisterRequest{
		Email: "amel@example.com", Password: "crepes-au-sucre", Name: "Amel",
	}, "")
	token := decodeAuth(t, rr).Token

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	me := httptest.NewRecorder()
	r.ServeHTTP(me, req)
	assert.Equal(t, http.StatusOK, me.Code)
}

func TestLoginFailures(t *testing.T) {
	r, _ := newTestRouter(t)
	do(r, http.MethodPost, "/api/auth/register", RegisterRequest{
		Email: "amel@example.com", Password: "crepes-au-sucre", Name: "Amel",
	}, "")

	rr := do(r, http.MethodPost, "/api/auth/login", LoginRequest{Email: "amel@example.com", Password: "nope-nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(r, http.MethodPost, "/api/auth/login", map[string]string{"email": "not-an-email"}, "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	var body httpx.ErrorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Contains(t, body.Fields, "email")
	assert.Contains(t, body.Fields, "password")
}

func TestMeRequiresSession(t *testing.T) {
	r, _ := newTestRouter(t)

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/auth/me", nil, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/auth/me", nil, "stale-token").Code)
}

func TestLogoutClearsCookie(t *testing.T) {
	r, _ := newTestRouter(t)
	token := decodeAuth(t, do(r, http.MethodPost, "/api/auth/register", RegisterRequest{
		Email: "amel@example.com", Password: "crepes-au-sucre", Name: "Amel",
	}, "")).Token

	rr := do(r, http.MethodPost, "/api/auth/logout", nil, token)
	require.Equal(t, http.StatusOK, rr.Code)
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/auth/me", nil, token).Code)
}

func TestUserAdministrationIsOwnerOnly(t *testing.T) {
	r, _ := newTestRouter(t)

	client := decodeAuth(t, do(r, http.MethodPost, "/api/auth/register", RegisterRequest{
		Email: "karim@example.com", Password: "livraison-rapide", Name: "Karim",
	}, ""))
	owner := decodeAuth(t, do(r, http.MethodPost, "/api/auth/register", RegisterRequest{
		Email: ownerEmail, Password: "galette-complete", Name: "Patron",
	}, ""))
	require.Equal(t, models.RoleOwner, owner.User.Role)

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/users", nil, "").Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/api/users", nil, client.Token).Code)

	rr := do(r, http.MethodGet, "/api/users", nil, owner.Token)
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Users []models.Actor `json:"users"`
		Count int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)

	path := "/api/users/" + strconv.FormatInt(client.User.ID, 10)
	rr = do(r, http.MethodPatch, path, map[string]string{"role": "livreur"}, owner.Token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, models.RoleLivreur, decodeAuth(t, rr).User.Role)

	rr = do(r, http.MethodPatch, path, map[string]string{"role": "owner"}, owner.Token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(r, http.MethodPatch, "/api/users/abc", map[string]string{"role": "livreur"}, owner.Token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(r, http.MethodPatch, "/api/users/999", map[string]string{"role": "livreur"}, owner.Token)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestExternalLoginEndpoints(t *testing.T) {
	r, svc := newTestRouter(t)
	svc.RegisterProvider("firebase", fakeVerifier{identity: Identity{Email: "nour@example.com", DisplayName: "Nour"}})

	rr := do(r, http.MethodPost, "/api/auth/firebase-login", map[string]string{"idToken": "tok"}, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Nour", decodeAuth(t, rr).User.Name)

	rr = do(r, http.MethodPost, "/api/auth/firebase-login", map[string]string{}, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(r, http.MethodPost, "/api/auth/oauth/callback", map[string]string{"accessToken": "tok"}, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code, "supabase is not configured")
}
