package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/atonlab/iam"
	"github.com/atonlab/iam/internal/memstore"
	"github.com/atonlab/iam/password"
	"github.com/atonlab/iam/session"
)

const (
	testAccessKey = "ak-test"
	testSecretKey = "sk-test"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := logrus.New()

	cfg := iam.Config{
		Session: iam.SessionConfig{
			ExpiresIn: time.Hour,
			Token:     iam.TokenConfig{Secret: "test-secret"},
		},
		Password: password.Config{
			Memory:      8 * 1024,
			Time:        1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   16,
		},
		Logger: logger,
	}
	engine, err := iam.New(cfg, memstore.New().Stores(), session.NewStore(client, "iam"), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(engine.Close)

	srv := NewServer(engine, Config{
		Keys: iam.KeysConfig{AccessKey: testAccessKey, SecretKey: testSecretKey},
	}, logger)
	return srv.Router()
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func sidCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == SIDCookie {
			return c
		}
	}
	t.Fatal("no sid cookie in response")
	return nil
}

func TestSignUpSignInSessionRoundTrip(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/signUp/username",
		`{"username":"alice","password":"hunter2-hunter2"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("sign-up status = %d, body %s", w.Code, w.Body)
	}
	if strings.Contains(w.Body.String(), "pwdHash") || strings.Contains(w.Body.String(), "salt") {
		t.Fatalf("sign-up response leaks credential material: %s", w.Body)
	}

	w = doJSON(t, router, http.MethodPost, "/api/signIn/username",
		`{"username":"alice","password":"hunter2-hunter2"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sign-in status = %d, body %s", w.Code, w.Body)
	}
	cookie := sidCookie(t, w)

	var res iam.SignInResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode sign-in result: %v", err)
	}
	if res.Token == "" || res.SID != cookie.Value {
		t.Fatalf("inconsistent sign-in result: %+v, cookie %q", res, cookie.Value)
	}

	// Session via cookie.
	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("session via cookie = %d, body %s", w.Code, w.Body)
	}

	// Session via bearer token.
	w = doJSON(t, router, http.MethodGet, "/api/session", "",
		http.Header{"Authorization": []string{"Bearer " + res.Token}})
	if w.Code != http.StatusOK {
		t.Fatalf("session via bearer = %d, body %s", w.Code, w.Body)
	}

	var state iam.UserState
	if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.ID == "" {
		t.Fatalf("empty session state: %s", w.Body)
	}
}

func TestRejectionsAreGeneric(t *testing.T) {
	router := newTestRouter(t)

	doJSON(t, router, http.MethodPost, "/api/signUp/username",
		`{"username":"alice","password":"hunter2-hunter2"}`, nil)

	w := doJSON(t, router, http.MethodPost, "/api/signIn/username",
		`{"username":"alice","password":"wrong-password"}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "credentials") || strings.Contains(w.Body.String(), "blocked") {
		t.Fatalf("response leaks internal reason: %s", w.Body)
	}

	w = doJSON(t, router, http.MethodGet, "/api/session", "",
		http.Header{"Authorization": []string{"Bearer garbage"}})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("garbage bearer status = %d", w.Code)
	}

	w = doJSON(t, router, http.MethodPost, "/api/signUp/username",
		`{"username":"alice","password":"another-pw-123"}`, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate username status = %d", w.Code)
	}
}

func TestAdminSurfaceRequiresServiceKeys(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/admin/users", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("keyless admin call = %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/admin/users", "", http.Header{
		"X-Access-Key": []string{testAccessKey},
		"X-Secret-Key": []string{"wrong"},
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret admin call = %d", w.Code)
	}

	keys := http.Header{
		"X-Access-Key": []string{testAccessKey},
		"X-Secret-Key": []string{testSecretKey},
	}
	w = doJSON(t, router, http.MethodPost, "/admin/users",
		`{"username":"bob","password":"hunter2-hunter2"}`, keys)
	if w.Code != http.StatusCreated {
		t.Fatalf("create user = %d, body %s", w.Code, w.Body)
	}

	w = doJSON(t, router, http.MethodGet, "/admin/users", "", keys)
	if w.Code != http.StatusOK {
		t.Fatalf("list users = %d, body %s", w.Code, w.Body)
	}
	if !strings.Contains(w.Body.String(), `"bob"`) {
		t.Fatalf("listing missing created user: %s", w.Body)
	}
}

func TestAdminEndpointsEnforcePermissions(t *testing.T) {
	router := newTestRouter(t)
	keys := http.Header{
		"X-Access-Key": []string{testAccessKey},
		"X-Secret-Key": []string{testSecretKey},
	}

	// An operator holding only get_users.
	w := doJSON(t, router, http.MethodPost, "/admin/users",
		`{"username":"carol","password":"hunter2-hunter2","permissions":["get_users"]}`, keys)
	if w.Code != http.StatusCreated {
		t.Fatalf("create operator = %d, body %s", w.Code, w.Body)
	}

	w = doJSON(t, router, http.MethodPost, "/api/signIn/username",
		`{"username":"carol","password":"hunter2-hunter2"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("operator sign-in = %d, body %s", w.Code, w.Body)
	}
	var res iam.SignInResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode sign-in result: %v", err)
	}
	bearer := http.Header{"Authorization": []string{"Bearer " + res.Token}}

	// The held permission opens its endpoint.
	w = doJSON(t, router, http.MethodGet, "/admin/users", "", bearer)
	if w.Code != http.StatusOK {
		t.Fatalf("list users with get_users = %d, body %s", w.Code, w.Body)
	}

	// Everything else stays closed.
	w = doJSON(t, router, http.MethodPost, "/admin/users",
		`{"username":"mallory","password":"hunter2-hunter2"}`, bearer)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("create user without create_user = %d", w.Code)
	}
	w = doJSON(t, router, http.MethodPost, "/admin/permissions", `{"name":"p1"}`, bearer)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("create permission without manage_permissions = %d", w.Code)
	}
	w = doJSON(t, router, http.MethodGet, "/admin/sessions/objects/whatever", "", bearer)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("session-store read without sensitive_access = %d", w.Code)
	}

	// Service keys pass every guard.
	w = doJSON(t, router, http.MethodPost, "/admin/permissions", `{"name":"p1"}`, keys)
	if w.Code != http.StatusCreated {
		t.Fatalf("create permission with keys = %d, body %s", w.Code, w.Body)
	}
}

func TestSessionStoreAdminEndpoints(t *testing.T) {
	router := newTestRouter(t)
	keys := http.Header{
		"X-Access-Key": []string{testAccessKey},
		"X-Secret-Key": []string{testSecretKey},
	}

	w := doJSON(t, router, http.MethodPut, "/admin/sessions/objects/svc-1",
		`{"value":{"id":"svc-1","permissions":["get_users"]},"ttlSeconds":60}`, keys)
	if w.Code != http.StatusNoContent {
		t.Fatalf("put object = %d, body %s", w.Code, w.Body)
	}

	w = doJSON(t, router, http.MethodGet, "/admin/sessions/objects/svc-1", "", keys)
	if w.Code != http.StatusOK {
		t.Fatalf("get object = %d, body %s", w.Code, w.Body)
	}
	if !strings.Contains(w.Body.String(), `"svc-1"`) {
		t.Fatalf("object payload missing: %s", w.Body)
	}

	w = doJSON(t, router, http.MethodPost, "/admin/sessions/sids",
		`{"key":"svc-1","ttlSeconds":60}`, keys)
	if w.Code != http.StatusCreated {
		t.Fatalf("create sid = %d, body %s", w.Code, w.Body)
	}
	var minted struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &minted); err != nil || minted.SID == "" {
		t.Fatalf("decode sid response %s: %v", w.Body, err)
	}

	w = doJSON(t, router, http.MethodGet, "/admin/sessions/sids/"+minted.SID, "", keys)
	if w.Code != http.StatusOK {
		t.Fatalf("get by sid = %d, body %s", w.Code, w.Body)
	}

	w = doJSON(t, router, http.MethodDelete, "/admin/sessions/objects/svc-1", "", keys)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete object = %d, body %s", w.Code, w.Body)
	}
	w = doJSON(t, router, http.MethodGet, "/admin/sessions/objects/svc-1", "", keys)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get deleted object = %d", w.Code)
	}
	w = doJSON(t, router, http.MethodGet, "/admin/sessions/sids/"+minted.SID, "", keys)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get dangling sid = %d", w.Code)
	}

	w = doJSON(t, router, http.MethodDelete, "/admin/sessions/sids/"+minted.SID, "", keys)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete sid = %d, body %s", w.Code, w.Body)
	}
}

func TestSignOutClearsCookieAndSession(t *testing.T) {
	router := newTestRouter(t)

	doJSON(t, router, http.MethodPost, "/api/signUp/username",
		`{"username":"alice","password":"hunter2-hunter2"}`, nil)
	w := doJSON(t, router, http.MethodPost, "/api/signIn/username",
		`{"username":"alice","password":"hunter2-hunter2"}`, nil)
	cookie := sidCookie(t, w)

	req := httptest.NewRequest(http.MethodPost, "/api/signOut", nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("sign-out = %d, body %s", w.Code, w.Body)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("session after sign-out = %d", w.Code)
	}
}
