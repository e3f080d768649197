package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"

	"torrentgate/internal/auth"
	"torrentgate/internal/domain"
	"torrentgate/internal/domain/ports"
	"torrentgate/internal/gateway"
	"torrentgate/internal/repository/memory"
)

const apiHash = "0123456789ABCDEF0123456789ABCDEF01234567"

type fakeClient struct {
	views []domain.TorrentView
}

func (f *fakeClient) ListTorrents(context.Context, ports.ListOptions) ([]domain.TorrentView, error) {
	return f.views, nil
}

func (f *fakeClient) AddTorrentFile(context.Context, []byte, bool, int) error  { return nil }
func (f *fakeClient) AddMagnet(context.Context, string, bool, int) error       { return nil }
func (f *fakeClient) AddTorrentURL(context.Context, string, bool, int) error   { return nil }
func (f *fakeClient) Start(context.Context, string) error                      { return nil }
func (f *fakeClient) Stop(context.Context, string) error                       { return nil }
func (f *fakeClient) Erase(context.Context, string, bool) error                { return nil }
func (f *fakeClient) Files(context.Context, string) ([]domain.FileView, error) { return nil, nil }
func (f *fakeClient) SetPriority(context.Context, string, int) error           { return nil }
func (f *fakeClient) SetFilePriority(context.Context, string, int, int) error  { return nil }
func (f *fakeClient) SetLabels(context.Context, string, []string) error        { return nil }
func (f *fakeClient) Ping(context.Context) error                               { return nil }

type fakeFactory struct {
	clients map[string]*fakeClient
}

func (f *fakeFactory) Client(b domain.Backend) (ports.BackendClient, error) {
	c, ok := f.clients[b.ID]
	if !ok {
		return nil, errors.New("no client")
	}
	return c, nil
}

func (f *fakeFactory) Invalidate(string) {}

type testEnv struct {
	srv     *httptest.Server
	client  *http.Client
	store   *memory.Store
	factory *fakeFactory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authMgr := auth.NewManager(store, logger)
	factory := &fakeFactory{clients: map[string]*fakeClient{}}
	gw := gateway.New(store, factory, nil, logger)

	s := NewServer(authMgr, gw, store,
		WithLogger(logger),
		WithCookieSecure(false),
	)
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	t.Cleanup(s.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &testEnv{
		srv:     srv,
		client:  &http.Client{Jar: jar},
		store:   store,
		factory: factory,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, out any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp
}

func (e *testEnv) login(t *testing.T, username, password string) {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/auth/register", map[string]any{
		"username": username, "password": password,
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	resp = e.do(t, http.MethodPost, "/auth/login", map[string]any{
		"username": username, "password": password, "remember_me": true,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
}

func TestAuthFlow(t *testing.T) {
	e := newTestEnv(t)
	e.login(t, "alice", "correct horse")

	var me userResponse
	resp := e.do(t, http.MethodGet, "/auth/me", nil, &me)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d", resp.StatusCode)
	}
	if me.Username != "alice" || me.AuthMethod != string(domain.AuthSession) {
		t.Fatalf("me = %+v", me)
	}

	resp = e.do(t, http.MethodPost, "/auth/logout", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}
	resp = e.do(t, http.MethodGet, "/auth/me", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me after logout status = %d", resp.StatusCode)
	}
}

func TestRegisterValidation(t *testing.T) {
	e := newTestEnv(t)

	var body errorBody
	resp := e.do(t, http.MethodPost, "/auth/register", map[string]any{
		"username": "bob", "password": "short",
	}, &body)
	if resp.StatusCode != http.StatusBadRequest || body.Detail == "" {
		t.Fatalf("weak password: status=%d body=%+v", resp.StatusCode, body)
	}

	e.do(t, http.MethodPost, "/auth/register", map[string]any{
		"username": "bob", "password": "long enough",
	}, nil)
	resp = e.do(t, http.MethodPost, "/auth/register", map[string]any{
		"username": "bob", "password": "another pass",
	}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate username status = %d", resp.StatusCode)
	}
}

func TestUnauthenticatedRequests(t *testing.T) {
	e := newTestEnv(t)

	for _, path := range []string{"/torrents", "/servers", "/transfers", "/auth/me"} {
		var body errorBody
		resp := e.do(t, http.MethodGet, path, nil, &body)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("GET %s status = %d", path, resp.StatusCode)
		}
		if body.Detail != "not authenticated" {
			t.Fatalf("GET %s detail = %q", path, body.Detail)
		}
	}
}

func TestAPIKeyBearerAuth(t *testing.T) {
	e := newTestEnv(t)
	e.login(t, "alice", "correct horse")

	var created struct {
		Key    string `json:"api_key"`
		Prefix string `json:"prefix"`
	}
	resp := e.do(t, http.MethodPost, "/auth/api-keys", map[string]any{"name": "ci"}, &created)
	if resp.StatusCode != http.StatusCreated || created.Key == "" {
		t.Fatalf("create key: status=%d key=%q", resp.StatusCode, created.Key)
	}

	// Bearer auth works without any cookies.
	req, _ := http.NewRequest(http.MethodGet, e.srv.URL+"/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+created.Key)
	raw, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("bearer request: %v", err)
	}
	defer raw.Body.Close()

	var me userResponse
	if err := json.NewDecoder(raw.Body).Decode(&me); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if raw.StatusCode != http.StatusOK || me.AuthMethod != string(domain.AuthAPIKey) {
		t.Fatalf("status=%d me=%+v", raw.StatusCode, me)
	}

	// Revoked keys are rejected.
	resp = e.do(t, http.MethodDelete, "/auth/api-keys/"+created.Prefix, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke status = %d", resp.StatusCode)
	}
	raw2, err := http.DefaultClient.Do(req.Clone(context.Background()))
	if err != nil {
		t.Fatalf("bearer request: %v", err)
	}
	raw2.Body.Close()
	if raw2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked key status = %d", raw2.StatusCode)
	}
}

func TestServerCRUD(t *testing.T) {
	e := newTestEnv(t)
	e.login(t, "alice", "correct horse")

	var created serverResponse
	resp := e.do(t, http.MethodPost, "/servers", map[string]any{
		"name":        "seedbox",
		"server_type": "rtorrent",
		"host":        "seedbox.example",
		"port":        8080,
	}, &created)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	if created.ID == "" || created.Kind != "rtorrent" || !created.Enabled {
		t.Fatalf("created = %+v", created)
	}

	var list []serverResponse
	resp = e.do(t, http.MethodGet, "/servers", nil, &list)
	if resp.StatusCode != http.StatusOK || len(list) != 1 {
		t.Fatalf("list: status=%d servers=%+v", resp.StatusCode, list)
	}

	var updated serverResponse
	resp = e.do(t, http.MethodPut, "/servers/"+created.ID, map[string]any{
		"name":        "seedbox-2",
		"server_type": "rtorrent",
		"host":        "seedbox.example",
		"port":        8081,
	}, &updated)
	if resp.StatusCode != http.StatusOK || updated.Name != "seedbox-2" || updated.Port != 8081 {
		t.Fatalf("update: status=%d server=%+v", resp.StatusCode, updated)
	}

	resp = e.do(t, http.MethodDelete, "/servers/"+created.ID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp = e.do(t, http.MethodGet, "/servers/"+created.ID, nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", resp.StatusCode)
	}
}

func TestServersAreOwnerScoped(t *testing.T) {
	e := newTestEnv(t)
	e.login(t, "alice", "correct horse")

	var created serverResponse
	e.do(t, http.MethodPost, "/servers", map[string]any{
		"name": "seedbox", "server_type": "rtorrent", "host": "h", "port": 8080,
	}, &created)

	// A different user sees an empty list and not-found by id.
	other := newTestEnvWithStore(t, e)
	other.login(t, "mallory", "another pass!")
	var list []serverResponse
	resp := other.do(t, http.MethodGet, "/servers", nil, &list)
	if resp.StatusCode != http.StatusOK || len(list) != 0 {
		t.Fatalf("foreign list: status=%d servers=%+v", resp.StatusCode, list)
	}
	resp = other.do(t, http.MethodGet, "/servers/"+created.ID, nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign get status = %d", resp.StatusCode)
	}
}

// newTestEnvWithStore shares the first env's server with a fresh cookie jar.
func newTestEnvWithStore(t *testing.T, e *testEnv) *testEnv {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &testEnv{
		srv:     e.srv,
		client:  &http.Client{Jar: jar},
		store:   e.store,
		factory: e.factory,
	}
}

func TestTorrentList(t *testing.T) {
	e := newTestEnv(t)
	e.login(t, "alice", "correct horse")

	var created serverResponse
	e.do(t, http.MethodPost, "/servers", map[string]any{
		"name": "seedbox", "server_type": "rtorrent", "host": "h", "port": 8080,
	}, &created)
	e.factory.clients[created.ID] = &fakeClient{views: []domain.TorrentView{
		{InfoHash: apiHash, Name: "ubuntu.iso", Complete: true},
	}}

	var list struct {
		Torrents []gateway.TaggedTorrent `json:"torrents"`
		Errors   []gateway.BackendError  `json:"errors"`
	}
	resp := e.do(t, http.MethodGet, "/torrents", nil, &list)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	if len(list.Torrents) != 1 || list.Torrents[0].InfoHash != apiHash {
		t.Fatalf("torrents = %+v", list.Torrents)
	}
	if list.Torrents[0].BackendID != created.ID {
		t.Fatalf("BackendID = %q", list.Torrents[0].BackendID)
	}
	if list.Errors == nil {
		t.Fatal("errors must encode as [], not null")
	}
}

func TestAccountDeletionCascades(t *testing.T) {
	e := newTestEnv(t)
	e.login(t, "alice", "correct horse")

	var created serverResponse
	e.do(t, http.MethodPost, "/servers", map[string]any{
		"name": "seedbox", "server_type": "rtorrent", "host": "h", "port": 8080,
	}, &created)

	user, err := e.store.GetUserByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}

	resp := e.do(t, http.MethodDelete, "/auth/account", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete account status = %d", resp.StatusCode)
	}

	// The session died with the account.
	resp = e.do(t, http.MethodGet, "/auth/me", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me after account deletion status = %d", resp.StatusCode)
	}

	if _, err := e.store.GetUser(context.Background(), user.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("user still present: %v", err)
	}
	backends, _ := e.store.ListBackends(context.Background(), user.ID, false)
	if len(backends) != 0 {
		t.Fatalf("backends survived account deletion: %+v", backends)
	}
}

// TestWireFieldNames pins the JSON field names clients depend on: requests
// are rejected on unknown fields, so a renamed request key is a breaking
// change, and response keys are part of the API contract.
func TestWireFieldNames(t *testing.T) {
	e := newTestEnv(t)

	var reg map[string]any
	resp := e.do(t, http.MethodPost, "/auth/register", map[string]any{
		"username": "alice", "password": "correct horse",
	}, &reg)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	if _, ok := reg["user_id"]; !ok {
		t.Fatalf("register response missing user_id: %+v", reg)
	}

	resp = e.do(t, http.MethodPost, "/auth/login", map[string]any{
		"username": "alice", "password": "correct horse", "remember_me": true,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login with remember_me status = %d", resp.StatusCode)
	}

	var key map[string]any
	resp = e.do(t, http.MethodPost, "/auth/api-keys", map[string]any{"name": "k1"}, &key)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("api key create status = %d", resp.StatusCode)
	}
	if _, ok := key["api_key"]; !ok {
		t.Fatalf("api key response missing api_key: %+v", key)
	}

	var srv map[string]any
	resp = e.do(t, http.MethodPost, "/servers", map[string]any{
		"name": "s1", "server_type": "rtorrent", "host": "h", "port": 80,
	}, &srv)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("server create with server_type status = %d", resp.StatusCode)
	}
	if srv["server_type"] != "rtorrent" {
		t.Fatalf("server response server_type = %v", srv["server_type"])
	}
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)

	var body map[string]string
	resp := e.do(t, http.MethodGet, "/healthz", nil, &body)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz: status=%d body=%+v", resp.StatusCode, body)
	}
}
