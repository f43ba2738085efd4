package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"studiodesk.app/internal/auth"
	"studiodesk.app/internal/obs"
	"studiodesk.app/internal/store/memory"
)

var testSecrets = auth.Secrets{
	Access:  strings.Repeat("a", 32),
	Refresh: strings.Repeat("r", 32),
	Reset:   strings.Repeat("s", 32),
}

const (
	strongPassword = "Sup3r-Secret!"
	newPassword    = "N3w-Passw0rd!"
)

// recordingNotifier keeps the reset links it was asked to deliver.
type recordingNotifier struct {
	mu    sync.Mutex
	links map[string]string
}

func (n *recordingNotifier) SendPasswordReset(_ context.Context, email, resetURL string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.links == nil {
		n.links = make(map[string]string)
	}
	n.links[email] = resetURL
	return nil
}

func (n *recordingNotifier) token(t *testing.T, email string) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	link, ok := n.links[email]
	require.True(t, ok, "no reset link sent to %s", email)
	u, err := url.Parse(link)
	require.NoError(t, err)
	return u.Query().Get("token")
}

func (n *recordingNotifier) sent() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.links)
}

type testEnv struct {
	store    *memory.Store
	hasher   *auth.Argon2idHasher
	gateway  *auth.Gateway
	gate     *auth.PermissionGate
	resolver *auth.PermissionResolver
	notifier *recordingNotifier
	metrics  *obs.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    memory.NewSeeded(),
		hasher:   auth.NewArgon2idHasher(),
		notifier: &recordingNotifier{},
		metrics:  obs.NewMetrics(),
	}
	codec, err := auth.NewTokenCodec(testSecrets)
	require.NoError(t, err)

	env.resolver = auth.NewPermissionResolver(env.store)
	env.gate = auth.NewPermissionGate(env.resolver, env.metrics)
	env.gateway, err = auth.NewGateway(auth.GatewayDeps{
		Directory: env.store,
		Hasher:    env.hasher,
		Codec:     codec,
		Resolver:  env.resolver,
		Verifier:  auth.NewCredentialVerifier(env.store, env.hasher, nil),
		Refresh:   auth.NewRefreshTokenLedger(env.store, codec),
		Resets:    auth.NewPasswordResetLedger(env.store, codec),
		Notifier:  env.notifier,
	},
		auth.WithResetURLBase("https://app.example.com"),
		auth.WithRecorder(env.metrics),
	)
	require.NoError(t, err)
	return env
}

func (e *testEnv) addUser(t *testing.T, email string, roles ...string) *auth.User {
	t.Helper()
	hash, err := e.hasher.Hash(strongPassword)
	require.NoError(t, err)
	u, err := e.store.AddUser(email, hash, true)
	require.NoError(t, err)
	for _, r := range roles {
		require.NoError(t, e.store.Assign(u.ID, r))
	}
	return u
}

func (e *testEnv) deps() Deps {
	return Deps{
		Gateway:  e.gateway,
		Gate:     e.gate,
		Resolver: e.resolver,
		Catalog:  e.store,
		Metrics:  e.metrics,
	}
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestServer(t *testing.T, deps Deps, opts Options) *apiClient {
	t.Helper()
	api, err := New(deps, opts)
	require.NoError(t, err)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &apiClient{baseURL: srv.URL, client: srv.Client(), t: t}
}

func (c *apiClient) do(method, path string, body any, mutate func(*http.Request)) *http.Response {
	c.t.Helper()
	var payload []byte
	switch b := body.(type) {
	case nil:
	case string:
		payload = []byte(b)
	default:
		var err error
		payload, err = json.Marshal(b)
		require.NoError(c.t, err)
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	require.NoError(c.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if mutate != nil {
		mutate(req)
	}
	resp, err := c.client.Do(req)
	require.NoError(c.t, err)
	c.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (c *apiClient) post(path string, body any, mutate func(*http.Request)) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, mutate)
}

func (c *apiClient) get(path string, mutate func(*http.Request)) *http.Response {
	c.t.Helper()
	return c.do(http.MethodGet, path, nil, mutate)
}

func (c *apiClient) login(email, password string) (*http.Response, sessionResponse) {
	c.t.Helper()
	resp := c.post("/auth/login", loginRequest{Email: email, Password: password}, nil)
	var out sessionResponse
	if resp.StatusCode == http.StatusOK {
		decodeBody(c.t, resp, &out)
	}
	return resp, out
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value}) }
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func decodeError(t *testing.T, resp *http.Response) errorBody {
	t.Helper()
	var body errorBody
	decodeBody(t, resp, &body)
	return body
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
