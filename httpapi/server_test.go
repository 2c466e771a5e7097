package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/COMRADE-APP/authcore"
	"github.com/COMRADE-APP/authcore/delivery"
	"github.com/COMRADE-APP/authcore/directory"
)

type captureSender struct {
	messages chan delivery.Message
}

func (c *captureSender) SendCode(ctx context.Context, msg delivery.Message) error {
	c.messages <- msg
	return nil
}

func (c *captureSender) waitCode(t *testing.T) string {
	t.Helper()
	select {
	case msg := <-c.messages:
		return msg.Code
	case <-time.After(5 * time.Second):
		t.Fatal("no code delivered")
		return ""
	}
}

type apiEnv struct {
	server *httptest.Server
	sender *captureSender
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := authcore.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")

	sender := &captureSender{messages: make(chan delivery.Message, 16)}
	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserDirectory(directory.NewRedis(client)).
		WithEmailSender(sender).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	srv := httptest.NewServer(NewServer(engine).Handler())
	t.Cleanup(srv.Close)

	return &apiEnv{server: srv, sender: sender}
}

func (env *apiEnv) post(t *testing.T, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, env.server.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (env *apiEnv) registerAndLogin(t *testing.T, email, pass string) map[string]any {
	t.Helper()

	resp, _ := env.post(t, "/auth/register", map[string]string{
		"email": email, "password": pass,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = env.post(t, "/auth/register/verify", map[string]string{
		"email": email, "otp": env.sender.waitCode(t),
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.post(t, "/auth/login", map[string]string{
		"email": email, "password": pass,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "otp", body["next_step"])

	resp, body = env.post(t, "/auth/login/verify", map[string]string{
		"email": email, "otp": env.sender.waitCode(t),
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "authenticated", body["next_step"])

	tokens, ok := body["tokens"].(map[string]any)
	require.True(t, ok, "missing tokens in %v", body)
	return tokens
}

func TestRegisterLoginFlow(t *testing.T) {
	env := newAPIEnv(t)
	tokens := env.registerAndLogin(t, "alice@example.com", "correct horse battery")

	assert.NotEmpty(t, tokens["access_token"])
	assert.NotEmpty(t, tokens["refresh_token"])
	assert.NotEmpty(t, tokens["session_id"])
}

func TestLoginBadCredentials(t *testing.T) {
	env := newAPIEnv(t)

	resp, body := env.post(t, "/auth/login", map[string]string{
		"email": "ghost@example.com", "password": "whatever",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_credentials", body["error"])
}

func TestRegisterDuplicate(t *testing.T) {
	env := newAPIEnv(t)
	env.registerAndLogin(t, "bob@example.com", "correct horse battery")

	resp, body := env.post(t, "/auth/register", map[string]string{
		"email": "bob@example.com", "password": "another password",
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "user_exists", body["error"])
}

func TestRefreshEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	tokens := env.registerAndLogin(t, "carol@example.com", "correct horse battery")

	resp, body := env.post(t, "/auth/refresh", map[string]string{
		"refresh_token": tokens["refresh_token"].(string),
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["access_token"])
	assert.NotEqual(t, tokens["refresh_token"], body["refresh_token"])

	// Spent token: rejected and the session family revoked.
	resp, body = env.post(t, "/auth/refresh", map[string]string{
		"refresh_token": tokens["refresh_token"].(string),
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "refresh_reuse", body["error"])
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newAPIEnv(t)

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/devices", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp2, body := env.post(t, "/auth/logout", map[string]string{}, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
	assert.Equal(t, "invalid_token", body["error"])
}

func TestLogoutRevokesSession(t *testing.T) {
	env := newAPIEnv(t)
	tokens := env.registerAndLogin(t, "dave@example.com", "correct horse battery")
	auth := map[string]string{"Authorization": "Bearer " + tokens["access_token"].(string)}

	resp, _ := env.post(t, "/auth/logout", map[string]string{}, auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.post(t, "/auth/logout", map[string]string{}, auth)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_token", body["error"])
}

func TestDevicesEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	// Register and log in while declaring a device.
	resp, _ := env.post(t, "/auth/register", map[string]string{
		"email": "erin@example.com", "password": "correct horse battery",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = env.post(t, "/auth/register/verify", map[string]string{
		"email": "erin@example.com", "otp": env.sender.waitCode(t),
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	device := map[string]string{"X-Device-ID": "laptop-9"}
	resp, _ = env.post(t, "/auth/login", map[string]string{
		"email": "erin@example.com", "password": "correct horse battery",
	}, device)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body := env.post(t, "/auth/login/verify", map[string]string{
		"email": "erin@example.com", "otp": env.sender.waitCode(t),
	}, device)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tokens := body["tokens"].(map[string]any)

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/devices", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tokens["access_token"].(string))
	listResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	var listBody struct {
		Devices []map[string]any `json:"devices"`
	}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&listBody))
	require.Len(t, listBody.Devices, 1)
	assert.Equal(t, "laptop-9", listBody.Devices[0]["device_id"])
	assert.Equal(t, "pending", listBody.Devices[0]["trust_level"])
}

func TestPasswordResetEndpoints(t *testing.T) {
	env := newAPIEnv(t)
	env.registerAndLogin(t, "frank@example.com", "original password 1")

	resp, _ := env.post(t, "/auth/password-reset/request", map[string]string{
		"email": "frank@example.com",
	}, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = env.post(t, "/auth/password-reset/confirm", map[string]string{
		"email":        "frank@example.com",
		"otp":          env.sender.waitCode(t),
		"new_password": "brand new password 2",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Unknown accounts get the same accepted response.
	resp, _ = env.post(t, "/auth/password-reset/request", map[string]string{
		"email": "nobody@example.com",
	}, nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}
