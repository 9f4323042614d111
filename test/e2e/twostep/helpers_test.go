package twostep_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	httpapi "github.com/authkit-dev/twostep/internal/twofactor/http"
	"github.com/authkit-dev/twostep/internal/twofactor/provider"
	"github.com/authkit-dev/twostep/internal/twofactor/service"
	"github.com/authkit-dev/twostep/internal/twofactor/store/drivers/sqlite"
	"github.com/authkit-dev/twostep/pkg/cryptox"
	"github.com/authkit-dev/twostep/pkg/jwtx"
)

/*
 * End-to-end tests exercising the whole service in process: real sqlite
 * store, real providers, real router, httptest transport. Only the
 * mailer is captured so tests can read delivered codes.
 */

const (
	apiKey     = "test-api-key-12345"
	testIssuer = "twostep-test"
	testUser   = "user-e2e-1"
)

// captureMailer records outbound mail so tests can read the code.
type captureMailer struct {
	mu   sync.Mutex
	sent []capturedMail
}

type capturedMail struct {
	To      string
	Subject string
	Body    string
}

func (m *captureMailer) Send(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, capturedMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *captureMailer) last(t *testing.T) capturedMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "expected at least one delivered mail")
	return m.sent[len(m.sent)-1]
}

// testServer is the running service plus the handles tests need to
// reach behind the HTTP surface.
type testServer struct {
	URL    string
	Mailer *captureMailer
	Signer *jwtx.Signer
}

// setupServer boots the full stack over a throwaway sqlite file and
// returns a running httptest server.
func setupServer(t *testing.T) *testServer {
	t.Helper()

	dbFile := filepath.Join(t.TempDir(), "twostep.db")
	st, err := sqlite.NewStore("file:" + dbFile)
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	attrs := st.Attributes()
	directory := &service.StoredDirectory{Attrs: attrs}
	mailer := &captureMailer{}

	totp := provider.NewTOTP(attrs, testIssuer)
	email := provider.NewEmail(attrs, directory, mailer, testIssuer)
	codes := provider.NewBackupCodes(attrs)
	keys := provider.NewSecurityKey(attrs, "https://example.test", true)

	registry := provider.NewRegistry(st.AllowList(), attrs)
	for _, p := range []provider.Provider{keys, totp, email, codes} {
		require.NoError(t, registry.Register(p))
	}

	signer, err := jwtx.GenerateSigner("e2e-key")
	require.NoError(t, err)

	nonces := service.NewNonceManager(attrs, []byte("e2e-nonce-secret"))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := httpapi.NewRouter(apiKey, signer, "test", st, logger)
	router.Login = &service.LoginService{
		Registry: registry,
		Nonces:   nonces,
		Signer:   signer,
		Issuer:   testIssuer,
		Audience: []string{"e2e-host"},
	}
	router.Enrollment = &service.EnrollmentService{
		Registry:     registry,
		TOTP:         totp,
		BackupCodes:  codes,
		SecurityKeys: keys,
		Directory:    directory,
	}
	router.Directory = directory
	router.ApplyRoutes()

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{URL: srv.URL, Mailer: mailer, Signer: signer}
}

// doJSON performs an authenticated request and decodes the JSON
// response into out when out is non-nil. Returns the status code.
func doJSON(t *testing.T, method, url string, body, out any) int {
	t.Helper()
	return doJSONWithKey(t, method, url, apiKey, body, out)
}

func doJSONWithKey(t *testing.T, method, url, key string, body, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		if len(raw) > 0 {
			require.NoError(t, json.Unmarshal(raw, out),
				"response body: %s", raw)
		}
	}
	return resp.StatusCode
}

// enrollTOTP walks the user through authenticator enrollment and
// returns the base32 secret for later code computation.
func enrollTOTP(t *testing.T, srv *testServer, userID string) string {
	t.Helper()

	var enrollment struct {
		Secret string `json:"secret"`
		URL    string `json:"url"`
	}
	status := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/v1/users/%s/totp", srv.URL, userID), nil, &enrollment)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, enrollment.Secret)

	var confirm struct {
		Confirmed bool `json:"confirmed"`
	}
	status = doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/v1/users/%s/totp/confirm", srv.URL, userID),
		map[string]string{"code": totpCodeNow(t, enrollment.Secret)}, &confirm)
	require.Equal(t, http.StatusOK, status)
	require.True(t, confirm.Confirmed)

	return enrollment.Secret
}

// totpCodeNow computes the current code for a base32 secret.
func totpCodeNow(t *testing.T, secret string) string {
	t.Helper()

	key, err := cryptox.DecodeBase32(secret)
	require.NoError(t, err)
	step := uint64(time.Now().Unix() / 30)
	return cryptox.HOTPCode(key, step, 6)
}

// enableProviders sets the user's enabled provider list.
func enableProviders(t *testing.T, srv *testServer, userID string, keys ...string) {
	t.Helper()

	status := doJSON(t, http.MethodPut,
		fmt.Sprintf("%s/v1/users/%s/providers", srv.URL, userID),
		map[string][]string{"enabled": keys}, nil)
	require.Equal(t, http.StatusNoContent, status)
}
