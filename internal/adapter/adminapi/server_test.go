package adminapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/louisb0/talos/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type stubSubRepo struct {
	cleared []string
}

func (s *stubSubRepo) ListAll(ctx domain.Context) ([]domain.Subscription, error) { return nil, nil }
func (s *stubSubRepo) MarkQueued(ctx domain.Context, communityName string) error { return nil }
func (s *stubSubRepo) ClearQueuedAndScanned(ctx domain.Context, communityName string, scannedAt time.Time) error {
	return nil
}
func (s *stubSubRepo) ClearForManualRescan(ctx domain.Context, communityName string) error {
	s.cleared = append(s.cleared, communityName)
	return nil
}

type stubPinger struct {
	err error
}

func (p *stubPinger) Ping(ctx domain.Context) error { return p.err }

func TestHealthzAlwaysOK(t *testing.T) {
	srv := New(Config{}, &stubSubRepo{}, &stubPinger{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReportsUnavailableWhenPingFails(t *testing.T) {
	srv := New(Config{}, &stubSubRepo{}, &stubPinger{err: assertError{}})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type assertError struct{}

func (assertError) Error() string { return "ping failed" }

func TestManualRescanRejectedWithoutCredentialsWhenAuthEnabled(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	subs := &stubSubRepo{}
	srv := New(Config{Username: "ops", PasswordHash: string(hash), AuthEnabled: true}, subs, &stubPinger{})

	req := httptest.NewRequest(http.MethodPost, "/admin/rescan/golang", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, subs.cleared)
}

func TestManualRescanRejectedWithWrongPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	subs := &stubSubRepo{}
	srv := New(Config{Username: "ops", PasswordHash: string(hash), AuthEnabled: true}, subs, &stubPinger{})

	req := httptest.NewRequest(http.MethodPost, "/admin/rescan/golang", nil)
	req.SetBasicAuth("ops", "wrong")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestManualRescanAcceptedWithValidCredentials(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	subs := &stubSubRepo{}
	srv := New(Config{Username: "ops", PasswordHash: string(hash), AuthEnabled: true}, subs, &stubPinger{})

	req := httptest.NewRequest(http.MethodPost, "/admin/rescan/golang", nil)
	req.SetBasicAuth("ops", "secret")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"golang"}, subs.cleared)
}

func TestManualRescanAllowedWithoutCredentialsWhenAuthDisabled(t *testing.T) {
	subs := &stubSubRepo{}
	srv := New(Config{AuthEnabled: false}, subs, &stubPinger{})

	req := httptest.NewRequest(http.MethodPost, "/admin/rescan/golang", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"golang"}, subs.cleared)
}
