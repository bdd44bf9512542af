package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridbot/internal/kernel/engine"
	"gridbot/internal/kernel/risk"
	"gridbot/internal/kernel/types"
)

type fakeEngine struct {
	paused  bool
	resumed bool
	stopped bool
}

func (f *fakeEngine) Snapshot() engine.Snapshot {
	return engine.Snapshot{
		State:    types.StateRunning,
		Position: types.GridPosition{Size: 1.5, EntryPrice: 100000, UnrealizedPnL: 50},
		Stats:    types.GridStats{TotalTrades: 3, TotalProfit: 12.5},
		Risk:     risk.Status{RiskTriggered: false},
	}
}
func (f *fakeEngine) Pause()  { f.paused = true }
func (f *fakeEngine) Resume() { f.resumed = true }
func (f *fakeEngine) Stop(ctx context.Context) error {
	f.stopped = true
	return nil
}

func testServer() (*Server, *fakeEngine) {
	log := logrus.NewEntry(logrus.New())
	eng := &fakeEngine{}
	s := New(Config{
		Engine:    eng,
		Symbol:    "BTCUSDT",
		JWTSecret: "test-secret",
		Log:       log,
	})
	return s, eng
}

func signToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestHandleHealthReturnsOK(t *testing.T) {
	s, _ := testServer()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleStatusReflectsEngineSnapshot(t *testing.T) {
	s, _ := testServer()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_trades":3`)
}

func TestHandleHistoryWithoutStoreReturnsEmptyList(t *testing.T) {
	s, _ := testServer()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"trades":[]}`, w.Body.String())
}

func TestControlPauseRejectsMissingBearerToken(t *testing.T) {
	s, eng := testServer()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/control/pause", nil)
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, eng.paused)
}

func TestControlPauseRejectsTokenSignedWithWrongSecret(t *testing.T) {
	s, eng := testServer()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/control/pause", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "wrong-secret"))
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, eng.paused)
}

func TestControlPauseAcceptsValidBearerToken(t *testing.T) {
	s, eng := testServer()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/control/pause", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "test-secret"))
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, eng.paused)
}

func TestControlResumeAcceptsValidBearerToken(t *testing.T) {
	s, eng := testServer()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/control/resume", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "test-secret"))
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, eng.resumed)
}

func TestControlStopRejectsMissingBearerToken(t *testing.T) {
	s, eng := testServer()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/control/stop", nil)
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, eng.stopped)
}

func TestControlStopAcceptsValidBearerToken(t *testing.T) {
	s, eng := testServer()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/control/stop", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "test-secret"))
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, eng.stopped)
}
