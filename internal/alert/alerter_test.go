package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureAlerter struct {
	mu    sync.Mutex
	sent  []Alert
	fail  bool
}

func (c *captureAlerter) Send(_ context.Context, a Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("boom")
	}
	c.sent = append(c.sent, a)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMultiAlerter_FansOut(t *testing.T) {
	a1 := &captureAlerter{}
	a2 := &captureAlerter{}
	m := NewMultiAlerter(time.Minute, testLogger(), a1, a2)

	err := m.Send(context.Background(), Alert{Type: AlertTypeSuperseded, Safe: "0x5afe", Nonce: 5})
	require.NoError(t, err)
	assert.Len(t, a1.sent, 1)
	assert.Len(t, a2.sent, 1)
}

func TestMultiAlerter_CooldownSuppressesDuplicates(t *testing.T) {
	a := &captureAlerter{}
	m := NewMultiAlerter(time.Hour, testLogger(), a)

	alert := Alert{Type: AlertTypeSuperseded, Safe: "0x5afe", Nonce: 5}
	require.NoError(t, m.Send(context.Background(), alert))
	require.NoError(t, m.Send(context.Background(), alert))

	assert.Len(t, a.sent, 1, "second identical alert suppressed")

	// Different nonce is a different key.
	other := Alert{Type: AlertTypeSuperseded, Safe: "0x5afe", Nonce: 6}
	require.NoError(t, m.Send(context.Background(), other))
	assert.Len(t, a.sent, 2)
}

func TestMultiAlerter_ReportsFirstError(t *testing.T) {
	failing := &captureAlerter{fail: true}
	ok := &captureAlerter{}
	m := NewMultiAlerter(time.Minute, testLogger(), failing, ok)

	err := m.Send(context.Background(), Alert{Type: AlertTypeReconcileError, Safe: "0x5afe"})
	assert.Error(t, err)
	assert.Len(t, ok.sent, 1, "healthy channel still receives the alert")
}

func TestWebhookAlerter_PostsJSON(t *testing.T) {
	var received webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhookAlerter(srv.URL)
	err := w.Send(context.Background(), Alert{
		Type:    AlertTypeThresholdReached,
		Safe:    "0x5afe",
		Nonce:   12,
		Title:   "quorum reached",
		Message: "ready to execute",
	})
	require.NoError(t, err)

	assert.Equal(t, "THRESHOLD_REACHED", received.Type)
	assert.Equal(t, uint64(12), received.Nonce)
}

func TestWebhookAlerter_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookAlerter(srv.URL).Send(context.Background(), Alert{Type: AlertTypeSuperseded})
	assert.Error(t, err)
}
