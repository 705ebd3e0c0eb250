package smshttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tidyzon/enroute/internal/models"
)

func TestSend_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req sendReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "+79001234567", req.To)
		require.Equal(t, "transactional", req.Type)

		_, _ = w.Write([]byte(`{"message_id": "m-1", "status": "queued"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "key", "")
	id, err := c.Send(context.Background(), "+79001234567", "test")
	require.NoError(t, err)
	require.Equal(t, "m-1", id)
}

func TestSend_GatewayDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, "key", "")
	_, err := c.Send(context.Background(), "+79001234567", "test")
	require.ErrorIs(t, err, models.ErrUpstreamUnavailable)
}
