package aadauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewHTTPClient_AttachesAndCachesToken(t *testing.T) {
	var tokenCalls atomic.Int32
	var form url.Values
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		_ = r.ParseForm()
		form = r.Form

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"token-abc","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenServer.Close()

	var authHeaders []string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeaders = append(authHeaders, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer api.Close()

	client := NewHTTPClient(context.Background(), Config{
		TenantID:     "tenant",
		ClientID:     "app-id",
		ClientSecret: "app-secret",
		Scopes:       []string{GraphScope},
		TokenURL:     tokenServer.URL,
		Base:         http.DefaultTransport,
	})

	for i := 0; i < 2; i++ {
		resp, err := client.Get(api.URL + "/v1.0/me")
		require.NoError(t, err)
		resp.Body.Close()
	}

	require.Equal(t, []string{"Bearer token-abc", "Bearer token-abc"}, authHeaders)
	require.Equal(t, int32(1), tokenCalls.Load())
	require.Equal(t, "client_credentials", form.Get("grant_type"))
	require.Equal(t, "app-id", form.Get("client_id"))
	require.Equal(t, "app-secret", form.Get("client_secret"))
	require.Equal(t, GraphScope, form.Get("scope"))
}

func TestNewHTTPClient_TokenFailure(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer tokenServer.Close()

	client := NewHTTPClient(context.Background(), Config{
		ClientID: "app-id",
		TokenURL: tokenServer.URL,
		Base:     http.DefaultTransport,
	})

	_, err := client.Get(tokenServer.URL + "/api")
	require.Error(t, err)
}
