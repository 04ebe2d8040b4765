package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testClient(url, token string) *apiClient {
	return &apiClient{
		baseURL:    url,
		token:      token,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func TestClientSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, "sekrit")
	resp, err := c.get(context.Background(), "/entries")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if gotAuth != "Bearer sekrit" {
		t.Errorf("Authorization = %q", gotAuth)
	}

	c = testClient(srv.URL, "")
	resp, err = c.get(context.Background(), "/entries")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if gotAuth != "" {
		t.Errorf("Authorization without token = %q, want unset", gotAuth)
	}
}

func TestDecodeJSON_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"entry not found","type":"not_found"}}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, "")
	resp, err := c.get(context.Background(), "/entries/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	var out map[string]any
	err = decodeJSON(resp, &out)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "entry not found") {
		t.Errorf("error = %v, want body included", err)
	}
}

func TestClientUnreachableServer(t *testing.T) {
	c := testClient("http://127.0.0.1:1", "")
	_, err := c.get(context.Background(), "/health")
	if err == nil {
		t.Fatal("expected connection error")
	}
	if !strings.Contains(err.Error(), "is cortex running") {
		t.Errorf("error = %v, want hint about daemon", err)
	}
}
