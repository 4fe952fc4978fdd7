package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/krisalay/posyandu-cache/client"
)

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := client.New(""); !errors.Is(err, client.ErrNoBaseURL) {
		t.Fatalf("expected ErrNoBaseURL, got %v", err)
	}
}

func TestGetSendsTokenAndDecodes(t *testing.T) {
	var gotAuth, gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"id":"1","name":"Melati"}]`)
	}))
	defer srv.Close()

	c, err := client.New(srv.URL+"/api", client.WithToken("t0k3n"))
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}

	var out []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.Get(context.Background(), "posyandus?status=active", &out); err != nil {
		t.Fatalf("get failed: %v", err)
	}

	if gotAuth != "Bearer t0k3n" {
		t.Fatalf("expected bearer token, got %q", gotAuth)
	}
	if gotPath != "/api/posyandus" || gotQuery != "status=active" {
		t.Fatalf("unexpected request %s?%s", gotPath, gotQuery)
	}
	if len(out) != 1 || out[0].Name != "Melati" {
		t.Fatalf("unexpected body %+v", out)
	}
}

func TestPatchSendsJSONBody(t *testing.T) {
	var body map[string]bool
	var method, contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, _ := client.New(srv.URL)
	if err := c.Patch(context.Background(), "/posyandus/4/active", map[string]bool{"active": false}, nil); err != nil {
		t.Fatalf("patch failed: %v", err)
	}

	if method != http.MethodPatch || contentType != "application/json" {
		t.Fatalf("unexpected request %s %s", method, contentType)
	}
	if active, ok := body["active"]; !ok || active {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestEmptyBodyIsOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c, _ := client.New(srv.URL)
	var out map[string]any
	if err := c.Get(context.Background(), "dashboard", &out); err != nil {
		t.Fatalf("expected empty 200 to succeed, got %v", err)
	}
}

func TestNon2xxIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"error":"NIK already registered"}`)
	}))
	defer srv.Close()

	c, _ := client.New(srv.URL)
	err := c.Post(context.Background(), "children", map[string]string{"nik": "1"}, nil)

	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnprocessableEntity || apiErr.Message != "NIK already registered" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if !client.IsStatus(err, http.StatusUnprocessableEntity) {
		t.Fatalf("IsStatus should match")
	}
}

func TestMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{not json`)
	}))
	defer srv.Close()

	c, _ := client.New(srv.URL)
	var out map[string]any
	if err := c.Get(context.Background(), "dashboard", &out); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestCancelledRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, _ := client.New(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Get(ctx, "dashboard", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if msg := client.Message(err, ""); msg != "The server took too long to respond. Please try again." {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		fallback string
		want     string
	}{
		{"nil", nil, "", ""},
		{"backend message", &client.APIError{Status: 500, Message: "Database down"}, "", "Database down"},
		{"wrapped", fmt.Errorf("toggle posyandu: %w", &client.APIError{Status: 400, Message: "Invalid id"}), "", "Invalid id"},
		{"unauthorized", &client.APIError{Status: 401}, "", "Your session has ended. Please sign in again."},
		{"forbidden", &client.APIError{Status: 403}, "", "Your session has ended. Please sign in again."},
		{"not found", &client.APIError{Status: 404}, "", "The requested data was not found."},
		{"bare 500", &client.APIError{Status: 500}, "Gagal memuat", "Gagal memuat"},
		{"transport", errors.New("connection refused"), "", client.DefaultMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := client.Message(tt.err, tt.fallback); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
