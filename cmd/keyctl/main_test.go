package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestHealthCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/accounts/alice/keys/health" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"account_id":      "alice",
			"state":           "ACTIVE",
			"has_public_key":  true,
			"has_private_key": true,
			"keys_match":      true,
			"fingerprint":     "ABCDEF",
		})
	}))
	defer srv.Close()

	out, err := execute(t, "--api-url", srv.URL, "health", "--account", "alice")
	if err != nil {
		t.Fatalf("health failed: %v", err)
	}
	if !strings.Contains(out, "ACTIVE") || !strings.Contains(out, "ABCDEF") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestEnrollCmd_Wait(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/accounts/alice/keys" || r.URL.Query().Get("wait") != "true" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "alice@example.com" {
			t.Errorf("want email alice@example.com, got %q", body["email"])
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"account_id": "alice", "fingerprint": "ABCDEF", "active": true})
	}))
	defer srv.Close()

	out, err := execute(t, "--api-url", srv.URL, "enroll", "--account", "alice", "--email", "alice@example.com", "--wait")
	if err != nil {
		t.Fatalf("enroll failed: %v", err)
	}
	if !strings.Contains(out, "fingerprint: ABCDEF") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestRevokeCmd_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "INVALID_ACCOUNT_ID", "message": "invalid account ID format"})
	}))
	defer srv.Close()

	_, err := execute(t, "--api-url", srv.URL, "revoke", "--account", "alice")
	if err == nil {
		t.Fatal("want error, got nil")
	}
	if !strings.Contains(err.Error(), "INVALID_ACCOUNT_ID") {
		t.Errorf("want error code in message, got %v", err)
	}
}

func TestCmd_MissingAPIURL(t *testing.T) {
	t.Setenv("KEYCTL_API_URL", "")

	_, err := execute(t, "health", "--account", "alice")
	if err == nil || !strings.Contains(err.Error(), "--api-url") {
		t.Errorf("want missing api-url error, got %v", err)
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, version) {
		t.Errorf("want version %s in %q", version, out)
	}
}
