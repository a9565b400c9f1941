package innertube

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientDefaults(t *testing.T) {
	c := NewClient(nil)
	if c.BaseURL != defaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", c.BaseURL, defaultBaseURL)
	}
}

func TestGenerateVisitorDataSuccess(t *testing.T) {
	visitorData := "CgtDZjBSbE5uZDJlQSij6bbFBjIKCgJVUxIEGgAgYA"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/browse" {
			t.Errorf("path = %q, want /browse", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		client := body["context"].(map[string]any)["client"].(map[string]any)
		if client["clientVersion"] != clientVersion {
			t.Errorf("clientVersion = %v, want %q", client["clientVersion"], clientVersion)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"responseContext": map[string]any{"visitorData": visitorData},
		})
	}))
	defer srv.Close()

	c := NewClient(nil)
	c.BaseURL = srv.URL

	got, err := c.GenerateVisitorData(context.Background())
	if err != nil {
		t.Fatalf("GenerateVisitorData: %v", err)
	}
	if got != visitorData {
		t.Errorf("GenerateVisitorData = %q, want %q", got, visitorData)
	}
}

func TestGenerateVisitorDataNetworkError(t *testing.T) {
	c := NewClient(nil)
	c.BaseURL = "http://127.0.0.1:1"

	if _, err := c.GenerateVisitorData(context.Background()); err == nil {
		t.Error("expected error for unreachable host")
	}
}

func TestGenerateVisitorDataAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(nil)
	c.BaseURL = srv.URL

	if _, err := c.GenerateVisitorData(context.Background()); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestGenerateVisitorDataMissingField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"responseContext": map[string]any{}})
	}))
	defer srv.Close()

	c := NewClient(nil)
	c.BaseURL = srv.URL

	if _, err := c.GenerateVisitorData(context.Background()); err == nil {
		t.Error("expected error for missing visitorData")
	}
}

func TestGetChallengeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/att/get" {
			t.Errorf("path = %q, want /att/get", r.URL.Path)
		}
		if r.URL.RawQuery != "prettyPrint=false" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"bgChallenge": map[string]any{
				"interpreterUrl": map[string]any{
					"privateDoNotAccessOrElseTrustedResourceUrlWrappedValue": "//example.com/interp.js",
				},
				"interpreterHash":            "hash123",
				"program":                    "function mint(){}",
				"globalName":                 "mint",
				"clientExperimentsStateBlob": "blob",
			},
		})
	}))
	defer srv.Close()

	c := NewClient(nil)
	c.BaseURL = srv.URL

	got, err := c.GetChallenge(context.Background(), map[string]any{"client": map[string]any{}})
	if err != nil {
		t.Fatalf("GetChallenge: %v", err)
	}
	if got.InterpreterURL != "//example.com/interp.js" {
		t.Errorf("InterpreterURL = %q", got.InterpreterURL)
	}
	if got.GlobalName != "mint" {
		t.Errorf("GlobalName = %q", got.GlobalName)
	}
}

func TestGetChallengeMissingBgChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer srv.Close()

	c := NewClient(nil)
	c.BaseURL = srv.URL

	if _, err := c.GetChallenge(context.Background(), nil); err == nil {
		t.Error("expected error for missing bgChallenge")
	}
}
