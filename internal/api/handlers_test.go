package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bgutil/potprovider/internal/apperror"
	"github.com/bgutil/potprovider/internal/model"
)

func TestHandlePing(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp pingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Version != Version {
		t.Errorf("version = %q, want %q", resp.Version, Version)
	}
}

func TestHandleGetPotDefault(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/get_pot", bytes.NewReader([]byte("{}")))
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	var tok model.SessionToken
	if err := json.Unmarshal(rec.Body.Bytes(), &tok); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tok.PoToken == "" {
		t.Error("expected non-empty po_token")
	}
}

func TestHandleGetPotContentBound(t *testing.T) {
	srv := newTestServer(t)
	body, _ := json.Marshal(model.PotRequest{ContentBinding: "dQw4w9WgXcQ"})
	req := httptest.NewRequest(http.MethodPost, "/get_pot", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleGetPotDeprecatedField(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/get_pot",
		bytes.NewReader([]byte(`{"data_sync_id":"x","content_binding":"y"}`)))
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}

	var env apperror.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error != "data_sync_id is deprecated, use content_binding instead" {
		t.Errorf("error = %q", env.Error)
	}
	if env.Context != "deprecated_field_validation" {
		t.Errorf("context = %q, want deprecated_field_validation", env.Context)
	}
}

func TestHandleGetPotDeprecatedFieldCaseSensitive(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/get_pot",
		bytes.NewReader([]byte(`{"Data_Sync_Id":"x"}`)))
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (case-sensitive match should not trigger)", rec.Code)
	}
}

func TestHandleGetPotMalformedJSON(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/get_pot", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body=%s", rec.Code, rec.Body.String())
	}

	var env apperror.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(env.Error) < len("Invalid JSON:") || env.Error[:len("Invalid JSON:")] != "Invalid JSON:" {
		t.Errorf("error = %q, want prefix %q", env.Error, "Invalid JSON:")
	}
}

func TestHandleInvalidateCaches(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/invalidate_caches", nil)
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}

func TestHandleInvalidateIntegrityTokens(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/invalidate_it", nil)
	rec := httptest.NewRecorder()

	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}

func TestHandleMinterCache(t *testing.T) {
	srv := newTestServer(t)

	genBody, _ := json.Marshal(model.PotRequest{ContentBinding: "dQw4w9WgXcQ"})
	genReq := httptest.NewRequest(http.MethodPost, "/get_pot", bytes.NewReader(genBody))
	genRec := httptest.NewRecorder()
	srv.Router().ServeHTTP(genRec, genReq)
	if genRec.Code != http.StatusOK {
		t.Fatalf("seed /get_pot status = %d, body=%s", genRec.Code, genRec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/minter_cache", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var keys []string
	if err := json.Unmarshal(rec.Body.Bytes(), &keys); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(keys) == 0 {
		t.Error("expected at least one minter cache key after minting")
	}
}
