package vm

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/bgutil/potprovider/internal/model"
)

func TestEngineInitializeDefaultProgram(t *testing.T) {
	e := NewEngine()
	if err := e.Initialize(nil, ""); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	token, err := e.Mint("abc")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if token == "" {
		t.Error("expected non-empty token")
	}
}

func TestEngineInitializeCustomDescriptor(t *testing.T) {
	e := NewEngine()
	descriptor := &model.ChallengeDescriptor{
		Program:    `function customMint(id) { return "custom:" + id; }`,
		GlobalName: "customMint",
	}
	if err := e.Initialize(descriptor, ""); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	token, err := e.Mint("id1")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if token != "custom:id1" {
		t.Errorf("Mint = %q, want %q", token, "custom:id1")
	}
}

func TestEngineInitializeMissingGlobalFails(t *testing.T) {
	e := NewEngine()
	descriptor := &model.ChallengeDescriptor{
		Program:    `function foo() {}`,
		GlobalName: "doesNotExist",
	}
	if err := e.Initialize(descriptor, ""); err == nil {
		t.Error("expected error for missing global")
	}
}

func TestEngineMintBeforeInitializeFails(t *testing.T) {
	e := NewEngine()
	if _, err := e.Mint("x"); err == nil {
		t.Error("expected error minting before initialize")
	}
}

func TestEngineShutdownAndReloadSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.bin")

	e := NewEngine()
	if err := e.Initialize(nil, path); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	validUntil, lifetime, _ := e.Expiry()
	if err := e.Shutdown(path); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	rec, err := loadSnapshot(path)
	if err != nil {
		t.Fatalf("loadSnapshot: %v", err)
	}
	if rec.LifetimeSecs != lifetime {
		t.Errorf("snapshot lifetime = %d, want %d", rec.LifetimeSecs, lifetime)
	}
	if !rec.ValidUntil.Equal(validUntil) {
		t.Errorf("snapshot validUntil = %v, want %v", rec.ValidUntil, validUntil)
	}

	e2 := NewEngine()
	if err := e2.Initialize(nil, path); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	reloaded, _, ok := e2.Expiry()
	if !ok {
		t.Fatal("expected expiry after reload")
	}
	if !reloaded.Equal(validUntil) {
		t.Errorf("reloaded validUntil = %v, want %v", reloaded, validUntil)
	}
}

func TestEngineExpiryBeforeInitialize(t *testing.T) {
	e := NewEngine()
	_, _, ok := e.Expiry()
	if ok {
		t.Error("expected ok=false before initialisation")
	}
}

func TestEngineShutdownIsIdempotentWithoutInitialize(t *testing.T) {
	e := NewEngine()
	if err := e.Shutdown(filepath.Join(t.TempDir(), "snap.bin")); err != nil {
		t.Fatalf("Shutdown without Initialize should be a no-op: %v", err)
	}
}

func TestHashProgramStable(t *testing.T) {
	a := hashProgram("foo")
	b := hashProgram("foo")
	if a != b {
		t.Error("hashProgram should be deterministic")
	}
	if a == hashProgram("bar") {
		t.Error("hashProgram should differ for different input")
	}
}

func TestDefaultLifetimeMatchesSixHours(t *testing.T) {
	if defaultLifetime != 6*time.Hour {
		t.Errorf("defaultLifetime = %v, want 6h", defaultLifetime)
	}
}
