// Package vm implements the BotGuard worker: a dedicated-goroutine actor
// wrapping an embedded JS engine. The engine itself is the library-primitive
// boundary the spec places out of scope; this package defines the contract
// it must satisfy and a goja-backed default implementation of that
// contract, never the real BotGuard challenge logic.
package vm

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dop251/goja"

	"github.com/bgutil/potprovider/internal/model"
)

// defaultLifetime is the validity window a freshly initialised engine
// reports for its integrity token, absent any other signal.
const defaultLifetime = 6 * time.Hour

// placeholderProgram and placeholderGlobal back engine initialisation when
// no ChallengeDescriptor is supplied. Reimplementing the real BotGuard
// challenge is out of scope; this is a clearly-labelled stand-in that lets
// the rest of the minting machinery (worker, caches, session manager) be
// exercised end to end.
const (
	placeholderGlobal  = "__bgutilPotPlaceholderMint"
	placeholderProgram = `
function __bgutilPotPlaceholderMint(identifier) {
  var seed = String(identifier) + ":" + String(Date.now());
  var hash = 0;
  for (var i = 0; i < seed.length; i++) {
    hash = ((hash << 5) - hash + seed.charCodeAt(i)) | 0;
  }
  return "pot." + (hash >>> 0).toString(16) + "." + seed.length;
}
`
)

// Engine is the JS-VM library primitive the worker drives. An
// implementation owns exactly one non-thread-safe JS runtime instance for
// its entire lifetime; callers must confine all use to a single goroutine.
type Engine interface {
	// Initialize builds the runtime, evaluating descriptor's program (or a
	// placeholder if descriptor is nil) and loading snapshotPath if it
	// exists and reports an unexpired expiry.
	Initialize(descriptor *model.ChallengeDescriptor, snapshotPath string) error
	// Mint invokes the challenge program's exported function with
	// identifier and returns its string result.
	Mint(identifier string) (string, error)
	// Expiry reports the engine's currently declared validity window.
	Expiry() (validUntil time.Time, lifetimeSecs uint32, ok bool)
	// Shutdown serialises engine state to snapshotPath and releases the
	// runtime. The engine must not be used again afterward; this is the
	// only sanctioned teardown path.
	Shutdown(snapshotPath string) error
}

// snapshotRecord is the opaque blob persisted to snapshotPath. It captures
// only enough to support a warm-start freshness check; it is not a real
// JS-heap snapshot, since the embedded engine itself is out of this
// repository's scope.
type snapshotRecord struct {
	ProgramHash  string
	GlobalName   string
	ValidUntil   time.Time
	LifetimeSecs uint32
}

type botguardEngine struct {
	runtime      *goja.Runtime
	mintFn       goja.Callable
	programHash  string
	globalName   string
	validUntil   time.Time
	lifetimeSecs uint32
}

// NewEngine constructs the default goja-backed Engine.
func NewEngine() Engine {
	return &botguardEngine{}
}

func (e *botguardEngine) Initialize(descriptor *model.ChallengeDescriptor, snapshotPath string) error {
	program := placeholderProgram
	global := placeholderGlobal
	if descriptor != nil {
		program = descriptor.Program
		global = descriptor.GlobalName
	}

	rt := goja.New()
	if _, err := rt.RunString(program); err != nil {
		return fmt.Errorf("evaluate challenge program: %w", err)
	}
	fnVal := rt.Get(global)
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return fmt.Errorf("global %q is not callable", global)
	}

	e.runtime = rt
	e.mintFn = fn
	e.programHash = hashProgram(program)
	e.globalName = global
	e.validUntil = time.Now().Add(defaultLifetime)
	e.lifetimeSecs = uint32(defaultLifetime.Seconds())

	if snap, err := loadSnapshot(snapshotPath); err == nil && snap != nil {
		if snap.ProgramHash == e.programHash && snap.ValidUntil.After(time.Now()) {
			e.validUntil = snap.ValidUntil
			e.lifetimeSecs = snap.LifetimeSecs
		}
	}

	return nil
}

func (e *botguardEngine) Mint(identifier string) (string, error) {
	if e.mintFn == nil {
		return "", fmt.Errorf("engine not initialized")
	}
	result, err := e.mintFn(goja.Undefined(), e.runtime.ToValue(identifier))
	if err != nil {
		return "", fmt.Errorf("mint invocation: %w", err)
	}
	s, ok := result.Export().(string)
	if !ok {
		return "", fmt.Errorf("mint result is not a string")
	}
	return s, nil
}

func (e *botguardEngine) Expiry() (time.Time, uint32, bool) {
	if e.runtime == nil {
		return time.Time{}, 0, false
	}
	return e.validUntil, e.lifetimeSecs, true
}

func (e *botguardEngine) Shutdown(snapshotPath string) error {
	if e.runtime == nil {
		return nil
	}
	rec := snapshotRecord{
		ProgramHash:  e.programHash,
		GlobalName:   e.globalName,
		ValidUntil:   e.validUntil,
		LifetimeSecs: e.lifetimeSecs,
	}
	e.runtime = nil
	e.mintFn = nil
	if snapshotPath == "" {
		return nil
	}
	return writeSnapshot(snapshotPath, rec)
}

func hashProgram(program string) string {
	sum := sha256.Sum256([]byte(program))
	return hex.EncodeToString(sum[:])
}

func writeSnapshot(path string, rec snapshotRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(rec); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

func loadSnapshot(path string) (*snapshotRecord, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var rec snapshotRecord
	if err := gob.NewDecoder(f).Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
