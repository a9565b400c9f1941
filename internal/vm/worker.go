package vm

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bgutil/potprovider/internal/apperror"
	"github.com/bgutil/potprovider/internal/model"
)

// shutdownGrace is the pause after the worker goroutine has confirmed its
// snapshot write, giving it time to exit before the caller proceeds — the
// Go equivalent of the original's Drop-path sleep.
const shutdownGrace = 75 * time.Millisecond

type workerState int

const (
	stateUninitialized workerState = iota
	stateInitializing
	stateReady
	stateShuttingDown
)

type mintCmd struct {
	identifier string
	reply      chan mintResult
}

type mintResult struct {
	token string
	err   error
}

type expiryCmd struct {
	reply chan expiryResult
}

type expiryResult struct {
	validUntil   time.Time
	lifetimeSecs uint32
	ok           bool
}

type shutdownCmd struct {
	done chan struct{}
}

// globalMu is a process-wide mutex gating mint and expiry calls across all
// Worker instances. Redundant given the single-worker-per-process design,
// but a cheap safety net against accidental duplicate VM construction.
var globalMu sync.Mutex

// Worker owns a single JS engine instance behind a dedicated goroutine, so
// the non-thread-safe engine is touched by exactly one goroutine for its
// entire lifetime, including teardown.
type Worker struct {
	mu           sync.Mutex
	state        workerState
	cmdCh        chan any
	doneCh       chan struct{}
	snapshotPath string
	challenge    *model.ChallengeDescriptor
	newEngine    func() Engine
	logger       *slog.Logger
}

// NewWorker constructs a Worker that persists its engine snapshot at
// snapshotPath. The worker is not started until Initialize is called.
func NewWorker(snapshotPath string, logger *slog.Logger) *Worker {
	return &Worker{
		snapshotPath: snapshotPath,
		newEngine:    NewEngine,
		logger:       logger,
		state:        stateUninitialized,
	}
}

// SetChallenge installs the challenge program used on the next
// Initialize/reinitialize. Passing nil reverts to the built-in placeholder.
func (w *Worker) SetChallenge(d *model.ChallengeDescriptor) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.challenge = d
}

// Initialize is idempotent: a no-op if already ready or initialising,
// otherwise spawns the worker goroutine and waits for engine construction
// to complete.
func (w *Worker) Initialize() error {
	w.mu.Lock()
	if w.state == stateReady || w.state == stateInitializing {
		w.mu.Unlock()
		return nil
	}
	w.state = stateInitializing
	challenge := w.challenge
	w.mu.Unlock()

	cmdCh := make(chan any, 16)
	doneCh := make(chan struct{})
	readyCh := make(chan error, 1)

	go w.run(cmdCh, doneCh, readyCh, challenge)

	err := <-readyCh
	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.state = stateUninitialized
		return apperror.Wrap(apperror.KindBotGuard, "vm construction failed", err).WithContext("init")
	}
	w.cmdCh = cmdCh
	w.doneCh = doneCh
	w.state = stateReady
	return nil
}

// run is the worker goroutine body: builds the engine, reports readiness,
// then serves commands strictly in receive order until a shutdown command
// arrives.
func (w *Worker) run(cmdCh chan any, doneCh chan struct{}, readyCh chan error, challenge *model.ChallengeDescriptor) {
	defer close(doneCh)

	engine := w.newEngine()
	if err := engine.Initialize(challenge, w.snapshotPath); err != nil {
		readyCh <- err
		return
	}
	readyCh <- nil

	for cmd := range cmdCh {
		switch c := cmd.(type) {
		case mintCmd:
			token, err := engine.Mint(c.identifier)
			c.reply <- mintResult{token: token, err: err}
		case expiryCmd:
			validUntil, lifetimeSecs, ok := engine.Expiry()
			c.reply <- expiryResult{validUntil: validUntil, lifetimeSecs: lifetimeSecs, ok: ok}
		case shutdownCmd:
			if err := engine.Shutdown(w.snapshotPath); err != nil && w.logger != nil {
				w.logger.Error("snapshot write failed on shutdown", "error", err)
			}
			close(c.done)
			return
		}
	}
}

// Mint sends a mint command and awaits its reply.
func (w *Worker) Mint(identifier string) (string, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	ch, done, err := w.liveChannels()
	if err != nil {
		return "", err
	}

	reply := make(chan mintResult, 1)
	select {
	case ch <- mintCmd{identifier: identifier, reply: reply}:
	case <-done:
		return "", apperror.New(apperror.KindBotGuard, "worker disconnected").WithContext("worker_disconnected")
	}

	select {
	case res := <-reply:
		if res.err != nil {
			return "", apperror.Wrap(apperror.KindTokenGeneration, "mint failed", res.err)
		}
		return res.token, nil
	case <-done:
		return "", apperror.New(apperror.KindBotGuard, "worker disconnected").WithContext("worker_disconnected")
	}
}

// Expiry returns the engine's currently declared validity window, or
// ok=false if the worker has never been initialised.
func (w *Worker) Expiry() (validUntil time.Time, lifetimeSecs uint32, ok bool, err error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	ch, done, cerr := w.liveChannels()
	if cerr != nil {
		return time.Time{}, 0, false, nil
	}

	reply := make(chan expiryResult, 1)
	select {
	case ch <- expiryCmd{reply: reply}:
	case <-done:
		return time.Time{}, 0, false, apperror.New(apperror.KindBotGuard, "worker disconnected").WithContext("worker_disconnected")
	}

	select {
	case res := <-reply:
		return res.validUntil, res.lifetimeSecs, res.ok, nil
	case <-done:
		return time.Time{}, 0, false, apperror.New(apperror.KindBotGuard, "worker disconnected").WithContext("worker_disconnected")
	}
}

func (w *Worker) liveChannels() (chan any, chan struct{}, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != stateReady {
		return nil, nil, apperror.New(apperror.KindBotGuard, "worker not running").WithContext("worker_not_running")
	}
	return w.cmdCh, w.doneCh, nil
}

// Reinitialize shuts down the current worker (if any), waits briefly for
// the isolate to be dropped, then initialises a fresh one.
func (w *Worker) Reinitialize() error {
	w.Shutdown()
	time.Sleep(shutdownGrace)
	return w.Initialize()
}

// Shutdown sends a shutdown command, blocks until the worker goroutine
// confirms the snapshot has been written, and marks the worker
// uninitialised. A no-op if the worker isn't running.
func (w *Worker) Shutdown() {
	w.mu.Lock()
	if w.state != stateReady {
		w.mu.Unlock()
		return
	}
	w.state = stateShuttingDown
	ch := w.cmdCh
	w.mu.Unlock()

	done := make(chan struct{})
	ch <- shutdownCmd{done: done}
	<-done

	time.Sleep(shutdownGrace)

	w.mu.Lock()
	w.cmdCh = nil
	w.doneCh = nil
	w.state = stateUninitialized
	w.mu.Unlock()
}

// ShutdownSync is a best-effort, non-blocking variant for use from
// finalizers or signal handlers where blocking is undesirable.
func (w *Worker) ShutdownSync() {
	w.mu.Lock()
	if w.state != stateReady {
		w.mu.Unlock()
		return
	}
	w.state = stateShuttingDown
	ch := w.cmdCh
	w.mu.Unlock()

	done := make(chan struct{})
	select {
	case ch <- shutdownCmd{done: done}:
	default:
	}
}
