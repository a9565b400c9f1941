// Package session implements C5, the sole public surface for minting:
// it orchestrates the VM worker, the Innertube client, and the two caches.
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/bgutil/potprovider/internal/apperror"
	"github.com/bgutil/potprovider/internal/cache"
	"github.com/bgutil/potprovider/internal/config"
	"github.com/bgutil/potprovider/internal/innertube"
	"github.com/bgutil/potprovider/internal/model"
	"github.com/bgutil/potprovider/internal/vm"
)

// minVisitorDataLen is the minimum length a fetched visitor-data string
// must have to be considered usable.
const minVisitorDataLen = 10

// integrityTokenRequest is the fixed identifier minted to produce an
// integrity token, matching the original's sentinel value.
const integrityTokenRequest = "integrity_token_request"

// AuditSink receives a fire-and-forget notification after each generate
// call. Implementations must not block minting; the manager logs and
// ignores any error a sink reports.
type AuditSink interface {
	RecordMintEvent(ctx context.Context, identifier string, cacheHit bool, mintErr error) error
}

// Manager is C5: the session manager.
type Manager struct {
	worker     *vm.Worker
	minters    *cache.MinterCache
	tokens     *cache.TokenCache
	innertube  *innertube.Client
	cfg        config.Settings
	audit      AuditSink
	logger     *slog.Logger
	nowFn      func() time.Time
}

// New constructs a Manager wired to its collaborators.
func New(worker *vm.Worker, minters *cache.MinterCache, tokens *cache.TokenCache, client *innertube.Client, cfg config.Settings, logger *slog.Logger) *Manager {
	return &Manager{
		worker:    worker,
		minters:   minters,
		tokens:    tokens,
		innertube: client,
		cfg:       cfg,
		logger:    logger,
		nowFn:     time.Now,
	}
}

// SetAuditSink installs an optional diagnostics sink.
func (m *Manager) SetAuditSink(sink AuditSink) {
	m.audit = sink
}

// Generate is the public mint operation.
func (m *Manager) Generate(ctx context.Context, req model.PotRequest) (model.SessionToken, error) {
	if req.Challenge != nil {
		m.worker.SetChallenge(req.Challenge)
	}
	if err := m.worker.Initialize(); err != nil {
		return model.SessionToken{}, err
	}

	identifier, err := m.resolveIdentifier(ctx, req)
	if err != nil {
		return model.SessionToken{}, err
	}

	now := m.nowFn()
	m.tokens.Cleanup(now)

	if !req.BypassCache {
		if tok, ok := m.tokens.Get(identifier); ok && !tok.Expired(now) {
			m.notifyAudit(ctx, identifier, true, nil)
			return tok, nil
		}
	}

	proxySpec := resolveProxySpec(req.Proxy, req.SourceAddress, m.cfg, req.InnertubeContext)
	key := proxySpec.CacheKey()

	if err := m.ensureMinter(key, now); err != nil {
		m.notifyAudit(ctx, identifier, false, err)
		return model.SessionToken{}, err
	}

	poToken, err := m.worker.Mint(identifier)
	if err != nil {
		m.notifyAudit(ctx, identifier, false, err)
		return model.SessionToken{}, err
	}

	tok := model.SessionToken{
		PoToken:        poToken,
		ContentBinding: identifier,
		ExpiresAt:      now.Add(m.cfg.TokenTTL),
	}
	m.tokens.Put(identifier, tok)
	m.notifyAudit(ctx, identifier, false, nil)
	return tok, nil
}

func (m *Manager) resolveIdentifier(ctx context.Context, req model.PotRequest) (string, error) {
	if req.ContentBinding != "" {
		return req.ContentBinding, nil
	}
	if req.DisableInnertube || m.cfg.DisableInnertube {
		return model.NewColdStartID(), nil
	}

	visitorData, err := m.innertube.GenerateVisitorData(ctx)
	if err != nil {
		return "", err
	}
	if len(visitorData) < minVisitorDataLen {
		return "", apperror.New(apperror.KindVisitorData, "visitor data shorter than minimum length").WithContext("innertube")
	}
	return visitorData, nil
}

// ensureMinter reuses a fresh C3 entry for key, or asks C1 for a new
// integrity token, applying the snapshot-freshness-bug workaround: the
// VM's expiry is re-queried immediately before minting, and the worker is
// reinitialised if it has already lapsed.
func (m *Manager) ensureMinter(key string, now time.Time) error {
	if entry, ok := m.minters.Get(key); ok && !entry.Expired(now) {
		return nil
	}

	validUntil, lifetimeSecs, ok, err := m.worker.Expiry()
	if err != nil {
		return apperror.Wrap(apperror.KindTokenGeneration, "could not query VM expiry", err)
	}
	if !ok {
		return apperror.New(apperror.KindTokenGeneration, "VM has no declared expiry")
	}

	if !validUntil.After(now) {
		if err := m.worker.Reinitialize(); err != nil {
			return err
		}
		validUntil, lifetimeSecs, ok, err = m.worker.Expiry()
		if err != nil {
			return apperror.Wrap(apperror.KindTokenGeneration, "could not query VM expiry after reinitialize", err)
		}
		if !ok || !validUntil.After(now) {
			return apperror.New(apperror.KindTokenGeneration, "VM snapshot still expired after reinitialize")
		}
	}

	integrityToken, err := m.worker.Mint(integrityTokenRequest)
	if err != nil {
		return apperror.Wrap(apperror.KindIntegrityToken, "integrity token mint failed", err)
	}

	entry := model.MinterEntry{
		Expiry:                   validUntil,
		IntegrityToken:           integrityToken,
		EstimatedTTLSecs:         lifetimeSecs,
		MintRefreshThresholdSecs: model.MintRefreshThreshold(lifetimeSecs),
	}
	m.minters.Put(key, entry)
	return nil
}

func (m *Manager) notifyAudit(ctx context.Context, identifier string, cacheHit bool, mintErr error) {
	if m.audit == nil {
		return
	}
	if err := m.audit.RecordMintEvent(ctx, identifier, cacheHit, mintErr); err != nil && m.logger != nil {
		m.logger.Warn("audit sink failed", "error", err)
	}
}

// InvalidateCaches clears both C3 and C4.
func (m *Manager) InvalidateCaches() {
	m.tokens.InvalidateAll()
	m.minters.InvalidateAll()
}

// InvalidateIntegrityTokens marks every C3 entry expired without dropping
// its key.
func (m *Manager) InvalidateIntegrityTokens() {
	m.minters.InvalidateIntegrity()
}

// MinterCacheKeys is the /minter_cache diagnostic.
func (m *Manager) MinterCacheKeys() []string {
	return m.minters.Keys()
}

// GenerateVisitorData is the explicit pre-fetch path.
func (m *Manager) GenerateVisitorData(ctx context.Context) (string, error) {
	return m.innertube.GenerateVisitorData(ctx)
}

// ExportTokens returns a snapshot of C4, for the CLI file cache.
func (m *Manager) ExportTokens() map[string]model.SessionToken {
	return m.tokens.Export()
}

// ImportTokens merges previously persisted entries into C4.
func (m *Manager) ImportTokens(entries map[string]model.SessionToken) {
	m.tokens.Import(entries)
}

// Shutdown forwards to C1.
func (m *Manager) Shutdown() {
	m.worker.Shutdown()
}
