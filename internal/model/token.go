package model

import "time"

// SessionToken is a minted Proof-of-Origin token bound to an identifier.
type SessionToken struct {
	PoToken        string    `json:"poToken"`
	ContentBinding string    `json:"contentBinding"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// Expired reports whether the token is no longer usable at t.
func (s SessionToken) Expired(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// MinterEntry caches an integrity token minted by one VM initialisation,
// reused to mint per-identifier tokens until it expires.
type MinterEntry struct {
	Expiry                   time.Time
	IntegrityToken           string
	EstimatedTTLSecs         uint32
	MintRefreshThresholdSecs uint32
	WebsafeFallback          string
}

// Expired reports whether the minter entry is past its declared expiry at t.
func (m MinterEntry) Expired(t time.Time) bool {
	return t.After(m.Expiry)
}

// MintRefreshThreshold computes min(300, ttlSecs/2), per the spec's policy.
func MintRefreshThreshold(ttlSecs uint32) uint32 {
	half := ttlSecs / 2
	if half > 300 {
		return 300
	}
	return half
}

// ChallengeDescriptor is the BotGuard challenge fetched from Innertube's
// att/get endpoint. Its fields are opaque to everything but the embedded VM
// engine that consumes them.
type ChallengeDescriptor struct {
	InterpreterURL            string `json:"interpreterUrl"`
	InterpreterHash           string `json:"interpreterHash"`
	Program                   string `json:"program"`
	GlobalName                string `json:"globalName"`
	ClientExperimentsStateBlob string `json:"clientExperimentsStateBlob,omitempty"`
}

// PotRequest is the public request shape accepted by the session manager,
// the HTTP handler, and the CLI.
type PotRequest struct {
	ContentBinding         string          `json:"content_binding,omitempty"`
	Proxy                  string          `json:"proxy,omitempty"`
	BypassCache            bool            `json:"bypass_cache,omitempty"`
	Challenge              *ChallengeDescriptor `json:"challenge,omitempty"`
	DisableInnertube       bool            `json:"disable_innertube,omitempty"`
	DisableTLSVerification bool            `json:"disable_tls_verification,omitempty"`
	InnertubeContext       map[string]any  `json:"innertube_context,omitempty"`
	SourceAddress          string          `json:"source_address,omitempty"`
}

// DeprecatedFields lists the request body keys rejected verbatim (case
// sensitive) by the HTTP layer's deprecated-field validation middleware.
var DeprecatedFields = []string{"data_sync_id", "visitor_data"}
