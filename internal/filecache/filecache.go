// Package filecache persists the CLI's minted tokens across process
// restarts, the one path the spec's no-server-side-persistence non-goal
// explicitly carves out.
package filecache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/bgutil/potprovider/internal/model"
)

// entry mirrors model.SessionToken's JSON shape for the on-disk file, kept
// as its own type so the wire format doesn't silently drift if
// SessionToken's tags ever change.
type entry struct {
	PoToken        string    `json:"poToken"`
	ContentBinding string    `json:"contentBinding"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// Path returns the default cache file location under dir (CacheDir from
// config), e.g. $XDG_CACHE_HOME/bgutil-ytdlp-pot-provider/cache.json.
func Path(dir string) string {
	return filepath.Join(dir, "cache.json")
}

// Load reads the cache file at path, dropping any entry already expired at
// now. A missing file or a parse error both fall back to an empty map; only
// I/O errors other than "not exist" are returned.
func Load(path string, now time.Time) (map[string]model.SessionToken, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]model.SessionToken{}, nil
		}
		return map[string]model.SessionToken{}, err
	}

	var raw map[string]entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return map[string]model.SessionToken{}, nil
	}

	out := make(map[string]model.SessionToken, len(raw))
	for k, e := range raw {
		if !e.ExpiresAt.After(now) {
			continue
		}
		out[k] = model.SessionToken{
			PoToken:        e.PoToken,
			ContentBinding: e.ContentBinding,
			ExpiresAt:      e.ExpiresAt,
		}
	}
	return out, nil
}

// Save writes tokens to path as a JSON object, creating parent directories
// as needed.
func Save(path string, tokens map[string]model.SessionToken) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	raw := make(map[string]entry, len(tokens))
	for k, t := range tokens {
		raw[k] = entry{
			PoToken:        t.PoToken,
			ContentBinding: t.ContentBinding,
			ExpiresAt:      t.ExpiresAt,
		}
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
