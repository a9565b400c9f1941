package model

// ProxySpec carries the caller-resolved proxy and source-address context
// used to derive a network-identity cache key (spec §3).
type ProxySpec struct {
	Proxy         string
	SourceAddress string
	RemoteHost    string
}

// CacheKey derives the minter-cache key per the spec's NetworkIdentity
// table. A caller-supplied RemoteHost always wins; otherwise the key is
// built from whichever of Proxy/SourceAddress are set.
func (p ProxySpec) CacheKey() string {
	if p.RemoteHost != "" {
		return p.RemoteHost
	}
	switch {
	case p.Proxy != "" && p.SourceAddress != "":
		return p.Proxy + ":" + p.SourceAddress
	case p.Proxy != "":
		return "proxy:" + p.Proxy
	case p.SourceAddress != "":
		return "source:" + p.SourceAddress
	default:
		return "default"
	}
}
