package session

import (
	"github.com/bgutil/potprovider/internal/config"
	"github.com/bgutil/potprovider/internal/model"
)

// resolveProxySpec builds a model.ProxySpec from the request, falling back
// to the configured HTTPS/HTTP/ALL proxy environment priority when the
// request itself specifies none.
func resolveProxySpec(reqProxy, sourceAddress string, cfg config.Settings, innertubeContext map[string]any) model.ProxySpec {
	proxy := reqProxy
	if proxy == "" {
		proxy = cfg.EffectiveProxy()
	}

	spec := model.ProxySpec{
		Proxy:         proxy,
		SourceAddress: sourceAddress,
	}
	if remoteHost, ok := remoteHostFrom(innertubeContext); ok {
		spec.RemoteHost = remoteHost
	}
	return spec
}

// remoteHostFrom extracts an explicit remoteHost override from an
// innertube_context payload's nested client object
// (innertube_context.client.remoteHost), mirroring the original's
// extraction from the client context JSON.
func remoteHostFrom(innertubeContext map[string]any) (string, bool) {
	if innertubeContext == nil {
		return "", false
	}
	client, ok := innertubeContext["client"].(map[string]any)
	if !ok {
		return "", false
	}
	v, ok := client["remoteHost"].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
