package ows

import "strings"

// JoinQuery appends a query string to a service base URL.
func JoinQuery(base, query string) string {
	switch {
	case !strings.Contains(base, "?"):
		return base + "?" + query
	case strings.HasSuffix(base, "?"), strings.HasSuffix(base, "&"):
		return base + query
	default:
		return base + "&" + query
	}
}

// CapabilitiesURL returns the GetCapabilities URL for a service endpoint.
func CapabilitiesURL(kind ServiceKind, base string) string {
	switch kind {
	case KindWFS:
		return JoinQuery(base, "request=getCapabilities&pretty=true")
	case KindSOS:
		return JoinQuery(base, "service=SOS&request=GetCapabilities")
	default:
		return JoinQuery(base, "request=getCapabilities")
	}
}
