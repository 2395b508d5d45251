package headers

import (
	"net/http"
	"strings"
)

// outbound are never copied from the inbound request to the upstream call.
// Accept-Encoding is left to the transport so compressed bodies come back decoded.
var outbound = []string{"Host", "Connection", "Content-Length", "Accept-Encoding"}

// relay are stripped from upstream and mock responses before they reach the client
var relay = []string{"Content-Encoding", "Transfer-Encoding", "Content-Length", "Connection"}

// Outbound returns a copy of h without the headers that must not be forwarded
func Outbound(h http.Header) http.Header {
	return without(h, outbound)
}

// Relay returns a copy of h without the headers that must not be relayed back
func Relay(h http.Header) http.Header {
	return without(h, relay)
}

// IsOutboundExcluded reports whether name is dropped by Outbound
func IsOutboundExcluded(name string) bool {
	for _, ex := range outbound {
		if strings.EqualFold(name, ex) {
			return true
		}
	}
	return false
}

func without(h http.Header, drop []string) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		skip := false
		for _, d := range drop {
			if strings.EqualFold(k, d) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		out[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
	}
	return out
}

// Flatten joins multi-value headers with ", " into a key->value map
func Flatten(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}
