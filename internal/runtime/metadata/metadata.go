package metadata

import (
	"strings"
)

// Header keys carried on every broadcast and transport message.
const (
	KindKey           = "callflow_kind"
	CorrelationIDsKey = "callflow_correlation_ids"
	EventKey          = "callflow_event"
	EndpointKey       = "callflow_endpoint"
	ConnectionKey     = "callflow_connection"
)

// Metadata holds string headers attached to a message.
type Metadata map[string]string

// Clone returns a shallow copy. A nil receiver yields an empty, non-nil map.
func (m Metadata) Clone() Metadata {
	cloned := make(Metadata, len(m))
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// With returns a copy containing key=value.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.Clone()
	cloned[key] = value
	return cloned
}

// Merge returns a copy with entries overlaid.
func (m Metadata) Merge(entries Metadata) Metadata {
	cloned := m.Clone()
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// Filter returns a copy holding only keys with the given prefix.
func (m Metadata) Filter(prefix string) Metadata {
	out := Metadata{}
	for k, v := range m {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out
}

// New builds Metadata from alternating key/value pairs. A trailing key
// without a value is ignored.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
