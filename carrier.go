package chanz

import (
	"sort"
	"strings"
)

// TextMapCarrier is the storage a Propagator reads and writes. Its method set
// matches the OpenTelemetry propagation.TextMapCarrier, so carriers can be
// shared with OpenTelemetry propagators in either direction.
type TextMapCarrier interface {
	Get(key string) string
	Set(key, value string)
	Keys() []string
}

// Carrier is a text-map view over envelope metadata. Keys are lower-cased on
// write since propagation formats treat header names case-insensitively;
// reads are exact.
type Carrier map[string]string

var _ TextMapCarrier = Carrier(nil)

// Set stores value under the lower-cased key, overwriting any previous value.
func (c Carrier) Set(key, value string) {
	c[strings.ToLower(key)] = value
}

// Get returns the value stored under key, or "" if absent.
func (c Carrier) Get(key string) string {
	return c[key]
}

// Lookup returns the value stored under key and whether it was present.
func (c Carrier) Lookup(key string) (string, bool) {
	v, ok := c[key]
	return v, ok
}

// Keys returns the keys present in the carrier in sorted order.
func (c Carrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
