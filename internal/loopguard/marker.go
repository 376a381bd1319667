// Package loopguard builds and detects the marker this relay embeds in every
// body it writes to a remote system, so echoes of its own writes can be
// discarded before any dedup bookkeeping.
package loopguard

import (
	"fmt"
	"strings"
)

// markerPrefix is the fixed convention shared by the write collaborators and
// the detector. Changing it invalidates markers already embedded remotely.
const markerPrefix = "sync-relay"

// Marker renders the opaque token for one write. The result is an HTML
// comment so remote renderers keep it invisible.
func Marker(namespace, token string) string {
	return fmt.Sprintf("<!-- %s:%s:%s -->", markerPrefix, namespace, token)
}

// HasMarker reports whether text carries a marker for the given namespace.
// It is a pure substring predicate, cheap enough to run before any store
// lookup.
func HasMarker(text, namespace string) bool {
	return strings.Contains(text, markerPrefix+":"+namespace+":")
}
