// Package fingerprint derives the stable identity and the content hash of a
// change notification. The identity survives retried deliveries; the content
// hash recognizes the same logical state across different envelopes.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"sync_relay/internal/domain"
)

// eventIDLen bounds the hex digest carried in event ids.
const eventIDLen = 16

// EventID derives the stable identity of a delivery. With a provider-supplied
// delivery id the same physical delivery always maps to the same identity,
// even across process restarts. Without one, identity falls back to
// (provider, entity type, entity id, timestamp); second-granularity
// collisions between distinct coincident events are accepted.
func EventID(provider, deliveryID, entityType, entityID string, ts time.Time) string {
	var seed string
	if deliveryID != "" {
		seed = strings.Join([]string{provider, "delivery", deliveryID}, "|")
	} else {
		seed = strings.Join([]string{provider, entityType, entityID, strconv.FormatInt(ts.Unix(), 10)}, "|")
	}
	sum := sha256.Sum256([]byte(seed))
	return provider + ":" + hex.EncodeToString(sum[:])[:eventIDLen]
}

// canonical holds only the semantically meaningful fields, in a stable
// serialization order. Volatile fields (timestamps, delivery ids, URLs,
// actors) are deliberately absent so retried deliveries with different
// envelopes hash identically.
type canonical struct {
	Provider   string   `json:"provider"`
	EntityType string   `json:"entity_type"`
	EntityID   string   `json:"entity_id"`
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	State      string   `json:"state"`
	Labels     []string `json:"labels"`
}

// ContentHash hashes the normalized semantic content of a payload: trimmed
// title/body, sorted labels, stable key order.
func ContentHash(provider string, p *domain.ChangePayload) string {
	labels := append([]string(nil), p.Labels...)
	sort.Strings(labels)

	c := canonical{
		Provider:   provider,
		EntityType: p.EntityType,
		EntityID:   p.EntityID,
		Title:      strings.TrimSpace(p.Title),
		Body:       strings.TrimSpace(p.Body),
		State:      p.State,
		Labels:     labels,
	}

	data, _ := json.Marshal(c)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
