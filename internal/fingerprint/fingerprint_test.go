package fingerprint

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sync_relay/internal/domain"
)

func TestEventID_StableForSameDelivery(t *testing.T) {
	ts := time.Now()
	id1 := EventID("tracker", "delivery-1", "issue", "org/repo#42", ts)
	id2 := EventID("tracker", "delivery-1", "issue", "org/repo#42", ts.Add(time.Hour))

	assert.Equal(t, id1, id2, "delivery id must pin the identity regardless of timestamp")
	assert.True(t, strings.HasPrefix(id1, "tracker:"))
	assert.Len(t, id1, len("tracker:")+16)
}

func TestEventID_DiffersPerDelivery(t *testing.T) {
	ts := time.Now()
	id1 := EventID("tracker", "d1", "issue", "org/repo#42", ts)
	id2 := EventID("tracker", "d2", "issue", "org/repo#42", ts)

	assert.NotEqual(t, id1, id2)
}

func TestEventID_FallbackUsesEntityAndTimestamp(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	id1 := EventID("tracker", "", "issue", "org/repo#42", ts)
	id2 := EventID("tracker", "", "issue", "org/repo#42", ts)
	id3 := EventID("tracker", "", "issue", "org/repo#42", ts.Add(time.Second))

	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3)
}

func TestContentHash_IgnoresVolatileFields(t *testing.T) {
	base := &domain.ChangePayload{
		EntityType: "issue",
		EntityID:   "org/repo#42",
		Title:      "Fix the thing",
		Body:       "It is broken",
		State:      "open",
		Labels:     []string{"bug", "urgent"},
		UpdatedAt:  time.Now(),
	}
	other := *base
	other.Actor = "someone-else"
	other.SourceURL = "https://elsewhere.example/42"
	other.UpdatedAt = base.UpdatedAt.Add(time.Minute)

	assert.Equal(t, ContentHash("tracker", base), ContentHash("tracker", &other))
}

func TestContentHash_NormalizesWhitespaceAndLabelOrder(t *testing.T) {
	a := &domain.ChangePayload{
		EntityID: "org/repo#42",
		Title:    "  Fix the thing  ",
		Body:     "It is broken\n",
		Labels:   []string{"urgent", "bug"},
	}
	b := &domain.ChangePayload{
		EntityID: "org/repo#42",
		Title:    "Fix the thing",
		Body:     "It is broken",
		Labels:   []string{"bug", "urgent"},
	}

	assert.Equal(t, ContentHash("tracker", a), ContentHash("tracker", b))
}

func TestContentHash_ChangesWithContent(t *testing.T) {
	a := &domain.ChangePayload{EntityID: "org/repo#42", Title: "Fix the thing"}
	b := &domain.ChangePayload{EntityID: "org/repo#42", Title: "Fix another thing"}

	assert.NotEqual(t, ContentHash("tracker", a), ContentHash("tracker", b))
}
