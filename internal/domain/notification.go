package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Providers this relay understands. The transport tier tags every decoded
// notification with one of these before it reaches the reconciler.
const (
	ProviderTracker  = "tracker"
	ProviderDocstore = "docstore"
)

// ChangeNotification is the decoded envelope handed over by the transport
// tier. Payload stays opaque until ParsePayload extracts the known shape for
// the given provider.
type ChangeNotification struct {
	Provider   string          `json:"provider"`
	EventType  string          `json:"event_type"`
	DeliveryID string          `json:"delivery_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// ChangePayload is the normalized view of a provider payload. Only fields
// that matter for identity, fingerprinting and the cross-system write are
// kept; everything else in the raw payload is ignored.
type ChangePayload struct {
	EntityType string
	EntityID   string
	Action     string
	Title      string
	Body       string
	State      string
	Labels     []string
	Actor      string
	SourceURL  string
	UpdatedAt  time.Time
}

// trackerEvent mirrors the issue-tracker webhook shape (issue opened,
// edited, closed, commented).
type trackerEvent struct {
	Action string `json:"action"`
	Issue  struct {
		Number    int64     `json:"number"`
		Title     string    `json:"title"`
		Body      string    `json:"body"`
		State     string    `json:"state"`
		HTMLURL   string    `json:"html_url"`
		UpdatedAt time.Time `json:"updated_at"`
		Labels    []struct {
			Name string `json:"name"`
		} `json:"labels"`
	} `json:"issue"`
	Comment struct {
		Body string `json:"body"`
	} `json:"comment"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
}

// docstoreEvent mirrors the document-database change feed shape.
type docstoreEvent struct {
	Action string `json:"action"`
	Page   struct {
		ID           string    `json:"id"`
		Title        string    `json:"title"`
		Body         string    `json:"body"`
		Status       string    `json:"status"`
		URL          string    `json:"url"`
		Tags         []string  `json:"tags"`
		LastEditedBy string    `json:"last_edited_by"`
		LastEditedAt time.Time `json:"last_edited_at"`
	} `json:"page"`
}

// ParsePayload decodes the raw payload for the given provider into the
// normalized shape. Missing identifying fields or an unknown provider are
// input errors and never retried.
func ParsePayload(provider string, raw json.RawMessage) (*ChangePayload, error) {
	switch provider {
	case ProviderTracker:
		return parseTrackerPayload(raw)
	case ProviderDocstore:
		return parseDocstorePayload(raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
}

func parseTrackerPayload(raw json.RawMessage) (*ChangePayload, error) {
	var ev trackerEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode tracker payload: %w", err)
	}
	if ev.Issue.Number == 0 || ev.Repository.FullName == "" || ev.Action == "" {
		return nil, ErrMissingFields
	}

	body := ev.Issue.Body
	if ev.Action == "commented" && ev.Comment.Body != "" {
		body = ev.Comment.Body
	}

	p := &ChangePayload{
		EntityType: "issue",
		EntityID:   fmt.Sprintf("%s#%d", ev.Repository.FullName, ev.Issue.Number),
		Action:     ev.Action,
		Title:      ev.Issue.Title,
		Body:       body,
		State:      ev.Issue.State,
		Actor:      ev.Sender.Login,
		SourceURL:  ev.Issue.HTMLURL,
		UpdatedAt:  ev.Issue.UpdatedAt,
	}
	for _, l := range ev.Issue.Labels {
		if name := strings.TrimSpace(l.Name); name != "" {
			p.Labels = append(p.Labels, name)
		}
	}
	return p, nil
}

func parseDocstorePayload(raw json.RawMessage) (*ChangePayload, error) {
	var ev docstoreEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode docstore payload: %w", err)
	}
	if ev.Page.ID == "" || ev.Action == "" {
		return nil, ErrMissingFields
	}

	return &ChangePayload{
		EntityType: "page",
		EntityID:   ev.Page.ID,
		Action:     ev.Action,
		Title:      ev.Page.Title,
		Body:       ev.Page.Body,
		State:      ev.Page.Status,
		Labels:     append([]string(nil), ev.Page.Tags...),
		Actor:      ev.Page.LastEditedBy,
		SourceURL:  ev.Page.URL,
		UpdatedAt:  ev.Page.LastEditedAt,
	}, nil
}

// EntityKey builds the canonical lock key for an entity.
func EntityKey(provider, entityID string) string {
	return provider + ":" + entityID
}
