package docstore

// pageRequest is the write body for the docstore pages API. Create and
// update share the same shape; the server ignores absent fields on update.
type pageRequest struct {
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	Status     string   `json:"status,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	SourceURL  string   `json:"source_url,omitempty"`
	ExternalID string   `json:"external_id,omitempty"`
}

type pageResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type errorResponse struct {
	Message string `json:"message"`
}
