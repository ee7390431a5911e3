package model

import "encoding/json"

type StreamEventKind string

const (
	StreamEventUpdate StreamEventKind = "update"
	StreamEventAnswer StreamEventKind = "answer"
)

// StreamEvent is one decoded frame of a workflow stream.
// Kinds other than update and answer are delivered but carry no meaning for the client.
type StreamEvent struct {
	Kind    StreamEventKind
	Content string
	Raw     json.RawMessage
}

// RunStatus is the run-status endpoint's view of an execution.
type RunStatus struct {
	Status     string
	Message    string
	DocumentID string
}

// ResearchParams describes one research request before it is turned into a prompt.
type ResearchParams struct {
	Name        string   `json:"name"`
	Topic       string   `json:"topic"`
	Framework   string   `json:"framework,omitempty"`
	Category    string   `json:"category,omitempty"`
	Depth       string   `json:"depth,omitempty"`
	WorkspaceID string   `json:"workspace_id,omitempty"`
	DocumentIDs []string `json:"document_ids,omitempty"`
}
