package federation

import "time"

// MessageType enumerates the CADP wire message kinds (spec.md §4.6
// "Message types").
type MessageType string

const (
	MsgHealthCheck    MessageType = "health-check"
	MsgHealthResponse MessageType = "health-response"
	MsgSyncRequest    MessageType = "sync-request"
	MsgSyncResponse   MessageType = "sync-response"
	MsgLookup         MessageType = "lookup"
	MsgLookupResponse MessageType = "lookup-response"
	MsgSearch         MessageType = "search"
	MsgSearchResponse MessageType = "search-response"
	MsgAnnounce       MessageType = "announce"
	MsgError          MessageType = "error"
)

// Message is the CADP wire envelope: "{type, id, source, destination?,
// payload, timestamp}" (spec.md §4.6).
type Message struct {
	Type        MessageType `json:"type"`
	ID          string      `json:"id"`
	Source      string      `json:"source"`
	Destination string      `json:"destination,omitempty"`
	Payload     any         `json:"payload,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// healthResponsePayload is the payload of a health-response message.
type healthResponsePayload struct {
	PeerID       string   `json:"peerId"`
	PeerName     string   `json:"peerName"`
	Capabilities []string `json:"capabilities"`
}

// syncRequestPayload carries the sender's non-expired local records.
type syncRequestPayload struct {
	Records []Record `json:"records"`
}

type syncResponsePayload struct {
	Records []Record `json:"records"`
}

type lookupPayload struct {
	AgentID string `json:"agentId"`
}

type lookupResponsePayload struct {
	Found  bool    `json:"found"`
	Record *Record `json:"record,omitempty"`
}

type searchPayload struct {
	Capability string `json:"capability"`
}

type searchResponsePayload struct {
	Records []Record `json:"records"`
}

type errorPayload struct {
	Message string `json:"message"`
}
