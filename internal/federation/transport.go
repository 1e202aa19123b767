package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const cadpTimeout = 10 * time.Second

// sendCADP posts msg to peerURL+"/cadp" and decodes the response envelope
// (spec.md §4.6 "CADP wire": "a single endpoint per peer... Timeout 10s").
func (f *Federation) sendCADP(ctx context.Context, peerURL string, msg Message) (Message, error) {
	ctx, cancel := context.WithTimeout(ctx, cadpTimeout)
	defer cancel()

	body, err := json.Marshal(msg)
	if err != nil {
		return Message{}, fmt.Errorf("federation: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peerURL+"/cadp", bytes.NewReader(body))
	if err != nil {
		return Message{}, fmt.Errorf("federation: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Message{}, fmt.Errorf("federation: peer unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Message{}, fmt.Errorf("federation: read response: %w", err)
	}

	var reply Message
	if err := json.Unmarshal(data, &reply); err != nil {
		return Message{}, fmt.Errorf("federation: decode response: %w", err)
	}
	return reply, nil
}

func newMessage(msgType MessageType, source string, payload any) Message {
	return Message{
		Type:      msgType,
		ID:        uuid.NewString(),
		Source:    source,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// Handler serves the inbound CADP endpoint: POST /cadp. A malformed or
// schema-invalid payload produces a CADP "error" message instead of a
// decode panic (spec.md §4.6 supplement), never an HTTP-level crash.
func (f *Federation) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/cadp", f.handleCADP)
	return mux
}

func (f *Federation) handleCADP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		f.writeError(w, "", "could not read request body")
		return
	}

	raw, err := unmarshalForValidation(data)
	if err != nil {
		f.writeError(w, "", "malformed JSON envelope")
		return
	}
	if err := f.envelopeSchema.Validate(raw); err != nil {
		f.writeError(w, "", "envelope failed schema validation: "+err.Error())
		return
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		f.writeError(w, "", "malformed CADP message")
		return
	}

	reply := f.dispatch(r.Context(), msg)
	writeJSON(w, reply)
}

// dispatch type-switches an inbound message to its handler (spec.md §4.6
// "Message types").
func (f *Federation) dispatch(ctx context.Context, msg Message) Message {
	switch msg.Type {
	case MsgHealthCheck:
		return f.handleHealthCheck(msg)
	case MsgSyncRequest:
		return f.handleSyncRequest(msg)
	case MsgLookup:
		return f.handleLookup(msg)
	case MsgSearch:
		return f.handleSearch(msg)
	default:
		return newMessage(MsgError, f.cfg.PeerID, errorPayload{Message: "unsupported message type: " + string(msg.Type)})
	}
}

func (f *Federation) writeError(w http.ResponseWriter, id, message string) {
	writeJSON(w, newMessage(MsgError, f.cfg.PeerID, errorPayload{Message: message}))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// unmarshalForValidation decodes data generically for schema validation.
func unmarshalForValidation(data []byte) (any, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
