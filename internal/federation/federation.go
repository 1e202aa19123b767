// Package federation implements CADP (Cross-Agent Discovery Protocol)
// federation: a horizontal mesh of kernel instances that share agent
// discovery records with peers under trust-gated sync rules (spec.md
// §4.6 "CADP Federation").
package federation

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/cortexos/kernel/internal/bus"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Config configures a Federation instance (spec.md §6 "federation"
// defaults).
type Config struct {
	PeerID             string
	PeerName           string
	ListenPort         int
	SyncIntervalMs     int64
	MaxPeers           int
	ShareCapabilities  bool
	AcceptRemoteAgents bool
	Capabilities       []string

	Bus    *bus.Bus
	Logger *slog.Logger
}

// DefaultConfig returns spec.md §6's federation defaults.
func DefaultConfig() Config {
	return Config{
		ListenPort:         9100,
		SyncIntervalMs:     60000,
		MaxPeers:           50,
		ShareCapabilities:  true,
		AcceptRemoteAgents: true,
	}
}

// Federation owns the local discovery registry and the set of admitted
// peers, and serves/originates CADP sync traffic (spec.md §5: "Federation
// owns its own mutex; HTTP calls to peers are an explicit suspension
// point and always carry a timeout").
type Federation struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	peers *peerSet

	registry *Registry

	httpClient     *http.Client
	envelopeSchema *jsonschema.Schema

	scheduler *syncScheduler
}

// New constructs a Federation, compiling the CADP envelope schema and
// wiring the local registry.
func New(cfg Config) (*Federation, error) {
	if cfg.PeerID == "" {
		return nil, fmt.Errorf("federation: PeerID is required")
	}
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = 50
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	schema, err := compileEnvelopeSchema()
	if err != nil {
		return nil, err
	}

	return &Federation{
		cfg:            cfg,
		logger:         logger,
		peers:          newPeerSet(cfg.MaxPeers),
		registry:       NewRegistry(),
		httpClient:     &http.Client{Timeout: cadpTimeout},
		envelopeSchema: schema,
	}, nil
}

// Registry exposes the local discovery store for registration by the
// owning kernel (agent pool announces records here on startup).
func (f *Federation) Registry() *Registry { return f.registry }

// Peers returns a snapshot of every admitted peer.
func (f *Federation) Peers() []*Peer { return f.peers.list() }

func (f *Federation) publish(peerID string, status PeerStatus) {
	if f.cfg.Bus == nil {
		return
	}
	topic := bus.TopicPeerConnected
	if status != PeerConnected {
		topic = bus.TopicPeerDisconnected
	}
	f.cfg.Bus.Publish(topic, bus.FederationPeerEvent{
		PeerID: peerID,
		Status: string(status),
	})
}

// marshalAny is a small json.Marshal wrapper used when re-decoding a
// message payload that arrived as a generic any (map[string]any) back
// into a concrete payload struct.
func marshalAny(v any) ([]byte, error) { return json.Marshal(v) }

func unmarshalInto(data []byte, out any) error { return json.Unmarshal(data, out) }
