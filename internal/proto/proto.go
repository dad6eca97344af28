// Package proto holds the media signaling vocabulary. Every frame is an
// Envelope {type, data}; Type is the dispatch key on both sides.
package proto

import "encoding/json"

const (
	TypePing = "ping"
	TypePong = "pong"

	TypeJoin               = "media:join"
	TypeRouterCapabilities = "media:router_capabilities"
	TypeTransportCreated   = "media:transport_created"
	TypeConnectTransport   = "media:connect_transport"
	TypeProduce            = "media:produce"
	TypeProduceResult      = "media:produce_result"
	TypeConsume            = "media:consume"
	TypeConsumerCreated    = "media:consumer_created"
	TypeNewProducer        = "media:new_producer"
	TypePeerLeft           = "media:peer_left"
	TypeProducerClosed     = "media:producer_closed"
	TypeProducerClose      = "media:producer_close"
	TypeLeave              = "media:leave"
	TypeError              = "media:error"
)

type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode builds a frame. A nil data value produces an envelope without data.
func Encode(typ string, data any) ([]byte, error) {
	env := Envelope{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// ---- client -> server ----

type JoinRequest struct {
	ConferenceID string `json:"conference_id"`
}

type ConnectTransportRequest struct {
	ConferenceID   string         `json:"conference_id"`
	TransportID    string         `json:"transport_id"`
	DtlsParameters DtlsParameters `json:"dtls_parameters"`
}

type ProduceRequest struct {
	ConferenceID  string        `json:"conference_id"`
	Kind          string        `json:"kind"`
	RtpParameters RtpParameters `json:"rtp_parameters"`
	AppData       *AppData      `json:"app_data,omitempty"`
}

type AppData struct {
	Source string `json:"source,omitempty"`
}

type ConsumeRequest struct {
	ConferenceID    string          `json:"conference_id"`
	ProducerID      string          `json:"producer_id"`
	RtpCapabilities RtpCapabilities `json:"rtp_capabilities"`
}

type ProducerCloseRequest struct {
	ConferenceID string `json:"conference_id"`
	ProducerID   string `json:"producer_id"`
}

type LeaveRequest struct {
	ConferenceID string `json:"conference_id"`
}

// ---- server -> client ----

type RouterCapabilities struct {
	RtpCapabilities RtpCapabilities `json:"rtp_capabilities"`
}

type TransportCreated struct {
	SendTransport TransportOptions `json:"send_transport"`
	RecvTransport TransportOptions `json:"recv_transport"`
}

type ProduceResult struct {
	ID string `json:"id"`
}

type ConsumerCreated struct {
	ID            string        `json:"id"`
	ProducerID    string        `json:"producer_id"`
	Kind          string        `json:"kind"`
	RtpParameters RtpParameters `json:"rtp_parameters"`
}

type NewProducer struct {
	ProducerID string   `json:"producer_id"`
	UserID     string   `json:"user_id"`
	Kind       string   `json:"kind"`
	AppData    *AppData `json:"app_data,omitempty"`
}

type PeerLeft struct {
	UserID       string `json:"user_id"`
	ConferenceID string `json:"conference_id,omitempty"`
}

type ProducerClosed struct {
	ProducerID string `json:"producer_id"`
	UserID     string `json:"user_id"`
}

type Error struct {
	Message string `json:"message"`
}
