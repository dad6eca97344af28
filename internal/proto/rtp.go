package proto

// Router-side parameter shapes. The core treats them as opaque and hands them
// to the media engine; only the engine adapter reads individual fields.

type RtpCapabilities struct {
	Codecs           []RtpCodecCapability     `json:"codecs"`
	HeaderExtensions []RtpHeaderExtensionCaps `json:"headerExtensions,omitempty"`
}

type RtpCodecCapability struct {
	Kind                 string         `json:"kind"`
	MimeType             string         `json:"mimeType"`
	PreferredPayloadType uint8          `json:"preferredPayloadType,omitempty"`
	ClockRate            uint32         `json:"clockRate"`
	Channels             uint16         `json:"channels,omitempty"`
	Parameters           map[string]any `json:"parameters,omitempty"`
	RtcpFeedback         []RtcpFeedback `json:"rtcpFeedback,omitempty"`
}

type RtpHeaderExtensionCaps struct {
	Kind        string `json:"kind"`
	URI         string `json:"uri"`
	PreferredID int    `json:"preferredId"`
	Direction   string `json:"direction,omitempty"`
}

type RtcpFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

type RtpParameters struct {
	Mid              string                    `json:"mid,omitempty"`
	Codecs           []RtpCodecParameters      `json:"codecs"`
	HeaderExtensions []RtpHeaderExtensionParam `json:"headerExtensions,omitempty"`
	Encodings        []RtpEncodingParameters   `json:"encodings,omitempty"`
	Rtcp             *RtcpParameters           `json:"rtcp,omitempty"`
}

type RtpCodecParameters struct {
	MimeType     string         `json:"mimeType"`
	PayloadType  uint8          `json:"payloadType"`
	ClockRate    uint32         `json:"clockRate"`
	Channels     uint16         `json:"channels,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	RtcpFeedback []RtcpFeedback `json:"rtcpFeedback,omitempty"`
}

type RtpHeaderExtensionParam struct {
	URI string `json:"uri"`
	ID  int    `json:"id"`
}

type RtpEncodingParameters struct {
	Ssrc uint32   `json:"ssrc,omitempty"`
	Rid  string   `json:"rid,omitempty"`
	Rtx  *RtxSsrc `json:"rtx,omitempty"`
}

type RtxSsrc struct {
	Ssrc uint32 `json:"ssrc"`
}

type RtcpParameters struct {
	Cname       string `json:"cname,omitempty"`
	ReducedSize bool   `json:"reducedSize"`
}

// ---- transports ----

type TransportOptions struct {
	ID                 string         `json:"id"`
	IceParameters      IceParameters  `json:"ice_parameters"`
	IceCandidates      []IceCandidate `json:"ice_candidates"`
	DtlsParameters     DtlsParameters `json:"dtls_parameters"`
	IceServers         []IceServer    `json:"ice_servers,omitempty"`
	IceTransportPolicy string         `json:"ice_transport_policy,omitempty"`
	ForceRelay         bool           `json:"force_relay,omitempty"`
}

// Relay reports whether only TURN relay candidates may be used.
func (o TransportOptions) Relay() bool {
	return o.ForceRelay || o.IceTransportPolicy == "relay"
}

type IceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	IceLite          bool   `json:"iceLite,omitempty"`
}

type IceCandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Address    string `json:"address,omitempty"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
	TCPType    string `json:"tcpType,omitempty"`
}

// Host returns the candidate address; servers send either ip or address.
func (c IceCandidate) Host() string {
	if c.Address != "" {
		return c.Address
	}
	return c.IP
}

type DtlsParameters struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}

type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type IceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}
