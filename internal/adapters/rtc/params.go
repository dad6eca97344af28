package rtc

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/dkeye/VoiceClient/internal/proto"
)

// AudioLevelURI is the RFC 6464 client-to-mixer audio level extension.
const AudioLevelURI = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"

var supportedMimes = []string{
	webrtc.MimeTypeOpus,
	webrtc.MimeTypeVP8,
	webrtc.MimeTypeVP9,
	webrtc.MimeTypeH264,
	webrtc.MimeTypeRTX,
}

func supportedCodec(c proto.RtpCodecCapability) bool {
	for _, m := range supportedMimes {
		if strings.EqualFold(m, c.MimeType) {
			return true
		}
	}
	return false
}

func codecType(kind string) (webrtc.RTPCodecType, bool) {
	switch kind {
	case "audio":
		return webrtc.RTPCodecTypeAudio, true
	case "video":
		return webrtc.RTPCodecTypeVideo, true
	}
	return 0, false
}

func codecTypeFor(k domain.MediaKind) webrtc.RTPCodecType {
	if k == domain.KindAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

func mediaKind(t webrtc.RTPCodecType) domain.MediaKind {
	if t == webrtc.RTPCodecTypeAudio {
		return domain.KindAudio
	}
	return domain.KindVideo
}

// formatFmtp renders codec parameters as an SDP fmtp line with sorted keys.
func formatFmtp(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	parts := make([]string, 0, len(params))
	for _, k := range slices.Sorted(maps.Keys(params)) {
		parts = append(parts, k+"="+fmtpValue(params[k]))
	}
	return strings.Join(parts, ";")
}

func fmtpValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		if x {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(x)
	}
}

// parseFmtp is the inverse of formatFmtp. Numeric values come back as numbers.
func parseFmtp(line string) map[string]any {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	out := map[string]any{}
	for _, part := range strings.Split(line, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || k == "" {
			continue
		}
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = n
			continue
		}
		out[k] = v
	}
	return out
}

func feedbackToPion(fb []proto.RtcpFeedback) []webrtc.RTCPFeedback {
	if len(fb) == 0 {
		return nil
	}
	out := make([]webrtc.RTCPFeedback, len(fb))
	for i, f := range fb {
		out[i] = webrtc.RTCPFeedback{Type: f.Type, Parameter: f.Parameter}
	}
	return out
}

func feedbackToProto(fb []webrtc.RTCPFeedback) []proto.RtcpFeedback {
	if len(fb) == 0 {
		return nil
	}
	out := make([]proto.RtcpFeedback, len(fb))
	for i, f := range fb {
		out[i] = proto.RtcpFeedback{Type: f.Type, Parameter: f.Parameter}
	}
	return out
}

func codecToPion(c proto.RtpCodecCapability) webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     c.MimeType,
			ClockRate:    c.ClockRate,
			Channels:     c.Channels,
			SDPFmtpLine:  formatFmtp(c.Parameters),
			RTCPFeedback: feedbackToPion(c.RtcpFeedback),
		},
		PayloadType: webrtc.PayloadType(c.PreferredPayloadType),
	}
}

func codecToProto(c webrtc.RTPCodecParameters) proto.RtpCodecParameters {
	return proto.RtpCodecParameters{
		MimeType:     c.MimeType,
		PayloadType:  uint8(c.PayloadType),
		ClockRate:    c.ClockRate,
		Channels:     c.Channels,
		Parameters:   parseFmtp(c.SDPFmtpLine),
		RtcpFeedback: feedbackToProto(c.RTCPFeedback),
	}
}

// sendParameters describes a started RTPSender to the router. The bound codec
// goes first followed by its retransmission codec, if any.
func sendParameters(p webrtc.RTPSendParameters, bound webrtc.RTPCodecParameters, mid, cname string) proto.RtpParameters {
	out := proto.RtpParameters{
		Mid:  mid,
		Rtcp: &proto.RtcpParameters{Cname: cname, ReducedSize: true},
	}
	if bound.MimeType != "" {
		out.Codecs = append(out.Codecs, codecToProto(bound))
		apt := "apt=" + strconv.Itoa(int(bound.PayloadType))
		for _, c := range p.Codecs {
			if strings.EqualFold(c.MimeType, webrtc.MimeTypeRTX) && strings.Contains(c.SDPFmtpLine, apt) {
				out.Codecs = append(out.Codecs, codecToProto(c))
			}
		}
	} else {
		for _, c := range p.Codecs {
			out.Codecs = append(out.Codecs, codecToProto(c))
		}
	}
	for _, h := range p.HeaderExtensions {
		out.HeaderExtensions = append(out.HeaderExtensions, proto.RtpHeaderExtensionParam{URI: h.URI, ID: h.ID})
	}
	for _, e := range p.Encodings {
		enc := proto.RtpEncodingParameters{Ssrc: uint32(e.SSRC), Rid: e.RID}
		if e.RTX.SSRC != 0 {
			enc.Rtx = &proto.RtxSsrc{Ssrc: uint32(e.RTX.SSRC)}
		}
		out.Encodings = append(out.Encodings, enc)
	}
	return out
}

// receiveParameters maps a consumer's parameters onto RTPReceiver decodings.
func receiveParameters(p proto.RtpParameters) (webrtc.RTPReceiveParameters, error) {
	if len(p.Codecs) == 0 {
		return webrtc.RTPReceiveParameters{}, fmt.Errorf("rtc: consumer has no codecs")
	}
	if len(p.Encodings) == 0 {
		return webrtc.RTPReceiveParameters{}, fmt.Errorf("rtc: consumer has no encodings")
	}
	pt := webrtc.PayloadType(p.Codecs[0].PayloadType)
	out := webrtc.RTPReceiveParameters{}
	for _, e := range p.Encodings {
		c := webrtc.RTPCodingParameters{RID: e.Rid, SSRC: webrtc.SSRC(e.Ssrc), PayloadType: pt}
		if e.Rtx != nil {
			c.RTX = webrtc.RTPRtxParameters{SSRC: webrtc.SSRC(e.Rtx.Ssrc)}
		}
		out.Encodings = append(out.Encodings, webrtc.RTPDecodingParameters{RTPCodingParameters: c})
	}
	return out, nil
}

// primaryMime returns the media codec, skipping retransmission entries.
func primaryMime(codecs []proto.RtpCodecParameters) string {
	for _, c := range codecs {
		if !strings.EqualFold(c.MimeType, webrtc.MimeTypeRTX) {
			return c.MimeType
		}
	}
	return ""
}

func headerExtID(exts []proto.RtpHeaderExtensionParam, uri string) uint8 {
	for _, h := range exts {
		if h.URI == uri && h.ID > 0 && h.ID < 256 {
			return uint8(h.ID)
		}
	}
	return 0
}

// ---- transport options ----

func iceServers(in []proto.IceServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(in))
	for _, s := range in {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}

func iceParameters(p proto.IceParameters) webrtc.ICEParameters {
	return webrtc.ICEParameters{UsernameFragment: p.UsernameFragment, Password: p.Password, ICELite: p.IceLite}
}

// iceCandidates converts router candidates, skipping any pion cannot parse.
func iceCandidates(in []proto.IceCandidate) ([]webrtc.ICECandidate, error) {
	out := make([]webrtc.ICECandidate, 0, len(in))
	for _, c := range in {
		protocol, err := webrtc.NewICEProtocol(c.Protocol)
		if err != nil {
			continue
		}
		typ, err := webrtc.NewICECandidateType(c.Type)
		if err != nil {
			continue
		}
		out = append(out, webrtc.ICECandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			Address:    c.Host(),
			Protocol:   protocol,
			Port:       c.Port,
			Typ:        typ,
			TCPType:    c.TCPType,
		})
	}
	if len(in) > 0 && len(out) == 0 {
		return nil, fmt.Errorf("rtc: none of %d remote candidates is usable", len(in))
	}
	return out, nil
}

func dtlsRole(s string) webrtc.DTLSRole {
	switch s {
	case "client":
		return webrtc.DTLSRoleClient
	case "server":
		return webrtc.DTLSRoleServer
	}
	return webrtc.DTLSRoleAuto
}

// localDtlsRole picks the opposite of the router's role; auto means we dial.
func localDtlsRole(remote string) webrtc.DTLSRole {
	if dtlsRole(remote) == webrtc.DTLSRoleClient {
		return webrtc.DTLSRoleServer
	}
	return webrtc.DTLSRoleClient
}

func dtlsToPion(p proto.DtlsParameters, role webrtc.DTLSRole) webrtc.DTLSParameters {
	out := webrtc.DTLSParameters{Role: role}
	for _, f := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, webrtc.DTLSFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	return out
}

func dtlsToProto(p webrtc.DTLSParameters, role webrtc.DTLSRole) proto.DtlsParameters {
	out := proto.DtlsParameters{Role: role.String()}
	for _, f := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, proto.DtlsFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	return out
}
