package connectivity

import (
	"strings"

	"github.com/streamprobe/streamprobe/pkg/result"
)

// detectStreamType classifies the serving software. Evidence is weighed
// in order: ICY headers, the Server header, URL and content-type HLS
// markers, then a direct HTTP fallback for audio content types.
func detectStreamType(
	streamURL string,
	probe *result.ConnectionProbe,
	icy map[string]string,
	headers *result.ServerHeaders,
) *result.StreamType {
	server := ""
	if headers != nil {
		server = headers.Server
	}

	serverLower := strings.ToLower(server)

	if len(icy) > 0 {
		st := &result.StreamType{DetectedVia: "icy_headers", ServerVersion: server}

		switch {
		case strings.Contains(serverLower, "icecast"):
			st.Type = result.TypeIcecast
			st.DetectedVia = "server_header"
		case strings.Contains(serverLower, "shoutcast"):
			st.Type = result.TypeShoutcast
			st.DetectedVia = "server_header"
		default:
			st.Type = result.TypeICY
		}

		return st
	}

	if isHLS(streamURL, probe.ContentType) {
		return &result.StreamType{Type: result.TypeHLS, DetectedVia: "url_pattern", ServerVersion: server}
	}

	switch {
	case strings.Contains(serverLower, "icecast"):
		return &result.StreamType{Type: result.TypeIcecast, DetectedVia: "server_header", ServerVersion: server}
	case strings.Contains(serverLower, "shoutcast"):
		return &result.StreamType{Type: result.TypeShoutcast, DetectedVia: "server_header", ServerVersion: server}
	}

	if strings.HasPrefix(strings.ToLower(probe.ContentType), "audio/") {
		return &result.StreamType{Type: result.TypeDirectHTTP, DetectedVia: "content_type", ServerVersion: server}
	}

	return &result.StreamType{Type: result.TypeUnknown, ServerVersion: server}
}

// isHLS reports whether the URL or content type identifies an HLS
// playlist.
func isHLS(streamURL, contentType string) bool {
	if strings.Contains(strings.ToLower(streamURL), ".m3u8") {
		return true
	}

	ct := strings.ToLower(contentType)

	return strings.Contains(ct, "application/vnd.apple.mpegurl") ||
		strings.Contains(ct, "application/x-mpegurl") ||
		strings.Contains(ct, "audio/mpegurl")
}
