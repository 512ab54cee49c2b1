// Package result defines the record produced by a diagnostic run. Every
// phase contributes a sub-object carrying an explicit status, so a phase
// that failed or never ran is distinguishable from one that succeeded.
package result

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the outcome of a single pipeline phase.
type Status string

const (
	// StatusOK means the phase completed and its fields are populated.
	StatusOK Status = "ok"

	// StatusError means the phase ran but failed; Error holds the reason.
	StatusError Status = "error"

	// StatusSkipped means the phase was not executed; Reason says why.
	StatusSkipped Status = "skipped"
)

// Record is the accumulating result of one test run. Phase sub-objects are
// merged in as phases complete; slots for requested phases are seeded as
// skipped so the output never silently lacks a phase.
type Record struct {
	TestRunID string    `json:"test_run_id"`
	StreamID  string    `json:"stream_id"`
	StreamURL string    `json:"stream_url"`
	Timestamp time.Time `json:"timestamp"`
	Phase     int       `json:"phase"`

	Connectivity      *Connectivity      `json:"connectivity,omitempty"`
	Player            *Player            `json:"player_test,omitempty"`
	ConnectionQuality *ConnectionQuality `json:"connection_quality,omitempty"`
	Audio             *Audio             `json:"audio_analysis,omitempty"`
	Ads               *AdDetection       `json:"ad_detection,omitempty"`

	HealthScore     *int     `json:"health_score,omitempty"`
	Issues          []string `json:"issues,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// JSON renders the record for output and persistence.
func (r *Record) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling record: %w", err)
	}

	return data, nil
}

// MarshalRecords renders a list of records, newest first, for the
// history output.
func MarshalRecords(recs []*Record) ([]byte, error) {
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling records: %w", err)
	}

	return data, nil
}

// ParseRecord decodes a record previously produced by JSON.
func ParseRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing record: %w", err)
	}

	return &rec, nil
}

// Connectivity is the phase 1 result.
type Connectivity struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`

	Probe         *ConnectionProbe  `json:"connection,omitempty"`
	SSL           *SSLCertificate   `json:"ssl_certificate,omitempty"`
	Parameters    *StreamParameters `json:"stream_parameters,omitempty"`
	Metadata      *StreamMetadata   `json:"metadata,omitempty"`
	ServerHeaders *ServerHeaders    `json:"server_headers,omitempty"`
	StreamType    *StreamType       `json:"stream_type,omitempty"`
	HLS           *HLSInfo          `json:"hls_info,omitempty"`
}

// ConnectionProbe describes the initial HTTP(S) request against the URL.
type ConnectionProbe struct {
	// Status is success, timeout, connection_error, ssl_error or error.
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
	ResponseTimeMS int    `json:"response_time_ms"`
	HTTPStatus     int    `json:"http_status,omitempty"`
	ContentType    string `json:"content_type,omitempty"`
	FinalURL       string `json:"final_url,omitempty"`
}

// SSLCertificate describes the peer certificate of an HTTPS stream.
type SSLCertificate struct {
	Valid               bool   `json:"valid"`
	Expires             string `json:"expires,omitempty"`
	Issued              string `json:"issued,omitempty"`
	DaysUntilExpiration *int   `json:"days_until_expiration,omitempty"`
	Issuer              string `json:"issuer,omitempty"`
	Subject             string `json:"subject,omitempty"`
	SelfSigned          bool   `json:"self_signed"`
	Error               string `json:"error,omitempty"`
}

// StreamParameters carries codec facts extracted from headers or probing.
type StreamParameters struct {
	BitrateKbps  *int   `json:"bitrate_kbps,omitempty"`
	Codec        string `json:"codec,omitempty"`
	SampleRateHz *int   `json:"sample_rate_hz,omitempty"`
	Channels     string `json:"channels,omitempty"`
	Container    string `json:"container,omitempty"`
}

// StreamMetadata carries titling information advertised by the server.
type StreamMetadata struct {
	Title       string `json:"title,omitempty"`
	Genre       string `json:"genre,omitempty"`
	Artist      string `json:"artist,omitempty"`
	Description string `json:"description,omitempty"`
}

// ServerHeaders summarizes protocol-level response headers.
type ServerHeaders struct {
	Server        string `json:"server,omitempty"`
	ContentType   string `json:"content_type,omitempty"`
	ContentLength string `json:"content_length,omitempty"`
	CacheControl  string `json:"cache_control,omitempty"`
	CORSEnabled   bool   `json:"cors_enabled"`
	CORSOrigin    string `json:"cors_origin,omitempty"`
}

// Stream server flavors as detected by the prober.
const (
	TypeIcecast    = "icecast"
	TypeShoutcast  = "shoutcast"
	TypeICY        = "icy"
	TypeHLS        = "hls"
	TypeDirectHTTP = "direct_http"
	TypeUnknown    = "unknown"
)

// StreamType identifies the serving software behind the URL.
type StreamType struct {
	Type          string `json:"type"`
	DetectedVia   string `json:"detected_via,omitempty"`
	ServerVersion string `json:"server_version,omitempty"`
}

// HLSInfo describes an HLS playlist when the stream is HLS.
type HLSInfo struct {
	PlaylistAccessible bool     `json:"playlist_accessible"`
	IsMasterPlaylist   bool     `json:"is_master_playlist"`
	VariantStreams     []string `json:"variant_streams,omitempty"`
	SegmentCount       int      `json:"segment_count,omitempty"`
	SegmentsAccessible bool     `json:"segments_accessible"`
	Error              string   `json:"error,omitempty"`
}

// Player is the phase 2 result.
type Player struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`

	// Method is "event_stream" when player output was observed live,
	// "command_line" for the capture-and-parse fallback.
	Method                  string   `json:"method,omitempty"`
	ConnectionTimeMS        *int     `json:"connection_time_ms,omitempty"`
	PlaybackDurationSeconds float64  `json:"playback_duration_seconds"`
	BufferingEvents         int      `json:"buffering_events"`
	FormatSupported         bool     `json:"format_supported"`
	Errors                  []string `json:"errors,omitempty"`
}

// ConnectionQuality is derived from the player phase.
type ConnectionQuality struct {
	Stable             bool `json:"stable"`
	PacketLossDetected bool `json:"packet_loss_detected"`
}

// Audio is the phase 3 result. Sub-objects are populated only on ok.
type Audio struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`

	SampleDurationSeconds int               `json:"sample_duration_seconds,omitempty"`
	Silence               *SilenceDetection `json:"silence_detection,omitempty"`
	Quality               *AudioQuality     `json:"audio_quality,omitempty"`
	ErrorDetection        *ErrorDetection   `json:"error_detection,omitempty"`
}

// SilenceDetection reports windows below the RMS threshold.
type SilenceDetection struct {
	Detected    bool            `json:"silence_detected"`
	Percentage  float64         `json:"silence_percentage"`
	Periods     []SilencePeriod `json:"silence_periods"`
	ThresholdDB float64         `json:"threshold_db"`
}

// SilencePeriod is one contiguous silent span.
type SilencePeriod struct {
	StartSeconds    float64 `json:"start_seconds"`
	EndSeconds      float64 `json:"end_seconds"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// AudioQuality carries volume and clipping metrics.
type AudioQuality struct {
	AverageVolumeDB    float64 `json:"average_volume_db"`
	PeakVolumeDB       float64 `json:"peak_volume_db"`
	DynamicRangeDB     float64 `json:"dynamic_range_db"`
	ClippingDetected   bool    `json:"clipping_detected"`
	ClippingPercentage float64 `json:"clipping_percentage"`
}

// ErrorDetection flags repetitive waveform segments that suggest a looping
// "stream unavailable" message.
type ErrorDetection struct {
	Detected          bool     `json:"error_detected"`
	Messages          []string `json:"error_messages,omitempty"`
	RepetitivePattern bool     `json:"repetitive_pattern_detected"`
}

// AdDetection is the phase 4 result.
type AdDetection struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`

	AdsDetected               bool      `json:"ads_detected"`
	Breaks                    []AdBreak `json:"ad_breaks"`
	TotalAdTimeSeconds        float64   `json:"total_ad_time_seconds"`
	FrequencyPerHour          float64   `json:"ad_frequency_per_hour"`
	MonitoringDurationSeconds float64   `json:"monitoring_duration_seconds"`
}

// AdBreak is one detected advertising span.
type AdBreak struct {
	Start           time.Time `json:"start_time"`
	End             time.Time `json:"end_time"`
	DurationSeconds float64   `json:"duration_seconds"`
	DetectionMethod string    `json:"detection_method"`
	Title           string    `json:"title,omitempty"`
	Genre           string    `json:"genre,omitempty"`
}
