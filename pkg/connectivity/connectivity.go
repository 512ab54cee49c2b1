// Package connectivity implements the first diagnostic phase: it probes
// the stream URL over HTTP(S), inspects the TLS certificate, pulls ICY
// headers and stream parameters, and classifies the serving software.
package connectivity

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/streamprobe/streamprobe/pkg/procrun"
	"github.com/streamprobe/streamprobe/pkg/result"
)

// Checker performs phase 1 checks against a stream URL.
type Checker interface {
	Check(ctx context.Context, streamURL string) *result.Connectivity
}

// Options configures a Checker.
type Options struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	VerifyTLS      bool
	// Client overrides the HTTP client, used by tests. When nil a
	// client honoring the timeouts is built.
	Client *http.Client
	// Runner enables the bounded ffprobe sniff for stream parameters.
	Runner procrun.Runner
	// FFProbePath overrides binary discovery.
	FFProbePath string
}

type checker struct {
	log         logrus.FieldLogger
	client      *http.Client
	readTimeout time.Duration
	verifyTLS   bool
	runner      procrun.Runner
	ffprobePath string
}

var _ Checker = (*checker)(nil)

// NewChecker creates a phase 1 checker.
func NewChecker(log logrus.FieldLogger, opts Options) Checker {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}

	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 60 * time.Second
	}

	client := opts.Client
	if client == nil {
		transport := &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: opts.ConnectTimeout,
			}).DialContext,
			TLSHandshakeTimeout:   opts.ConnectTimeout,
			ResponseHeaderTimeout: opts.ReadTimeout,
		}
		if !opts.VerifyTLS {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-out
		}

		client = &http.Client{
			Transport: transport,
			Timeout:   opts.ConnectTimeout + opts.ReadTimeout,
		}
	}

	ffprobePath := opts.FFProbePath
	if ffprobePath == "" && opts.Runner != nil {
		ffprobePath = findFFProbe()
	}

	return &checker{
		log:         log.WithField("component", "connectivity"),
		client:      client,
		readTimeout: opts.ReadTimeout,
		verifyTLS:   opts.VerifyTLS,
		runner:      opts.Runner,
		ffprobePath: ffprobePath,
	}
}

// Check runs every phase 1 sub-check. It always returns a populated
// result; sub-check failures degrade individual sections instead of
// aborting the phase.
func (c *checker) Check(ctx context.Context, streamURL string) *result.Connectivity {
	out := &result.Connectivity{}

	probe := c.probe(ctx, streamURL)
	out.Probe = probe

	if probe.Status != ProbeSuccess {
		out.Status = result.StatusError
		out.Error = probe.Error
		out.Reason = "stream is not reachable"

		return out
	}

	out.Status = result.StatusOK

	if strings.HasPrefix(strings.ToLower(streamURL), "https://") {
		out.SSL = c.checkCertificate(ctx, streamURL)
	}

	icy := c.icyHeaders(ctx, streamURL)

	out.Parameters = c.extractParameters(ctx, streamURL, probe, icy)
	out.Metadata = metadataFromICY(icy)
	out.ServerHeaders = c.analyzeHeaders(ctx, streamURL)
	out.StreamType = detectStreamType(streamURL, probe, icy, out.ServerHeaders)

	if out.StreamType.Type == result.TypeHLS {
		out.HLS = c.checkHLS(ctx, streamURL)
	}

	return out
}

// Probe statuses.
const (
	ProbeSuccess         = "success"
	ProbeTimeout         = "timeout"
	ProbeConnectionError = "connection_error"
	ProbeSSLError        = "ssl_error"
	ProbeError           = "error"
)

// probe issues a HEAD request following redirects and classifies the
// outcome.
func (c *checker) probe(ctx context.Context, streamURL string) *result.ConnectionProbe {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, streamURL, nil)
	if err != nil {
		return &result.ConnectionProbe{
			Status:         ProbeError,
			Error:          err.Error(),
			ResponseTimeMS: int(time.Since(start).Milliseconds()),
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &result.ConnectionProbe{
			Status:         classifyProbeError(err),
			Error:          err.Error(),
			ResponseTimeMS: int(time.Since(start).Milliseconds()),
		}
	}
	defer resp.Body.Close()

	probe := &result.ConnectionProbe{
		Status:         ProbeSuccess,
		ResponseTimeMS: int(time.Since(start).Milliseconds()),
		HTTPStatus:     resp.StatusCode,
		ContentType:    resp.Header.Get("Content-Type"),
	}

	if final := resp.Request.URL.String(); final != streamURL {
		probe.FinalURL = final
	}

	return probe
}

// classifyProbeError maps transport errors onto the probe status values.
func classifyProbeError(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ProbeTimeout
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ProbeTimeout
	}

	var (
		certErr    *tls.CertificateVerificationError
		hostErr    x509.HostnameError
		authErr    x509.UnknownAuthorityError
		invalidErr x509.CertificateInvalidError
		recHdrErr  tls.RecordHeaderError
	)

	if errors.As(err, &certErr) || errors.As(err, &hostErr) ||
		errors.As(err, &authErr) || errors.As(err, &invalidErr) ||
		errors.As(err, &recHdrErr) {
		return ProbeSSLError
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ProbeConnectionError
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ProbeConnectionError
	}

	return ProbeError
}

// checkCertificate inspects the peer certificate. The handshake skips
// built-in verification so facts about an invalid certificate still get
// reported; validity is decided by an explicit chain verification.
func (c *checker) checkCertificate(ctx context.Context, streamURL string) *result.SSLCertificate {
	parsed, err := url.Parse(streamURL)
	if err != nil || parsed.Hostname() == "" {
		return &result.SSLCertificate{Valid: false, Error: "no hostname in URL"}
	}

	host := parsed.Hostname()

	port := parsed.Port()
	if port == "" {
		port = "443"
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: c.readTimeout},
		Config: &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: true, //nolint:gosec // verification happens below
		},
	}

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		c.log.WithError(err).Debug("TLS dial failed")

		return &result.SSLCertificate{Valid: false, Error: err.Error()}
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return &result.SSLCertificate{Valid: false, Error: "no peer certificate"}
	}

	leaf := state.PeerCertificates[0]

	intermediates := x509.NewCertPool()
	for _, cert := range state.PeerCertificates[1:] {
		intermediates.AddCert(cert)
	}

	_, verifyErr := leaf.Verify(x509.VerifyOptions{
		DNSName:       host,
		Intermediates: intermediates,
	})

	now := time.Now().UTC()

	cert := &result.SSLCertificate{
		Valid:      verifyErr == nil,
		Expires:    leaf.NotAfter.UTC().Format(time.RFC3339),
		Issued:     leaf.NotBefore.UTC().Format(time.RFC3339),
		Issuer:     leaf.Issuer.String(),
		Subject:    leaf.Subject.String(),
		SelfSigned: leaf.Issuer.String() == leaf.Subject.String(),
	}

	if verifyErr != nil {
		cert.Error = verifyErr.Error()
	}

	if now.Before(leaf.NotAfter) {
		days := int(leaf.NotAfter.Sub(now).Hours() / 24)
		cert.DaysUntilExpiration = &days
	} else {
		cert.Valid = false
	}

	return cert
}

// icyHeaders requests the stream announcing ICY metadata support and
// collects the icy-* response headers. The body is closed without being
// read.
func (c *checker) icyHeaders(ctx context.Context, streamURL string) map[string]string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil
	}

	req.Header.Set("Icy-MetaData", "1")

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.WithError(err).Debug("ICY header request failed")

		return nil
	}
	defer resp.Body.Close()

	headers := make(map[string]string)

	for key, values := range resp.Header {
		if strings.HasPrefix(strings.ToLower(key), "icy-") && len(values) > 0 {
			headers[strings.ToLower(key)] = values[0]
		}
	}

	if len(headers) == 0 {
		return nil
	}

	return headers
}

// extractParameters derives codec facts from the content type, ICY
// headers and, when available, a bounded ffprobe sniff of the first
// bytes of the stream.
func (c *checker) extractParameters(
	ctx context.Context,
	streamURL string,
	probe *result.ConnectionProbe,
	icy map[string]string,
) *result.StreamParameters {
	params := &result.StreamParameters{}

	codec, container := codecFromContentType(probe.ContentType)
	params.Codec = codec
	params.Container = container

	if c.ffprobePath != "" && c.runner != nil {
		c.sniffParameters(ctx, streamURL, params)
	}

	if v, ok := icy["icy-br"]; ok {
		if kbps, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			params.BitrateKbps = &kbps
		}
	}

	if v, ok := icy["icy-sr"]; ok {
		if hz, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			params.SampleRateHz = &hz
		}
	}

	return params
}

// codecFromContentType maps common stream content types.
func codecFromContentType(contentType string) (codec, container string) {
	ct := strings.ToLower(contentType)

	switch {
	case strings.Contains(ct, "audio/mpeg"), strings.Contains(ct, "audio/mp3"):
		return "MP3", "MP3"
	case strings.Contains(ct, "audio/aac"), strings.Contains(ct, "audio/aacp"), strings.Contains(ct, "audio/mp4"):
		return "AAC", "MP4"
	case strings.Contains(ct, "ogg"):
		return "Vorbis", "OGG"
	default:
		return "", ""
	}
}

func metadataFromICY(icy map[string]string) *result.StreamMetadata {
	if len(icy) == 0 {
		return nil
	}

	return &result.StreamMetadata{
		Title:       icy["icy-name"],
		Genre:       icy["icy-genre"],
		Description: icy["icy-description"],
	}
}

// analyzeHeaders summarizes protocol-level response headers.
func (c *checker) analyzeHeaders(ctx context.Context, streamURL string) *result.ServerHeaders {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, streamURL, nil)
	if err != nil {
		return nil
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.WithError(err).Debug("Header analysis request failed")

		return nil
	}
	defer resp.Body.Close()

	info := &result.ServerHeaders{
		Server:        resp.Header.Get("Server"),
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.Header.Get("Content-Length"),
		CacheControl:  resp.Header.Get("Cache-Control"),
	}

	if origin := resp.Header.Get("Access-Control-Allow-Origin"); origin != "" {
		info.CORSEnabled = true
		info.CORSOrigin = origin
	}

	return info
}
