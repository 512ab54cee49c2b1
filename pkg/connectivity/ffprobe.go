package connectivity

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/streamprobe/streamprobe/pkg/procrun"
	"github.com/streamprobe/streamprobe/pkg/result"
)

// maxSniffBytes bounds how much of the stream is written to disk for
// the ffprobe sniff.
const maxSniffBytes = 16 * 1024

// ffprobeOutput is the subset of ffprobe's JSON output we read.
type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

type ffprobeStream struct {
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitRate    string `json:"bit_rate"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	BitRate    string `json:"bit_rate"`
}

// findFFProbe locates an ffprobe binary on PATH or in well-known
// install locations.
func findFFProbe() string {
	if path, err := exec.LookPath("ffprobe"); err == nil {
		return path
	}

	for _, candidate := range []string{"/usr/bin/ffprobe", "/usr/local/bin/ffprobe", "/opt/homebrew/bin/ffprobe"} {
		if path, err := exec.LookPath(candidate); err == nil {
			return path
		}
	}

	return ""
}

// sniffParameters downloads the first bytes of the stream and asks
// ffprobe about them. Best effort: any failure leaves params untouched.
func (c *checker) sniffParameters(ctx context.Context, streamURL string, params *result.StreamParameters) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return
	}

	req.Header.Set("Range", "bytes=0-16383")

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.WithError(err).Debug("Parameter sniff request failed")

		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return
	}

	sample, err := io.ReadAll(io.LimitReader(resp.Body, maxSniffBytes))
	if err != nil || len(sample) == 0 {
		return
	}

	err = procrun.WithTempFile(os.TempDir(), "sniff-*", func(path string) error {
		if err := os.WriteFile(path, sample, 0o600); err != nil {
			return err
		}

		res, err := c.runner.Run(ctx, procrun.Spec{
			Path: c.ffprobePath,
			Args: []string{
				"-v", "quiet",
				"-print_format", "json",
				"-show_format",
				"-show_streams",
				path,
			},
			Timeout: 15 * time.Second,
		})
		if err != nil || !res.Succeeded {
			return nil
		}

		var out ffprobeOutput
		if err := json.Unmarshal(res.Stdout, &out); err != nil {
			return nil
		}

		applyProbeOutput(&out, params)

		return nil
	})
	if err != nil {
		c.log.WithError(err).Debug("Parameter sniff failed")
	}
}

func applyProbeOutput(out *ffprobeOutput, params *result.StreamParameters) {
	for _, s := range out.Streams {
		if s.CodecType != "audio" {
			continue
		}

		if s.CodecName != "" {
			params.Codec = strings.ToUpper(s.CodecName)
		}

		if hz, err := strconv.Atoi(s.SampleRate); err == nil && hz > 0 {
			params.SampleRateHz = &hz
		}

		switch s.Channels {
		case 0:
		case 1:
			params.Channels = "mono"
		case 2:
			params.Channels = "stereo"
		default:
			params.Channels = strconv.Itoa(s.Channels) + " channels"
		}

		bitrate := s.BitRate
		if bitrate == "" {
			bitrate = out.Format.BitRate
		}

		if bps, err := strconv.Atoi(bitrate); err == nil && bps > 0 {
			kbps := bps / 1000
			params.BitrateKbps = &kbps
		}

		break
	}

	if out.Format.FormatName != "" && params.Container == "" {
		params.Container = strings.ToUpper(strings.Split(out.Format.FormatName, ",")[0])
	}
}
