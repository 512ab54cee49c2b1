package connectivity

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/streamprobe/streamprobe/pkg/result"
)

// maxPlaylistBytes bounds how much playlist text is read.
const maxPlaylistBytes = 1 << 20

// checkHLS fetches the playlist and reports whether it is a master
// playlist with variants or a media playlist with segments.
func (c *checker) checkHLS(ctx context.Context, playlistURL string) *result.HLSInfo {
	info := &result.HLSInfo{}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, playlistURL, nil)
	if err != nil {
		info.Error = err.Error()

		return info
	}

	resp, err := c.client.Do(req)
	if err != nil {
		info.Error = err.Error()

		return info
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		info.Error = resp.Status

		return info
	}

	info.PlaylistAccessible = true

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistBytes))
	if err != nil {
		info.Error = err.Error()

		return info
	}

	content := string(body)
	if strings.TrimSpace(content) == "" {
		info.Error = "empty playlist content"

		return info
	}

	lines := strings.Split(content, "\n")

	if strings.Contains(content, "#EXT-X-STREAM-INF") {
		info.IsMasterPlaylist = true

		for i, line := range lines {
			if strings.HasPrefix(line, "#EXT-X-STREAM-INF") && i+1 < len(lines) {
				variant := strings.TrimSpace(lines[i+1])
				if variant != "" && !strings.HasPrefix(variant, "#") {
					info.VariantStreams = append(info.VariantStreams, variant)
				}
			}
		}

		return info
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			info.SegmentCount++
		}
	}

	info.SegmentsAccessible = info.SegmentCount > 0

	return info
}
