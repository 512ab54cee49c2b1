package report

import (
	"fmt"

	"github.com/streamprobe/streamprobe/pkg/result"
)

// Grade computes the composite health score for a record, starting at
// 100 and deducting per observed problem, together with the issue and
// recommendation lists. Phases that did not run contribute nothing.
func Grade(rec *result.Record) (int, []string, []string) {
	score := 100
	issues := []string{}
	recommendations := []string{}

	deduct := func(points int, issue string) {
		score -= points
		if issue != "" {
			issues = append(issues, issue)
		}
	}

	if c := rec.Connectivity; c != nil && c.Status != result.StatusSkipped {
		if c.Status != result.StatusOK {
			deduct(20, "Stream connectivity failed")
		} else if c.Probe != nil && c.Probe.HTTPStatus != 0 && c.Probe.HTTPStatus != 200 {
			deduct(10, fmt.Sprintf("HTTP status: %d", c.Probe.HTTPStatus))
		}

		if ssl := c.SSL; ssl != nil {
			if !ssl.Valid {
				deduct(10, "SSL certificate invalid or expired")
			} else if ssl.DaysUntilExpiration != nil && *ssl.DaysUntilExpiration < 30 {
				deduct(5, fmt.Sprintf("SSL certificate expiring in %d days", *ssl.DaysUntilExpiration))
				recommendations = append(recommendations, "Renew SSL certificate soon")
			}

			if ssl.SelfSigned {
				deduct(5, "Self-signed SSL certificate")
			}
		}
	}

	if p := rec.Player; p != nil && p.Status != result.StatusSkipped {
		if p.Status != result.StatusOK {
			deduct(20, "VLC player test failed")
		} else if !p.FormatSupported {
			deduct(10, "Stream format not supported by player")
		}
	}

	if a := rec.Audio; a != nil && a.Status == result.StatusOK {
		if s := a.Silence; s != nil && s.Detected {
			switch {
			case s.Percentage > 50:
				deduct(10, fmt.Sprintf("Excessive silence: %.1f%%", s.Percentage))
			case s.Percentage > 20:
				deduct(5, fmt.Sprintf("Significant silence: %.1f%%", s.Percentage))
			}
		}

		if e := a.ErrorDetection; e != nil && e.Detected {
			deduct(10, "Error message detected in audio")
		}

		if q := a.Quality; q != nil {
			if q.ClippingDetected {
				deduct(5, "Audio clipping detected")
				recommendations = append(recommendations, "Reduce input gain to prevent clipping")
			}

			if q.AverageVolumeDB < -30 {
				deduct(5, fmt.Sprintf("Very low audio volume: %.1f dB", q.AverageVolumeDB))
				recommendations = append(recommendations, "Increase stream volume levels")
			}
		}
	}

	if ads := rec.Ads; ads != nil && ads.Status == result.StatusOK && ads.AdsDetected {
		deduct(3, fmt.Sprintf("Advertising detected: %d break(s)", len(ads.Breaks)))
	}

	if cq := rec.ConnectionQuality; cq != nil && !cq.Stable {
		deduct(10, "Unstable connection")
	}

	if score < 0 {
		score = 0
	}

	if score < 80 && len(recommendations) == 0 {
		recommendations = append(recommendations, "Review stream configuration and server settings")
	}

	return score, issues, recommendations
}
