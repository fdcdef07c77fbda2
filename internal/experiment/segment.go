package experiment

import (
	"fmt"
	"strings"

	"github.com/okian/visibility/internal/domain/model"
)

const (
	segmentCountry = "country"
	segmentTier    = "tier"
)

// normalizeSegments validates and canonicalizes target segments. Accepted
// forms are "country:XX" (ISO alpha-2) and "tier:<standard|vip|royal>".
func (m *Manager) normalizeSegments(in []string) ([]string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(in))
	for _, raw := range in {
		kind, value, ok := strings.Cut(strings.TrimSpace(raw), ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSegment, raw)
		}
		switch strings.ToLower(kind) {
		case segmentCountry:
			code := strings.ToUpper(strings.TrimSpace(value))
			if err := m.validate.Var(code, "iso3166_1_alpha2"); err != nil {
				return nil, fmt.Errorf("%w: %q", ErrInvalidSegment, raw)
			}
			out = append(out, segmentCountry+":"+code)
		case segmentTier:
			tier, err := model.ParseTier(strings.ToLower(strings.TrimSpace(value)))
			if err != nil || value == "" {
				return nil, fmt.Errorf("%w: %q", ErrInvalidSegment, raw)
			}
			out = append(out, segmentTier+":"+string(tier))
		default:
			return nil, fmt.Errorf("%w: %q", ErrInvalidSegment, raw)
		}
	}
	return out, nil
}

// eligible reports whether s falls in any of segments. No segments means
// everyone is eligible.
func eligible(segments []string, s model.Subject) bool {
	if len(segments) == 0 {
		return true
	}
	country := strings.ToUpper(strings.TrimSpace(s.CountryCode))
	tier := s.Tier
	if tier == "" {
		tier = model.TierStandard
	}
	for _, seg := range segments {
		kind, value, _ := strings.Cut(seg, ":")
		switch kind {
		case segmentCountry:
			if country != "" && value == country {
				return true
			}
		case segmentTier:
			if value == string(tier) {
				return true
			}
		}
	}
	return false
}
