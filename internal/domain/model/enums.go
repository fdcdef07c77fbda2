package model

import (
	"fmt"
	"strings"
)

// Surface is one of the four ranked contexts.
type Surface string

// Ranked surfaces.
const (
	SurfaceDiscovery Surface = "discovery"
	SurfaceFeed      Surface = "feed"
	SurfaceSwipe     Surface = "swipe"
	SurfaceAI        Surface = "ai"
)

// Surfaces lists every surface in a fixed order.
var Surfaces = []Surface{SurfaceDiscovery, SurfaceFeed, SurfaceSwipe, SurfaceAI}

// ParseSurface validates a surface name, case-insensitively.
func ParseSurface(s string) (Surface, error) {
	switch v := Surface(strings.ToLower(strings.TrimSpace(s))); v {
	case SurfaceDiscovery, SurfaceFeed, SurfaceSwipe, SurfaceAI:
		return v, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSurface, s)
	}
}

// Tier is an account class.
type Tier string

// Account tiers.
const (
	TierStandard Tier = "standard"
	TierVIP      Tier = "vip"
	TierRoyal    Tier = "royal"
)

// ParseTier validates a tier name. An empty string is standard.
func ParseTier(s string) (Tier, error) {
	switch v := Tier(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return TierStandard, nil
	case TierStandard, TierVIP, TierRoyal:
		return v, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
}

// Experiment group labels stored on scores.
const (
	GroupTest    = "test"
	GroupControl = "control"
)
