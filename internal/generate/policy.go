package generate

import (
	"fmt"
	"strings"

	"nicrolabs-studio/internal/catalog"
)

type Tier string

const (
	TierFast Tier = "fast"
	TierPro  Tier = "pro"
)

// TierPolicy picks the model tier for a request.
type TierPolicy func(aspect catalog.AspectRatio, highFidelity bool) Tier

// DefaultTierPolicy uses the pro tier for anything the fast model cannot
// render: non-square output or high fidelity.
func DefaultTierPolicy(aspect catalog.AspectRatio, highFidelity bool) Tier {
	if highFidelity || aspect != catalog.AspectSquare {
		return TierPro
	}
	return TierFast
}

func fixedTier(t Tier) TierPolicy {
	return func(catalog.AspectRatio, bool) Tier { return t }
}

// PolicyFor resolves the TIER_POLICY setting.
func PolicyFor(name string) (TierPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return DefaultTierPolicy, nil
	case string(TierFast):
		return fixedTier(TierFast), nil
	case string(TierPro):
		return fixedTier(TierPro), nil
	}
	return nil, fmt.Errorf("unknown tier policy %q", name)
}
