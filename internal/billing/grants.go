package billing

import "github.com/mrkniai/backend/internal/models"

// Grant is the credit allowance attached to a tier.
type Grant struct {
	ImageCredits int
	VideoCredits int
}

// Grants is the fixed per-tier allowance. Free is also the lazily provisioned default.
var Grants = map[models.Tier]Grant{
	models.TierFree:    {ImageCredits: 5, VideoCredits: 0},
	models.TierBasic:   {ImageCredits: 50, VideoCredits: 5},
	models.TierPremium: {ImageCredits: 1000, VideoCredits: 20},
}

// GrantFor returns the allowance for t, falling back to the free grant.
func GrantFor(t models.Tier) Grant {
	if g, ok := Grants[t]; ok {
		return g
	}
	return Grants[models.TierFree]
}

// Balance renders the grant as a balance row for userID.
func (g Grant) Balance(userID string) models.CreditBalance {
	return models.CreditBalance{UserID: userID, ImageCredits: g.ImageCredits, VideoCredits: g.VideoCredits}
}
