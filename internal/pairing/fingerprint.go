package pairing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/sommos/sommos/internal/domain"
)

// topInventoryN is how many vintages by available bottle count feed the
// fingerprint. A cellar change outside the top slice does not invalidate
// cached pairings.
const topInventoryN = 10

// Context is the request context snapshot that shapes a pairing
type Context struct {
	Occasion   string `json:"occasion,omitempty"`
	Season     string `json:"season,omitempty"`
	Weather    string `json:"weather,omitempty"`
	Notes      string `json:"notes,omitempty"`
	GuestCount int    `json:"guest_count,omitempty"`
}

// Options tunes the produced recommendation list
type Options struct {
	MaxRecommendations int  `json:"max_recommendations,omitempty"`
	IncludeReasoning   bool `json:"include_reasoning,omitempty"`
}

// Request is one pairing request
type Request struct {
	Dish        string  `json:"dish"`
	Preferences string  `json:"preferences,omitempty"`
	Context     Context `json:"context"`
	Options     Options `json:"options"`
}

// Fingerprint computes the deterministic cache key for a request against
// the current top-N available inventory. Identical inputs always produce
// identical fingerprints.
func Fingerprint(req Request, inventory []domain.StockView) string {
	h := sha256.New()

	h.Write([]byte(normalize(req.Dish)))
	h.Write([]byte{0})
	h.Write([]byte(canonicalContext(req.Context)))
	h.Write([]byte{0})
	h.Write([]byte(normalize(req.Preferences)))
	h.Write([]byte{0})
	h.Write([]byte(inventorySignature(inventory)))

	return hex.EncodeToString(h.Sum(nil))
}

// normalize lowercases, trims and collapses internal whitespace
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

// canonicalContext renders the context as sorted key=value pairs so field
// order never changes the fingerprint
func canonicalContext(ctx Context) string {
	pairs := []string{
		"guest_count=" + fmt.Sprint(ctx.GuestCount),
		"notes=" + normalize(ctx.Notes),
		"occasion=" + normalize(ctx.Occasion),
		"season=" + normalize(ctx.Season),
		"weather=" + normalize(ctx.Weather),
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "|")
}

// inventorySignature summarizes the top-N available vintages. Sorted by
// available descending then vintage id for a stable order.
func inventorySignature(inventory []domain.StockView) string {
	views := append([]domain.StockView(nil), inventory...)
	sort.Slice(views, func(i, j int) bool {
		if views[i].Available != views[j].Available {
			return views[i].Available > views[j].Available
		}
		return views[i].VintageID < views[j].VintageID
	})

	if len(views) > topInventoryN {
		views = views[:topInventoryN]
	}

	parts := make([]string, 0, len(views))
	for _, v := range views {
		parts = append(parts, fmt.Sprintf("%d:%.0f", v.VintageID, v.Available))
	}
	return strings.Join(parts, ",")
}
