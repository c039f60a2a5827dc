package pairing

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sommos/sommos/internal/domain"
)

// Dish intensity classes inferred from the dish text
type dishProfile struct {
	descriptor string
	intensity  float64 // 0 light .. 1 heavy
	seafood    bool
	redMeat    bool
	poultry    bool
	spicy      bool
	sweet      bool
	creamy     bool
}

// Base affinity of each wine type for an intensity class. The values are
// conventional sommelier pairings, not learned weights; they only need to
// be stable and defensible.
var typeAffinity = map[domain.WineType]struct{ light, heavy float64 }{
	domain.WineTypeSparkling: {light: 0.80, heavy: 0.35},
	domain.WineTypeWhite:     {light: 0.85, heavy: 0.40},
	domain.WineTypeRose:      {light: 0.75, heavy: 0.45},
	domain.WineTypeRed:       {light: 0.40, heavy: 0.90},
	domain.WineTypeDessert:   {light: 0.30, heavy: 0.25},
	domain.WineTypeFortified: {light: 0.25, heavy: 0.50},
}

// regionTradition boosts regions with a classical claim to a dish class
var regionTradition = map[string][]string{
	"seafood": {"chablis", "muscadet", "sancerre", "rias baixas", "santorini", "chablis", "loire"},
	"redmeat": {"bordeaux", "barolo", "rioja", "napa", "tuscany", "ribera del duero"},
	"poultry": {"burgundy", "beaujolais", "alsace", "russian river"},
	"spicy":   {"mosel", "alsace", "rheingau", "vouvray"},
	"sweet":   {"sauternes", "tokaj", "porto", "douro", "banyuls"},
}

// Heuristic is the always-available deterministic pairing provider. It
// scores the current available inventory against the dish profile and
// returns the top picks within its one-second budget (pure computation,
// typically microseconds).
type Heuristic struct{}

// NewHeuristic creates the rule-based pairing engine
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Recommend scores available inventory for the request. Only vintages
// with available > 0 are considered; confidences are in [0,1] sorted
// descending with vintage id as the deterministic tiebreak.
func (h *Heuristic) Recommend(req Request, inventory []domain.StockView) []domain.WineSelection {
	profile := profileDish(req.Dish, req.Context)

	maxAvailable := 0.0
	for _, view := range inventory {
		if view.Available > maxAvailable {
			maxAvailable = view.Available
		}
	}

	selections := make([]domain.WineSelection, 0, len(inventory))
	for _, view := range inventory {
		if view.Available <= 0 {
			continue
		}
		score := h.score(profile, view, maxAvailable)
		selections = append(selections, domain.WineSelection{
			VintageID:  view.VintageID,
			Confidence: score,
			Reasoning:  h.reason(profile, view),
		})
	}

	sort.Slice(selections, func(i, j int) bool {
		if selections[i].Confidence != selections[j].Confidence {
			return selections[i].Confidence > selections[j].Confidence
		}
		return selections[i].VintageID < selections[j].VintageID
	})

	limit := req.Options.MaxRecommendations
	if limit <= 0 {
		limit = 5
	}
	if len(selections) > limit {
		selections = selections[:limit]
	}
	if !req.Options.IncludeReasoning {
		for i := range selections {
			selections[i].Reasoning = ""
		}
	}
	return selections
}

// score combines type affinity, regional tradition, vintage quality and
// availability into one [0,1] confidence
func (h *Heuristic) score(profile dishProfile, view domain.StockView, maxAvailable float64) float64 {
	affinity, ok := typeAffinity[view.WineType]
	if !ok {
		affinity = struct{ light, heavy float64 }{0.4, 0.4}
	}
	base := affinity.light + (affinity.heavy-affinity.light)*profile.intensity

	// Hard stylistic rules before the soft blend.
	switch {
	case profile.seafood && view.WineType == domain.WineTypeRed:
		base *= 0.45
	case profile.redMeat && view.WineType == domain.WineTypeWhite:
		base *= 0.60
	case profile.sweet && view.WineType == domain.WineTypeDessert:
		base = math.Max(base, 0.85)
	case profile.spicy && view.WineType == domain.WineTypeWhite:
		base = math.Min(base+0.10, 1)
	}

	tradition := 0.0
	if h.traditionalRegion(profile, view.Region) {
		tradition = 1.0
	}

	quality := 0.5
	if view.WeatherScore > 0 {
		quality = view.WeatherScore / 100
	}

	availability := 0.0
	if maxAvailable > 0 {
		availability = view.Available / maxAvailable
	}

	score := 0.55*base + 0.20*tradition + 0.15*quality + 0.10*availability
	return math.Round(clamp01(score)*1000) / 1000
}

func (h *Heuristic) traditionalRegion(profile dishProfile, region string) bool {
	normalized := strings.ToLower(region)
	check := func(class string) bool {
		for _, r := range regionTradition[class] {
			if strings.Contains(normalized, r) {
				return true
			}
		}
		return false
	}
	switch {
	case profile.seafood:
		return check("seafood")
	case profile.redMeat:
		return check("redmeat")
	case profile.poultry:
		return check("poultry")
	case profile.spicy:
		return check("spicy")
	case profile.sweet:
		return check("sweet")
	}
	return false
}

func (h *Heuristic) reason(profile dishProfile, view domain.StockView) string {
	reason := fmt.Sprintf("%s from %s suits a %s dish", view.WineType, view.Region, profile.descriptor)
	if h.traditionalRegion(profile, view.Region) {
		reason += "; a classical regional pairing"
	}
	return reason
}

// profileDish infers the dish class from keywords. Unknown dishes land in
// the middle of the intensity scale.
func profileDish(dish string, ctx Context) dishProfile {
	text := normalize(dish + " " + ctx.Notes)

	profile := dishProfile{descriptor: "medium-bodied", intensity: 0.5}

	contains := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(text, w) {
				return true
			}
		}
		return false
	}

	switch {
	case contains("oyster", "ceviche", "sushi", "sashimi", "salad", "crudo"):
		profile.intensity = 0.15
		profile.descriptor = "delicate"
	case contains("salmon", "tuna", "fish", "lobster", "crab", "shrimp", "scallop", "seafood"):
		profile.intensity = 0.35
		profile.descriptor = "light"
	case contains("chicken", "turkey", "pork", "veal", "duck"):
		profile.intensity = 0.55
		profile.descriptor = "medium-bodied"
	case contains("beef", "steak", "lamb", "venison", "ribeye", "short rib", "braised", "stew"):
		profile.intensity = 0.90
		profile.descriptor = "rich"
	case contains("dessert", "chocolate", "tart", "cake", "custard"):
		profile.intensity = 0.30
		profile.descriptor = "sweet"
	}

	profile.seafood = contains("oyster", "ceviche", "sushi", "sashimi", "salmon", "tuna", "fish", "lobster", "crab", "shrimp", "scallop", "seafood", "crudo")
	profile.redMeat = contains("beef", "steak", "lamb", "venison", "ribeye", "short rib")
	profile.poultry = contains("chicken", "turkey", "duck")
	profile.spicy = contains("spicy", "curry", "chili", "szechuan", "harissa")
	profile.sweet = contains("dessert", "chocolate", "tart", "cake", "custard")
	profile.creamy = contains("cream", "butter", "risotto", "carbonara")

	if profile.creamy && profile.intensity < 0.5 {
		profile.intensity += 0.15
	}
	if profile.spicy {
		profile.descriptor = "spicy"
	}

	return profile
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
