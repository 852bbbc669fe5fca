package domain

import "time"

type Material struct {
	ID          string    `json:"id" validate:"required"`
	Title       string    `json:"title" validate:"required"`
	AuthorID    string    `json:"author_id"`
	Price       float64   `json:"price" validate:"gte=0"`
	Categories  []string  `json:"categories"`
	ClassGrades []string  `json:"class_grades"`
	Tags        []string  `json:"tags,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// MaterialFilter narrows a catalog query. Zero values mean "no restriction".
type MaterialFilter struct {
	IDs        []string
	ExcludeIDs []string
	Category   string
	Grade      string
	Limit      int
}

type PriceBand string

const (
	PriceLow    PriceBand = "low"
	PriceMedium PriceBand = "medium"
	PriceHigh   PriceBand = "high"
)

// priceBandOrder is the tie-break priority used when two bands carry the
// same weight: medium first, then low, then high.
var priceBandOrder = []PriceBand{PriceMedium, PriceLow, PriceHigh}

// PriceBandsByPriority returns the bands in tie-break priority order.
func PriceBandsByPriority() []PriceBand {
	out := make([]PriceBand, len(priceBandOrder))
	copy(out, priceBandOrder)
	return out
}

func (b PriceBand) position() int {
	switch b {
	case PriceLow:
		return 0
	case PriceMedium:
		return 1
	case PriceHigh:
		return 2
	}
	return -1
}

// Distance is the number of steps between two bands on the low..high scale.
// Unknown bands are treated as maximally distant.
func (b PriceBand) Distance(other PriceBand) int {
	p, q := b.position(), other.position()
	if p < 0 || q < 0 {
		return 2
	}
	if p > q {
		return p - q
	}
	return q - p
}

// PriceBands holds the inclusive upper bounds of the low and medium bands.
type PriceBands struct {
	LowMax    float64 `yaml:"low_max" json:"low_max"`
	MediumMax float64 `yaml:"medium_max" json:"medium_max"`
}

func (p PriceBands) Band(price float64) PriceBand {
	switch {
	case price <= p.LowMax:
		return PriceLow
	case price <= p.MediumMax:
		return PriceMedium
	default:
		return PriceHigh
	}
}

type FreshnessBucket string

const (
	FreshnessRecent   FreshnessBucket = "recent"
	FreshnessStandard FreshnessBucket = "standard"
	FreshnessOlder    FreshnessBucket = "older"
)

// RequestContext carries the situational hints used by contextual
// recommendations.
type RequestContext struct {
	Season string `json:"season,omitempty"`
	Device string `json:"device,omitempty"`
}

const (
	SeasonSpring  = "spring"
	SeasonSummer  = "summer"
	SeasonAutumn  = "autumn"
	SeasonWinter  = "winter"
	SeasonAllYear = "all_year"
)

var Seasons = []string{SeasonSpring, SeasonSummer, SeasonAutumn, SeasonWinter}

func SeasonOf(t time.Time) string {
	switch t.Month() {
	case time.March, time.April, time.May:
		return SeasonSpring
	case time.June, time.July, time.August:
		return SeasonSummer
	case time.September, time.October, time.November:
		return SeasonAutumn
	default:
		return SeasonWinter
	}
}
