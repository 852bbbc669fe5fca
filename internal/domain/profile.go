package domain

type UserProfile struct {
	UserID              string            `json:"user_id"`
	PreferredCategories []string          `json:"preferred_categories"`
	PreferredGrades     []string          `json:"preferred_grades"`
	PricePreference     PriceBand         `json:"price_preference"`
	EventCounts         map[EventType]int `json:"event_counts"`
}

func (p *UserProfile) TotalEvents() int {
	total := 0
	for _, n := range p.EventCounts {
		total += n
	}
	return total
}

// IsColdStart reports whether the profile was built from an empty history.
func (p *UserProfile) IsColdStart() bool {
	return p == nil || p.TotalEvents() == 0
}

type EventContribution struct {
	Count         int      `json:"count"`
	GradeWeight   float64  `json:"grade_weight"`
	SubjectWeight float64  `json:"subject_weight"`
	TopCategories []string `json:"top_categories"`
	TopGrades     []string `json:"top_grades"`
}

type ContributionBreakdown map[EventType]EventContribution
