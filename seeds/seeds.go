package seeds

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/actuallystonmai/material-recommender/internal/domain"
)

// Store is the write side needed to load demo data.
type Store interface {
	UpsertMaterial(ctx context.Context, m domain.Material) error
	AppendEvent(ctx context.Context, e domain.InteractionEvent) error
	RecordInteraction(ctx context.Context, materialID string, at time.Time) error
}

var titles = map[string][]string{
	"math":      {"Fraction Pizza", "Times Table Bingo", "Decimal Detectives", "Geometry Scavenger Hunt", "Word Problem Warm-ups"},
	"science":   {"Plant Life Cycle", "States of Matter Lab", "Solar System Flipbook", "Simple Machines", "Weather Journal"},
	"biology":   {"Cell Structure Coloring", "Food Chains", "Human Body Systems", "Animal Adaptations", "Microscope Basics"},
	"reading":   {"Guided Reading Cards", "Main Idea Sort", "Vocabulary Task Cards", "Reading Response Journal", "Story Elements"},
	"writing":   {"Opinion Writing Prompts", "Narrative Graphic Organizer", "Sentence Building", "Paragraph Hamburger", "Editing Checklist"},
	"history":   {"Ancient Egypt Unit", "Timeline Activity", "Primary Source Analysis", "Explorers Research", "Map Skills"},
	"art":       {"Color Wheel Project", "Watercolor Basics", "Famous Artists Study", "Clay Sculpting", "Self Portrait Lesson"},
	"geography": {"Continents Puzzle", "Landforms Booklet", "Country Reports", "Compass Rose", "Climate Zones"},
}

var (
	categories = []string{"math", "science", "biology", "reading", "writing", "history", "art", "geography"}
	grades     = []string{"kindergarten", "1st", "2nd", "3rd", "4th", "5th", "6th", "7th", "8th"}
	eventTypes = []string{
		string(domain.EventView), string(domain.EventPreview), string(domain.EventAddToCart),
		string(domain.EventPurchase), string(domain.EventDownload), string(domain.EventFavorite),
		string(domain.EventRating), string(domain.EventSearch),
	}
	eventWeights = []float64{0.40, 0.18, 0.08, 0.08, 0.10, 0.06, 0.04, 0.06}
	seasonTags   = []string{"", "", "", domain.SeasonWinter, domain.SeasonSummer, domain.SeasonAutumn, domain.SeasonSpring, domain.SeasonAllYear}
)

// Setup loads a deterministic demo catalog and interaction history.
func Setup(ctx context.Context, store Store, now time.Time, logger zerolog.Logger) error {
	rng := rand.New(rand.NewSource(42))
	logger = logger.With().Str("component", "seed").Logger()

	logger.Info().Msg("inserting materials")
	materials, err := seedMaterials(ctx, store, rng, now, 80)
	if err != nil {
		return fmt.Errorf("seed materials: %w", err)
	}

	logger.Info().Msg("inserting interaction events")
	if err := seedEvents(ctx, store, rng, now, materials, 30, 600); err != nil {
		return fmt.Errorf("seed events: %w", err)
	}

	logger.Info().Int("materials", len(materials)).Msg("seeding complete")
	return nil
}

func seedMaterials(ctx context.Context, store Store, rng *rand.Rand, now time.Time, n int) ([]domain.Material, error) {
	out := make([]domain.Material, 0, n)
	for i := range n {
		category := categories[i%len(categories)]
		titleList := titles[category]
		title := titleList[(i/len(categories))%len(titleList)]
		if i >= len(categories)*len(titleList) {
			title = fmt.Sprintf("%s %d", title, i/(len(categories)*len(titleList))+1)
		}

		cats := []string{category}
		if category == "biology" {
			cats = append(cats, "science")
		}
		if rng.Float64() < 0.2 {
			cats = append(cats, categories[rng.Intn(len(categories))])
		}

		g := rng.Intn(len(grades) - 1)
		classGrades := []string{grades[g], grades[g+1]}

		var tags []string
		if tag := seasonTags[rng.Intn(len(seasonTags))]; tag != "" {
			tags = append(tags, tag)
		}
		if rng.Float64() < 0.1 {
			tags = append(tags, "desktop_only")
		}

		m := domain.Material{
			ID:          fmt.Sprintf("mat-%03d", i+1),
			Title:       title,
			AuthorID:    fmt.Sprintf("author-%02d", rng.Intn(12)+1),
			Price:       priceScore(rng),
			Categories:  cats,
			ClassGrades: classGrades,
			Tags:        tags,
			PublishedAt: now.AddDate(0, 0, -rng.Intn(730)),
		}
		if err := store.UpsertMaterial(ctx, m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func seedEvents(ctx context.Context, store Store, rng *rand.Rand, now time.Time, materials []domain.Material, users, n int) error {
	for range n {
		userID := int(math.Ceil(math.Pow(rng.Float64(), 1.5) * float64(users)))
		userID = max(1, min(userID, users))

		// Skewed towards the front of the catalog so popularity has a tail.
		idx := int(math.Pow(rng.Float64(), 1.3) * float64(len(materials)))
		idx = min(idx, len(materials)-1)
		m := materials[idx]

		e := domain.InteractionEvent{
			UserID:    fmt.Sprintf("teacher-%02d", userID),
			EventType: domain.EventType(weightedChoice(rng, eventTypes, eventWeights)),
			Timestamp: now.Add(-time.Duration(rng.Intn(180*24)) * time.Hour),
		}
		if e.EventType == domain.EventSearch {
			e.Payload = map[string]string{domain.PayloadQuery: m.Categories[0] + " worksheets"}
		} else {
			e.MaterialID = m.ID
		}

		if err := store.AppendEvent(ctx, e); err != nil {
			return err
		}
		if e.MaterialID != "" {
			if err := store.RecordInteraction(ctx, e.MaterialID, e.Timestamp); err != nil {
				return err
			}
		}
	}
	return nil
}

// priceScore draws from a skewed distribution: mostly cheap, with a long
// tail of bundles.
func priceScore(rng *rand.Rand) float64 {
	u := rng.Float64()
	if rng.Float64() < 0.15 {
		return 0
	}
	raw := math.Pow(u, 2.0) * 20
	if raw < 0.5 {
		raw = 0.5
	}
	return math.Round(raw*100) / 100
}

func weightedChoice(rng *rand.Rand, choices []string, weights []float64) string {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	r := rng.Float64() * total
	cumulative := 0.0
	for i, w := range weights {
		cumulative += w
		if r <= cumulative {
			return choices[i]
		}
	}
	return choices[len(choices)-1]
}
