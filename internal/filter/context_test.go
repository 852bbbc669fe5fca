package filter

import (
	"testing"

	"github.com/actuallystonmai/material-recommender/internal/domain"
)

func TestDefaultRules(t *testing.T) {
	f, err := NewContextFilter(DefaultRules())
	if err != nil {
		t.Fatalf("NewContextFilter: %v", err)
	}

	materials := []domain.Material{
		{ID: "plain", Title: "Plain"},
		{ID: "winter", Title: "Snow", Tags: []string{domain.SeasonWinter}},
		{ID: "summer", Title: "Beach", Tags: []string{domain.SeasonSummer}},
		{ID: "always", Title: "Calendar", Tags: []string{domain.SeasonAllYear, domain.SeasonSummer}},
		{ID: "desk", Title: "Spreadsheet", Tags: []string{"desktop_only"}},
	}

	tests := []struct {
		name string
		rc   domain.RequestContext
		want []string
	}{
		{"winter on mobile", domain.RequestContext{Season: domain.SeasonWinter, Device: "mobile"}, []string{"plain", "winter", "always"}},
		{"summer on desktop", domain.RequestContext{Season: domain.SeasonSummer, Device: "desktop"}, []string{"plain", "summer", "always", "desk"}},
		{"no device hint", domain.RequestContext{Season: domain.SeasonAutumn}, []string{"plain", "always", "desk"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Apply(materials, tt.rc)
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d materials, want %v", len(got), tt.want)
			}
			for i, m := range got {
				if m.ID != tt.want[i] {
					t.Errorf("position %d = %s, want %s", i, m.ID, tt.want[i])
				}
			}
		})
	}
}

func TestCustomRule(t *testing.T) {
	f, err := NewContextFilter(map[string]string{"cheap": `material.price <= 5.0`})
	if err != nil {
		t.Fatalf("NewContextFilter: %v", err)
	}
	ok, err := f.Allow(domain.Material{ID: "a", Price: 4.0}, domain.RequestContext{})
	if err != nil || !ok {
		t.Errorf("expected allow, got %v %v", ok, err)
	}
	ok, err = f.Allow(domain.Material{ID: "b", Price: 9.0}, domain.RequestContext{})
	if err != nil || ok {
		t.Errorf("expected deny, got %v %v", ok, err)
	}
}

func TestInvalidRules(t *testing.T) {
	if _, err := NewContextFilter(map[string]string{"broken": `material.price <=`}); err == nil {
		t.Error("expected compile error")
	}
	if _, err := NewContextFilter(map[string]string{"not_bool": `context.season`}); err == nil {
		t.Error("expected non-bool rule to be rejected")
	}
}
