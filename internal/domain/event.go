package domain

import (
	"strconv"
	"strings"
	"time"
)

type EventType string

const (
	EventPurchase  EventType = "purchase"
	EventView      EventType = "view"
	EventPreview   EventType = "preview"
	EventAddToCart EventType = "add_to_cart"
	EventSearch    EventType = "search"
	EventDownload  EventType = "download"
	EventFavorite  EventType = "favorite"
	EventRating    EventType = "rating"
	EventUnknown   EventType = "unknown"
)

// EventTypes lists the recognised event types in priority order.
var EventTypes = []EventType{
	EventPurchase,
	EventView,
	EventPreview,
	EventAddToCart,
	EventSearch,
	EventDownload,
	EventFavorite,
	EventRating,
}

// Weight is a fixed-point signal weight in units of 1/WeightScale. Integer
// sums keep aggregation exact regardless of event order.
type Weight int64

const WeightScale = 10000

func (w Weight) Float() float64 {
	return float64(w) / WeightScale
}

func (w Weight) String() string {
	return strconv.FormatFloat(w.Float(), 'f', -1, 64)
}

type EventWeights struct {
	Grade   Weight
	Subject Weight
}

var eventWeights = map[EventType]EventWeights{
	EventPurchase:  {Grade: 10000, Subject: 10000},
	EventView:      {Grade: 4600, Subject: 5200},
	EventPreview:   {Grade: 3200, Subject: 3600},
	EventAddToCart: {Grade: 2000, Subject: 2300},
	EventSearch:    {Grade: 0, Subject: 2900},
	EventDownload:  {Grade: 1100, Subject: 1200},
	EventFavorite:  {Grade: 1000, Subject: 1100},
	EventRating:    {Grade: 2500, Subject: 2800},
}

// Weights returns the fixed weights for t. Unrecognised types weigh zero.
func (t EventType) Weights() EventWeights {
	return eventWeights[t]
}

func (t EventType) Known() bool {
	_, ok := eventWeights[t]
	return ok
}

// Owns reports whether an event of this type means the user already has the
// material.
func (t EventType) Owns() bool {
	return t == EventPurchase || t == EventDownload
}

// ParseEventType maps free-form event names onto the closed set. Anything
// unrecognised becomes EventUnknown.
func ParseEventType(s string) EventType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "purchase", "purchases":
		return EventPurchase
	case "view", "viewmaterial", "view_material":
		return EventView
	case "preview", "showmaterialpreview", "show_material_preview":
		return EventPreview
	case "add_to_cart", "addtocart":
		return EventAddToCart
	case "search", "searches":
		return EventSearch
	case "download", "freedownload", "free_download":
		return EventDownload
	case "favorite", "addtofavorites", "add_to_favorites":
		return EventFavorite
	case "rating":
		return EventRating
	}
	return EventUnknown
}

const PayloadQuery = "query"

type InteractionEvent struct {
	UserID     string            `json:"user_id" validate:"required"`
	MaterialID string            `json:"material_id,omitempty" validate:"required_unless=EventType search"`
	EventType  EventType         `json:"event_type" validate:"required"`
	Timestamp  time.Time         `json:"timestamp" validate:"required"`
	Payload    map[string]string `json:"payload,omitempty"`
}

func (e InteractionEvent) Query() string {
	if e.Payload == nil {
		return ""
	}
	return e.Payload[PayloadQuery]
}
