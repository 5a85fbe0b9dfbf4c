package reserve

import (
	"context"
	"fmt"
	"time"

	"nicotsm/internal"
	"nicotsm/utils"
)

// ServerClock reports the upstream clock
type ServerClock interface {
	ServerTime(ctx context.Context) (time.Time, error)
}

// timeWindow is one relative range of a filter
type timeWindow struct {
	field string
	from  string
	to    string
}

func windows(f internal.SearchFilter) []timeWindow {
	return []timeWindow{
		{field: "openTime", from: f.OpenTimeFrom, to: f.OpenTimeTo},
		{field: "startTime", from: f.StartTimeFrom, to: f.StartTimeTo},
		{field: "liveEndTime", from: f.LiveEndTimeFrom, to: f.LiveEndTimeTo},
	}
}

// FilterPlanner compiles a SearchFilter into the jsonFilter tree sent to
// the content-search API.
type FilterPlanner struct {
	clock    ServerClock
	location *time.Location
}

// NewFilterPlanner creates a planner; range bounds are rendered in location
func NewFilterPlanner(clock ServerClock, location *time.Location) *FilterPlanner {
	if location == nil {
		location = time.Local
	}
	return &FilterPlanner{clock: clock, location: location}
}

// CompileFilter returns nil when the filter has no constraint, the single
// constraint itself when there is one, and an "and" node otherwise. Server
// time is fetched at most once, and only when a window is present.
func (p *FilterPlanner) CompileFilter(ctx context.Context, f internal.SearchFilter) (interface{}, error) {
	var filters []interface{}
	if f.JSONFilter != nil {
		filters = append(filters, f.JSONFilter)
	}

	var now *time.Time
	serverNow := func() (time.Time, error) {
		if now == nil {
			t, err := p.clock.ServerTime(ctx)
			if err != nil {
				return time.Time{}, fmt.Errorf("fetch server time: %w", err)
			}
			now = &t
		}
		return *now, nil
	}

	for _, w := range windows(f) {
		if w.from == "" && w.to == "" {
			continue
		}
		base, err := serverNow()
		if err != nil {
			return nil, err
		}

		node := map[string]interface{}{"type": "range", "field": w.field}
		if w.from != "" {
			d, err := utils.ParseTimedelta(w.from)
			if err != nil {
				return nil, err
			}
			node["from"] = base.Add(d).In(p.location).Format(time.RFC3339)
			node["include_lower"] = true
		}
		if w.to != "" {
			d, err := utils.ParseTimedelta(w.to)
			if err != nil {
				return nil, err
			}
			node["to"] = base.Add(d).In(p.location).Format(time.RFC3339)
			node["include_upper"] = true
		}
		filters = append(filters, node)
	}

	switch len(filters) {
	case 0:
		return nil, nil
	case 1:
		return filters[0], nil
	default:
		return map[string]interface{}{"type": "and", "filters": filters}, nil
	}
}

// ValidateFilters checks every relative window of every filter
func ValidateFilters(filters []internal.SearchFilter) error {
	for i, f := range filters {
		for _, w := range windows(f) {
			bounds := []struct{ suffix, value string }{{"From", w.from}, {"To", w.to}}
			for _, b := range bounds {
				if b.value == "" {
					continue
				}
				if _, err := utils.ParseTimedelta(b.value); err != nil {
					return internal.NewValidationErrorWithValue(fmt.Sprintf("search[%d].%s%s", i, w.field, b.suffix), "invalid duration", b.value).
						WithSuggestion("Use a signed duration such as -1d, 2h30m or 1w")
				}
			}
		}
	}
	return nil
}
