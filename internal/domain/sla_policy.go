package domain

import (
	"encoding/json"
	"sort"
)

// Dimension identifies one of the independently tracked SLA clocks.
type Dimension string

const (
	DimensionFirstResponse Dimension = "first_response"
	DimensionResolution    Dimension = "resolution"
)

// Dimensions lists every tracked dimension in a stable order.
var Dimensions = []Dimension{DimensionFirstResponse, DimensionResolution}

// Valid reports whether d is a known dimension.
func (d Dimension) Valid() bool {
	return d == DimensionFirstResponse || d == DimensionResolution
}

// DefaultReminderThresholds applies when a policy configures none for a dimension.
var DefaultReminderThresholds = []float64{0.5, 0.9}

// DimensionTargets carries per-dimension target minutes; nil disables a dimension.
type DimensionTargets struct {
	FirstResponseMinutes *int `json:"first_response,omitempty"`
	ResolutionMinutes    *int `json:"resolution,omitempty"`
}

// SLAPolicy defines response and resolution targets.
type SLAPolicy struct {
	ID                         string
	OrgID                      string
	Active                     bool
	FirstResponseTargetMinutes *int
	ResolutionTargetMinutes    *int
	CalendarID                 *string
	ReminderThresholds         map[Dimension][]float64
	Rules                      json.RawMessage
	TargetMatrix               map[TicketPriority]DimensionTargets
}

// Target returns the configured target for a dimension, honouring the
// priority override from the target matrix.
func (p *SLAPolicy) Target(d Dimension, priority TicketPriority) (int, bool) {
	if p == nil {
		return 0, false
	}
	base := p.FirstResponseTargetMinutes
	if d == DimensionResolution {
		base = p.ResolutionTargetMinutes
	}
	if override, ok := p.TargetMatrix[priority]; ok {
		value := override.FirstResponseMinutes
		if d == DimensionResolution {
			value = override.ResolutionMinutes
		}
		if value != nil {
			base = value
		}
	}
	if base == nil || *base <= 0 {
		return 0, false
	}
	return *base, true
}

// Thresholds returns the ascending reminder fractions for a dimension.
func (p *SLAPolicy) Thresholds(d Dimension) []float64 {
	var configured []float64
	if p != nil {
		configured = p.ReminderThresholds[d]
	}
	if len(configured) == 0 {
		configured = DefaultReminderThresholds
	}
	seen := make(map[float64]struct{}, len(configured))
	out := make([]float64, 0, len(configured))
	for _, f := range configured {
		if f <= 0 || f > 1 {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Float64s(out)
	return out
}
