package metrics

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"saas-analytics/internal/model"
)

// Warning flags data that reports can still be computed from but whose
// results may mislead.
type Warning struct {
	Kind   string    `json:"kind"`
	UserID uuid.UUID `json:"user_id"`
	Detail string    `json:"detail"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: user %s: %s", w.Kind, w.UserID, w.Detail)
}

const WarningFunnelOrder = "funnel_order"

// FunnelOrderWarnings lists users whose funnel checkpoints occur out of
// order. The earliest occurrence of each stage is compared.
func FunnelOrderWarnings(ds *model.Dataset) []Warning {
	var out []Warning
	for i := range ds.Users {
		u := &ds.Users[i]
		first := make(map[model.FunnelStage]time.Time)
		for _, e := range ds.FunnelOf(u.ID) {
			if at, ok := first[e.EventName]; !ok || e.OccurredAt.Before(at) {
				first[e.EventName] = e.OccurredAt
			}
		}

		var prevStage model.FunnelStage
		var prev time.Time
		for _, st := range model.OrderedStages {
			at, ok := first[st]
			if !ok {
				continue
			}
			if prevStage != "" && at.Before(prev) {
				out = append(out, Warning{
					Kind:   WarningFunnelOrder,
					UserID: u.ID,
					Detail: fmt.Sprintf("%s at %s precedes %s at %s", st, at.Format(time.RFC3339), prevStage, prev.Format(time.RFC3339)),
				})
			}
			prevStage, prev = st, at
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return out
}
