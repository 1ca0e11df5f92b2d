package service

import (
	"strings"

	"budgetledger/internal/model"
)

// NewActivityRef builds the activity link of a debit from the three optional ids an
// activity module may send. At most one may be set; none yields the zero ref.
func NewActivityRef(procurementID, productionID, distributionID string) (model.ActivityRef, error) {
	var ref model.ActivityRef
	set := 0

	candidates := []struct {
		kind model.ActivityKind
		id   string
	}{
		{model.ActivityProcurement, procurementID},
		{model.ActivityProduction, productionID},
		{model.ActivityDistribution, distributionID},
	}
	for _, c := range candidates {
		id := strings.TrimSpace(c.id)
		if id == "" {
			continue
		}
		set++
		ref = model.ActivityRef{Kind: c.kind, RecordID: id}
	}

	if set > 1 {
		return model.ActivityRef{}, ErrInvalidActivityRef
	}
	return ref, nil
}
