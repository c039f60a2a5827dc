package sync

import (
	"time"

	"github.com/sommos/sommos/internal/domain"
)

// Changes is the re-hydration payload for a client returning from offline:
// every row touched since the client's last known sync point.
type Changes struct {
	Wines    []domain.Wine    `json:"wines"`
	Vintages []domain.Vintage `json:"vintages"`
	Stock    []domain.Stock   `json:"stock"`
	AsOf     int64            `json:"as_of"`
}

// ChangesSince collects rows whose sync clock is at or after since. AsOf is
// taken before the reads so a client polling with it never misses a row.
func (r *Reconciler) ChangesSince(since int64) (*Changes, error) {
	if since < 0 {
		return nil, domain.InvalidArgument("since must not be negative")
	}

	asOf := time.Now().Unix()

	wines, err := r.inventory.Wines().ListChangedSince(since)
	if err != nil {
		return nil, err
	}
	vintages, err := r.inventory.Vintages().ListChangedSince(since)
	if err != nil {
		return nil, err
	}
	stock, err := r.inventory.Stock().ListChangedSince(since)
	if err != nil {
		return nil, err
	}

	return &Changes{
		Wines:    wines,
		Vintages: vintages,
		Stock:    stock,
		AsOf:     asOf,
	}, nil
}
