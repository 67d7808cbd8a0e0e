package reconcile

import (
	"time"

	"tidemark/internal/domain"
	"tidemark/internal/util"
)

// missingTradingRanges returns the trading-day sub-ranges of [start, end]
// not covered by any range in covered. Consecutive missing trading days are
// grouped into one range; weekends and holidays neither count as missing nor
// split a group.
func missingTradingRanges(cal *util.TradingCalendar, covered []domain.Range, start, end time.Time) []domain.Range {
	days := cal.TradingDays(start, end)
	if len(days) == 0 {
		return nil
	}

	isCovered := func(d time.Time) bool {
		for _, r := range covered {
			if r.Contains(d) {
				return true
			}
		}
		return false
	}

	var missing []domain.Range
	var cur *domain.Range
	prevMissing := false
	for _, d := range days {
		if isCovered(d) {
			prevMissing = false
			continue
		}
		if prevMissing {
			cur.End = d
		} else {
			missing = append(missing, domain.Range{Start: d, End: d})
			cur = &missing[len(missing)-1]
		}
		prevMissing = true
	}
	return missing
}
