package feedback

import (
	"sort"

	"faqrag/internal/domain"
)

// ComputeStats derives summary statistics from records. The histogram
// always carries the keys 1 through 5. Sources are ordered by use count,
// then name.
func ComputeStats(records []domain.FeedbackRecord) domain.FeedbackStats {
	stats := domain.FeedbackStats{
		Count:     len(records),
		Histogram: map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0},
		Sources:   []domain.SourceHelpfulness{},
	}
	if len(records) == 0 {
		return stats
	}
	type acc struct {
		count, sum, helpful, unhelpful int
	}
	bySource := map[string]*acc{}
	total := 0
	for _, r := range records {
		total += r.Rating
		stats.Histogram[r.Rating]++
		seen := map[string]struct{}{}
		for _, src := range r.Sources {
			if _, dup := seen[src]; dup {
				continue
			}
			seen[src] = struct{}{}
			a := bySource[src]
			if a == nil {
				a = &acc{}
				bySource[src] = a
			}
			a.count++
			a.sum += r.Rating
			switch {
			case r.Rating >= 4:
				a.helpful++
			case r.Rating <= 2:
				a.unhelpful++
			}
		}
	}
	stats.AverageRating = float64(total) / float64(len(records))
	for src, a := range bySource {
		stats.Sources = append(stats.Sources, domain.SourceHelpfulness{
			Source:        src,
			Count:         a.count,
			AverageRating: float64(a.sum) / float64(a.count),
			Helpful:       a.helpful,
			Unhelpful:     a.unhelpful,
		})
	}
	sort.Slice(stats.Sources, func(i, j int) bool {
		if stats.Sources[i].Count != stats.Sources[j].Count {
			return stats.Sources[i].Count > stats.Sources[j].Count
		}
		return stats.Sources[i].Source < stats.Sources[j].Source
	})
	return stats
}
