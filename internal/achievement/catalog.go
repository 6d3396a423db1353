package achievement

import (
	"fmt"
	"sort"
)

type ID string

const (
	FirstPR        ID = "FIRST_PR"
	TenPRs         ID = "TEN_PRS"
	FiftyPRs       ID = "FIFTY_PRS"
	HundredPRs     ID = "HUNDRED_PRS"
	FirstReview    ID = "FIRST_REVIEW"
	FiftyReviews   ID = "FIFTY_REVIEWS"
	HundredReviews ID = "HUNDRED_REVIEWS"
	PerfectScore   ID = "PERFECT_SCORE"
	WeekStreak     ID = "WEEK_STREAK"
	MonthStreak    ID = "MONTH_STREAK"
)

// Metric is the counter an achievement threshold is compared against.
type Metric string

const (
	MetricMergedPRs        Metric = "merged_prs"
	MetricCompletedReviews Metric = "completed_reviews"
	MetricPerfectScores    Metric = "perfect_scores"
	MetricStreakDays       Metric = "streak_days"
)

type Definition struct {
	ID          ID
	Name        string
	Description string
	Icon        string
	Metric      Metric
	Threshold   int
}

// Catalog is a read-only registry of achievement definitions.
// It is built once and shared by reference.
type Catalog struct {
	byID  map[ID]Definition
	order []ID
}

func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{
		byID:  make(map[ID]Definition, len(defs)),
		order: make([]ID, 0, len(defs)),
	}
	for _, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("achievement definition without id")
		}
		if d.Threshold <= 0 {
			return nil, fmt.Errorf("achievement %s: threshold must be positive", d.ID)
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("achievement %s defined twice", d.ID)
		}
		c.byID[d.ID] = d
		c.order = append(c.order, d.ID)
	}
	return c, nil
}

func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		Definition{ID: FirstPR, Name: "First Contribution", Description: "Get your first pull request merged", Icon: "🎉", Metric: MetricMergedPRs, Threshold: 1},
		Definition{ID: TenPRs, Name: "Contributor", Description: "Get 10 pull requests merged", Icon: "🔟", Metric: MetricMergedPRs, Threshold: 10},
		Definition{ID: FiftyPRs, Name: "Prolific Contributor", Description: "Get 50 pull requests merged", Icon: "🚀", Metric: MetricMergedPRs, Threshold: 50},
		Definition{ID: HundredPRs, Name: "Centurion", Description: "Get 100 pull requests merged", Icon: "💯", Metric: MetricMergedPRs, Threshold: 100},
		Definition{ID: FirstReview, Name: "First Review", Description: "Complete your first peer review", Icon: "👀", Metric: MetricCompletedReviews, Threshold: 1},
		Definition{ID: FiftyReviews, Name: "Seasoned Reviewer", Description: "Complete 50 peer reviews", Icon: "🧐", Metric: MetricCompletedReviews, Threshold: 50},
		Definition{ID: HundredReviews, Name: "Review Master", Description: "Complete 100 peer reviews", Icon: "🏅", Metric: MetricCompletedReviews, Threshold: 100},
		Definition{ID: PerfectScore, Name: "Flawless", Description: "Receive a perfect review score", Icon: "⭐", Metric: MetricPerfectScores, Threshold: 1},
		Definition{ID: WeekStreak, Name: "On a Roll", Description: "Contribute 7 days in a row", Icon: "🔥", Metric: MetricStreakDays, Threshold: 7},
		Definition{ID: MonthStreak, Name: "Unstoppable", Description: "Contribute 30 days in a row", Icon: "🌋", Metric: MetricStreakDays, Threshold: 30},
	)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) Get(id ID) (Definition, bool) {
	d, ok := c.byID[id]
	return d, ok
}

func (c *Catalog) All() []Definition {
	defs := make([]Definition, 0, len(c.order))
	for _, id := range c.order {
		defs = append(defs, c.byID[id])
	}
	return defs
}

// ByMetric returns the definitions of one metric ordered by threshold.
func (c *Catalog) ByMetric(m Metric) []Definition {
	var defs []Definition
	for _, id := range c.order {
		if d := c.byID[id]; d.Metric == m {
			defs = append(defs, d)
		}
	}
	sort.SliceStable(defs, func(i, j int) bool { return defs[i].Threshold < defs[j].Threshold })
	return defs
}
