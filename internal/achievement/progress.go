package achievement

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type Milestone struct {
	Achievement Definition
	Reached     bool
	Unlocked    bool
}

type MetricProgress struct {
	Current    int
	Milestones []Milestone
}

type Progress struct {
	Submissions MetricProgress
	Reviews     MetricProgress
	Quality     MetricProgress
	Streak      MetricProgress
	Unlocked    int
	Total       int
}

func (e *Engine) GetAchievementProgress(ctx context.Context, userID string) (Progress, error) {
	var (
		merged, reviews, perfect int
		unlocked                 = map[string]struct{}{}
		streak                   int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		merged, err = e.store.CountMergedSubmissions(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		reviews, err = e.store.CountCompletedReviews(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		perfect, err = e.store.CountPerfectScores(gctx, userID)
		return err
	})
	g.Go(func() error {
		days, err := e.store.ListContributionDays(gctx, userID)
		if err != nil {
			return err
		}
		streak = currentStreak(days, e.now())
		return nil
	})
	g.Go(func() error {
		list, err := e.store.ListAchievements(gctx, userID)
		if err != nil {
			return err
		}
		for _, ua := range list {
			unlocked[ua.AchievementID] = struct{}{}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Progress{}, err
	}

	p := Progress{
		Submissions: e.metricProgress(MetricMergedPRs, merged, unlocked),
		Reviews:     e.metricProgress(MetricCompletedReviews, reviews, unlocked),
		Quality:     e.metricProgress(MetricPerfectScores, perfect, unlocked),
		Streak:      e.metricProgress(MetricStreakDays, streak, unlocked),
		Total:       len(e.catalog.order),
	}
	for _, def := range e.catalog.All() {
		if _, ok := unlocked[string(def.ID)]; ok {
			p.Unlocked++
		}
	}

	return p, nil
}

func (e *Engine) metricProgress(metric Metric, current int, unlocked map[string]struct{}) MetricProgress {
	mp := MetricProgress{Current: current}
	for _, def := range e.catalog.ByMetric(metric) {
		_, has := unlocked[string(def.ID)]
		mp.Milestones = append(mp.Milestones, Milestone{
			Achievement: def,
			Reached:     current >= def.Threshold,
			Unlocked:    has,
		})
	}
	return mp
}
