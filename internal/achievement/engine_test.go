package achievement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vibedtocracked/contribution-review/internal/domain"
	"go.uber.org/zap"
)

type storeMock struct {
	mock.Mock
}

func (m *storeMock) HasAchievement(ctx context.Context, userID, achievementID string) (bool, error) {
	args := m.Called(ctx, userID, achievementID)
	return args.Bool(0), args.Error(1)
}

func (m *storeMock) InsertAchievement(ctx context.Context, ua domain.UserAchievement) (bool, error) {
	args := m.Called(ctx, ua)
	return args.Bool(0), args.Error(1)
}

func (m *storeMock) ListAchievements(ctx context.Context, userID string) ([]domain.UserAchievement, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]domain.UserAchievement), args.Error(1)
}

func (m *storeMock) CountMergedSubmissions(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *storeMock) CountCompletedReviews(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *storeMock) CountPerfectScores(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *storeMock) ListContributionDays(ctx context.Context, userID string) ([]time.Time, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]time.Time), args.Error(1)
}

func (m *storeMock) CreateNotification(ctx context.Context, n domain.Notification) error {
	return m.Called(ctx, n).Error(0)
}

type mockTxManager struct{}

func (mockTxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

var fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestEngine(store Store) *Engine {
	e := NewEngine(DefaultCatalog(), store, mockTxManager{}, zap.NewNop())
	e.now = func() time.Time { return fixedNow }
	return e
}

func TestEngine_UnlockAchievement_New(t *testing.T) {
	ctx := context.Background()
	store := &storeMock{}

	store.On("HasAchievement", ctx, "u1", "FIRST_PR").Return(false, nil).Once()
	store.On("InsertAchievement", ctx, domain.UserAchievement{UserID: "u1", AchievementID: "FIRST_PR", UnlockedAt: fixedNow}).
		Return(true, nil).Once()
	store.On("CreateNotification", ctx, mock.MatchedBy(func(n domain.Notification) bool {
		return n.UserID == "u1" && n.Type == domain.NotificationAchievementUnlocked && n.Data["achievementId"] == "FIRST_PR"
	})).Return(nil).Once()

	res, err := newTestEngine(store).UnlockAchievement(ctx, "u1", FirstPR)
	require.NoError(t, err)
	assert.True(t, res.Unlocked)
	assert.False(t, res.AlreadyUnlocked)
	assert.Equal(t, FirstPR, res.Achievement.ID)

	store.AssertExpectations(t)
}

func TestEngine_UnlockAchievement_AlreadyUnlocked(t *testing.T) {
	ctx := context.Background()
	store := &storeMock{}

	store.On("HasAchievement", ctx, "u1", "FIRST_PR").Return(true, nil).Once()

	res, err := newTestEngine(store).UnlockAchievement(ctx, "u1", FirstPR)
	require.NoError(t, err)
	assert.False(t, res.Unlocked)
	assert.True(t, res.AlreadyUnlocked)

	store.AssertExpectations(t)
	store.AssertNotCalled(t, "InsertAchievement", mock.Anything, mock.Anything)
}

func TestEngine_UnlockAchievement_LostRace(t *testing.T) {
	ctx := context.Background()
	store := &storeMock{}

	store.On("HasAchievement", ctx, "u1", "TEN_PRS").Return(false, nil).Once()
	store.On("InsertAchievement", ctx, mock.Anything).Return(false, nil).Once()

	res, err := newTestEngine(store).UnlockAchievement(ctx, "u1", TenPRs)
	require.NoError(t, err)
	assert.True(t, res.AlreadyUnlocked)
	assert.False(t, res.Unlocked)

	store.AssertNotCalled(t, "CreateNotification", mock.Anything, mock.Anything)
}

func TestEngine_UnlockAchievement_Unknown(t *testing.T) {
	_, err := newTestEngine(&storeMock{}).UnlockAchievement(context.Background(), "u1", ID("NOPE"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEngine_CheckPRAchievements_ExactThreshold(t *testing.T) {
	ctx := context.Background()
	store := &storeMock{}

	store.On("CountMergedSubmissions", ctx, "u1").Return(10, nil).Once()
	store.On("HasAchievement", ctx, "u1", "TEN_PRS").Return(false, nil).Once()
	store.On("InsertAchievement", ctx, mock.Anything).Return(true, nil).Once()
	store.On("CreateNotification", ctx, mock.Anything).Return(nil).Once()

	unlocked, err := newTestEngine(store).CheckPRAchievements(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.Equal(t, TenPRs, unlocked[0].Achievement.ID)

	store.AssertExpectations(t)
}

func TestEngine_CheckPRAchievements_SkippedThresholdUnlocksNothing(t *testing.T) {
	ctx := context.Background()
	store := &storeMock{}

	store.On("CountMergedSubmissions", ctx, "u1").Return(15, nil).Once()

	unlocked, err := newTestEngine(store).CheckPRAchievements(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, unlocked)

	store.AssertNotCalled(t, "HasAchievement", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_CheckReviewAchievements(t *testing.T) {
	ctx := context.Background()
	store := &storeMock{}

	store.On("CountCompletedReviews", ctx, "r1").Return(1, nil).Once()
	store.On("HasAchievement", ctx, "r1", "FIRST_REVIEW").Return(true, nil).Once()

	unlocked, err := newTestEngine(store).CheckReviewAchievements(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, unlocked)

	store.AssertExpectations(t)
}

func TestEngine_CheckPerfectScoreAchievement(t *testing.T) {
	ctx := context.Background()
	store := &storeMock{}
	engine := newTestEngine(store)

	res, err := engine.CheckPerfectScoreAchievement(ctx, "u1", 99)
	require.NoError(t, err)
	assert.False(t, res.Unlocked)
	store.AssertNotCalled(t, "HasAchievement", mock.Anything, mock.Anything, mock.Anything)

	store.On("HasAchievement", ctx, "u1", "PERFECT_SCORE").Return(false, nil).Once()
	store.On("InsertAchievement", ctx, mock.Anything).Return(true, nil).Once()
	store.On("CreateNotification", ctx, mock.Anything).Return(nil).Once()

	res, err = engine.CheckPerfectScoreAchievement(ctx, "u1", 100)
	require.NoError(t, err)
	assert.True(t, res.Unlocked)
	store.AssertExpectations(t)
}

func TestEngine_CheckStreakAchievements(t *testing.T) {
	ctx := context.Background()
	store := &storeMock{}

	var days []time.Time
	for i := 0; i < 7; i++ {
		days = append(days, fixedNow.AddDate(0, 0, -i))
	}
	store.On("ListContributionDays", ctx, "u1").Return(days, nil).Once()
	store.On("HasAchievement", ctx, "u1", "WEEK_STREAK").Return(false, nil).Once()
	store.On("InsertAchievement", ctx, mock.Anything).Return(true, nil).Once()
	store.On("CreateNotification", ctx, mock.Anything).Return(nil).Once()

	unlocked, err := newTestEngine(store).CheckStreakAchievements(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.Equal(t, WeekStreak, unlocked[0].Achievement.ID)
}

func TestEngine_StoreErrorPropagates(t *testing.T) {
	ctx := context.Background()
	store := &storeMock{}
	boom := errors.New("db down")

	store.On("CountMergedSubmissions", ctx, "u1").Return(0, boom).Once()

	_, err := newTestEngine(store).CheckPRAchievements(ctx, "u1")
	assert.ErrorIs(t, err, boom)
}

func TestCurrentStreak(t *testing.T) {
	day := func(offset int) time.Time { return fixedNow.AddDate(0, 0, offset) }

	assert.Equal(t, 0, currentStreak(nil, fixedNow))
	assert.Equal(t, 1, currentStreak([]time.Time{day(0)}, fixedNow))
	assert.Equal(t, 2, currentStreak([]time.Time{day(-1), day(-2)}, fixedNow))
	assert.Equal(t, 0, currentStreak([]time.Time{day(-2), day(-3)}, fixedNow))
	assert.Equal(t, 3, currentStreak([]time.Time{day(0), day(-1), day(-1), day(-2), day(-5)}, fixedNow))
}

func TestEngine_GetAchievementProgress(t *testing.T) {
	ctx := context.Background()
	store := &storeMock{}

	store.On("CountMergedSubmissions", mock.Anything, "u1").Return(12, nil).Once()
	store.On("CountCompletedReviews", mock.Anything, "u1").Return(0, nil).Once()
	store.On("CountPerfectScores", mock.Anything, "u1").Return(1, nil).Once()
	store.On("ListContributionDays", mock.Anything, "u1").Return([]time.Time{fixedNow}, nil).Once()
	store.On("ListAchievements", mock.Anything, "u1").Return([]domain.UserAchievement{
		{UserID: "u1", AchievementID: "FIRST_PR"},
		{UserID: "u1", AchievementID: "PERFECT_SCORE"},
	}, nil).Once()

	p, err := newTestEngine(store).GetAchievementProgress(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, 12, p.Submissions.Current)
	require.Len(t, p.Submissions.Milestones, 4)
	assert.True(t, p.Submissions.Milestones[0].Unlocked)
	assert.True(t, p.Submissions.Milestones[1].Reached)
	assert.False(t, p.Submissions.Milestones[1].Unlocked)
	assert.False(t, p.Submissions.Milestones[2].Reached)

	assert.Equal(t, 1, p.Streak.Current)
	assert.Equal(t, 2, p.Unlocked)
	assert.Equal(t, 10, p.Total)
	store.AssertExpectations(t)
}

func TestNewCatalog_Validation(t *testing.T) {
	_, err := NewCatalog(
		Definition{ID: FirstPR, Metric: MetricMergedPRs, Threshold: 1},
		Definition{ID: FirstPR, Metric: MetricMergedPRs, Threshold: 2},
	)
	assert.Error(t, err)

	_, err = NewCatalog(Definition{ID: FirstPR, Metric: MetricMergedPRs})
	assert.Error(t, err)

	c := DefaultCatalog()
	defs := c.ByMetric(MetricMergedPRs)
	require.Len(t, defs, 4)
	assert.Equal(t, []int{1, 10, 50, 100}, []int{defs[0].Threshold, defs[1].Threshold, defs[2].Threshold, defs[3].Threshold})
}
