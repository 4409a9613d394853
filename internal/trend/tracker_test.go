package trend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hepatica-risk-engine/internal/domain"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) ListStage3Assessments(ctx context.Context, patientID string, limit int) ([]*domain.Stage3Assessment, error) {
	args := m.Called(ctx, patientID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Stage3Assessment), args.Error(1)
}

func (m *mockStore) ListAlerts(ctx context.Context, patientID string, status domain.AlertStatus) ([]*domain.RiskAlert, error) {
	args := m.Called(ctx, patientID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.RiskAlert), args.Error(1)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestBuild_OrdersOldestFirst(t *testing.T) {
	base := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	newestFirst := []*domain.Stage3Assessment{
		{ID: "s-3", CompositeRiskScore: 0.8312345678, RiskTier: domain.RiskTierCritical, CreatedAt: base.Add(48 * time.Hour)},
		{ID: "s-2", CompositeRiskScore: 0.7, RiskTier: domain.RiskTierHigh, CreatedAt: base.Add(24 * time.Hour)},
		{ID: "s-1", CompositeRiskScore: 0.4, RiskTier: domain.RiskTierModerate, CreatedAt: base},
	}

	store := new(mockStore)
	store.On("ListStage3Assessments", mock.Anything, "p-1", DefaultLimit).Return(newestFirst, nil)
	store.On("ListAlerts", mock.Anything, "p-1", domain.AlertOpen).Return([]*domain.RiskAlert{
		{ID: "a-1", AssessmentID: "s-3", Status: domain.AlertOpen},
	}, nil)

	points, err := NewTracker(quietLogger(), 0).Build(context.Background(), store, "p-1")
	require.NoError(t, err)
	require.Len(t, points, 3)

	assert.Equal(t, "s-1", points[0].AssessmentID)
	assert.Equal(t, 1, points[0].VisitIndex)
	assert.Equal(t, domain.AlertStateNone, points[0].AlertState)
	assert.Equal(t, base, points[0].CreatedAt)

	assert.Equal(t, "s-3", points[2].AssessmentID)
	assert.Equal(t, 3, points[2].VisitIndex)
	assert.Equal(t, 0.831235, points[2].Score)
	assert.Equal(t, domain.AlertStateOpen, points[2].AlertState)
	store.AssertExpectations(t)
}

func TestBuild_EmptyHistorySkipsAlertLookup(t *testing.T) {
	store := new(mockStore)
	store.On("ListStage3Assessments", mock.Anything, "p-1", 4).Return([]*domain.Stage3Assessment{}, nil)

	points, err := NewTracker(quietLogger(), 4).Build(context.Background(), store, "p-1")
	require.NoError(t, err)
	assert.NotNil(t, points)
	assert.Empty(t, points)
	store.AssertNotCalled(t, "ListAlerts", mock.Anything, mock.Anything, mock.Anything)
}

func TestBuild_PropagatesStoreErrors(t *testing.T) {
	store := new(mockStore)
	store.On("ListStage3Assessments", mock.Anything, "p-1", DefaultLimit).
		Return([]*domain.Stage3Assessment{{ID: "s-1"}}, nil)
	store.On("ListAlerts", mock.Anything, "p-1", domain.AlertOpen).Return(nil, errors.New("connection reset"))

	_, err := NewTracker(quietLogger(), DefaultLimit).Build(context.Background(), store, "p-1")
	assert.ErrorContains(t, err, "connection reset")
}
