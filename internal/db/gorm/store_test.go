package gorm

import (
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/thebtf/vocguru/internal/synthesis"
	"github.com/thebtf/vocguru/pkg/models"
)

func TestFeatureLockKeys_SortedAndDistinct(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	ab := featureLockKeys(a, b)
	ba := featureLockKeys(b, a)

	require.Len(t, ab, 2)
	assert.Equal(t, ab, ba)
	assert.Less(t, ab[0], ab[1])

	assert.Len(t, featureLockKeys(a, a), 1)
	assert.Equal(t, featureLockKey(a), featureLockKey(a))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\% \_done\\`, escapeLike(`100% _done\`))
	assert.Equal(t, "dark mode", escapeLike("dark mode"))
}

func TestNotFound(t *testing.T) {
	err := notFound(gorm.ErrRecordNotFound, "feature x")
	assert.ErrorIs(t, err, synthesis.ErrNotFound)

	other := errors.New("connection reset")
	assert.Equal(t, other, notFound(other, "feature x"))
}

func TestIsUniqueViolation(t *testing.T) {
	dup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	assert.True(t, isUniqueViolation(dup))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("boom")))
}

func TestFeatureRowConversion(t *testing.T) {
	f := &models.Feature{
		ID:        uuid.New(),
		Title:     "CSV export",
		Sentiment: models.SentimentNegative,
		Status:    models.StatusPlanned,
		Embedding: []float32{0.1, 0.2, 0.3},
	}

	row := featureRow(f)
	require.NotNil(t, row.Embedding)
	assert.Equal(t, models.JSONStringArray{}, row.Tags)

	back := row.toModel()
	assert.Equal(t, f.Embedding, back.Embedding)
	assert.Equal(t, models.StatusPlanned, back.Status)
	assert.Equal(t, models.SentimentNegative, back.Sentiment)

	f.Embedding = nil
	assert.Nil(t, featureRow(f).Embedding)
	assert.Nil(t, featureRow(f).toModel().Embedding)
}

func TestFeedbackRowConversion(t *testing.T) {
	cust := uuid.New()
	item := &models.FeedbackItem{
		ID:         uuid.New(),
		Source:     models.SourceHelpdesk,
		ExternalID: "T-42",
		Content:    "Please add SSO",
		CustomerID: &cust,
		Weight:     3.5,
		Metadata:   models.JSONMap{"priority": "high"},
	}

	back := feedbackRow(item).toModel()
	assert.Equal(t, item, back)
}

func TestPoolMetricsSummary(t *testing.T) {
	m := NewPoolMetrics(30)
	for i := 1; i <= 25; i++ {
		m.RecordLatency(time.Duration(i) * time.Millisecond)
	}

	s := m.GetMetricsSummary()
	assert.Equal(t, int64(25), s.TotalQueries)
	assert.Equal(t, 25, s.SampleCount)
	assert.Equal(t, time.Millisecond, s.MinLatency)
	assert.Equal(t, 25*time.Millisecond, s.MaxLatency)
	assert.Equal(t, 13*time.Millisecond, s.AvgLatency)
	assert.Equal(t, 24*time.Millisecond, s.P95Latency)
}

func TestPoolMetricsWindowWraps(t *testing.T) {
	m := NewPoolMetrics(2)
	m.RecordLatency(100 * time.Millisecond)
	m.RecordLatency(time.Millisecond)
	m.RecordLatency(2 * time.Millisecond)

	s := m.GetMetricsSummary()
	assert.Equal(t, 2, s.SampleCount)
	assert.Equal(t, 2*time.Millisecond, s.MaxLatency)
}

func TestParseParams(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/feedback?limit=5000&offset=20&page=3&processed=false", nil)

	assert.Equal(t, 200, ParseLimitParam(r, 50, 200))
	assert.Equal(t, 20, ParseOffsetParam(r))
	assert.Equal(t, 3, ParsePageParam(r))
	processed := ParseBoolParam(r, "processed")
	require.NotNil(t, processed)
	assert.False(t, *processed)

	bad := httptest.NewRequest("GET", "/api/feedback?limit=-1&offset=x&page=0&processed=maybe", nil)
	assert.Equal(t, 50, ParseLimitParam(bad, 50, 0))
	assert.Equal(t, 0, ParseOffsetParam(bad))
	assert.Equal(t, 1, ParsePageParam(bad))
	assert.Nil(t, ParseBoolParam(bad, "processed"))
	assert.Nil(t, ParseBoolParam(bad, "missing"))
}
