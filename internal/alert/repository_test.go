package alert

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcat/habitat-core/internal/infrastructure/database/dbtest"
)

func alertAt(i int) Alert {
	return Alert{
		ID:               "alert-" + string(rune('a'+i)),
		DeviceID:         "default",
		Timestamp:        time.Date(2026, 3, 1, 8, 0, i, 0, time.UTC),
		Message:          "Water level low",
		Severity:         SeverityWarning,
		MessageKey:       KeyWaterLevelLow,
		MessageVariables: map[string]any{"percent": 20 + i},
	}
}

func TestSQLiteRepository_AppendTrims(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(dbtest.Open(t).DB)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Append(ctx, alertAt(i), 3))
	}

	got, err := repo.List(ctx, "default", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "alert-e", got[0].ID)
	assert.Equal(t, "alert-c", got[2].ID)
	assert.Equal(t, KeyWaterLevelLow, got[0].MessageKey)
	assert.Equal(t, map[string]any{"percent": float64(24)}, got[0].MessageVariables)
	assert.True(t, got[0].Timestamp.Equal(alertAt(4).Timestamp))
}

func TestSQLiteRepository_CustomAlertRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(dbtest.Open(t).DB)

	ruleID := int64(9)
	in := Alert{
		ID:        "custom",
		DeviceID:  "default",
		Timestamp: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		Message:   "Custom alert [rule-9]",
		Severity:  SeverityCritical,
		RuleID:    &ruleID,
	}
	require.NoError(t, repo.Append(ctx, in, 50))

	got, err := repo.List(ctx, "default", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].MessageKey)
	assert.Nil(t, got[0].MessageVariables)
	require.NotNil(t, got[0].RuleID)
	assert.Equal(t, ruleID, *got[0].RuleID)
}

func TestSQLiteRepository_UnknownDeviceRejected(t *testing.T) {
	repo := NewSQLiteRepository(dbtest.Open(t).DB)
	a := alertAt(0)
	a.DeviceID = "ghost"

	assert.Error(t, repo.Append(context.Background(), a, 10))
}

func TestSQLiteRuleRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRuleRepository(dbtest.Open(t).DB)

	msg := "too warm"
	rule := &Rule{Metric: MetricTemperature, Comparison: ComparisonAbove, Threshold: 30, Severity: SeverityCritical, Message: &msg, Enabled: true}
	require.NoError(t, repo.Create(ctx, rule))
	require.NotZero(t, rule.ID)

	got, err := repo.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, MetricTemperature, got.Metric)
	require.NotNil(t, got.Message)
	assert.Equal(t, "too warm", *got.Message)
	assert.True(t, got.Enabled)

	got.Enabled = false
	got.Message = nil
	require.NoError(t, repo.Update(ctx, got))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].Enabled)
	assert.Nil(t, all[0].Message)

	require.NoError(t, repo.Delete(ctx, rule.ID))
	_, err = repo.Get(ctx, rule.ID)
	assert.ErrorIs(t, err, ErrRuleNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, rule.ID), ErrRuleNotFound)
	assert.ErrorIs(t, repo.Update(ctx, rule), ErrRuleNotFound)
}

func TestEngine_LoadPrimesFromDatabase(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t).DB
	alerts := NewSQLiteRepository(db)
	require.NoError(t, alerts.Append(ctx, alertAt(2), 50))

	e := NewEngine(Config{Thresholds: DefaultThresholds(), Cooldown: time.Hour}, alerts, NewSQLiteRuleRepository(db))
	e.now = func() time.Time { return alertAt(2).Timestamp.Add(time.Minute) }
	require.NoError(t, e.Load(ctx, []string{"default"}))

	r := insideReading()
	r.WaterLevelPercent = floatp(22)
	assert.Empty(t, e.Evaluate(ctx, "default", nil, r), "same key and variables as the stored alert")
}
