// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reports

import (
	"context"
	"testing"
	"time"

	store "github.com/AleutianAI/inocula/services/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusSubmitted, StatusEscalated, true},
		{StatusSubmitted, StatusResolved, true},
		{StatusEscalated, StatusResolved, true},
		{StatusEscalated, StatusSubmitted, false},
		{StatusResolved, StatusEscalated, false},
		{StatusSubmitted, StatusSubmitted, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("escalated")
	require.NoError(t, err)
	assert.Equal(t, StatusEscalated, st)

	_, err = ParseStatus("deleted")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestStore_Workflow(t *testing.T) {
	// Arrange
	s := newTestStore(t)
	ctx := context.Background()

	// Act
	r, err := s.Create(ctx, "rec-1", "this is satire")
	require.NoError(t, err)
	escalated, err := s.UpdateStatus(ctx, r.ReportID, StatusEscalated)
	require.NoError(t, err)
	_, backErr := s.UpdateStatus(ctx, r.ReportID, StatusSubmitted)

	// Assert
	assert.Equal(t, StatusSubmitted, r.Status)
	assert.Equal(t, StatusEscalated, escalated.Status)
	assert.ErrorIs(t, backErr, ErrInvalidTransition)
	got, err := s.Get(ctx, r.ReportID)
	require.NoError(t, err)
	assert.Equal(t, StatusEscalated, got.Status)
	assert.Equal(t, "rec-1", got.RecordID)
}

func TestStore_UpdateMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpdateStatus(context.Background(), "nope", StatusResolved)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListFilterAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, _ := s.Create(ctx, "rec-a", "")
	b, _ := s.Create(ctx, "rec-b", "")
	_, err := s.UpdateStatus(ctx, a.ReportID, StatusResolved)
	require.NoError(t, err)

	all, err := s.List(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b.ReportID, all[0].ReportID)

	resolved, err := s.List(ctx, StatusResolved, 10)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, a.ReportID, resolved[0].ReportID)
}

func TestStore_Analytics(t *testing.T) {
	// Arrange
	s := newTestStore(t)
	ctx := context.Background()
	days := []time.Time{
		time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 1, 23, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC),
	}
	var ids []string
	for _, d := range days {
		day := d
		s.now = func() time.Time { return day }
		r, err := s.Create(ctx, "rec", "")
		require.NoError(t, err)
		ids = append(ids, r.ReportID)
	}
	_, err := s.UpdateStatus(ctx, ids[0], StatusEscalated)
	require.NoError(t, err)

	// Act
	a, err := s.Analytics(ctx)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, map[Status]int{StatusSubmitted: 2, StatusEscalated: 1, StatusResolved: 0}, a.StatusCounts)
	assert.Equal(t, []DayCount{{Day: "2025-03-01", Count: 2}, {Day: "2025-03-02", Count: 1}}, a.DailyReports)
}

func TestStore_AnalyticsEmpty(t *testing.T) {
	a, err := newTestStore(t).Analytics(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []DayCount{}, a.DailyReports)
	assert.Len(t, a.StatusCounts, 3)
}
