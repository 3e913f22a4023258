package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/genji-bot/internal/domain"
)

func TestSubmissionValidator_Order(t *testing.T) {
	ctx := context.Background()
	oldest := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		quota fakeQuota
		sub   domain.MapSubmission
		want  error
	}{
		{"ok", fakeQuota{open: 4, weekly: 1, oldest: &oldest}, submission("ABCD"), nil},
		{"medals first", fakeQuota{open: 5}, domain.MapSubmission{Gold: 3, Silver: 2, Bronze: 1}, domain.ErrInvalidMedals},
		{"open playtests", fakeQuota{open: 5, weekly: 2, oldest: &oldest}, submission("ABCD"), ErrMaxMapsInPlaytest},
		{"weekly", fakeQuota{open: 0, weekly: 2, oldest: &oldest}, submission("ABCD"), ErrMaxWeeklyMapsInPlaytest},
		{"reader error", fakeQuota{err: errBoom}, submission("ABCD"), errBoom},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := NewSubmissionValidator(tc.quota)
			err := v.Validate(ctx, 1, &tc.sub)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected nil, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSubmissionValidator_WeeklyRetryAt(t *testing.T) {
	oldest := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	v := NewSubmissionValidator(fakeQuota{weekly: 2, oldest: &oldest})
	sub := submission("ABCD")

	err := v.Validate(context.Background(), 1, &sub)
	var wq *WeeklyQuotaError
	if !errors.As(err, &wq) {
		t.Fatalf("expected *WeeklyQuotaError, got %T", err)
	}
	if want := oldest.Add(7 * 24 * time.Hour); !wq.RetryAt.Equal(want) {
		t.Fatalf("RetryAt=%v want %v", wq.RetryAt, want)
	}
}

func TestDBQuota_CountsOnlyOpenAuthored(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	q := DBQuota{DB: db}

	n, err := q.CountOpenAuthoredPlaytests(ctx, creatorID)
	if err != nil || n != 0 {
		t.Fatalf("empty db: n=%d err=%v", n, err)
	}
	count, oldest, err := q.WeeklySubmissions(ctx, creatorID, time.Now())
	if err != nil || count != 0 || oldest != nil {
		t.Fatalf("empty db: count=%d oldest=%v err=%v", count, oldest, err)
	}
}
