package persistence

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"mailbot/core/domain"
	"mailbot/core/port/out"
)

func TestMemoryRunReportStore(t *testing.T) {
	s := NewMemoryRunReportStore(2)
	ctx := context.Background()
	base := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		r := &domain.RunReport{
			RunID:     fmt.Sprintf("run-%d", i),
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Details:   []*domain.MessageOutcome{{MessageID: "m"}},
		}
		if err := s.Save(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := s.Get(ctx, "run-0"); !errors.Is(err, out.ErrRunReportNotFound) {
		t.Errorf("oldest report should be evicted, err = %v", err)
	}

	got, err := s.Get(ctx, "run-2")
	if err != nil || len(got.Details) != 1 {
		t.Fatalf("Get = %+v, %v", got, err)
	}

	list, err := s.ListRecent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].RunID != "run-2" || list[1].RunID != "run-1" {
		t.Fatalf("ListRecent = %+v", list)
	}
	if list[0].Details != nil {
		t.Error("listing should omit details")
	}

	if err := s.Save(ctx, &domain.RunReport{}); err != ErrInvalidInput {
		t.Errorf("report without id err = %v", err)
	}
}
