package service

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/stroycontrol/defect-service/internal/domain"
	"github.com/stroycontrol/defect-service/internal/repository"
	"github.com/stroycontrol/defect-service/internal/repository/memory"
)

func TestParseSequence(t *testing.T) {
	tests := []struct {
		number string
		want   int
	}{
		{"TOW-2026-0007", 7},
		{"TOW-2026-12345", 12345},
		{"TOW-2026-abc", 0},
		{"TOW-2026-", 0},
		{"garbage", 0},
		{"", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseSequence(tt.number), tt.number)
	}
}

func TestAllocate(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	allocator := NewIdentifierAllocator(func() time.Time { return now }, time.UTC)
	defects := store.Repositories().Defects

	number, err := allocator.Allocate(ctx, defects, domain.Project{ID: "p1", Slug: "tower"})
	require.NoError(t, err)
	assert.Equal(t, "TOW-2026-0001", number)

	number, err = allocator.Allocate(ctx, defects, domain.Project{ID: "p2"})
	require.NoError(t, err)
	assert.Equal(t, "DEF-2026-0001", number)

	for _, existing := range []string{"TOW-2026-0041", "TOW-2025-0900", "TOWER-2026-0999"} {
		require.NoError(t, defects.Create(ctx, &domain.Defect{Number: existing, ProjectID: "p1"}))
	}
	number, err = allocator.Allocate(ctx, defects, domain.Project{ID: "p1", Slug: "tower"})
	require.NoError(t, err)
	assert.Equal(t, "TOW-2026-0042", number)
}

func TestAllocate_UnparsableLastNumberRestartsAtOne(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	defects := store.Repositories().Defects
	require.NoError(t, defects.Create(ctx, &domain.Defect{Number: "TOW-2026-xyz1", ProjectID: "p1"}))

	allocator := NewIdentifierAllocator(func() time.Time { return time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC) }, nil)
	number, err := allocator.Allocate(ctx, defects, domain.Project{ID: "p1", Slug: "tower"})
	require.NoError(t, err)
	assert.Equal(t, "TOW-2026-0001", number)
}

func TestAllocate_YearInConfiguredZone(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	newYearsEve := time.Date(2026, 12, 31, 22, 0, 0, 0, time.UTC)

	number, err := NewIdentifierAllocator(func() time.Time { return newYearsEve }, msk).
		Allocate(ctx, store.Repositories().Defects, domain.Project{Slug: "tower"})
	require.NoError(t, err)
	assert.Equal(t, "TOW-2027-0001", number)
}

type lockRecorder struct {
	repository.DefectRepository
	keys []string
}

func (r *lockRecorder) LockNumberSequence(ctx context.Context, key string) error {
	r.keys = append(r.keys, key)
	return r.DefectRepository.LockNumberSequence(ctx, key)
}

func TestAllocate_LocksPrefix(t *testing.T) {
	store := memory.NewStore()
	recorder := &lockRecorder{DefectRepository: store.Repositories().Defects}
	allocator := NewIdentifierAllocator(func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }, time.UTC)

	_, err := allocator.Allocate(context.Background(), recorder, domain.Project{Slug: "tower"})
	require.NoError(t, err)
	assert.Equal(t, []string{"TOW-2026-"}, recorder.keys)
}

func TestCreate_ConcurrentNumbersAreGapless(t *testing.T) {
	f := newFixture(t)
	const n = 25

	numbers := make([]string, n)
	g, ctx := errgroup.WithContext(f.ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			defect, err := f.defects.Create(ctx, f.manager, DefectCreateInput{
				ProjectID:  f.project.ID,
				CategoryID: f.category.ID,
				Title:      fmt.Sprintf("defect %d", i),
			})
			if err != nil {
				return err
			}
			numbers[i] = defect.Number
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sort.Strings(numbers)
	for i, number := range numbers {
		assert.Equal(t, fmt.Sprintf("TOW-2026-%04d", i+1), number)
	}
}

func TestCreate_TwoConcurrentCreations(t *testing.T) {
	f := newFixture(t)

	var g errgroup.Group
	results := make([]string, 2)
	for i := range results {
		i := i
		g.Go(func() error {
			defect, err := f.defects.Create(f.ctx, f.manager, DefectCreateInput{
				ProjectID:  f.project.ID,
				CategoryID: f.category.ID,
				Title:      "parallel",
			})
			if err != nil {
				return err
			}
			results[i] = defect.Number
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.ElementsMatch(t, []string{"TOW-2026-0001", "TOW-2026-0002"}, results)
}

func TestCreate_RetriesOnceAfterDuplicateNumber(t *testing.T) {
	f := newFixture(t)

	var attempts atomic.Int32
	f.store.SetFault(func(op string) error {
		if op == memory.OpDefectCreate && attempts.Add(1) == 1 {
			return domain.ErrUniqueConstraintViolation
		}
		return nil
	})

	defect := f.newDefect(nil)
	assert.Equal(t, "TOW-2026-0001", defect.Number)
	assert.EqualValues(t, 2, attempts.Load())
}

func TestCreate_GivesUpAfterRetry(t *testing.T) {
	f := newFixture(t)

	var attempts atomic.Int32
	f.store.SetFault(func(op string) error {
		if op == memory.OpDefectCreate {
			attempts.Add(1)
			return domain.ErrUniqueConstraintViolation
		}
		return nil
	})

	_, err := f.defects.Create(f.ctx, f.manager, DefectCreateInput{
		ProjectID:  f.project.ID,
		CategoryID: f.category.ID,
		Title:      "collides",
	})
	require.ErrorIs(t, err, domain.ErrUniqueConstraintViolation)
	assert.EqualValues(t, 2, attempts.Load())

	n, err := f.store.Repositories().Defects.Count(f.ctx, repository.DefectFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCreate_ValidationErrorsAreNotRetried(t *testing.T) {
	f := newFixture(t)

	var attempts atomic.Int32
	f.store.SetFault(func(op string) error {
		if op == memory.OpDefectCreate {
			attempts.Add(1)
		}
		return nil
	})

	_, err := f.defects.Create(f.ctx, f.manager, DefectCreateInput{
		ProjectID:  f.project.ID,
		CategoryID: "unknown",
		Title:      "bad category",
	})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Zero(t, attempts.Load())
}
