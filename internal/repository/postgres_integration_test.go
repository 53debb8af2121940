//go:build integration

package repository_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/stroycontrol/defect-service/internal/domain"
	"github.com/stroycontrol/defect-service/internal/events"
	"github.com/stroycontrol/defect-service/internal/repository"
	"github.com/stroycontrol/defect-service/internal/service"
	"github.com/stroycontrol/defect-service/internal/testhelpers"
)

type pgFixture struct {
	db         *testhelpers.TestDB
	store      *repository.PostgresStore
	project    domain.Project
	categoryID string
	adminID    string
	memberID   string
}

// newPGFixture seeds a project whose slug yields its own number prefix, so tests sharing the
// database never compete for a sequence.
func newPGFixture(t *testing.T, slug string) *pgFixture {
	t.Helper()
	db := testhelpers.GetTestDB(t)

	f := &pgFixture{db: db, store: repository.NewPostgresStore(db.Pool)}
	f.adminID = db.Seed(t, `INSERT INTO users (email, first_name, last_name, password_hash, role) VALUES ($1, 'Anna', 'Admin', 'x', 'admin')`,
		slug+"-admin@example.com")
	f.memberID = db.Seed(t, `INSERT INTO users (email, first_name, last_name, password_hash, role) VALUES ($1, 'Bob', 'Builder', 'x', 'engineer')`,
		slug+"-bob@example.com")
	projectID := db.Seed(t, `INSERT INTO projects (name, slug, manager_id) VALUES ($1, $2, $3)`, "Project "+slug, slug, f.adminID)
	f.categoryID = db.Seed(t, `INSERT INTO defect_categories (name) VALUES ($1)`, "Category "+slug)
	_, err := db.Pool.Exec(context.Background(),
		`INSERT INTO project_members (project_id, user_id, role) VALUES ($1, $2, 'engineer')`, projectID, f.memberID)
	require.NoError(t, err)

	project, err := f.store.Repositories().Projects.GetByID(context.Background(), projectID)
	require.NoError(t, err)
	f.project = *project
	return f
}

func (f *pgFixture) defect(number, title string) *domain.Defect {
	return &domain.Defect{
		Number:     number,
		ProjectID:  f.project.ID,
		CategoryID: f.categoryID,
		Title:      title,
		Priority:   domain.DefectPriorityMedium,
		Severity:   domain.DefectSeverityMinor,
		Status:     domain.DefectStatusNew,
		AuthorID:   f.adminID,
	}
}

func TestPostgresDefectNumberIsUnique(t *testing.T) {
	f := newPGFixture(t, "uni")
	ctx := context.Background()
	defects := f.store.Repositories().Defects

	first := f.defect("UNI-2026-0001", "first")
	require.NoError(t, defects.Create(ctx, first))
	assert.NotEmpty(t, first.ID)

	err := defects.Create(ctx, f.defect("UNI-2026-0001", "second"))
	require.ErrorIs(t, err, domain.ErrUniqueConstraintViolation)
}

func TestPostgresLastNumberWithPrefix(t *testing.T) {
	f := newPGFixture(t, "lnp")
	ctx := context.Background()
	defects := f.store.Repositories().Defects

	for _, number := range []string{"LNP-2026-0009", "LNP-2026-0010", "LNP-2025-0100", "LNP-2026-0002"} {
		require.NoError(t, defects.Create(ctx, f.defect(number, number)))
	}

	last, err := defects.LastNumberWithPrefix(ctx, "LNP-2026-")
	require.NoError(t, err)
	assert.Equal(t, "LNP-2026-0010", last)

	last, err = defects.LastNumberWithPrefix(ctx, "LNP-2027-")
	require.NoError(t, err)
	assert.Empty(t, last)
}

func TestPostgresWithinTxRollsBack(t *testing.T) {
	f := newPGFixture(t, "rbk")
	ctx := context.Background()
	boom := errors.New("history write failed")

	err := f.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		defect := f.defect("RBK-2026-0001", "rolled back")
		if err := repos.Defects.Create(ctx, defect); err != nil {
			return err
		}
		require.NoError(t, repos.History.Create(ctx, &domain.DefectHistory{
			DefectID: defect.ID, UserID: &f.adminID, Action: domain.HistoryActionStatusChanged,
			FieldName: "status", OldValue: "new", NewValue: "in_progress",
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = f.store.Repositories().Defects.GetByNumber(ctx, "RBK-2026-0001")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgresListWithFilter(t *testing.T) {
	f := newPGFixture(t, "flt")
	ctx := context.Background()
	defects := f.store.Repositories().Defects

	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	yesterday := today.AddDate(0, 0, -1)

	overdue := f.defect("FLT-2026-0001", "Leaking pipe")
	overdue.Status = domain.DefectStatusInProgress
	overdue.AssigneeID = &f.memberID
	overdue.DueDate = &yesterday
	require.NoError(t, defects.Create(ctx, overdue))

	closedLate := f.defect("FLT-2026-0002", "Cracked tile")
	closedLate.DueDate = &yesterday
	require.NoError(t, defects.Create(ctx, closedLate))
	closedLate.Status = domain.DefectStatusClosed
	require.NoError(t, defects.Update(ctx, closedLate))

	require.NoError(t, defects.Create(ctx, f.defect("FLT-2026-0003", "Missing handrail")))

	yes, no := true, false
	projectIDs := []string{f.project.ID}
	tests := []struct {
		name   string
		filter repository.DefectFilter
		want   []string
	}{
		{name: "project", filter: repository.DefectFilter{ProjectIDs: projectIDs}, want: []string{"FLT-2026-0001", "FLT-2026-0002", "FLT-2026-0003"}},
		{name: "no accessible projects", filter: repository.DefectFilter{ProjectIDs: []string{}}, want: nil},
		{name: "overdue", filter: repository.DefectFilter{ProjectIDs: projectIDs, Overdue: &yes, Today: today}, want: []string{"FLT-2026-0001"}},
		{name: "not overdue", filter: repository.DefectFilter{ProjectIDs: projectIDs, Overdue: &no, Today: today}, want: []string{"FLT-2026-0002", "FLT-2026-0003"}},
		{name: "assignee", filter: repository.DefectFilter{ProjectIDs: projectIDs, AssigneeID: &f.memberID}, want: []string{"FLT-2026-0001"}},
		{name: "status", filter: repository.DefectFilter{ProjectIDs: projectIDs, Statuses: []domain.DefectStatus{domain.DefectStatusClosed}}, want: []string{"FLT-2026-0002"}},
		{name: "search", filter: repository.DefectFilter{ProjectIDs: projectIDs, SearchTerm: strPtr("  HANDRAIL ")}, want: []string{"FLT-2026-0003"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := defects.ListWithFilter(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, numbers(items))

			count, err := defects.Count(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), count)
		})
	}
}

func TestPostgresSearchTreatsWildcardsLiterally(t *testing.T) {
	f := newPGFixture(t, "esc")
	ctx := context.Background()
	defects := f.store.Repositories().Defects

	require.NoError(t, defects.Create(ctx, f.defect("ESC-2026-0001", "Sealant 100% missing at joint_7")))
	require.NoError(t, defects.Create(ctx, f.defect("ESC-2026-0002", "Loose skirting board")))
	require.NoError(t, defects.Create(ctx, f.defect("ESC-2026-0003", `Drain path C:\shaft`)))

	projectIDs := []string{f.project.ID}
	for term, want := range map[string][]string{
		"%":       {"ESC-2026-0001"},
		"_":       {"ESC-2026-0001"},
		"0%":      {"ESC-2026-0001"},
		"t_7":     {"ESC-2026-0001"},
		"t%j":     nil,
		`c:\sha`: {"ESC-2026-0003"},
		"skirt":   {"ESC-2026-0002"},
	} {
		t.Run(term, func(t *testing.T) {
			filter := repository.DefectFilter{ProjectIDs: projectIDs, SearchTerm: strPtr(term)}
			items, err := defects.ListWithFilter(ctx, filter)
			require.NoError(t, err)
			assert.Equal(t, want, numbers(items))
		})
	}
}

func TestPostgresCreatedRangeComparesInstants(t *testing.T) {
	f := newPGFixture(t, "crt")
	ctx := context.Background()
	defects := f.store.Repositories().Defects

	late := f.defect("CRT-2026-0001", "created late in the evening UTC")
	require.NoError(t, defects.Create(ctx, late))
	_, err := f.db.Pool.Exec(ctx, `UPDATE defects SET created_at=$1 WHERE id=$2`,
		time.Date(2026, 3, 10, 22, 30, 0, 0, time.UTC), late.ID)
	require.NoError(t, err)

	msk := time.FixedZone("MSK", 3*60*60)
	start, end := domain.DayBounds(time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), msk)
	projectIDs := []string{f.project.ID}

	count, err := defects.Count(ctx, repository.DefectFilter{ProjectIDs: projectIDs, CreatedSince: &start, CreatedBefore: &end})
	require.NoError(t, err)
	assert.Equal(t, 1, count, "22:30 UTC belongs to the next local day")

	prevStart, prevEnd := domain.DayBounds(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), msk)
	count, err = defects.Count(ctx, repository.DefectFilter{ProjectIDs: projectIDs, CreatedSince: &prevStart, CreatedBefore: &prevEnd})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPostgresSoftDelete(t *testing.T) {
	f := newPGFixture(t, "del")
	ctx := context.Background()
	repos := f.store.Repositories()

	gone := f.defect("DEL-2026-0002", "to be removed")
	require.NoError(t, repos.Defects.Create(ctx, gone))
	comment := &domain.DefectComment{DefectID: gone.ID, AuthorID: f.memberID, Content: "draft", Type: domain.CommentTypeComment}
	require.NoError(t, repos.Comments.Create(ctx, comment))
	comment.Content = "final"
	require.NoError(t, repos.Comments.UpdateContent(ctx, comment))
	stored, err := repos.Comments.GetByID(ctx, comment.ID)
	require.NoError(t, err)
	assert.Equal(t, "final", stored.Content)
	assert.False(t, stored.UpdatedAt.Before(stored.CreatedAt))

	require.NoError(t, repos.Comments.SoftDelete(ctx, comment))
	_, err = repos.Comments.GetByID(ctx, comment.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, repos.Defects.SoftDelete(ctx, gone))
	require.NotNil(t, gone.DeletedAt)
	assert.ErrorIs(t, repos.Defects.SoftDelete(ctx, gone), domain.ErrNotFound)
	_, err = repos.Defects.GetByID(ctx, gone.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = repos.Defects.GetByNumber(ctx, gone.Number)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, repos.Defects.Update(ctx, gone), domain.ErrNotFound)

	count, err := repos.Defects.Count(ctx, repository.DefectFilter{ProjectIDs: []string{f.project.ID}})
	require.NoError(t, err)
	assert.Zero(t, count)

	last, err := repos.Defects.LastNumberWithPrefix(ctx, "DEL-2026-")
	require.NoError(t, err)
	assert.Equal(t, "DEL-2026-0002", last)
}

func TestPostgresConcurrentCreationsGetGaplessNumbers(t *testing.T) {
	f := newPGFixture(t, "con")
	logger := zaptest.NewLogger(t)
	clock := func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }

	dispatcher := events.NewInMemoryDispatcher(logger)
	audit := service.NewAuditTrail(f.store, logger, clock)
	lifecycle := service.NewLifecycleService(service.LifecycleDependencies{Store: f.store, Audit: audit, Dispatcher: dispatcher, Logger: logger, Clock: clock})
	assignments := service.NewAssignmentService(service.AssignmentDependencies{Store: f.store, Audit: audit, Dispatcher: dispatcher, Logger: logger, Clock: clock})
	defects := service.NewDefectService(service.DefectDependencies{
		Store:            f.store,
		Allocator:        service.NewIdentifierAllocator(clock, time.UTC),
		Lifecycle:        lifecycle,
		Assignments:      assignments,
		Dispatcher:       dispatcher,
		Logger:           logger,
		Clock:            clock,
		Location:         time.UTC,
		MaxNumberRetries: 1,
	})

	admin, err := f.store.Repositories().Users.GetByID(context.Background(), f.adminID)
	require.NoError(t, err)
	actor := domain.NewActor(*admin, []string{f.project.ID}, nil)

	const n = 12
	got := make([]string, n)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			defect, err := defects.Create(ctx, actor, service.DefectCreateInput{
				ProjectID:  f.project.ID,
				CategoryID: f.categoryID,
				Title:      fmt.Sprintf("defect %d", i),
			})
			if err != nil {
				return err
			}
			got[i] = defect.Number
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sort.Strings(got)
	want := make([]string, n)
	for i := range want {
		want[i] = fmt.Sprintf("CON-2026-%04d", i+1)
	}
	assert.Equal(t, want, got)
}

func numbers(items []domain.Defect) []string {
	var out []string
	for _, d := range items {
		out = append(out, d.Number)
	}
	sort.Strings(out)
	return out
}

func strPtr(v string) *string { return &v }
