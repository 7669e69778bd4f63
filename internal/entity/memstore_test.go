package entity_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/crewdex/crewdex/internal/entity"
)

func newEntity(t *testing.T, s entity.Store, name, alias string, kind entity.Kind) *entity.CanonicalEntity {
	t.Helper()
	e, err := s.Create(context.Background(), name, alias, kind, nil)
	if err != nil {
		t.Fatalf("Create(%q): %v", name, err)
	}
	return e
}

func TestMemStore_CreateAndGet(t *testing.T) {
	t.Parallel()
	s := entity.NewMemStore()
	ctx := context.Background()

	created := newEntity(t, s, "Owen Glassburn", "owen glassburn", entity.KindPerson)
	if created.ID == "" {
		t.Fatal("Create returned empty ID")
	}
	if created.OccurrenceCount != 1 {
		t.Errorf("new entity OccurrenceCount = %d, want 1", created.OccurrenceCount)
	}
	if created.FirstSeen.IsZero() || !created.FirstSeen.Equal(created.LastSeen) {
		t.Errorf("new entity seen window: first=%v last=%v", created.FirstSeen, created.LastSeen)
	}

	got, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DisplayName != "Owen Glassburn" {
		t.Errorf("DisplayName = %q", got.DisplayName)
	}
	if !got.HasAlias("owen glassburn") {
		t.Errorf("created entity missing its grounding alias: %v", got.Aliases)
	}

	if _, err := s.Get(ctx, "nonexistent"); !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("Get(nonexistent) = %v, want ErrNotFound", err)
	}
}

func TestMemStore_CreateRejectsInvalidInput(t *testing.T) {
	t.Parallel()
	s := entity.NewMemStore()
	ctx := context.Background()

	if _, err := s.Create(ctx, "", "x", entity.KindPerson, nil); err == nil {
		t.Error("empty display name accepted")
	}
	if _, err := s.Create(ctx, "X", "", entity.KindPerson, nil); err == nil {
		t.Error("empty first alias accepted")
	}
	if _, err := s.Create(ctx, "X", "x", entity.Kind("robot"), nil); err == nil {
		t.Error("invalid kind accepted")
	}
}

func TestMemStore_CreateAliasConflict(t *testing.T) {
	t.Parallel()
	s := entity.NewMemStore()
	ctx := context.Background()

	first := newEntity(t, s, "ABC Supply", "abc supply", entity.KindVendor)

	_, err := s.Create(ctx, "ABC supply co", "abc supply", entity.KindVendor, nil)
	var conflict *entity.AliasConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("duplicate create: got %v, want *AliasConflictError", err)
	}
	if conflict.ExistingID != first.ID {
		t.Errorf("conflict names entity %s, want %s", conflict.ExistingID, first.ID)
	}
	if conflict.Alias != "abc supply" {
		t.Errorf("conflict alias = %q", conflict.Alias)
	}
}

func TestMemStore_RegisterAliasIdempotent(t *testing.T) {
	t.Parallel()
	s := entity.NewMemStore()
	ctx := context.Background()

	e := newEntity(t, s, "Scott Russell", "scott russell", entity.KindPerson)

	for range 3 {
		if err := s.RegisterAlias(ctx, e.ID, "russell"); err != nil {
			t.Fatalf("RegisterAlias: %v", err)
		}
	}

	got, err := s.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Aliases) != 2 {
		t.Errorf("aliases after repeated registration = %v, want exactly 2", got.Aliases)
	}
}

func TestMemStore_RegisterAliasConflict(t *testing.T) {
	t.Parallel()
	s := entity.NewMemStore()
	ctx := context.Background()

	a := newEntity(t, s, "Brian Smith", "brian smith", entity.KindPerson)
	b := newEntity(t, s, "Bryan Cole", "bryan cole", entity.KindPerson)

	if err := s.RegisterAlias(ctx, a.ID, "bryan"); err != nil {
		t.Fatalf("first registration: %v", err)
	}

	err := s.RegisterAlias(ctx, b.ID, "bryan")
	var conflict *entity.AliasConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("conflicting registration: got %v, want *AliasConflictError", err)
	}
	if conflict.ExistingID != a.ID || conflict.AttemptedID != b.ID {
		t.Errorf("conflict = %+v, want existing=%s attempted=%s", conflict, a.ID, b.ID)
	}

	if err := s.RegisterAlias(ctx, "missing", "x"); !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("RegisterAlias on missing entity = %v, want ErrNotFound", err)
	}
}

func TestMemStore_LookupAlias(t *testing.T) {
	t.Parallel()
	s := entity.NewMemStore()
	ctx := context.Background()

	e := newEntity(t, s, "Triad Rentals", "triad rentals", entity.KindVendor)

	id, err := s.LookupAlias(ctx, "triad rentals")
	if err != nil {
		t.Fatalf("LookupAlias: %v", err)
	}
	if id != e.ID {
		t.Errorf("LookupAlias = %s, want %s", id, e.ID)
	}

	if _, err := s.LookupAlias(ctx, "unknown"); !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("LookupAlias(unknown) = %v, want ErrNotFound", err)
	}
}

func TestMemStore_TouchMonotonic(t *testing.T) {
	t.Parallel()
	s := entity.NewMemStore()
	ctx := context.Background()

	e := newEntity(t, s, "Pete Diaz", "pete diaz", entity.KindPerson)

	later := time.Now().Add(time.Hour)
	if err := s.Touch(ctx, e.ID, later); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	// An older sighting must not move LastSeen backwards but still counts.
	if err := s.Touch(ctx, e.ID, later.Add(-2*time.Hour)); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	got, err := s.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.LastSeen.Equal(later) {
		t.Errorf("LastSeen = %v, want %v", got.LastSeen, later)
	}
	if got.OccurrenceCount != 3 {
		t.Errorf("OccurrenceCount = %d, want 3 (create + two touches)", got.OccurrenceCount)
	}

	if err := s.Touch(ctx, "missing", later); !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("Touch(missing) = %v, want ErrNotFound", err)
	}
}

func TestMemStore_ListFiltersByKind(t *testing.T) {
	t.Parallel()
	s := entity.NewMemStore()
	ctx := context.Background()

	newEntity(t, s, "Owen Glassburn", "owen glassburn", entity.KindPerson)
	newEntity(t, s, "ABC Supply", "abc supply", entity.KindVendor)
	newEntity(t, s, "Scott Russell", "scott russell", entity.KindPerson)

	people, err := s.List(ctx, entity.KindPerson)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(people) != 2 {
		t.Errorf("List(person) returned %d entities, want 2", len(people))
	}

	vendors, err := s.List(ctx, entity.KindVendor)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(vendors) != 1 {
		t.Errorf("List(vendor) returned %d entities, want 1", len(vendors))
	}
}

func TestMemStore_ListReturnsSnapshot(t *testing.T) {
	t.Parallel()
	s := entity.NewMemStore()
	ctx := context.Background()

	e := newEntity(t, s, "Owen Glassburn", "owen glassburn", entity.KindPerson)

	listed, err := s.List(ctx, entity.KindPerson)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	listed[0].DisplayName = "mutated"
	listed[0].Aliases[0] = "mutated"

	got, err := s.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DisplayName != "Owen Glassburn" || got.Aliases[0] != "owen glassburn" {
		t.Error("mutating a List result leaked into store state")
	}
}

func TestMemStore_MentionsNewestFirst(t *testing.T) {
	t.Parallel()
	s := entity.NewMemStore()
	ctx := context.Background()

	e := newEntity(t, s, "Owen Glassburn", "owen glassburn", entity.KindPerson)

	base := time.Now()
	for i, raw := range []string{"Owen", "owen glass burner", "Glassburn"} {
		m := entity.Mention{
			ID:       raw,
			EntityID: e.ID,
			RawText:  raw,
			Kind:     entity.KindPerson,
			At:       base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.RecordMention(ctx, m); err != nil {
			t.Fatalf("RecordMention: %v", err)
		}
	}

	got, err := s.Mentions(ctx, e.ID)
	if err != nil {
		t.Fatalf("Mentions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d mentions, want 3", len(got))
	}
	if got[0].RawText != "Glassburn" || got[2].RawText != "Owen" {
		t.Errorf("mentions not newest first: %v, %v, %v", got[0].RawText, got[1].RawText, got[2].RawText)
	}

	if err := s.RecordMention(ctx, entity.Mention{EntityID: "missing", RawText: "x"}); !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("RecordMention(missing) = %v, want ErrNotFound", err)
	}
}

func TestMemStore_ConcurrentCreateSingleWinner(t *testing.T) {
	t.Parallel()
	s := entity.NewMemStore()
	ctx := context.Background()

	const goroutines = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	var created, conflicted int

	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Create(ctx, "Triad", "triad", entity.KindVendor, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			default:
				var conflict *entity.AliasConflictError
				if errors.As(err, &conflict) {
					conflicted++
				} else {
					t.Errorf("unexpected error: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("%d creations succeeded, want exactly 1", created)
	}
	if conflicted != goroutines-1 {
		t.Errorf("%d conflicts, want %d", conflicted, goroutines-1)
	}
}
