package resolve_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/crewdex/crewdex/internal/entity"
	"github.com/crewdex/crewdex/internal/normalize"
	"github.com/crewdex/crewdex/internal/resolve"
	"github.com/crewdex/crewdex/internal/score"
)

func newResolver(t *testing.T, store entity.Store, opts ...resolve.Option) *resolve.Resolver {
	t.Helper()
	r, err := resolve.New(store, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func mustCreate(t *testing.T, store entity.Store, name string, kind entity.Kind, attrs map[string]string) *entity.CanonicalEntity {
	t.Helper()
	n := normalize.New(nil)
	e, err := store.Create(context.Background(), name, n.Normalize(name), kind, attrs)
	if err != nil {
		t.Fatalf("Create(%q) error = %v", name, err)
	}
	return e
}

func TestResolve_EmptyInput(t *testing.T) {
	t.Parallel()
	r := newResolver(t, entity.NewMemStore())

	for _, raw := range []string{"", "   ", "..,!?"} {
		got, err := r.Resolve(context.Background(), resolve.Candidate{RawText: raw}, entity.KindPerson)
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", raw, err)
		}
		if got.Outcome != resolve.OutcomeNoMatch {
			t.Errorf("Resolve(%q) outcome = %q, want no_match", raw, got.Outcome)
		}
	}
}

func TestResolve_AliasFastPath(t *testing.T) {
	t.Parallel()
	store := entity.NewMemStore()
	dave := mustCreate(t, store, "Dave Smith", entity.KindPerson, nil)
	r := newResolver(t, store)

	got, err := r.Resolve(context.Background(), resolve.Candidate{RawText: "Dave Smith.", TranscriptID: "rep-1"}, entity.KindPerson)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Outcome != resolve.OutcomeMatched {
		t.Fatalf("outcome = %q, want matched", got.Outcome)
	}
	if got.EntityID != dave.ID {
		t.Errorf("EntityID = %q, want %q", got.EntityID, dave.ID)
	}
	if got.Confidence != 1.0 {
		t.Errorf("Confidence = %g, want 1.0 for alias hit", got.Confidence)
	}

	// The accepted resolution bumped the occurrence count and left history.
	after, err := store.Get(context.Background(), dave.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if after.OccurrenceCount != 2 {
		t.Errorf("OccurrenceCount = %d, want 2", after.OccurrenceCount)
	}
	mentions, err := store.Mentions(context.Background(), dave.ID)
	if err != nil {
		t.Fatalf("Mentions() error = %v", err)
	}
	if len(mentions) != 1 {
		t.Fatalf("mention count = %d, want 1", len(mentions))
	}
	if mentions[0].RawText != "Dave Smith." || mentions[0].TranscriptID != "rep-1" {
		t.Errorf("mention = %+v, want raw text and transcript preserved", mentions[0])
	}
}

func TestResolve_FuzzyMatchLearnsAlias(t *testing.T) {
	t.Parallel()
	store := entity.NewMemStore()
	dave := mustCreate(t, store, "Dave Smith", entity.KindPerson, nil)
	r := newResolver(t, store)

	// Transcription typo: one character dropped.
	got, err := r.Resolve(context.Background(), resolve.Candidate{RawText: "Dave Smth"}, entity.KindPerson)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Outcome != resolve.OutcomeMatched {
		t.Fatalf("outcome = %q, want matched", got.Outcome)
	}
	if got.EntityID != dave.ID {
		t.Errorf("EntityID = %q, want %q", got.EntityID, dave.ID)
	}
	if got.Confidence >= 1.0 || got.Confidence < 0.8 {
		t.Errorf("Confidence = %g, want fuzzy score in [0.8, 1.0)", got.Confidence)
	}

	// The typo is now a registered alias, so the next occurrence takes the
	// exact-index path at full confidence.
	again, err := r.Resolve(context.Background(), resolve.Candidate{RawText: "Dave Smth"}, entity.KindPerson)
	if err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}
	if again.Confidence != 1.0 {
		t.Errorf("second Confidence = %g, want 1.0 via learned alias", again.Confidence)
	}
	if again.EntityID != dave.ID {
		t.Errorf("second EntityID = %q, want %q", again.EntityID, dave.ID)
	}
}

func TestResolve_PartialName(t *testing.T) {
	t.Parallel()
	store := entity.NewMemStore()
	scott := mustCreate(t, store, "Scott Russell", entity.KindPerson, nil)
	r := newResolver(t, store)

	got, err := r.Resolve(context.Background(), resolve.Candidate{RawText: "Russell"}, entity.KindPerson)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Outcome != resolve.OutcomeMatched {
		t.Fatalf("outcome = %q, want matched", got.Outcome)
	}
	if got.EntityID != scott.ID {
		t.Errorf("EntityID = %q, want %q", got.EntityID, scott.ID)
	}
}

func TestResolve_Ambiguous(t *testing.T) {
	t.Parallel()
	store := entity.NewMemStore()
	a := mustCreate(t, store, "Scott Russell", entity.KindPerson, nil)
	b := mustCreate(t, store, "Russell Maguire", entity.KindPerson, nil)
	r := newResolver(t, store)

	got, err := r.Resolve(context.Background(), resolve.Candidate{RawText: "Russell"}, entity.KindPerson)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Outcome != resolve.OutcomeAmbiguous {
		t.Fatalf("outcome = %q, want ambiguous", got.Outcome)
	}
	if len(got.CandidateIDs) != 2 {
		t.Fatalf("CandidateIDs = %v, want both contenders", got.CandidateIDs)
	}
	ids := map[string]bool{got.CandidateIDs[0]: true, got.CandidateIDs[1]: true}
	if !ids[a.ID] || !ids[b.ID] {
		t.Errorf("CandidateIDs = %v, want %q and %q", got.CandidateIDs, a.ID, b.ID)
	}

	// Ambiguous outcomes leave the store untouched.
	for _, e := range []*entity.CanonicalEntity{a, b} {
		after, err := store.Get(context.Background(), e.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if after.OccurrenceCount != e.OccurrenceCount {
			t.Errorf("OccurrenceCount changed on ambiguous outcome for %q", e.DisplayName)
		}
	}
}

func TestResolve_AmbiguousIsDeterministic(t *testing.T) {
	t.Parallel()
	store := entity.NewMemStore()
	mustCreate(t, store, "Scott Russell", entity.KindPerson, nil)
	mustCreate(t, store, "Russell Maguire", entity.KindPerson, nil)
	r := newResolver(t, store)

	first, err := r.Resolve(context.Background(), resolve.Candidate{RawText: "Russell"}, entity.KindPerson)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	second, err := r.Resolve(context.Background(), resolve.Candidate{RawText: "Russell"}, entity.KindPerson)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if first.Outcome != second.Outcome || len(first.CandidateIDs) != len(second.CandidateIDs) {
		t.Fatalf("repeated resolve differs: %+v vs %+v", first, second)
	}
	for i := range first.CandidateIDs {
		if first.CandidateIDs[i] != second.CandidateIDs[i] {
			t.Errorf("candidate order differs at %d: %q vs %q", i, first.CandidateIDs[i], second.CandidateIDs[i])
		}
	}
}

func TestResolve_NoMatch(t *testing.T) {
	t.Parallel()
	store := entity.NewMemStore()
	mustCreate(t, store, "Dave Smith", entity.KindPerson, nil)
	r := newResolver(t, store)

	got, err := r.Resolve(context.Background(), resolve.Candidate{RawText: "Henrietta Okonkwo"}, entity.KindPerson)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Outcome != resolve.OutcomeNoMatch {
		t.Errorf("outcome = %q, want no_match", got.Outcome)
	}
}

func TestResolve_KindScoping(t *testing.T) {
	t.Parallel()
	store := entity.NewMemStore()
	mustCreate(t, store, "Russell Crane Services", entity.KindVendor, nil)
	r := newResolver(t, store)

	// A person lookup must not fuzzy-match a vendor.
	got, err := r.Resolve(context.Background(), resolve.Candidate{RawText: "Russel Crane Service"}, entity.KindPerson)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Outcome != resolve.OutcomeNoMatch {
		t.Errorf("outcome = %q, want no_match for cross-kind candidate", got.Outcome)
	}
}

// inconsistentStore simulates external corruption: the alias index knows an
// entity the store no longer has.
type inconsistentStore struct {
	*entity.MemStore
}

func (s *inconsistentStore) LookupAlias(ctx context.Context, alias string) (string, error) {
	return "ghost-entity", nil
}

func TestResolve_StoreInconsistency(t *testing.T) {
	t.Parallel()
	r := newResolver(t, &inconsistentStore{entity.NewMemStore()})

	_, err := r.Resolve(context.Background(), resolve.Candidate{RawText: "Dave Smith"}, entity.KindPerson)
	if !errors.Is(err, resolve.ErrStoreInconsistency) {
		t.Errorf("Resolve() error = %v, want ErrStoreInconsistency", err)
	}
}

// conflictingStore forces every alias registration into a conflict, standing
// in for a concurrent registration race.
type conflictingStore struct {
	*entity.MemStore
	existingID string
}

func (s *conflictingStore) RegisterAlias(ctx context.Context, entityID, alias string) error {
	return &entity.AliasConflictError{Alias: alias, ExistingID: s.existingID, AttemptedID: entityID}
}

func TestResolve_RegistrationConflictBecomesAmbiguous(t *testing.T) {
	t.Parallel()
	mem := entity.NewMemStore()
	dave := mustCreate(t, mem, "Dave Smith", entity.KindPerson, nil)
	store := &conflictingStore{MemStore: mem, existingID: "rival-id"}
	r := newResolver(t, store)

	got, err := r.Resolve(context.Background(), resolve.Candidate{RawText: "Dave Smth"}, entity.KindPerson)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Outcome != resolve.OutcomeAmbiguous {
		t.Fatalf("outcome = %q, want ambiguous after registration conflict", got.Outcome)
	}
	ids := map[string]bool{}
	for _, id := range got.CandidateIDs {
		ids[id] = true
	}
	if !ids["rival-id"] || !ids[dave.ID] {
		t.Errorf("CandidateIDs = %v, want both entities involved in the conflict", got.CandidateIDs)
	}
}

func TestCreate(t *testing.T) {
	t.Parallel()
	store := entity.NewMemStore()
	r := newResolver(t, store)

	got, err := r.Create(context.Background(), resolve.Candidate{RawText: "O'Brien Concrete", TranscriptID: "rep-1"}, entity.KindVendor, map[string]string{"trade": "concrete"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got.Outcome != resolve.OutcomeMatched || got.Confidence != 1.0 {
		t.Fatalf("Create() result = %+v, want Matched(1.0)", got)
	}

	created, err := store.Get(context.Background(), got.EntityID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if created.DisplayName != "O'Brien Concrete" {
		t.Errorf("DisplayName = %q, want original casing preserved", created.DisplayName)
	}
	if !created.HasAlias("o'brien concrete") {
		t.Errorf("Aliases = %v, want normalized grounding alias", created.Aliases)
	}
	if created.OccurrenceCount != 1 {
		t.Errorf("OccurrenceCount = %d, want 1", created.OccurrenceCount)
	}

	mentions, err := store.Mentions(context.Background(), got.EntityID)
	if err != nil {
		t.Fatalf("Mentions() error = %v", err)
	}
	if len(mentions) != 1 {
		t.Errorf("mention count = %d, want 1", len(mentions))
	}
}

func TestCreate_EmptyNormalization(t *testing.T) {
	t.Parallel()
	r := newResolver(t, entity.NewMemStore())

	_, err := r.Create(context.Background(), resolve.Candidate{RawText: "..."}, entity.KindPerson, nil)
	if !errors.Is(err, resolve.ErrUnresolvableText) {
		t.Errorf("Create() error = %v, want ErrUnresolvableText", err)
	}
}

func TestCreate_ConcurrentRaceYieldsSingleEntity(t *testing.T) {
	t.Parallel()
	store := entity.NewMemStore()
	r := newResolver(t, store)

	const workers = 16
	results := make([]resolve.Result, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Create(context.Background(), resolve.Candidate{RawText: "Dave Smith"}, entity.KindPerson, nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: Create() error = %v", i, err)
		}
	}

	// Every racer must have converged on the same entity.
	winner := results[0].EntityID
	for i, res := range results {
		if res.Outcome != resolve.OutcomeMatched {
			t.Errorf("worker %d outcome = %q, want matched", i, res.Outcome)
		}
		if res.EntityID != winner {
			t.Errorf("worker %d EntityID = %q, want %q", i, res.EntityID, winner)
		}
	}

	people, err := store.List(context.Background(), entity.KindPerson)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(people) != 1 {
		t.Fatalf("entity count = %d, want exactly 1 after the race", len(people))
	}
	if people[0].OccurrenceCount != workers {
		t.Errorf("OccurrenceCount = %d, want %d (one per racer)", people[0].OccurrenceCount, workers)
	}

	mentions, err := store.Mentions(context.Background(), winner)
	if err != nil {
		t.Fatalf("Mentions() error = %v", err)
	}
	if len(mentions) != workers {
		t.Errorf("mention count = %d, want %d", len(mentions), workers)
	}
}

func TestResolve_AbbreviationExpansion(t *testing.T) {
	t.Parallel()
	store := entity.NewMemStore()
	n := normalize.New(map[string]string{"abc": "abc supply company"})
	e, err := store.Create(context.Background(), "ABC Supply Company", n.Normalize("ABC Supply Company"), entity.KindVendor, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	r := newResolver(t, store, resolve.WithNormalizer(n))

	got, err := r.Resolve(context.Background(), resolve.Candidate{RawText: "ABC"}, entity.KindVendor)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Outcome != resolve.OutcomeMatched || got.EntityID != e.ID {
		t.Errorf("result = %+v, want exact match via expansion", got)
	}
	if got.Confidence != 1.0 {
		t.Errorf("Confidence = %g, want 1.0 — expansion hits the alias index", got.Confidence)
	}
}

func TestTieBreak_Hints(t *testing.T) {
	t.Parallel()
	store := entity.NewMemStore()
	a := mustCreate(t, store, "Scott Russell", entity.KindPerson, map[string]string{"site": "Northside Tower"})
	mustCreate(t, store, "Russell Maguire", entity.KindPerson, map[string]string{"site": "Harbor Works"})
	r := newResolver(t, store)

	c := resolve.Candidate{RawText: "Russell", ContextHints: []string{"northside"}}
	ambiguous, err := r.Resolve(context.Background(), c, entity.KindPerson)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ambiguous.Outcome != resolve.OutcomeAmbiguous {
		t.Fatalf("outcome = %q, want ambiguous", ambiguous.Outcome)
	}

	forced, ok, err := r.TieBreak(context.Background(), c, entity.KindPerson, ambiguous)
	if err != nil {
		t.Fatalf("TieBreak() error = %v", err)
	}
	if !ok {
		t.Fatal("TieBreak() should force a decision on a unique hint match")
	}
	if forced.EntityID != a.ID {
		t.Errorf("forced EntityID = %q, want %q (hint agreement)", forced.EntityID, a.ID)
	}
}

func TestTieBreak_OccurrenceCount(t *testing.T) {
	t.Parallel()
	store := entity.NewMemStore()
	a := mustCreate(t, store, "Scott Russell", entity.KindPerson, nil)
	mustCreate(t, store, "Russell Maguire", entity.KindPerson, nil)
	// Make a the frequent one.
	for i := 0; i < 3; i++ {
		if err := store.Touch(context.Background(), a.ID, time.Now()); err != nil {
			t.Fatalf("Touch() error = %v", err)
		}
	}
	r := newResolver(t, store)

	c := resolve.Candidate{RawText: "Russell"}
	ambiguous, err := r.Resolve(context.Background(), c, entity.KindPerson)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	forced, ok, err := r.TieBreak(context.Background(), c, entity.KindPerson, ambiguous)
	if err != nil {
		t.Fatalf("TieBreak() error = %v", err)
	}
	if !ok {
		t.Fatal("TieBreak() should force on occurrence count")
	}
	if forced.EntityID != a.ID {
		t.Errorf("forced EntityID = %q, want the more frequent %q", forced.EntityID, a.ID)
	}
}

func TestTieBreak_Recency(t *testing.T) {
	t.Parallel()
	store := entity.NewMemStore()
	a := mustCreate(t, store, "Scott Russell", entity.KindPerson, nil)
	b := mustCreate(t, store, "Russell Maguire", entity.KindPerson, nil)
	// Equal counts, b seen more recently.
	if err := store.Touch(context.Background(), a.ID, time.Now().Add(-24*time.Hour)); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	if err := store.Touch(context.Background(), b.ID, time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	r := newResolver(t, store)

	c := resolve.Candidate{RawText: "Russell"}
	ambiguous, err := r.Resolve(context.Background(), c, entity.KindPerson)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	forced, ok, err := r.TieBreak(context.Background(), c, entity.KindPerson, ambiguous)
	if err != nil {
		t.Fatalf("TieBreak() error = %v", err)
	}
	if !ok {
		t.Fatal("TieBreak() should force on recency")
	}
	if forced.EntityID != b.ID {
		t.Errorf("forced EntityID = %q, want the more recent %q", forced.EntityID, b.ID)
	}
}

func TestTieBreak_StillTiedStaysManual(t *testing.T) {
	t.Parallel()
	store := entity.NewMemStore()
	a := mustCreate(t, store, "Scott Russell", entity.KindPerson, nil)
	b := mustCreate(t, store, "Russell Maguire", entity.KindPerson, nil)
	// Force identical recency so every criterion ties.
	seen := time.Now().Add(time.Hour)
	for _, id := range []string{a.ID, b.ID} {
		if err := store.Touch(context.Background(), id, seen); err != nil {
			t.Fatalf("Touch() error = %v", err)
		}
	}
	r := newResolver(t, store)

	c := resolve.Candidate{RawText: "Russell"}
	ambiguous, err := r.Resolve(context.Background(), c, entity.KindPerson)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	got, ok, err := r.TieBreak(context.Background(), c, entity.KindPerson, ambiguous)
	if err != nil {
		t.Fatalf("TieBreak() error = %v", err)
	}
	if ok {
		t.Error("TieBreak() must not force a full tie")
	}
	if got.Outcome != resolve.OutcomeAmbiguous {
		t.Errorf("outcome = %q, want the ambiguous result unchanged", got.Outcome)
	}
}

func TestTieBreak_NonAmbiguousPassesThrough(t *testing.T) {
	t.Parallel()
	r := newResolver(t, entity.NewMemStore())

	in := resolve.Result{Outcome: resolve.OutcomeNoMatch}
	got, ok, err := r.TieBreak(context.Background(), resolve.Candidate{}, entity.KindPerson, in)
	if err != nil {
		t.Fatalf("TieBreak() error = %v", err)
	}
	if ok || got.Outcome != resolve.OutcomeNoMatch {
		t.Errorf("TieBreak() = (%+v, %v), want pass-through", got, ok)
	}
}

func TestNew_OptionValidation(t *testing.T) {
	t.Parallel()

	if _, err := resolve.New(nil); err == nil {
		t.Error("New(nil store) should fail")
	}
	if _, err := resolve.New(entity.NewMemStore(), resolve.WithMargin(-0.1)); err == nil {
		t.Error("WithMargin(-0.1) should fail")
	}
	if _, err := resolve.New(entity.NewMemStore(), resolve.WithScorer(nil)); err == nil {
		t.Error("WithScorer(nil) should fail")
	}
	if _, err := resolve.New(entity.NewMemStore(), resolve.WithNormalizer(nil)); err == nil {
		t.Error("WithNormalizer(nil) should fail")
	}
}

func TestRegisterAlias(t *testing.T) {
	t.Parallel()
	store := entity.NewMemStore()
	r := newResolver(t, store)
	dave := mustCreate(t, store, "Dave Smith", entity.KindPerson, nil)
	maria := mustCreate(t, store, "Maria Lopez", entity.KindPerson, nil)

	if err := r.RegisterAlias(context.Background(), dave.ID, "Davey!"); err != nil {
		t.Fatalf("RegisterAlias error = %v", err)
	}

	// The alias is stored normalized, so Resolve takes the fast path.
	res, err := r.Resolve(context.Background(), resolve.Candidate{RawText: "davey"}, entity.KindPerson)
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}
	if res.Outcome != resolve.OutcomeMatched || res.EntityID != dave.ID {
		t.Fatalf("Resolve = %+v, want match on %s", res, dave.ID)
	}

	// Re-registering the same alias on the same entity is idempotent.
	if err := r.RegisterAlias(context.Background(), dave.ID, "davey"); err != nil {
		t.Fatalf("idempotent RegisterAlias error = %v", err)
	}

	// Binding it to another entity surfaces the conflict.
	err = r.RegisterAlias(context.Background(), maria.ID, "davey")
	var conflict *entity.AliasConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("error = %v, want AliasConflictError", err)
	}
	if conflict.ExistingID != dave.ID {
		t.Errorf("ExistingID = %q, want %q", conflict.ExistingID, dave.ID)
	}

	if err := r.RegisterAlias(context.Background(), dave.ID, "..."); err == nil {
		t.Error("expected error for alias that normalizes to nothing")
	}
}

func TestResolve_ThresholdMonotonicity(t *testing.T) {
	t.Parallel()

	// "Dave Smth" against a stored "Dave Smith" scores below certainty, so
	// there is a threshold above which it stops matching. Raising the
	// threshold must never turn a no-match back into a match. Each
	// iteration uses a fresh store so earlier matches cannot leak learned
	// aliases into later ones.
	thresholds := []float64{0.5, 0.7, 0.85, 0.95, 0.99}
	matched := make([]bool, len(thresholds))

	for i, th := range thresholds {
		store := entity.NewMemStore()
		mustCreate(t, store, "Dave Smith", entity.KindPerson, nil)
		scorer, err := score.New(score.WithThreshold(th))
		if err != nil {
			t.Fatalf("score.New(%.2f) error = %v", th, err)
		}
		r := newResolver(t, store, resolve.WithScorer(scorer))

		got, err := r.Resolve(context.Background(), resolve.Candidate{RawText: "Dave Smth"}, entity.KindPerson)
		if err != nil {
			t.Fatalf("Resolve() at threshold %.2f error = %v", th, err)
		}
		matched[i] = got.Outcome == resolve.OutcomeMatched
	}

	if !matched[0] {
		t.Fatalf("threshold %.2f: want matched as the baseline", thresholds[0])
	}
	if matched[len(matched)-1] {
		t.Fatalf("threshold %.2f: want no_match at the strictest threshold", thresholds[len(thresholds)-1])
	}
	for i := 1; i < len(matched); i++ {
		if matched[i] && !matched[i-1] {
			t.Errorf("raising threshold %.2f -> %.2f turned no_match into matched", thresholds[i-1], thresholds[i])
		}
	}
}

func TestResolve_AliasHitWrongKind(t *testing.T) {
	t.Parallel()
	store := entity.NewMemStore()
	person := mustCreate(t, store, "Sierra", entity.KindPerson, nil)
	r := newResolver(t, store)

	// A person alias must not satisfy a vendor resolution.
	got, err := r.Resolve(context.Background(), resolve.Candidate{RawText: "Sierra"}, entity.KindVendor)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Outcome != resolve.OutcomeNoMatch {
		t.Fatalf("outcome = %q, want no_match when the alias holder is a person", got.Outcome)
	}
	after, err := store.Get(context.Background(), person.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if after.OccurrenceCount != 1 {
		t.Errorf("holder OccurrenceCount = %d, want untouched", after.OccurrenceCount)
	}

	// With a vendor in range the mention scores within its own kind; the
	// alias collision with the person surfaces as ambiguity, never a merge.
	vendor := mustCreate(t, store, "Sierra Supply", entity.KindVendor, nil)
	got, err = r.Resolve(context.Background(), resolve.Candidate{RawText: "Sierra"}, entity.KindVendor)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Outcome != resolve.OutcomeAmbiguous {
		t.Fatalf("outcome = %q, want ambiguous for cross-kind alias collision", got.Outcome)
	}
	ids := map[string]bool{}
	for _, id := range got.CandidateIDs {
		ids[id] = true
	}
	if !ids[person.ID] || !ids[vendor.ID] {
		t.Errorf("CandidateIDs = %v, want both the holder and the scored winner", got.CandidateIDs)
	}
}

func TestCreate_CrossKindAliasConflict(t *testing.T) {
	t.Parallel()
	store := entity.NewMemStore()
	person := mustCreate(t, store, "Sierra", entity.KindPerson, nil)
	r := newResolver(t, store)

	_, err := r.Create(context.Background(), resolve.Candidate{RawText: "Sierra"}, entity.KindVendor, nil)
	var conflict *entity.AliasConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Create() error = %v, want AliasConflictError", err)
	}
	if conflict.ExistingID != person.ID {
		t.Errorf("ExistingID = %q, want %q", conflict.ExistingID, person.ID)
	}

	// The person was neither merged into nor touched.
	after, err := store.Get(context.Background(), person.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if after.OccurrenceCount != 1 {
		t.Errorf("holder OccurrenceCount = %d, want untouched", after.OccurrenceCount)
	}
	people, err := store.List(context.Background(), entity.KindVendor)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(people) != 0 {
		t.Errorf("vendor count = %d, want no vendor created", len(people))
	}
}
