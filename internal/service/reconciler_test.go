package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"cocina-api/internal/domain"
	"cocina-api/internal/repository"
)

type mockProfileRepo struct {
	mu         sync.Mutex
	byEmail    map[string]domain.UserProfile
	createErr  error
	lookupErr  error
	linkErr    error
	createGate chan struct{}

	creates    int
	links      int
	lookups    int
	extLookups int

	createPanic string
}

func newMockProfileRepo() *mockProfileRepo {
	return &mockProfileRepo{byEmail: make(map[string]domain.UserProfile)}
}

func (m *mockProfileRepo) GetByEmail(_ context.Context, email string) (domain.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.lookupErr != nil {
		return domain.UserProfile{}, m.lookupErr
	}
	profile, ok := m.byEmail[email]
	if !ok {
		return domain.UserProfile{}, pgx.ErrNoRows
	}
	return profile, nil
}

func (m *mockProfileRepo) GetByExternalID(_ context.Context, externalID string) (domain.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extLookups++
	for _, p := range m.byEmail {
		if p.ExternalID == externalID {
			return p, nil
		}
	}
	return domain.UserProfile{}, pgx.ErrNoRows
}

func (m *mockProfileRepo) Create(_ context.Context, profile domain.UserProfile) error {
	if m.createGate != nil {
		<-m.createGate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.createPanic != "" {
		panic(m.createPanic)
	}
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.byEmail[profile.Email]; ok {
		return fmt.Errorf("insert user_profile: %w", repository.ErrDuplicateEmail)
	}
	m.byEmail[profile.Email] = profile
	return nil
}

func (m *mockProfileRepo) LinkExternalID(_ context.Context, id, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links++
	if m.linkErr != nil {
		return m.linkErr
	}
	for email, p := range m.byEmail {
		if p.ID == id {
			p.ExternalID = externalID
			m.byEmail[email] = p
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (m *mockProfileRepo) UpdateContact(_ context.Context, id, name, phone string) (domain.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for email, p := range m.byEmail {
		if p.ID == id {
			p.Name = name
			p.Phone = phone
			m.byEmail[email] = p
			return p, nil
		}
	}
	return domain.UserProfile{}, pgx.ErrNoRows
}

func (m *mockProfileRepo) counts() (creates, links int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates, m.links
}

func TestReconcileCreatesProfileWhenMissing(t *testing.T) {
	repo := newMockProfileRepo()
	rec := NewProfileReconciler(zap.NewNop(), repo, nil)

	res, err := rec.Reconcile(context.Background(), "ext-1", "User@Example.com", "", "Google")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.Created {
		t.Fatalf("expected profile to be created")
	}
	if res.Profile.Email != "user@example.com" {
		t.Fatalf("expected normalized email, got %s", res.Profile.Email)
	}
	if res.Profile.ExternalID != "ext-1" {
		t.Fatalf("expected external id linked on creation, got %q", res.Profile.ExternalID)
	}
	if res.Profile.Name != "Usuario Google" {
		t.Fatalf("expected fallback name, got %q", res.Profile.Name)
	}
	if res.Profile.Phone != "000-000-0000" {
		t.Fatalf("expected placeholder phone, got %q", res.Profile.Phone)
	}
	if res.Profile.Source != "google" {
		t.Fatalf("expected lowercased source, got %q", res.Profile.Source)
	}
}

func TestReconcileIsIdempotentForLinkedProfile(t *testing.T) {
	repo := newMockProfileRepo()
	repo.byEmail["user@example.com"] = domain.UserProfile{
		ID:         "p1",
		ExternalID: "ext-1",
		Email:      "user@example.com",
		Name:       "Ana",
	}
	rec := NewProfileReconciler(zap.NewNop(), repo, nil)

	res, err := rec.Reconcile(context.Background(), "ext-1", "user@example.com", "Ana", "google")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Created {
		t.Fatalf("expected existing profile, not a new one")
	}
	if res.Profile.ID != "p1" {
		t.Fatalf("expected profile p1, got %s", res.Profile.ID)
	}
	creates, links := repo.counts()
	if creates != 0 || links != 0 {
		t.Fatalf("expected no writes, got creates=%d links=%d", creates, links)
	}
}

func TestReconcileLinksUnlinkedProfile(t *testing.T) {
	repo := newMockProfileRepo()
	repo.byEmail["user@example.com"] = domain.UserProfile{
		ID:    "p1",
		Email: "user@example.com",
		Name:  "Ana",
	}
	rec := NewProfileReconciler(zap.NewNop(), repo, nil)

	res, err := rec.Reconcile(context.Background(), "ext-9", "user@example.com", "Ana", "google")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Created {
		t.Fatalf("expected existing profile to be linked, not created")
	}
	if res.Profile.ExternalID != "ext-9" {
		t.Fatalf("expected external id ext-9, got %q", res.Profile.ExternalID)
	}
	creates, links := repo.counts()
	if creates != 0 {
		t.Fatalf("expected no insert, got %d", creates)
	}
	if links != 1 {
		t.Fatalf("expected exactly one link, got %d", links)
	}
}

func TestReconcileShortCircuitsOnLinkedExternalID(t *testing.T) {
	repo := newMockProfileRepo()
	repo.byEmail["user@example.com"] = domain.UserProfile{
		ID:         "p1",
		ExternalID: "ext-1",
		Email:      "user@example.com",
		Name:       "Ana",
	}
	rec := NewProfileReconciler(zap.NewNop(), repo, nil)

	res, err := rec.Reconcile(context.Background(), "ext-1", "user@example.com", "Ana", "google")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Created || res.Profile.ID != "p1" {
		t.Fatalf("expected existing profile p1, got %+v", res)
	}

	repo.mu.Lock()
	lookups, extLookups := repo.lookups, repo.extLookups
	repo.mu.Unlock()
	if extLookups != 1 {
		t.Fatalf("expected one external-id lookup, got %d", extLookups)
	}
	if lookups != 0 {
		t.Fatalf("expected no email lookup on external-id hit, got %d", lookups)
	}
}

func TestReconcileSessionEmailWinsOverExternalIDMatch(t *testing.T) {
	repo := newMockProfileRepo()
	// La identidad externa quedó vinculada a otro email (cambio de email
	// en el proveedor): manda el email de la sesión.
	repo.byEmail["old@example.com"] = domain.UserProfile{
		ID:         "p1",
		ExternalID: "ext-1",
		Email:      "old@example.com",
	}
	rec := NewProfileReconciler(zap.NewNop(), repo, nil)

	res, err := rec.Reconcile(context.Background(), "ext-1", "user@example.com", "Ana", "google")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.Created {
		t.Fatalf("expected a fresh profile for the session email")
	}
	if res.Profile.Email != "user@example.com" {
		t.Fatalf("expected profile for session email, got %s", res.Profile.Email)
	}
}

func TestReconcileAdoptsWinnerOnDuplicateEmail(t *testing.T) {
	repo := newMockProfileRepo()
	rec := NewProfileReconciler(zap.NewNop(), repo, nil)

	// El insert pierde la carrera contra otro proceso: el perfil aparece
	// entre el doble chequeo y el insert.
	winner := domain.UserProfile{ID: "winner", Email: "user@example.com", ExternalID: "ext-w"}
	repo.createErr = fmt.Errorf("insert user_profile: %w", repository.ErrDuplicateEmail)
	repo.createGate = make(chan struct{})
	go func() {
		repo.mu.Lock()
		repo.byEmail["user@example.com"] = winner
		repo.mu.Unlock()
		close(repo.createGate)
	}()

	res, err := rec.Reconcile(context.Background(), "ext-l", "user@example.com", "", "form")
	if err != nil {
		t.Fatalf("expected winner adoption, got %v", err)
	}
	if res.Created {
		t.Fatalf("expected adopted profile to be reported as existing")
	}
	if res.Profile.ID != "winner" {
		t.Fatalf("expected winner profile, got %s", res.Profile.ID)
	}
}

func TestReconcileConcurrentSameEmailSingleInsert(t *testing.T) {
	repo := newMockProfileRepo()
	rec := NewProfileReconciler(zap.NewNop(), repo, nil)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	results := make([]ReconcileResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = rec.Reconcile(context.Background(), "ext-1", "user@example.com", "Ana", "google")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d failed: %v", i, err)
		}
	}
	creates, _ := repo.counts()
	if creates != 1 {
		t.Fatalf("expected exactly one insert, got %d", creates)
	}
	var createdCount int
	for _, res := range results {
		if res.Created {
			createdCount++
		}
		if res.Profile.Email != "user@example.com" {
			t.Fatalf("expected all callers to see the profile, got %+v", res.Profile)
		}
	}
	if createdCount != 1 {
		t.Fatalf("expected exactly one caller to observe creation, got %d", createdCount)
	}
}

func TestReconcileReleasesLockAfterFailure(t *testing.T) {
	repo := newMockProfileRepo()
	rec := NewProfileReconciler(zap.NewNop(), repo, nil)

	repo.createErr = errors.New("disk full")
	if _, err := rec.Reconcile(context.Background(), "ext-1", "user@example.com", "", "form"); err == nil {
		t.Fatalf("expected insert failure")
	}

	repo.createErr = nil
	res, err := rec.Reconcile(context.Background(), "ext-1", "user@example.com", "", "form")
	if err != nil {
		t.Fatalf("expected retry to succeed after failure, got %v", err)
	}
	if !res.Created {
		t.Fatalf("expected retry to create the profile")
	}
}

func TestReconcileReleasesLockAfterPanic(t *testing.T) {
	repo := newMockProfileRepo()
	repo.createPanic = "insert exploded"
	rec := NewProfileReconciler(zap.NewNop(), repo, nil)

	panicked := func() (out bool) {
		defer func() {
			if recover() != nil {
				out = true
			}
		}()
		_, _ = rec.Reconcile(context.Background(), "ext-1", "user@example.com", "", "form")
		return false
	}()
	if !panicked {
		t.Fatalf("expected reconcile to panic")
	}

	repo.mu.Lock()
	repo.createPanic = ""
	repo.mu.Unlock()

	res, err := rec.Reconcile(context.Background(), "ext-1", "user@example.com", "", "form")
	if err != nil {
		t.Fatalf("expected retry to succeed after panic, got %v", err)
	}
	if !res.Created {
		t.Fatalf("expected retry to create the profile")
	}
}

func TestReconcileLockWaitTimesOut(t *testing.T) {
	repo := newMockProfileRepo()
	repo.createGate = make(chan struct{})
	rec := NewProfileReconciler(zap.NewNop(), repo, nil)
	rec.SetWaitBudget(2, 10*time.Millisecond)

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = rec.Reconcile(context.Background(), "ext-1", "user@example.com", "", "form")
	}()
	<-started
	// Dar tiempo a que el titular tome el candado y quede bloqueado en el
	// insert.
	time.Sleep(20 * time.Millisecond)

	_, err := rec.Reconcile(context.Background(), "ext-2", "user@example.com", "", "google")
	if !errors.Is(err, ErrReconcileTimeout) {
		t.Fatalf("expected ErrReconcileTimeout, got %v", err)
	}
	var recErr *ReconciliationError
	if !errors.As(err, &recErr) || recErr.Stage != "lock-wait" {
		t.Fatalf("expected lock-wait stage, got %v", err)
	}

	close(repo.createGate)
}

func TestReconcileWaiterAdoptsHolderResult(t *testing.T) {
	repo := newMockProfileRepo()
	repo.createGate = make(chan struct{})
	rec := NewProfileReconciler(zap.NewNop(), repo, nil)

	holderDone := make(chan ReconcileResult, 1)
	go func() {
		res, err := rec.Reconcile(context.Background(), "ext-1", "user@example.com", "Ana", "form")
		if err != nil {
			t.Errorf("holder failed: %v", err)
		}
		holderDone <- res
	}()
	time.Sleep(20 * time.Millisecond)

	waiterDone := make(chan ReconcileResult, 1)
	go func() {
		res, err := rec.Reconcile(context.Background(), "ext-1", "user@example.com", "Ana", "google")
		if err != nil {
			t.Errorf("waiter failed: %v", err)
		}
		waiterDone <- res
	}()
	time.Sleep(20 * time.Millisecond)

	close(repo.createGate)

	holder := <-holderDone
	waiter := <-waiterDone
	if !holder.Created {
		t.Fatalf("expected holder to create the profile")
	}
	if waiter.Created {
		t.Fatalf("expected waiter to adopt, not create")
	}
	if waiter.Profile.ID != holder.Profile.ID {
		t.Fatalf("expected both callers to see the same profile")
	}
	creates, _ := repo.counts()
	if creates != 1 {
		t.Fatalf("expected exactly one insert, got %d", creates)
	}
}

func TestReconcileLookupErrorPropagates(t *testing.T) {
	repo := newMockProfileRepo()
	repo.lookupErr = errors.New("connection reset")
	rec := NewProfileReconciler(zap.NewNop(), repo, nil)

	_, err := rec.Reconcile(context.Background(), "ext-1", "user@example.com", "", "form")
	var recErr *ReconciliationError
	if !errors.As(err, &recErr) {
		t.Fatalf("expected ReconciliationError, got %v", err)
	}
	if recErr.Stage != "lookup" {
		t.Fatalf("expected lookup stage, got %s", recErr.Stage)
	}
}

func TestReconcileRejectsEmptyEmail(t *testing.T) {
	rec := NewProfileReconciler(zap.NewNop(), newMockProfileRepo(), nil)
	_, err := rec.Reconcile(context.Background(), "ext-1", "   ", "", "form")
	if !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
}
