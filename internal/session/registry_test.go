package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"classwatch/internal/database/memory"
	"classwatch/internal/database/storetest"
	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

func validSettings() types.SessionSettings {
	return types.SessionSettings{
		ModeType:       types.ModeInternet,
		ShareType:      types.ShareFullScreen,
		ExpirationType: types.ExpirationNone,
	}
}

// sequence returns the given codes in order, then fails the test
func sequence(t *testing.T, codes ...string) CodeGenerator {
	i := 0
	return func() (string, error) {
		if i >= len(codes) {
			t.Fatal("code generator exhausted")
		}
		code := codes[i]
		i++
		return code, nil
	}
}

// alwaysDuplicate wraps a store so every insert collides
type alwaysDuplicate struct {
	interfaces.Store
	inserts int
}

func (s *alwaysDuplicate) InsertSessionIfCodeUnique(ctx context.Context, session *types.Session) error {
	s.inserts++
	return interfaces.ErrDuplicateCode
}

type failingStore struct {
	interfaces.Store
}

func (s *failingStore) InsertSessionIfCodeUnique(ctx context.Context, session *types.Session) error {
	return errors.New("connection refused")
}

func (s *failingStore) FindSessionByCode(ctx context.Context, code string) (*types.Session, error) {
	return nil, errors.New("connection refused")
}

func TestRegistry_CreateRetriesOnCollision(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	for _, code := range []string{"TAKEN001", "TAKEN002"} {
		if err := store.InsertSessionIfCodeUnique(ctx, storetest.NewSession(code, "someone", time.Now())); err != nil {
			t.Fatalf("Failed to seed store: %v", err)
		}
	}

	registry := NewRegistry(store, WithCodeGenerator(sequence(t, "TAKEN001", "TAKEN002", "FREE0003")))
	session, err := registry.Create(ctx, "lecturer-1", validSettings())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if session.Code != "FREE0003" {
		t.Errorf("Expected code FREE0003, got %s", session.Code)
	}

	stored, err := store.FindSessionByCode(ctx, "FREE0003")
	if err != nil {
		t.Fatalf("Expected third code to be persisted: %v", err)
	}
	if stored.OwnerID != "lecturer-1" || !stored.IsActive {
		t.Errorf("Unexpected stored session %+v", stored)
	}
}

func TestRegistry_CreateExhausted(t *testing.T) {
	store := &alwaysDuplicate{Store: memory.New()}
	registry := NewRegistry(store)

	_, err := registry.Create(context.Background(), "lecturer-1", validSettings())
	if !errors.Is(err, types.ErrCodeGenerationExhausted) {
		t.Fatalf("Expected ErrCodeGenerationExhausted, got %v", err)
	}
	if store.inserts != MaxCodeAttempts {
		t.Errorf("Expected %d attempts, got %d", MaxCodeAttempts, store.inserts)
	}
}

func TestRegistry_CreateStoreFailure(t *testing.T) {
	registry := NewRegistry(&failingStore{Store: memory.New()})
	_, err := registry.Create(context.Background(), "lecturer-1", validSettings())
	if !errors.Is(err, types.ErrStoreFailure) {
		t.Errorf("Expected ErrStoreFailure, got %v", err)
	}
}

func TestRegistry_CreateValidation(t *testing.T) {
	registry := NewRegistry(memory.New())
	ctx := context.Background()

	if _, err := registry.Create(ctx, "", validSettings()); !errors.Is(err, ErrInvalidOwner) {
		t.Errorf("Expected ErrInvalidOwner, got %v", err)
	}

	bad := validSettings()
	bad.ExpirationType = types.ExpirationDurationMinutes
	if _, err := registry.Create(ctx, "lecturer-1", bad); !errors.Is(err, types.ErrInvalidSettings) {
		t.Errorf("Expected ErrInvalidSettings, got %v", err)
	}
}

func TestRegistry_CreateKeepsOneExpirationField(t *testing.T) {
	registry := NewRegistry(memory.New())
	settings := validSettings()
	date := time.Now().Add(time.Hour)
	settings.ExpirationType = types.ExpirationDurationMinutes
	settings.ExpirationMinutes = intPtr(20)
	settings.ExpirationDate = &date

	session, err := registry.Create(context.Background(), "lecturer-1", settings)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if session.ExpirationDate != nil || session.ExpirationMinutes == nil {
		t.Errorf("Expected only expirationMinutes set, got %+v", session)
	}
}

func TestRegistry_FindByCode(t *testing.T) {
	registry := NewRegistry(memory.New(), WithCodeGenerator(sequence(t, "FINDME01")))
	ctx := context.Background()
	if _, err := registry.Create(ctx, "lecturer-1", validSettings()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	session, err := registry.FindByCode(ctx, " findme01 ")
	if err != nil {
		t.Fatalf("FindByCode failed: %v", err)
	}
	if session.Code != "FINDME01" {
		t.Errorf("Expected FINDME01, got %s", session.Code)
	}

	if _, err := registry.FindByCode(ctx, "NOPE0000"); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
	if _, err := registry.FindByCode(ctx, "bad-code"); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound for malformed code, got %v", err)
	}

	failing := NewRegistry(&failingStore{Store: memory.New()})
	if _, err := failing.FindByCode(ctx, "FINDME01"); !errors.Is(err, types.ErrStoreFailure) {
		t.Errorf("Expected ErrStoreFailure, got %v", err)
	}
}

func TestRegistry_UpdateReplacesSettings(t *testing.T) {
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	registry := NewRegistry(memory.New(),
		WithCodeGenerator(sequence(t, "UPDATE01")),
		WithClock(func() time.Time { return clock }),
	)
	ctx := context.Background()
	settings := validSettings()
	settings.DeviceLimit = intPtr(5)
	if _, err := registry.Create(ctx, "lecturer-1", settings); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	clock = clock.Add(time.Minute)
	replacement := types.SessionSettings{
		ModeType:          types.ModeLAN,
		ShareType:         types.SharePartial,
		ExpirationType:    types.ExpirationDurationMinutes,
		ExpirationMinutes: intPtr(15),
	}
	updated, err := registry.Update(ctx, "UPDATE01", "lecturer-1", replacement)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.ModeType != types.ModeLAN || updated.ShareType != types.SharePartial {
		t.Errorf("Expected lan/partial, got %s/%s", updated.ModeType, updated.ShareType)
	}
	// full replace: omitted device limit clears it
	if updated.DeviceLimit != nil {
		t.Errorf("Expected deviceLimit cleared, got %d", *updated.DeviceLimit)
	}
	if !updated.UpdatedAt.Equal(clock) {
		t.Errorf("Expected updatedAt %v, got %v", clock, updated.UpdatedAt)
	}

	if _, err := registry.Update(ctx, "UPDATE01", "lecturer-2", replacement); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound for another owner, got %v", err)
	}
}

func TestRegistry_Deactivate(t *testing.T) {
	registry := NewRegistry(memory.New(), WithCodeGenerator(sequence(t, "CLOSE001")))
	ctx := context.Background()
	if _, err := registry.Create(ctx, "lecturer-1", validSettings()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := registry.Deactivate(ctx, "CLOSE001", "lecturer-2"); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound for another owner, got %v", err)
	}

	session, err := registry.Deactivate(ctx, "CLOSE001", "lecturer-1")
	if err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}
	if session.IsActive {
		t.Error("Expected session to be inactive")
	}
	if IsJoinable(session, time.Now()) {
		t.Error("Deactivated session must not be joinable")
	}

	if _, err := registry.Deactivate(ctx, "CLOSE001", "lecturer-1"); err != nil {
		t.Errorf("Second Deactivate should succeed, got %v", err)
	}
}

func TestRegistry_ListByOwner(t *testing.T) {
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	registry := NewRegistry(memory.New(),
		WithCodeGenerator(sequence(t, "LIST0001", "LIST0002", "LIST0003")),
		WithClock(func() time.Time { return clock }),
	)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		clock = clock.Add(time.Minute)
		if _, err := registry.Create(ctx, "lecturer-1", validSettings()); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	sessions, err := registry.ListByOwner(ctx, "lecturer-1", 2)
	if err != nil {
		t.Fatalf("ListByOwner failed: %v", err)
	}
	if len(sessions) != 2 || sessions[0].Code != "LIST0003" {
		t.Errorf("Expected 2 sessions newest first, got %d", len(sessions))
	}
}
