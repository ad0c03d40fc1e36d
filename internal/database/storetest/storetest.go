// Package storetest holds behavioral checks shared by every interfaces.Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

// Factory returns a fresh, empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) interfaces.Store

// Run executes the whole suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertAndFind", func(t *testing.T) { testInsertAndFind(t, newStore(t)) })
	t.Run("DuplicateCode", func(t *testing.T) { testDuplicateCode(t, newStore(t)) })
	t.Run("UpdateSession", func(t *testing.T) { testUpdateSession(t, newStore(t)) })
	t.Run("ListSessionsByOwner", func(t *testing.T) { testListSessionsByOwner(t, newStore(t)) })
	t.Run("UpsertParticipant", func(t *testing.T) { testUpsertParticipant(t, newStore(t)) })
	t.Run("MarkInactiveOnce", func(t *testing.T) { testMarkInactiveOnce(t, newStore(t)) })
	t.Run("ListActiveNewestFirst", func(t *testing.T) { testListActiveNewestFirst(t, newStore(t)) })
	t.Run("DeactivateAll", func(t *testing.T) { testDeactivateAll(t, newStore(t)) })
	t.Run("HealthCheck", func(t *testing.T) { testHealthCheck(t, newStore(t)) })
}

// NewSession builds a valid active session with the given code
func NewSession(code, ownerID string, createdAt time.Time) *types.Session {
	limit := 2
	return &types.Session{
		ID:             uuid.NewString(),
		Code:           code,
		OwnerID:        ownerID,
		ModeType:       types.ModeInternet,
		ShareType:      types.ShareFullScreen,
		ExpirationType: types.ExpirationNone,
		DeviceLimit:    &limit,
		IsActive:       true,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
}

// NewParticipant builds an active participant row for a connection
func NewParticipant(sessionID, connectionID, name string, connectedAt time.Time) *types.ParticipantRecord {
	return &types.ParticipantRecord{
		ID:           ulid.Make().String(),
		SessionID:    sessionID,
		ConnectionID: connectionID,
		DisplayName:  name,
		IsActive:     true,
		ConnectedAt:  connectedAt,
	}
}

func now() time.Time {
	// second precision survives every backend unchanged
	return time.Now().UTC().Truncate(time.Second)
}

func mustInsert(t *testing.T, store interfaces.Store, s *types.Session) {
	t.Helper()
	if err := store.InsertSessionIfCodeUnique(context.Background(), s); err != nil {
		t.Fatalf("Failed to insert session %s: %v", s.Code, err)
	}
}

func mustUpsert(t *testing.T, store interfaces.Store, p *types.ParticipantRecord) *types.ParticipantRecord {
	t.Helper()
	stored, err := store.UpsertParticipant(context.Background(), p)
	if err != nil {
		t.Fatalf("Failed to upsert participant: %v", err)
	}
	return stored
}

func testInsertAndFind(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	created := now()
	session := NewSession("ABCD1234", "owner-1", created)
	minutes := 45
	session.ExpirationType = types.ExpirationDurationMinutes
	session.ExpirationMinutes = &minutes
	mustInsert(t, store, session)

	byCode, err := store.FindSessionByCode(ctx, "ABCD1234")
	if err != nil {
		t.Fatalf("FindSessionByCode failed: %v", err)
	}
	if byCode.ID != session.ID || byCode.OwnerID != "owner-1" {
		t.Errorf("Expected session %s owned by owner-1, got %+v", session.ID, byCode)
	}
	if byCode.ExpirationMinutes == nil || *byCode.ExpirationMinutes != 45 {
		t.Errorf("Expected expirationMinutes 45, got %v", byCode.ExpirationMinutes)
	}
	if byCode.ExpirationDate != nil {
		t.Errorf("Expected nil expirationDate, got %v", byCode.ExpirationDate)
	}
	if byCode.DeviceLimit == nil || *byCode.DeviceLimit != 2 {
		t.Errorf("Expected deviceLimit 2, got %v", byCode.DeviceLimit)
	}
	if !byCode.CreatedAt.Equal(created) {
		t.Errorf("Expected createdAt %v, got %v", created, byCode.CreatedAt)
	}

	byID, err := store.FindSessionByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("FindSessionByID failed: %v", err)
	}
	if byID.Code != "ABCD1234" {
		t.Errorf("Expected code ABCD1234, got %s", byID.Code)
	}

	if _, err := store.FindSessionByCode(ctx, "ZZZZZZZZ"); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
	if _, err := store.FindSessionByID(ctx, uuid.NewString()); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func testDuplicateCode(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	first := NewSession("DUPL1CAT", "owner-1", now())
	mustInsert(t, store, first)

	// an inactive session still owns its code
	first.IsActive = false
	if err := store.UpdateSession(ctx, first); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}

	second := NewSession("DUPL1CAT", "owner-2", now())
	err := store.InsertSessionIfCodeUnique(ctx, second)
	if !errors.Is(err, interfaces.ErrDuplicateCode) {
		t.Fatalf("Expected ErrDuplicateCode, got %v", err)
	}
	if _, err := store.FindSessionByID(ctx, second.ID); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("Rejected session must not be stored, got %v", err)
	}
}

func testUpdateSession(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	session := NewSession("UPDATE01", "owner-1", now())
	mustInsert(t, store, session)

	date := now().Add(48 * time.Hour)
	session.ModeType = types.ModeLAN
	session.ShareType = types.SharePartial
	session.ExpirationType = types.ExpirationFixedDate
	session.ExpirationDate = &date
	session.DeviceLimit = nil
	session.IsActive = false
	session.UpdatedAt = now().Add(time.Minute)
	if err := store.UpdateSession(ctx, session); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}

	got, err := store.FindSessionByCode(ctx, "UPDATE01")
	if err != nil {
		t.Fatalf("FindSessionByCode failed: %v", err)
	}
	if got.ModeType != types.ModeLAN || got.ShareType != types.SharePartial {
		t.Errorf("Expected lan/partial, got %s/%s", got.ModeType, got.ShareType)
	}
	if got.ExpirationDate == nil || !got.ExpirationDate.Equal(date) {
		t.Errorf("Expected expirationDate %v, got %v", date, got.ExpirationDate)
	}
	if got.DeviceLimit != nil {
		t.Errorf("Expected nil deviceLimit, got %v", *got.DeviceLimit)
	}
	if got.IsActive {
		t.Error("Expected session to be inactive")
	}

	missing := NewSession("MISSING0", "owner-1", now())
	if err := store.UpdateSession(ctx, missing); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound for unknown session, got %v", err)
	}
}

func testListSessionsByOwner(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	base := now()
	codes := []string{"LIST0001", "LIST0002", "LIST0003"}
	for i, code := range codes {
		mustInsert(t, store, NewSession(code, "owner-1", base.Add(time.Duration(i)*time.Minute)))
	}
	mustInsert(t, store, NewSession("OTHER001", "owner-2", base))

	sessions, err := store.ListSessionsByOwner(ctx, "owner-1", 2)
	if err != nil {
		t.Fatalf("ListSessionsByOwner failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].Code != "LIST0003" || sessions[1].Code != "LIST0002" {
		t.Errorf("Expected newest first, got %s, %s", sessions[0].Code, sessions[1].Code)
	}
}

func testUpsertParticipant(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	session := NewSession("UPSERT01", "owner-1", now())
	mustInsert(t, store, session)

	first := mustUpsert(t, store, NewParticipant(session.ID, "conn-1", "Ada", now()))
	if !first.IsActive {
		t.Error("Expected upserted participant to be active")
	}

	// reconnect with the same connection id reuses the row
	changed, err := store.MarkParticipantInactive(ctx, first.ID, now())
	if err != nil || !changed {
		t.Fatalf("MarkParticipantInactive = %v, %v", changed, err)
	}
	again := mustUpsert(t, store, NewParticipant(session.ID, "conn-1", "Ada L.", now()))
	if again.ID != first.ID {
		t.Errorf("Expected row %s to be reused, got %s", first.ID, again.ID)
	}
	if again.DisplayName != "Ada L." || !again.IsActive || again.DisconnectedAt != nil {
		t.Errorf("Expected reactivated row with new name, got %+v", again)
	}

	count, err := store.CountActiveParticipants(ctx, session.ID)
	if err != nil {
		t.Fatalf("CountActiveParticipants failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 active participant, got %d", count)
	}

	found, err := store.FindActiveParticipantByConnectionID(ctx, "conn-1")
	if err != nil {
		t.Fatalf("FindActiveParticipantByConnectionID failed: %v", err)
	}
	if found.ID != first.ID {
		t.Errorf("Expected participant %s, got %s", first.ID, found.ID)
	}
	if _, err := store.FindActiveParticipantByConnectionID(ctx, "conn-unknown"); !errors.Is(err, interfaces.ErrParticipantNotFound) {
		t.Errorf("Expected ErrParticipantNotFound, got %v", err)
	}
}

func testMarkInactiveOnce(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	session := NewSession("MARK0001", "owner-1", now())
	mustInsert(t, store, session)
	p := mustUpsert(t, store, NewParticipant(session.ID, "conn-1", "Ada", now()))

	var wg sync.WaitGroup
	var mu sync.Mutex
	transitions := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			changed, err := store.MarkParticipantInactive(ctx, p.ID, now())
			if err != nil {
				t.Errorf("MarkParticipantInactive failed: %v", err)
				return
			}
			if changed {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if transitions != 1 {
		t.Errorf("Expected exactly 1 transition, got %d", transitions)
	}
	count, err := store.CountActiveParticipants(ctx, session.ID)
	if err != nil {
		t.Fatalf("CountActiveParticipants failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 active participants, got %d", count)
	}
	if _, err := store.FindActiveParticipantByConnectionID(ctx, "conn-1"); !errors.Is(err, interfaces.ErrParticipantNotFound) {
		t.Errorf("Inactive row must not be found, got %v", err)
	}
}

func testListActiveNewestFirst(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	session := NewSession("LISTACT1", "owner-1", now())
	mustInsert(t, store, session)
	base := now()
	older := mustUpsert(t, store, NewParticipant(session.ID, "conn-1", "Ada", base))
	newer := mustUpsert(t, store, NewParticipant(session.ID, "conn-2", "Grace", base.Add(time.Second)))
	gone := mustUpsert(t, store, NewParticipant(session.ID, "conn-3", "Linus", base.Add(2*time.Second)))
	if _, err := store.MarkParticipantInactive(ctx, gone.ID, now()); err != nil {
		t.Fatalf("MarkParticipantInactive failed: %v", err)
	}

	records, err := store.ListActiveParticipants(ctx, session.ID)
	if err != nil {
		t.Fatalf("ListActiveParticipants failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 active participants, got %d", len(records))
	}
	if records[0].ID != newer.ID || records[1].ID != older.ID {
		t.Errorf("Expected newest first, got %s, %s", records[0].DisplayName, records[1].DisplayName)
	}
}

func testDeactivateAll(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	a := NewSession("DEACT001", "owner-1", now())
	b := NewSession("DEACT002", "owner-1", now())
	mustInsert(t, store, a)
	mustInsert(t, store, b)
	mustUpsert(t, store, NewParticipant(a.ID, "conn-1", "Ada", now()))
	mustUpsert(t, store, NewParticipant(b.ID, "conn-2", "Grace", now()))

	changed, err := store.DeactivateAllParticipants(ctx, now())
	if err != nil {
		t.Fatalf("DeactivateAllParticipants failed: %v", err)
	}
	if changed != 2 {
		t.Errorf("Expected 2 rows changed, got %d", changed)
	}
	for _, id := range []string{a.ID, b.ID} {
		count, err := store.CountActiveParticipants(ctx, id)
		if err != nil {
			t.Fatalf("CountActiveParticipants failed: %v", err)
		}
		if count != 0 {
			t.Errorf("Expected 0 active participants in %s, got %d", id, count)
		}
	}

	changed, err = store.DeactivateAllParticipants(ctx, now())
	if err != nil || changed != 0 {
		t.Errorf("Expected second pass to change nothing, got %d, %v", changed, err)
	}
}

func testHealthCheck(t *testing.T, store interfaces.Store) {
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("Expected healthy store, got %v", err)
	}
}
