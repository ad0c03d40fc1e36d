package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"classwatch/internal/database/memory"
	"classwatch/internal/participant"
	"classwatch/internal/session"
	"classwatch/internal/websocket"
	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

type sentFrame struct {
	event string
	data  interface{}
}

type recordingConnection struct {
	id     string
	mu     sync.Mutex
	frames []sentFrame
}

func (c *recordingConnection) ID() string { return c.id }

func (c *recordingConnection) Send(event string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, sentFrame{event: event, data: data})
	return nil
}

func (c *recordingConnection) Close() error { return nil }

func (c *recordingConnection) events(event string) []sentFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var matched []sentFrame
	for _, f := range c.frames {
		if f.event == event {
			matched = append(matched, f)
		}
	}
	return matched
}

func (c *recordingConnection) all() []sentFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentFrame(nil), c.frames...)
}

type testEnv struct {
	store        interfaces.Store
	sessions     *session.Registry
	participants *participant.Registry
	registry     *websocket.Registry
	manager      *Manager
}

func newTestEnv(t *testing.T, store interfaces.Store, opts ...Option) *testEnv {
	t.Helper()
	if store == nil {
		store = memory.New()
	}
	env := &testEnv{
		store:        store,
		sessions:     session.NewRegistry(store),
		participants: participant.NewRegistry(store, nil),
		registry:     websocket.NewRegistry(nil),
	}
	env.manager = NewManager(env.sessions, env.participants, env.registry, opts...)
	return env
}

func intPtr(v int) *int { return &v }

func (e *testEnv) createSession(t *testing.T, settings types.SessionSettings) *types.Session {
	t.Helper()
	if settings.ModeType == "" {
		settings.ModeType = types.ModeInternet
	}
	if settings.ShareType == "" {
		settings.ShareType = types.ShareFullScreen
	}
	s, err := e.sessions.Create(context.Background(), "lecturer-1", settings)
	if err != nil {
		t.Fatalf("Create session failed: %v", err)
	}
	return s
}

func (e *testEnv) connect(t *testing.T, id string) *recordingConnection {
	t.Helper()
	conn := &recordingConnection{id: id}
	if err := e.manager.Connect(conn); err != nil {
		t.Fatalf("Connect %s failed: %v", id, err)
	}
	return conn
}

func TestManager_ConnectSendsConnectionID(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := env.connect(t, "c1")

	frames := conn.events(types.EventConnected)
	if len(frames) != 1 {
		t.Fatalf("Expected one connected event, got %d", len(frames))
	}
	if frames[0].data.(types.ConnectedPayload).ConnectionID != "c1" {
		t.Errorf("Unexpected payload %+v", frames[0].data)
	}
	if env.manager.State("c1") != StateConnecting {
		t.Errorf("Expected %s, got %s", StateConnecting, env.manager.State("c1"))
	}
	if err := env.manager.Connect(&recordingConnection{id: "c1"}); !errors.Is(err, websocket.ErrDuplicateConnection) {
		t.Errorf("Expected ErrDuplicateConnection, got %v", err)
	}
}

func TestManager_LecturerJoinBroadcastsPeerReady(t *testing.T) {
	env := newTestEnv(t, nil)
	s := env.createSession(t, types.SessionSettings{})
	ctx := context.Background()

	student := env.connect(t, "student")
	if err := env.manager.Join(ctx, "student", StudentJoin{SessionCode: s.Code, DisplayName: "Ada"}); err != nil {
		t.Fatalf("Student join failed: %v", err)
	}

	lecturer := env.connect(t, "lecturer")
	if err := env.manager.Join(ctx, "lecturer", LecturerJoin{SessionCode: s.Code}); err != nil {
		t.Fatalf("Lecturer join failed: %v", err)
	}

	ready := student.events(types.EventPeerReady)
	if len(ready) != 1 || ready[0].data.(types.PeerReadyPayload).LecturerConnectionID != "lecturer" {
		t.Errorf("Expected peer-ready from lecturer, got %v", ready)
	}
	if got := lecturer.events(types.EventPeerReady); len(got) != 0 {
		t.Error("The lecturer must not receive its own peer-ready")
	}

	joined := lecturer.events(types.EventJoined)
	if len(joined) != 1 {
		t.Fatalf("Expected joined for lecturer, got %d", len(joined))
	}
	payload := joined[0].data.(types.JoinedPayload)
	if payload.SessionID != s.ID || payload.ModeType != s.ModeType || payload.ShareType != s.ShareType {
		t.Errorf("Unexpected joined payload %+v", payload)
	}
	if env.manager.State("lecturer") != StateJoinedAsLecturer {
		t.Errorf("Expected %s, got %s", StateJoinedAsLecturer, env.manager.State("lecturer"))
	}
}

func TestManager_StudentJoinBroadcastsToWholeRoom(t *testing.T) {
	env := newTestEnv(t, nil)
	s := env.createSession(t, types.SessionSettings{DeviceLimit: intPtr(5)})
	ctx := context.Background()

	lecturer := env.connect(t, "lecturer")
	_ = env.manager.Join(ctx, "lecturer", LecturerJoin{SessionCode: s.Code})

	student := env.connect(t, "student")
	if err := env.manager.Join(ctx, "student", StudentJoin{SessionCode: s.Code, DisplayName: "  Ada  "}); err != nil {
		t.Fatalf("Student join failed: %v", err)
	}

	for _, conn := range []*recordingConnection{lecturer, student} {
		frames := conn.events(types.EventParticipantJoined)
		if len(frames) != 1 {
			t.Fatalf("Expected participant-joined at %s, got %d", conn.id, len(frames))
		}
		payload := frames[0].data.(types.ParticipantJoinedPayload)
		if payload.DisplayName != "Ada" || payload.ConnectionID != "student" || payload.Count != 1 {
			t.Errorf("Unexpected payload %+v", payload)
		}
		if payload.Limit == nil || *payload.Limit != 5 {
			t.Errorf("Expected limit 5, got %v", payload.Limit)
		}
	}

	// participant-joined precedes joined for the sender
	frames := student.all()
	last := frames[len(frames)-1]
	if last.event != types.EventJoined {
		t.Errorf("Expected joined last, got %s", last.event)
	}
	if env.manager.State("student") != StateJoinedAsStudent {
		t.Errorf("Expected %s, got %s", StateJoinedAsStudent, env.manager.State("student"))
	}
}

func TestManager_JoinErrors(t *testing.T) {
	now := time.Now()
	env := newTestEnv(t, nil, WithClock(func() time.Time { return now.Add(2 * time.Hour) }))
	ctx := context.Background()

	open := env.createSession(t, types.SessionSettings{})
	expiring := env.createSession(t, types.SessionSettings{
		ExpirationType:    types.ExpirationDurationMinutes,
		ExpirationMinutes: intPtr(60),
	})
	closed := env.createSession(t, types.SessionSettings{})
	if _, err := env.sessions.Deactivate(ctx, closed.Code, "lecturer-1"); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}

	tests := []struct {
		name string
		cmd  JoinCommand
		want error
	}{
		{name: "unknown code", cmd: StudentJoin{SessionCode: "NOPE0000", DisplayName: "Ada"}, want: types.ErrSessionNotFound},
		{name: "malformed code", cmd: LecturerJoin{SessionCode: "??"}, want: types.ErrSessionNotFound},
		{name: "expired", cmd: StudentJoin{SessionCode: expiring.Code, DisplayName: "Ada"}, want: types.ErrSessionUnavailable},
		{name: "inactive", cmd: LecturerJoin{SessionCode: closed.Code}, want: types.ErrSessionUnavailable},
		{name: "missing display name", cmd: StudentJoin{SessionCode: open.Code, DisplayName: "   "}, want: types.ErrMissingDisplayName},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := fmt.Sprintf("conn-%d", i)
			env.connect(t, id)
			err := env.manager.Join(ctx, id, tt.cmd)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			if env.manager.State(id) != StateConnecting {
				t.Errorf("A rejected join must leave the connection unattached")
			}
		})
	}
}

func TestManager_DoubleJoinRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	s := env.createSession(t, types.SessionSettings{})
	ctx := context.Background()

	env.connect(t, "c1")
	if err := env.manager.Join(ctx, "c1", StudentJoin{SessionCode: s.Code, DisplayName: "Ada"}); err != nil {
		t.Fatalf("First join failed: %v", err)
	}
	if err := env.manager.Join(ctx, "c1", LecturerJoin{SessionCode: s.Code}); !errors.Is(err, types.ErrAlreadyJoined) {
		t.Errorf("Expected ErrAlreadyJoined, got %v", err)
	}
}

func TestManager_JoinFromUnknownConnection(t *testing.T) {
	env := newTestEnv(t, nil)
	s := env.createSession(t, types.SessionSettings{})

	err := env.manager.Join(context.Background(), "ghost", LecturerJoin{SessionCode: s.Code})
	if !errors.Is(err, websocket.ErrConnectionNotFound) {
		t.Errorf("Expected ErrConnectionNotFound, got %v", err)
	}
}

// Three students race for two slots: two get joined, one gets the limit
// error and the room sees exactly one device-limit-exceeded broadcast.
func TestManager_DeviceLimitThreeStudentsTwoSlots(t *testing.T) {
	env := newTestEnv(t, nil)
	s := env.createSession(t, types.SessionSettings{DeviceLimit: intPtr(2)})
	ctx := context.Background()

	lecturer := env.connect(t, "lecturer")
	if err := env.manager.Join(ctx, "lecturer", LecturerJoin{SessionCode: s.Code}); err != nil {
		t.Fatalf("Lecturer join failed: %v", err)
	}

	students := make([]*recordingConnection, 3)
	for i := range students {
		students[i] = env.connect(t, fmt.Sprintf("student-%d", i))
	}

	errs := make([]error, len(students))
	var wg sync.WaitGroup
	for i, student := range students {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			errs[i] = env.manager.Join(ctx, id, StudentJoin{SessionCode: s.Code, DisplayName: id})
		}(i, student.id)
	}
	wg.Wait()

	joined, rejected := 0, 0
	for i, err := range errs {
		switch {
		case err == nil:
			joined++
			if len(students[i].events(types.EventJoined)) != 1 {
				t.Errorf("Student %d joined without a joined event", i)
			}
		case errors.Is(err, types.ErrDeviceLimitExceeded):
			rejected++
			if len(students[i].events(types.EventJoined)) != 0 {
				t.Errorf("Rejected student %d must not receive joined", i)
			}
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if joined != 2 || rejected != 1 {
		t.Errorf("Expected 2 joined and 1 rejected, got %d and %d", joined, rejected)
	}

	limitFrames := lecturer.events(types.EventDeviceLimitExceeded)
	if len(limitFrames) != 1 {
		t.Fatalf("Expected 1 device-limit-exceeded broadcast, got %d", len(limitFrames))
	}
	payload := limitFrames[0].data.(types.DeviceLimitExceededPayload)
	if payload.CurrentCount != 2 || payload.Limit != 2 || payload.SessionCode != s.Code {
		t.Errorf("Unexpected payload %+v", payload)
	}

	count, err := env.participants.CountActive(ctx, s.ID)
	if err != nil || count != 2 {
		t.Errorf("Expected 2 active participants, got %d (%v)", count, err)
	}
}

func TestManager_DeviceLimitNeverExceededUnderLoad(t *testing.T) {
	const limit, attempts = 3, 25

	env := newTestEnv(t, nil)
	s := env.createSession(t, types.SessionSettings{DeviceLimit: intPtr(limit)})
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, rejected := 0, 0
	for i := 0; i < attempts; i++ {
		id := fmt.Sprintf("student-%d", i)
		env.connect(t, id)
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := env.manager.Join(ctx, id, StudentJoin{SessionCode: s.Code, DisplayName: id})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Is(err, types.ErrDeviceLimitExceeded) {
				rejected++
			}
		}()
	}
	wg.Wait()

	if succeeded != limit || rejected != attempts-limit {
		t.Errorf("Expected %d succeeded and %d rejected, got %d and %d", limit, attempts-limit, succeeded, rejected)
	}
	if env.manager.locks.size() != 0 {
		t.Errorf("Expected the lock table to drain, got %d entries", env.manager.locks.size())
	}
}

func TestManager_ReconnectReusesParticipantRow(t *testing.T) {
	env := newTestEnv(t, nil)
	s := env.createSession(t, types.SessionSettings{DeviceLimit: intPtr(1)})
	ctx := context.Background()

	first := env.connect(t, "c1")
	if err := env.manager.Join(ctx, "c1", StudentJoin{SessionCode: s.Code, DisplayName: "Ada"}); err != nil {
		t.Fatalf("First join failed: %v", err)
	}
	firstID := first.events(types.EventParticipantJoined)[0].data.(types.ParticipantJoinedPayload).ParticipantID

	env.manager.Leave(ctx, "c1")
	if env.manager.State("c1") != StateLeft {
		t.Errorf("Expected %s, got %s", StateLeft, env.manager.State("c1"))
	}

	second := env.connect(t, "c1")
	if err := env.manager.Join(ctx, "c1", StudentJoin{SessionCode: s.Code, DisplayName: "Ada"}); err != nil {
		t.Fatalf("Rejoin failed: %v", err)
	}
	secondID := second.events(types.EventParticipantJoined)[0].data.(types.ParticipantJoinedPayload).ParticipantID
	if firstID != secondID {
		t.Errorf("Expected the row %s to be reused, got %s", firstID, secondID)
	}

	active, err := env.participants.ListActive(ctx, s.ID)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("Expected exactly one active row, got %d", len(active))
	}
}

func TestManager_LeaveBroadcastsOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	s := env.createSession(t, types.SessionSettings{DeviceLimit: intPtr(4)})
	ctx := context.Background()

	lecturer := env.connect(t, "lecturer")
	_ = env.manager.Join(ctx, "lecturer", LecturerJoin{SessionCode: s.Code})
	env.connect(t, "s1")
	env.connect(t, "s2")
	_ = env.manager.Join(ctx, "s1", StudentJoin{SessionCode: s.Code, DisplayName: "One"})
	_ = env.manager.Join(ctx, "s2", StudentJoin{SessionCode: s.Code, DisplayName: "Two"})

	env.manager.Leave(ctx, "s1")
	env.manager.Leave(ctx, "s1")

	left := lecturer.events(types.EventParticipantLeft)
	if len(left) != 1 {
		t.Fatalf("Expected 1 participant-left, got %d", len(left))
	}
	payload := left[0].data.(types.ParticipantLeftPayload)
	if payload.DisplayName != "One" || payload.Count != 1 {
		t.Errorf("Unexpected payload %+v", payload)
	}
	if payload.Limit == nil || *payload.Limit != 4 {
		t.Errorf("Expected limit 4, got %v", payload.Limit)
	}
}

func TestManager_ConcurrentDoubleDisconnect(t *testing.T) {
	env := newTestEnv(t, nil)
	s := env.createSession(t, types.SessionSettings{})
	ctx := context.Background()

	lecturer := env.connect(t, "lecturer")
	_ = env.manager.Join(ctx, "lecturer", LecturerJoin{SessionCode: s.Code})
	env.connect(t, "s1")
	_ = env.manager.Join(ctx, "s1", StudentJoin{SessionCode: s.Code, DisplayName: "One"})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.manager.Leave(ctx, "s1")
		}()
	}
	wg.Wait()

	if got := len(lecturer.events(types.EventParticipantLeft)); got != 1 {
		t.Errorf("Expected exactly one participant-left, got %d", got)
	}
}

// A lecturer joining late gets joined and nothing else; current
// participants come from the directory query.
func TestManager_LateLecturerGetsNoReplay(t *testing.T) {
	env := newTestEnv(t, nil)
	s := env.createSession(t, types.SessionSettings{})
	ctx := context.Background()

	for _, id := range []string{"s1", "s2"} {
		env.connect(t, id)
		if err := env.manager.Join(ctx, id, StudentJoin{SessionCode: s.Code, DisplayName: id}); err != nil {
			t.Fatalf("Join %s failed: %v", id, err)
		}
	}

	lecturer := env.connect(t, "lecturer")
	if err := env.manager.Join(ctx, "lecturer", LecturerJoin{SessionCode: s.Code}); err != nil {
		t.Fatalf("Lecturer join failed: %v", err)
	}

	frames := lecturer.all()
	if len(frames) != 2 || frames[0].event != types.EventConnected || frames[1].event != types.EventJoined {
		t.Errorf("Expected only connected and joined, got %v", frames)
	}

	active, err := env.participants.ListActive(ctx, s.ID)
	if err != nil || len(active) != 2 {
		t.Errorf("Expected 2 participants from the directory, got %d (%v)", len(active), err)
	}
}

func TestManager_BroadcastScopedToSession(t *testing.T) {
	env := newTestEnv(t, nil)
	first := env.createSession(t, types.SessionSettings{})
	second := env.createSession(t, types.SessionSettings{DeviceLimit: intPtr(1)})
	ctx := context.Background()

	other := env.connect(t, "other-lecturer")
	_ = env.manager.Join(ctx, "other-lecturer", LecturerJoin{SessionCode: second.Code})
	env.connect(t, "other-student")
	_ = env.manager.Join(ctx, "other-student", StudentJoin{SessionCode: second.Code, DisplayName: "Z"})
	before := len(other.all())

	env.connect(t, "lecturer")
	_ = env.manager.Join(ctx, "lecturer", LecturerJoin{SessionCode: first.Code})
	env.connect(t, "student")
	_ = env.manager.Join(ctx, "student", StudentJoin{SessionCode: first.Code, DisplayName: "A"})
	env.manager.Leave(ctx, "student")

	if got := len(other.all()); got != before {
		t.Errorf("Events leaked across sessions: %v", other.all()[before:])
	}
}

type failingMarkStore struct {
	*memory.Store
}

func (f *failingMarkStore) MarkParticipantInactive(ctx context.Context, participantID string, at time.Time) (bool, error) {
	return false, errors.New("database is locked")
}

func TestManager_LeaveSwallowsStoreFailure(t *testing.T) {
	env := newTestEnv(t, &failingMarkStore{Store: memory.New()})
	s := env.createSession(t, types.SessionSettings{})
	ctx := context.Background()

	lecturer := env.connect(t, "lecturer")
	_ = env.manager.Join(ctx, "lecturer", LecturerJoin{SessionCode: s.Code})
	env.connect(t, "s1")
	if err := env.manager.Join(ctx, "s1", StudentJoin{SessionCode: s.Code, DisplayName: "One"}); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	env.manager.Leave(ctx, "s1")

	if env.manager.State("s1") != StateLeft {
		t.Errorf("Leave must complete locally, state is %s", env.manager.State("s1"))
	}
	if got := len(env.registry.RoomStudents(s.ID)); got != 0 {
		t.Errorf("Expected the room to be empty, got %d", got)
	}
	if got := len(lecturer.events(types.EventParticipantLeft)); got != 0 {
		t.Errorf("No participant-left is sent when the transition was not recorded, got %d", got)
	}
}

type failingCountStore struct {
	*memory.Store
}

func (f *failingCountStore) CountActiveParticipants(ctx context.Context, sessionID string) (int, error) {
	return 0, errors.New("connection refused")
}

func TestManager_JoinStoreFailure(t *testing.T) {
	env := newTestEnv(t, &failingCountStore{Store: memory.New()})
	s := env.createSession(t, types.SessionSettings{})

	env.connect(t, "s1")
	err := env.manager.Join(context.Background(), "s1", StudentJoin{SessionCode: s.Code, DisplayName: "One"})
	if !errors.Is(err, types.ErrStoreFailure) {
		t.Errorf("Expected ErrStoreFailure, got %v", err)
	}
	if env.manager.State("s1") != StateConnecting {
		t.Errorf("Expected the connection to stay unattached, got %s", env.manager.State("s1"))
	}
}

func TestManager_LecturerLeaveKeepsStudents(t *testing.T) {
	env := newTestEnv(t, nil)
	s := env.createSession(t, types.SessionSettings{})
	ctx := context.Background()

	env.connect(t, "lecturer")
	_ = env.manager.Join(ctx, "lecturer", LecturerJoin{SessionCode: s.Code})
	student := env.connect(t, "s1")
	_ = env.manager.Join(ctx, "s1", StudentJoin{SessionCode: s.Code, DisplayName: "One"})

	env.manager.Leave(ctx, "lecturer")

	if got := len(student.events(types.EventParticipantLeft)); got != 0 {
		t.Errorf("A lecturer has no participant row, got %d participant-left", got)
	}
	count, _ := env.participants.CountActive(ctx, s.ID)
	if count != 1 {
		t.Errorf("Expected the student to stay active, got %d", count)
	}
}
