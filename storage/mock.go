package storage

import (
	"context"
	"sync"
	"time"

	"linerelay/core"
)

// Fixture sessions for handler and service tests.
var (
	Session1 = &core.Session{
		ID:           "session_1",
		AccessToken:  "a1",
		RefreshToken: "r1",
		UserID:       "U1",
		Name:         "Alice",
		Expire:       time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond),
	}

	// Session2 expires inside the refresh window.
	Session2 = &core.Session{
		ID:           "session_2",
		AccessToken:  "mock_access_token_2",
		RefreshToken: "mock_refresh_token_2",
		UserID:       "U2",
		Name:         "Bob",
		Picture:      core.StringPtr("https://mock.provider.test/bob.png"),
		Expire:       time.Now().Add(5 * time.Minute).UTC().Truncate(time.Millisecond),
	}

	Session3Expired = &core.Session{
		ID:           "session_3_expired",
		AccessToken:  "a3",
		RefreshToken: "r3",
		UserID:       "U3",
		Name:         "Carol",
		Expire:       time.Date(2023, 1, 31, 23, 59, 59, 0, time.UTC),
	}

	AllSessions = []*core.Session{Session1, Session2, Session3Expired}
)

// MemoryStore is an in-process core.SessionStore. It backs DB_TYPE=memory
// and the tests.
type MemoryStore struct {
	mu       sync.Mutex
	logins   map[string]*core.LoginNonce
	sessions map[string]*core.Session

	// Err, when set, fails every operation as a storage error
	Err error

	// Track method calls for verification
	CreateSessionCalls int
	UpdateSessionCalls int
	DeleteNonceCalls   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		logins:   make(map[string]*core.LoginNonce),
		sessions: make(map[string]*core.Session),
	}
}

// NewMockStore returns a MemoryStore seeded with AllSessions.
func NewMockStore() *MemoryStore {
	store := NewMemoryStore()
	for _, session := range AllSessions {
		store.SeedSession(session)
	}
	return store
}

func (m *MemoryStore) SeedSession(session *core.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *session
	m.sessions[session.ID] = &copied
}

func (m *MemoryStore) SeedNonce(record *core.LoginNonce) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *record
	m.logins[record.ID] = &copied
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) CreateNonce(ctx context.Context, nonce string, redirectURL *string) (*core.LoginNonce, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, storageError("create nonce", m.Err)
	}

	record := newNonce(nonce, redirectURL)
	copied := *record
	m.logins[record.ID] = &copied
	return record, nil
}

func (m *MemoryStore) ClearNonce(ctx context.Context, nonce string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return storageError("clear nonce", m.Err)
	}

	m.clearLocked(nonce)
	return nil
}

func (m *MemoryStore) ReplaceNonce(ctx context.Context, nonce string, redirectURL *string) (*core.LoginNonce, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, storageError("replace nonce", m.Err)
	}

	m.clearLocked(nonce)
	record := newNonce(nonce, redirectURL)
	copied := *record
	m.logins[record.ID] = &copied
	return record, nil
}

func (m *MemoryStore) clearLocked(nonce string) {
	for id, record := range m.logins {
		if record.Nonce == nonce {
			delete(m.logins, id)
		}
	}
}

func (m *MemoryStore) GetNonceByValue(ctx context.Context, nonce string) (*core.LoginNonce, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, storageError("get nonce by value", m.Err)
	}

	for _, record := range m.logins {
		if record.Nonce == nonce {
			copied := *record
			return &copied, nil
		}
	}
	return nil, core.ErrNotFound
}

func (m *MemoryStore) GetNonceByID(ctx context.Context, id string) (*core.LoginNonce, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, storageError("get nonce by id", m.Err)
	}

	record, ok := m.logins[id]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (m *MemoryStore) LinkSession(ctx context.Context, nonceID string, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return storageError("link session", m.Err)
	}

	record, ok := m.logins[nonceID]
	if !ok {
		return core.ErrNotFound
	}
	if _, ok := m.sessions[sessionID]; !ok {
		return core.ErrNotFound
	}
	// A link is set once; only deletion clears it
	if record.Linked() {
		return core.ErrNotFound
	}

	record.Session = core.StringPtr(sessionID)
	return nil
}

func (m *MemoryStore) DeleteNonce(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DeleteNonceCalls++

	if m.Err != nil {
		return storageError("delete nonce", m.Err)
	}

	if _, ok := m.logins[id]; !ok {
		return core.ErrNotFound
	}
	delete(m.logins, id)
	return nil
}

func (m *MemoryStore) CreateSession(ctx context.Context, auth *core.AuthResult) (*core.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateSessionCalls++

	if m.Err != nil {
		return nil, storageError("create session", m.Err)
	}

	session, err := newSession(auth)
	if err != nil {
		return nil, storageError("create session", err)
	}

	copied := *session
	m.sessions[session.ID] = &copied
	return session, nil
}

func (m *MemoryStore) GetSessionByID(ctx context.Context, id string) (*core.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, storageError("get session", m.Err)
	}

	session, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	copied := *session
	return &copied, nil
}

func (m *MemoryStore) UpdateSession(ctx context.Context, session *core.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UpdateSessionCalls++

	if m.Err != nil {
		return storageError("update session", m.Err)
	}

	existing, ok := m.sessions[session.ID]
	if !ok {
		return core.ErrNotFound
	}

	existing.AccessToken = session.AccessToken
	existing.RefreshToken = session.RefreshToken
	existing.Name = session.Name
	existing.Picture = session.Picture
	existing.Expire = fromMillis(toMillis(session.Expire))
	return nil
}

// Sessions returns a snapshot of every stored session.
func (m *MemoryStore) Sessions() []*core.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*core.Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		copied := *session
		out = append(out, &copied)
	}
	return out
}
