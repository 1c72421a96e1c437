package store

import (
	"testing"
	"time"

	"bookhaven/server/internal/models"
)

func newMemoryFixture() (*Memory, fixture) {
	m := NewMemory()
	return m, fixture{
		store:   m,
		addUser: func(_ *testing.T, u models.User) { m.AddUser(u) },
		addPush: func(_ *testing.T, tok models.PushToken) { m.AddPushToken(tok) },
	}
}

func TestMemoryContract(t *testing.T) {
	_, f := newMemoryFixture()
	runStoreContract(t, f)
}

func TestMemoryTimestampsStrictlyIncrease(t *testing.T) {
	m, f := newMemoryFixture()
	frozen := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return frozen }

	f.addUser(t, models.User{ID: "a", Username: "a"})
	f.addUser(t, models.User{ID: "b", Username: "b"})
	conv := createDirect(t, m, "a", "b")

	first := insertText(t, m, conv.ID, "a", "one")
	second := insertText(t, m, conv.ID, "b", "two")
	if !second.CreatedAt.After(first.CreatedAt) {
		t.Errorf("CreatedAt %v not after %v", second.CreatedAt, first.CreatedAt)
	}
}

func TestMemoryOffsetPastEnd(t *testing.T) {
	m, f := newMemoryFixture()
	f.addUser(t, models.User{ID: "a", Username: "a"})
	f.addUser(t, models.User{ID: "b", Username: "b"})
	conv := createDirect(t, m, "a", "b")
	insertText(t, m, conv.ID, "a", "only")

	for _, offset := range []int{10, -8} {
		got, err := m.ListMessages(t.Context(), conv.ID, offset, 50)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Errorf("offset %d: len = %d, want 0", offset, len(got))
		}
	}
}
