package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"bookhaven/server/internal/models"
	"bookhaven/server/internal/utils"
)

// fixture seeds users into the store under test.
type fixture struct {
	store   Store
	addUser func(t *testing.T, u models.User)
	addPush func(t *testing.T, tok models.PushToken)
}

func newID(t *testing.T) string {
	t.Helper()
	id, err := uuid.NewV7()
	if err != nil {
		t.Fatal(err)
	}
	return id.String()
}

func createDirect(t *testing.T, s Store, a, b string) models.Conversation {
	t.Helper()
	key := utils.DirectPairKey(a, b)
	conv, _, err := s.CreateConversation(context.Background(), NewConversation{
		ID:             newID(t),
		DirectKey:      &key,
		ParticipantIDs: []string{a, b},
	})
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	return conv
}

func insertText(t *testing.T, s Store, convID, sender, text string) models.Message {
	t.Helper()
	msg, _, err := s.InsertMessage(context.Background(),
		models.NewMessage(newID(t), convID, sender, models.TextBody{Content: text}))
	if err != nil {
		t.Fatalf("InsertMessage() error = %v", err)
	}
	return msg
}

func runStoreContract(t *testing.T, f fixture) {
	ctx := context.Background()
	s := f.store

	f.addUser(t, models.User{ID: "alice", Username: "alice"})
	f.addUser(t, models.User{ID: "bob", Username: "bob"})
	f.addUser(t, models.User{ID: "carol", Username: "carol"})

	t.Run("direct conversation is unique per pair", func(t *testing.T) {
		first := createDirect(t, s, "alice", "bob")

		key := utils.DirectPairKey("bob", "alice")
		again, created, err := s.CreateConversation(ctx, NewConversation{
			ID:             newID(t),
			DirectKey:      &key,
			ParticipantIDs: []string{"bob", "alice"},
		})
		if err != nil {
			t.Fatalf("CreateConversation() error = %v", err)
		}
		if created {
			t.Error("second create for the same pair should not create")
		}
		if again.ID != first.ID {
			t.Errorf("ID = %s, want existing %s", again.ID, first.ID)
		}
	})

	t.Run("unknown participant", func(t *testing.T) {
		_, _, err := s.CreateConversation(ctx, NewConversation{
			ID:             newID(t),
			IsGroup:        true,
			ParticipantIDs: []string{"alice", "nobody"},
		})
		if !errors.Is(err, ErrUnknownUser) {
			t.Fatalf("error = %v, want ErrUnknownUser", err)
		}
	})

	t.Run("membership", func(t *testing.T) {
		conv := createDirect(t, s, "alice", "carol")

		ok, err := s.IsParticipant(ctx, conv.ID, "alice")
		if err != nil || !ok {
			t.Fatalf("IsParticipant(alice) = %v, %v", ok, err)
		}
		ok, err = s.IsParticipant(ctx, conv.ID, "bob")
		if err != nil || ok {
			t.Fatalf("IsParticipant(bob) = %v, %v", ok, err)
		}
		ok, err = s.IsParticipant(ctx, newID(t), "alice")
		if err != nil || ok {
			t.Fatalf("IsParticipant(missing conversation) = %v, %v", ok, err)
		}
	})

	t.Run("messages newest first with summary", func(t *testing.T) {
		conv := createDirect(t, s, "bob", "carol")
		for i := 1; i <= 5; i++ {
			insertText(t, s, conv.ID, "bob", fmt.Sprintf("m%d", i))
		}

		page, err := s.ListMessages(ctx, conv.ID, 0, 3)
		if err != nil {
			t.Fatalf("ListMessages() error = %v", err)
		}
		want := []string{"m5", "m4", "m3"}
		for i, m := range page {
			if m.Content != want[i] {
				t.Errorf("page[%d] = %s, want %s", i, m.Content, want[i])
			}
		}

		rest, _ := s.ListMessages(ctx, conv.ID, 3, 3)
		if len(rest) != 2 || rest[1].Content != "m1" {
			t.Errorf("second page = %+v", rest)
		}

		for i := 1; i < len(page); i++ {
			if page[i].CreatedAt.After(page[i-1].CreatedAt) {
				t.Errorf("messages out of order at %d", i)
			}
		}

		got, err := s.GetConversation(ctx, conv.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.LastMessage == nil || *got.LastMessage != "m5" {
			t.Errorf("LastMessage = %v, want m5", got.LastMessage)
		}
	})

	t.Run("last message is the stored content", func(t *testing.T) {
		name := "covers"
		conv, _, err := s.CreateConversation(ctx, NewConversation{
			ID:             newID(t),
			IsGroup:        true,
			Name:           &name,
			ParticipantIDs: []string{"alice", "bob", "carol"},
		})
		if err != nil {
			t.Fatal(err)
		}

		body := models.ImageBody{Content: "look at this cover", URL: "https://cdn.example/cover.jpg"}
		_, summary, err := s.InsertMessage(ctx, models.NewMessage(newID(t), conv.ID, "alice", body))
		if err != nil {
			t.Fatal(err)
		}
		if summary.LastMessage != body.Content {
			t.Errorf("summary LastMessage = %q, want %q", summary.LastMessage, body.Content)
		}

		got, err := s.GetConversation(ctx, conv.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.LastMessage == nil || *got.LastMessage != body.Content {
			t.Errorf("LastMessage = %v, want %q", got.LastMessage, body.Content)
		}
	})

	t.Run("insert into missing conversation leaves nothing", func(t *testing.T) {
		_, _, err := s.InsertMessage(ctx, models.NewMessage(newID(t), newID(t), "alice", models.TextBody{Content: "x"}))
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("mark read is idempotent and clears unread", func(t *testing.T) {
		name := "book club"
		conv, _, err := s.CreateConversation(ctx, NewConversation{
			ID:             newID(t),
			IsGroup:        true,
			Name:           &name,
			ParticipantIDs: []string{"alice", "bob", "carol"},
		})
		if err != nil {
			t.Fatal(err)
		}
		insertText(t, s, conv.ID, "alice", "one")
		insertText(t, s, conv.ID, "bob", "two")

		items, err := s.ListConversations(ctx, "carol")
		if err != nil {
			t.Fatal(err)
		}
		item := findItem(t, items, conv.ID)
		if item.UnreadCount != 2 {
			t.Errorf("UnreadCount = %d, want 2", item.UnreadCount)
		}
		if len(item.Participants) != 3 {
			t.Errorf("Participants = %d, want 3", len(item.Participants))
		}
		if items[0].ID != conv.ID {
			t.Errorf("most recently updated conversation should be first")
		}

		first, err := s.MarkRead(ctx, conv.ID, "carol")
		if err != nil {
			t.Fatal(err)
		}
		second, err := s.MarkRead(ctx, conv.ID, "carol")
		if err != nil {
			t.Fatal(err)
		}
		if second.Before(first) {
			t.Error("read marker moved backwards")
		}

		ids, _ := s.ParticipantIDs(ctx, conv.ID)
		if len(ids) != 3 {
			t.Errorf("participant rows = %d, want 3", len(ids))
		}

		items, _ = s.ListConversations(ctx, "carol")
		if got := findItem(t, items, conv.ID).UnreadCount; got != 0 {
			t.Errorf("UnreadCount after read = %d, want 0", got)
		}

		if _, err := s.MarkRead(ctx, conv.ID, "nobody"); !errors.Is(err, ErrNotFound) {
			t.Errorf("MarkRead(non-participant) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("concurrent inserts keep every message", func(t *testing.T) {
		conv := createDirect(t, s, "alice", "bob")
		before, _ := s.ListMessages(ctx, conv.ID, 0, 1000)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				sender := "alice"
				if i%2 == 0 {
					sender = "bob"
				}
				_, _, err := s.InsertMessage(ctx, models.NewMessage(newID(t), conv.ID, sender,
					models.TextBody{Content: fmt.Sprintf("c%d", i)}))
				if err != nil {
					t.Errorf("InsertMessage() error = %v", err)
				}
			}(i)
		}
		wg.Wait()

		after, _ := s.ListMessages(ctx, conv.ID, 0, 1000)
		if len(after)-len(before) != 20 {
			t.Errorf("stored %d messages, want 20", len(after)-len(before))
		}
	})

	t.Run("push tokens and users", func(t *testing.T) {
		f.addPush(t, models.PushToken{UserID: "bob", Provider: models.PushProviderExpo, Token: "ExponentPushToken[bob]"})

		tokens, err := s.PushTokens(ctx, []string{"bob", "carol"})
		if err != nil {
			t.Fatal(err)
		}
		if len(tokens) != 1 || tokens[0].Token != "ExponentPushToken[bob]" {
			t.Errorf("tokens = %+v", tokens)
		}

		users, err := s.Users(ctx, []string{"alice", "ghost"})
		if err != nil {
			t.Fatal(err)
		}
		if len(users) != 1 || users["alice"].Username != "alice" {
			t.Errorf("users = %+v", users)
		}
	})
}

func findItem(t *testing.T, items []models.ConversationListItem, id string) models.ConversationListItem {
	t.Helper()
	for _, it := range items {
		if it.ID == id {
			return it
		}
	}
	t.Fatalf("conversation %s not in list", id)
	return models.ConversationListItem{}
}
