package testsupport

import (
	"context"
	"testing"

	"reverie/internal/config"
	"reverie/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

// NewDream creates a draft dream owned by userID.
func NewDream(t testing.TB, st *store.Store, userID string) *store.Dream {
	t.Helper()

	dream, err := st.CreateDream(context.Background(), store.NewDream{UserID: userID})
	if err != nil {
		t.Fatalf("store.CreateDream: %v", err)
	}
	return dream
}

// AddText appends a text segment, which is stored already transcribed.
func AddText(t testing.TB, st *store.Store, dreamID string, order int, text string) *store.Segment {
	t.Helper()

	seg, err := st.AddSegment(context.Background(), store.NewSegment{
		DreamID:     dreamID,
		Order:       order,
		Modality:    store.ModalityText,
		ContentText: text,
	})
	if err != nil {
		t.Fatalf("store.AddSegment: %v", err)
	}
	return seg
}

// AddAudio appends a pending audio segment referencing ref.
func AddAudio(t testing.TB, st *store.Store, dreamID string, order int, ref string) *store.Segment {
	t.Helper()

	seg, err := st.AddSegment(context.Background(), store.NewSegment{
		DreamID:         dreamID,
		Order:           order,
		Modality:        store.ModalityAudio,
		ContentRef:      ref,
		DurationSeconds: 12.5,
	})
	if err != nil {
		t.Fatalf("store.AddSegment: %v", err)
	}
	return seg
}
