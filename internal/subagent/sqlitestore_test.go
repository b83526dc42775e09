package subagent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/anvilrun/anvil/pkg/models"
)

func TestSQLiteStoreRoundTripsThroughRealDriver(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	snap := Snapshot{
		History:   []models.ConversationMessage{models.NewSystemMessage("hello")},
		CreatedAt: time.Now(),
	}
	if err := store.Save(ctx, "key-1", snap); err != nil {
		t.Fatalf("unexpected error saving: %v", err)
	}

	loaded, ok, err := store.Load(ctx, "key-1")
	if err != nil || !ok {
		t.Fatalf("expected to load snapshot, ok=%v err=%v", ok, err)
	}
	if len(loaded.History) != 1 || loaded.History[0].Content != "hello" {
		t.Fatalf("unexpected loaded history: %+v", loaded.History)
	}

	if _, ok, err := store.Load(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected a clean miss for an unknown key, ok=%v err=%v", ok, err)
	}
}

func TestSQLiteStoreSaveSurfacesDriverErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer db.Close()

	store := newSQLiteStoreFromDB(db)

	mock.ExpectExec("INSERT INTO subagent_snapshots").
		WillReturnError(errors.New("disk full"))

	err = store.Save(context.Background(), "key-1", Snapshot{})
	if err == nil {
		t.Fatal("expected the driver error to surface")
	}

	if unmetErr := mock.ExpectationsWereMet(); unmetErr != nil {
		t.Fatalf("unmet sqlmock expectations: %v", unmetErr)
	}
}
