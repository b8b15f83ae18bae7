package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsBusy(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("database table is locked"), true},
		{errors.New("UNIQUE constraint failed"), false},
	}
	for _, c := range cases {
		if got := IsBusy(c.err); got != c.want {
			t.Errorf("IsBusy(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestWriteRetriesBusyErrors(t *testing.T) {
	db := testDB(t)
	db.SetRetryPolicy(RetryPolicy{MaxTries: 4, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond})

	attempts := 0
	err := db.Write(context.Background(), func(tx *Tx) error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestWriteDoesNotRetryPermanentErrors(t *testing.T) {
	db := testDB(t)
	db.SetRetryPolicy(RetryPolicy{MaxTries: 4, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond})

	boom := errors.New("boom")
	attempts := 0
	err := db.Write(context.Background(), func(tx *Tx) error {
		attempts++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Write err = %v, want boom", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestWriteRollsBackOnError(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	err := db.Write(ctx, func(tx *Tx) error {
		if err := tx.UpsertFact(ctx, &Fact{ProfileID: "user", Key: "k", Domain: "preferences", Brief: "b"}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	f, err := db.GetFact(ctx, "user", "k")
	if err != nil {
		t.Fatalf("GetFact: %v", err)
	}
	if f != nil {
		t.Error("fact should have been rolled back")
	}
}
