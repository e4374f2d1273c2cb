package settings

import (
	"context"
	"reflect"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/telellm/telellm/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(&models.Setting{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStore(gdb, nil)
}

func TestGetSet_Upsert(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	v, err := s.Get(ctx, "missing")
	if err != nil || v != "" {
		t.Fatalf("missing key: v=%q err=%v", v, err)
	}

	if err := s.Set(ctx, KeyBotPauseMessage, "back soon"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, KeyBotPauseMessage, "back later"); err != nil {
		t.Fatalf("set again: %v", err)
	}

	v, err = s.Get(ctx, KeyBotPauseMessage)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != "back later" {
		t.Fatalf("second set must win: %q", v)
	}
}

func TestGetInt(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	n, err := s.GetInt(ctx, KeyDialogTokenLimit, 42)
	if err != nil || n != 42 {
		t.Fatalf("absent key must yield the default: n=%d err=%v", n, err)
	}

	_ = s.Set(ctx, KeyDialogTokenLimit, " 20000 ")
	n, err = s.GetInt(ctx, KeyDialogTokenLimit, 42)
	if err != nil || n != 20000 {
		t.Fatalf("n=%d err=%v", n, err)
	}

	_ = s.Set(ctx, KeyDialogTokenLimit, "not-a-number")
	n, err = s.GetInt(ctx, KeyDialogTokenLimit, 42)
	if err != nil || n != 42 {
		t.Fatalf("junk must yield the default: n=%d err=%v", n, err)
	}
}

func TestGetBool_TruthySet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, v := range []string{"1", "true", "TRUE", "yes", "On"} {
		_ = s.Set(ctx, KeyBotPaused, v)
		got, err := s.GetBool(ctx, KeyBotPaused)
		if err != nil || !got {
			t.Fatalf("%q should be truthy: got=%v err=%v", v, got, err)
		}
	}
	for _, v := range []string{"", "0", "false", "off", "paused"} {
		_ = s.Set(ctx, KeyBotPaused, v)
		got, err := s.GetBool(ctx, KeyBotPaused)
		if err != nil || got {
			t.Fatalf("%q should be falsy: got=%v err=%v", v, got, err)
		}
	}
}

func TestActiveModelID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.ActiveModelID(ctx)
	if err != nil || id != 0 {
		t.Fatalf("unset must be 0: id=%d err=%v", id, err)
	}

	_ = s.Set(ctx, KeyActiveModelID, "7")
	id, err = s.ActiveModelID(ctx)
	if err != nil || id != 7 {
		t.Fatalf("id=%d err=%v", id, err)
	}

	_ = s.Set(ctx, KeyActiveModelID, "-3")
	id, err = s.ActiveModelID(ctx)
	if err != nil || id != 0 {
		t.Fatalf("negative must read as unset: id=%d err=%v", id, err)
	}
}

func TestGetInt64List(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, KeyErrorNotifyUserIDs, "100, 200;300\n400\t100 junk 200")
	got, err := s.GetInt64List(ctx, KeyErrorNotifyUserIDs)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []int64{100, 200, 300, 400}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}

	got, err = s.GetInt64List(ctx, "missing")
	if err != nil || len(got) != 0 {
		t.Fatalf("absent key must be empty: got=%v err=%v", got, err)
	}
}
