package capture

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/skobkin/camlink/internal/connectors"
)

func openTestDB(t *testing.T) *FrameRepo {
	t.Helper()

	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "capture", "frames.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return NewFrameRepo(db)
}

func TestFrameRepoInsertAndListRecent(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t)
	base := time.UnixMilli(1700000000000)

	frames := []connectors.RawFrame{
		connectors.NewRawFrame(connectors.FrameDirectionOut, "wifi", []byte{0x01}, base),
		connectors.NewRawFrame(connectors.FrameDirectionIn, "wifi", []byte{0x02, 0x03}, base.Add(time.Second)),
		connectors.NewRawFrame(connectors.FrameDirectionIn, "ble", []byte{0x04}, base.Add(2*time.Second)),
	}
	for _, f := range frames {
		if err := repo.Insert(ctx, f); err != nil {
			t.Fatalf("insert frame: %v", err)
		}
	}

	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("count frames: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 frames, got %d", count)
	}

	recent, err := repo.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("list frames: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(recent))
	}
	if recent[0].Transport != "ble" || !bytes.Equal(recent[0].Payload, []byte{0x04}) {
		t.Fatalf("expected newest frame first, got %+v", recent[0])
	}
	if recent[1].Direction != connectors.FrameDirectionIn || !bytes.Equal(recent[1].Payload, []byte{0x02, 0x03}) {
		t.Fatalf("unexpected second frame %+v", recent[1])
	}
	if !recent[1].At.Equal(base.Add(time.Second)) {
		t.Fatalf("timestamp did not round trip: %s", recent[1].At)
	}
}

func TestFrameRepoClear(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t)

	if err := repo.Insert(ctx, connectors.NewRawFrame(connectors.FrameDirectionIn, "wifi", []byte{0x01}, time.Now())); err != nil {
		t.Fatalf("insert frame: %v", err)
	}
	if err := repo.Clear(ctx); err != nil {
		t.Fatalf("clear frames: %v", err)
	}
	if count, err := repo.Count(ctx); err != nil || count != 0 {
		t.Fatalf("expected empty table, got %d, %v", count, err)
	}
}

func TestOpenSetsSchemaVersionAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "frames.db")

	db, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	_ = db.Close()

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	var version int
	if err := reopened.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
		t.Fatalf("read user_version: %v", err)
	}
	if version != len(migrations) {
		t.Fatalf("expected schema version %d, got %d", len(migrations), version)
	}
}
