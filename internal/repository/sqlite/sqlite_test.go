package sqlite

import (
	"bytes"
	"context"
	"log"
	"path/filepath"
	"testing"

	"github.com/sakif/ecoloop/internal/model"
)

// newTestDB returns a migrated in-memory database closed at test end.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// newFileDB returns a file-backed database so tests can exercise real
// connection-level concurrency (an in-memory db is pinned to one conn).
func newFileDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "ecoloop.db"))
	if err != nil {
		t.Fatalf("failed to create file db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestUser(t *testing.T, db *DB, name, email string) *model.User {
	t.Helper()
	u := &model.User{Name: name, Email: email, PasswordHash: "hash"}
	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return u
}

func createTestItem(t *testing.T, db *DB, owner *model.User, title, category string) *model.Item {
	t.Helper()
	it := &model.Item{
		Title:     title,
		Category:  category,
		Condition: model.ConditionUsed,
		PriceType: model.PriceFree,
		Town:      "Nairobi",
		OwnerID:   owner.ID,
	}
	if err := db.CreateItem(context.Background(), it, 0); err != nil {
		t.Fatalf("failed to create test item: %v", err)
	}
	return it
}

func pointsOf(t *testing.T, db *DB, id string) int {
	t.Helper()
	u, err := db.GetUserByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetUserByID(%s): %v", id, err)
	}
	return u.EcoPoints
}

func TestNew_MigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")

	first, err := New(path)
	if err != nil {
		t.Fatalf("first New() error = %v", err)
	}
	createTestUser(t, first, "Ann", "ann@example.com")
	first.Close()

	second, err := New(path)
	if err != nil {
		t.Fatalf("reopening migrated db: %v", err)
	}
	defer second.Close()

	if _, err := second.GetUserByEmail(context.Background(), "ann@example.com"); err != nil {
		t.Errorf("data lost across reopen: %v", err)
	}
}

func TestNew_MigratesSilently(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(prev) })

	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	db.Close()

	if buf.Len() != 0 {
		t.Errorf("opening a database logged %q, want nothing", buf.String())
	}
}

func TestDistanceFunction(t *testing.T) {
	db := newTestDB(t)

	var km float64
	err := db.conn.QueryRow(`SELECT distance_km(-1.2921, 36.8219, -4.0435, 39.6682)`).Scan(&km)
	if err != nil {
		t.Fatalf("distance_km query: %v", err)
	}
	if km < 420 || km > 460 {
		t.Errorf("distance_km(Nairobi, Mombasa) = %.1f, want ~440", km)
	}

	var isNull bool
	if err := db.conn.QueryRow(`SELECT distance_km(NULL, 1, 2, 3) IS NULL`).Scan(&isNull); err != nil {
		t.Fatalf("distance_km NULL query: %v", err)
	}
	if !isNull {
		t.Error("distance_km with a NULL argument should be NULL")
	}
}
