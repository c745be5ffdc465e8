package database

import (
	"testing"
	"testing/fstest"
)

func testSource() Source {
	return Source{
		FS: fstest.MapFS{
			"sql/20260101_090000_create_lamps.up.sql":   {Data: []byte("CREATE TABLE lamps (id TEXT PRIMARY KEY);")},
			"sql/20260101_090000_create_lamps.down.sql": {Data: []byte("DROP TABLE lamps;")},
			"sql/20260102_090000_add_rooms.up.sql":      {Data: []byte("CREATE TABLE rooms (id TEXT PRIMARY KEY);")},
			"sql/20260102_090000_add_rooms.down.sql":    {Data: []byte("DROP TABLE rooms;")},
			"sql/README.md":                             {Data: []byte("ignored")},
		},
		Dir: "sql",
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(testContext(t),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&n)
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := testContext(t)
	src := testSource()

	if err := db.Migrate(ctx, src); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "lamps") || !tableExists(t, db, "rooms") {
		t.Fatal("migrated tables missing")
	}

	applied, pending, err := db.MigrationStatus(ctx, src)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied = %d, pending = %d, want 2 and 0", len(applied), len(pending))
	}
	if applied[0].Version != "20260101_090000" {
		t.Errorf("applied[0].Version = %q, want oldest first", applied[0].Version)
	}

	// Second run is a no-op.
	if err := db.Migrate(ctx, src); err != nil {
		t.Errorf("Migrate() second run error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	ctx := testContext(t)
	src := testSource()

	if err := db.Migrate(ctx, src); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, src); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "rooms") {
		t.Error("latest migration not rolled back")
	}
	if !tableExists(t, db, "lamps") {
		t.Error("older migration rolled back too")
	}

	_, pending, err := db.MigrationStatus(ctx, src)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Name != "add_rooms" {
		t.Errorf("pending = %+v, want add_rooms", pending)
	}
}

func TestMigrateNilSource(t *testing.T) {
	db := openTestDB(t)
	ctx := testContext(t)

	if err := db.Migrate(ctx, Source{}); err != nil {
		t.Errorf("Migrate() with empty source error = %v", err)
	}
	if err := db.MigrateDown(ctx, Source{}); err != nil {
		t.Errorf("MigrateDown() with nothing applied error = %v", err)
	}
}

func TestMigrateFailureStops(t *testing.T) {
	db := openTestDB(t)
	ctx := testContext(t)
	src := Source{FS: fstest.MapFS{
		"20260101_090000_ok.up.sql":     {Data: []byte("CREATE TABLE ok (id INTEGER);")},
		"20260102_090000_broken.up.sql": {Data: []byte("CREATE TABLE nope (;")},
	}}

	if err := db.Migrate(ctx, src); err == nil {
		t.Fatal("Migrate() expected error for broken SQL")
	}
	applied, pending, err := db.MigrationStatus(ctx, src)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 1 || len(pending) != 1 {
		t.Errorf("applied = %d, pending = %d, want 1 and 1", len(applied), len(pending))
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantIsUp    bool
		wantOk      bool
	}{
		{"20260118_120000_create_users.up.sql", "20260118_120000", "create_users", true, true},
		{"20260118_120000_create_users.down.sql", "20260118_120000", "create_users", false, true},
		{"readme.txt", "", "", false, false},
		{"20260118_120000_create_users.sql", "", "", false, false},
		{"invalid.up.sql", "", "", false, false},
		{"2026_12_x.up.sql", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion || name != tt.wantName || isUp != tt.wantIsUp {
				t.Errorf("got (%q, %q, %v), want (%q, %q, %v)",
					version, name, isUp, tt.wantVersion, tt.wantName, tt.wantIsUp)
			}
		})
	}
}
