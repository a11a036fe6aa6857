package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func migrationFile(body string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(body)}
}

func TestLoadMigrationsFromFS(t *testing.T) {
	t.Parallel()

	t.Run("orders pairs by version", func(t *testing.T) {
		fsys := fstest.MapFS{
			"sql/migrations/0002_more.up.sql":   migrationFile("CREATE TABLE test_b (id INT);"),
			"sql/migrations/0002_more.down.sql": migrationFile("DROP TABLE IF EXISTS test_b;"),
			"sql/migrations/0001_init.up.sql":   migrationFile("CREATE TABLE test_a (id INT);"),
			"sql/migrations/0001_init.down.sql": migrationFile("DROP TABLE IF EXISTS test_a;"),
		}

		migrations, err := loadMigrationsFromFS(fsys)
		if err != nil {
			t.Fatalf("loadMigrationsFromFS failed: %v", err)
		}
		if len(migrations) != 2 {
			t.Fatalf("expected 2 migrations, got %d", len(migrations))
		}
		if migrations[0].Version != 1 || migrations[0].Name != "init" {
			t.Fatalf("unexpected first migration: %+v", migrations[0])
		}
		if migrations[1].Version != 2 || migrations[1].Name != "more" {
			t.Fatalf("unexpected second migration: %+v", migrations[1])
		}
	})

	t.Run("rejects malformed inputs", func(t *testing.T) {
		cases := []struct {
			name    string
			fsys    fstest.MapFS
			wantErr string
		}{
			{
				name: "up without down",
				fsys: fstest.MapFS{
					"sql/migrations/0001_init.up.sql": migrationFile("CREATE TABLE test_a (id INT);"),
				},
				wantErr: "both up and down",
			},
			{
				name: "file name does not match pattern",
				fsys: fstest.MapFS{
					"sql/migrations/not_a_migration.sql": migrationFile("SELECT 1;"),
				},
				wantErr: "invalid migration file name",
			},
			{
				name: "blank migration body",
				fsys: fstest.MapFS{
					"sql/migrations/0001_init.up.sql":   migrationFile("   \n"),
					"sql/migrations/0001_init.down.sql": migrationFile("DROP TABLE IF EXISTS test;"),
				},
				wantErr: "migration file is empty",
			},
			{
				name: "duplicate up file",
				fsys: fstest.MapFS{
					"sql/migrations/0001_init.up.sql":     migrationFile("CREATE TABLE a (id INT);"),
					"sql/migrations/0001_initer.up.sql":   migrationFile("CREATE TABLE b (id INT);"),
					"sql/migrations/0001_init.down.sql":   migrationFile("DROP TABLE a;"),
					"sql/migrations/0001_initer.down.sql": migrationFile("DROP TABLE b;"),
				},
				wantErr: "name mismatch",
			},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := loadMigrationsFromFS(tc.fsys)
				if err == nil {
					t.Fatal("expected an error")
				}
				if !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got: %v", tc.wantErr, err)
				}
			})
		}
	})
}

func TestEmbeddedMigrationsAreWellFormed(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		t.Fatalf("embedded migrations are broken: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected at least one embedded migration")
	}
	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version <= migrations[i-1].Version {
			t.Fatalf("migrations must be strictly ordered, got %d then %d",
				migrations[i-1].Version, migrations[i].Version)
		}
	}
}
