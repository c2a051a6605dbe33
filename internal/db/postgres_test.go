package db

import "testing"

func TestMigrationURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"postgres://u:p@localhost:5432/relay", "pgx5://u:p@localhost:5432/relay"},
		{"postgresql://u:p@db/relay?sslmode=disable", "pgx5://u:p@db/relay?sslmode=disable"},
		{"pgx5://u:p@db/relay", "pgx5://u:p@db/relay"},
	}
	for _, tc := range tests {
		if got := MigrationURL(tc.in); got != tc.want {
			t.Errorf("MigrationURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
