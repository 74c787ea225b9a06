package postgres

import (
	"reflect"
	"strings"
	"testing"

	"github.com/alanyoungcy/ctfindexer/internal/domain"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: "postgres://x", Host: "ignored"},
			want: "postgres://x",
		},
		{
			name: "defaults",
			cfg:  ClientConfig{Host: "db", Database: "ctf", User: "u", Password: "p"},
			want: "postgres://u:p@db:5432/ctf?sslmode=disable",
		},
		{
			name: "custom port and ssl",
			cfg:  ClientConfig{Host: "db", Port: 6543, Database: "ctf", User: "u", Password: "p", SSLMode: "require"},
			want: "postgres://u:p@db:6543/ctf?sslmode=require",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Errorf("DSN = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTradeQuery(t *testing.T) {
	from, to := uint64(10), uint64(20)

	tests := []struct {
		name      string
		opts      domain.ListOpts
		wantParts []string
		wantArgs  []any
	}{
		{
			name:      "no filters",
			opts:      domain.ListOpts{},
			wantParts: []string{"WHERE market_id = $1", "ORDER BY block_number ASC, log_index ASC"},
			wantArgs:  []any{int64(7)},
		},
		{
			name: "range and paging",
			opts: domain.ListOpts{FromBlock: &from, ToBlock: &to, Limit: 100, Offset: 50},
			wantParts: []string{
				"block_number >= $2",
				"block_number <= $3",
				"LIMIT $4",
				"OFFSET $5",
			},
			wantArgs: []any{int64(7), int64(10), int64(20), 100, 50},
		},
		{
			name:      "upper bound only",
			opts:      domain.ListOpts{ToBlock: &to, Limit: 5},
			wantParts: []string{"block_number <= $2", "LIMIT $3"},
			wantArgs:  []any{int64(7), int64(20), 5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args := tradeQuery("market_id", int64(7), tt.opts)
			for _, part := range tt.wantParts {
				if !strings.Contains(q, part) {
					t.Errorf("query missing %q:\n%s", part, q)
				}
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("args = %#v, want %#v", args, tt.wantArgs)
			}
			if strings.Index(q, "ORDER BY") > strings.Index(q, "LIMIT") && strings.Contains(q, "LIMIT") {
				t.Error("ORDER BY must precede LIMIT")
			}
		})
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/001_init.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sql := string(data)
	for _, want := range []string{
		"UNIQUE (tx_hash, log_index)",
		"condition_id     VARCHAR(66) NOT NULL UNIQUE",
		"CREATE TABLE IF NOT EXISTS sync_state",
		"CREATE TABLE IF NOT EXISTS index_runs",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("migration missing %q", want)
		}
	}
}
