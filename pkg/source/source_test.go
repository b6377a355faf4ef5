package source

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseQueryType(t *testing.T) {
	if qt, err := ParseQueryType("Interactive"); err != nil || qt != Interactive {
		t.Errorf("ParseQueryType(Interactive) = %v, %v", qt, err)
	}
	if qt, err := ParseQueryType("scheduled"); err != nil || qt != Scheduled {
		t.Errorf("ParseQueryType(scheduled) = %v, %v", qt, err)
	}
	if _, err := ParseQueryType("adhoc"); !errors.Is(err, ErrInvalidQueryType) {
		t.Errorf("expected ErrInvalidQueryType, got %v", err)
	}
}

func TestFilterInteractive(t *testing.T) {
	f, err := NewFilter(Interactive, "")
	if err != nil {
		t.Fatal(err)
	}
	queries := []Query{
		{Text: "search a", Interactive: true},
		{Text: "search b", Interactive: true, Suspicious: true},
		{Text: "search c", Interactive: false},
		{Text: "search a", Interactive: true},
	}

	texts, ok := f.Apply(User{ID: "1"}, queries)
	if !ok {
		t.Fatal("ordinary user should be included")
	}
	if diff := cmp.Diff([]string{"search a", "search a"}, texts); diff != "" {
		t.Errorf("kept queries mismatch (-want +got):\n%s", diff)
	}

	if _, ok := f.Apply(User{ID: "2", Type: SuspiciousUserType}, queries); ok {
		t.Error("suspicious user should be excluded")
	}
}

func TestFilterScheduledDeduplicates(t *testing.T) {
	f, err := NewFilter(Scheduled, "")
	if err != nil {
		t.Fatal(err)
	}
	queries := []Query{
		{Text: "search x | stats count"},
		{Text: "search y"},
		{Text: "search x | stats count"},
		{Text: "search z", Interactive: true},
	}
	// Suspicious accounts still own scheduled searches.
	texts, ok := f.Apply(User{ID: "1", Type: SuspiciousUserType}, queries)
	if !ok {
		t.Fatal("scheduled filter should not exclude users")
	}
	if diff := cmp.Diff([]string{"search x | stats count", "search y"}, texts); diff != "" {
		t.Errorf("kept queries mismatch (-want +got):\n%s", diff)
	}
}

func TestFilterSourcePattern(t *testing.T) {
	f, err := NewFilter(Interactive, "access_combined|syslog")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		text string
		want bool
	}{
		{`search sourcetype=access_combined | stats count`, true},
		{`search sourcetype = "syslog" error`, true},
		{`search source='syslog'`, true},
		{`search index=main error`, false},
		{`search sourcetype=json`, false},
	}
	for _, tc := range tests {
		texts, _ := f.Apply(User{ID: "u"}, []Query{{Text: tc.text, Interactive: true}})
		if got := len(texts) == 1; got != tc.want {
			t.Errorf("%q: kept = %v, want %v", tc.text, got, tc.want)
		}
	}

	if _, err := NewFilter(Interactive, "(unclosed"); !errors.Is(err, ErrInvalidPattern) {
		t.Errorf("expected ErrInvalidPattern, got %v", err)
	}
}

func TestMemorySource(t *testing.T) {
	ctx := context.Background()
	mem := NewMemorySource()
	mem.Add(User{Name: "bob"}, Query{Text: "search a", Interactive: true})
	mem.Add(User{Name: "alice"}, Query{Text: "search b"})
	mem.Add(User{Name: "bob"}, Query{Text: "search c", Interactive: true})

	users, err := mem.Users(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 || users[0].Name != "bob" || users[1].Name != "alice" {
		t.Fatalf("unexpected users: %+v", users)
	}

	qs, err := mem.Queries(ctx, users[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(qs) != 2 || qs[1].Text != "search c" {
		t.Errorf("unexpected queries for bob: %+v", qs)
	}

	if _, err := mem.Queries(ctx, User{ID: "carol"}); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("expected ErrUnknownUser, got %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := mem.Users(cancelled); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestReadJSONL(t *testing.T) {
	input := `{"user": "alice", "text": "search a | stats count", "interactive": true}

{"user": "mallory", "user_type": "suspicious", "text": "search b", "interactive": true}
{"user": "alice", "text": "search c", "interactive": false, "suspicious": true}
`
	mem, err := ReadJSONL(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadJSONL failed: %v", err)
	}

	users, _ := mem.Users(context.Background())
	want := []User{
		{ID: "alice", Name: "alice"},
		{ID: "mallory", Name: "mallory", Type: SuspiciousUserType},
	}
	if diff := cmp.Diff(want, users); diff != "" {
		t.Errorf("users mismatch (-want +got):\n%s", diff)
	}

	qs, _ := mem.Queries(context.Background(), users[0])
	wantQ := []Query{
		{Text: "search a | stats count", Interactive: true},
		{Text: "search c", Suspicious: true},
	}
	if diff := cmp.Diff(wantQ, qs); diff != "" {
		t.Errorf("queries mismatch (-want +got):\n%s", diff)
	}
}

func TestReadJSONLErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"malformed", `{"user": "a", "text": `},
		{"missing user", `{"text": "search a"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ReadJSONL(strings.NewReader(tc.input)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestOpenJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.jsonl")
	if err := os.WriteFile(path, []byte(`{"user": "a", "text": "search x", "interactive": true}`+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	src, err := OpenJSONL(path)
	if err != nil {
		t.Fatal(err)
	}
	if src.Path() != path {
		t.Errorf("Path() = %q", src.Path())
	}
	users, _ := src.Users(context.Background())
	if len(users) != 1 {
		t.Errorf("expected 1 user, got %d", len(users))
	}

	if _, err := OpenJSONL(filepath.Join(t.TempDir(), "missing.jsonl")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSQLSourceSQLite(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "queries.db")

	// 1. Create the schema and seed it
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, stmt := range strings.Split(Schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("schema: %v", err)
		}
	}
	seed := []string{
		`INSERT INTO users (id, name, user_type) VALUES (1, 'alice', NULL), (2, NULL, 'suspicious')`,
		`INSERT INTO queries (id, user_id, text, is_interactive, is_suspicious) VALUES
			(1, 1, 'search a | stats count', 1, 0),
			(2, 1, 'search b', 0, 0),
			(3, 2, 'search c', 1, 1)`,
	}
	for _, stmt := range seed {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	db.Close()

	// 2. Read it back through the source
	src, err := OpenSQL(ctx, SQLite, dbPath)
	if err != nil {
		t.Fatalf("OpenSQL failed: %v", err)
	}
	defer src.Close()

	users, err := src.Users(ctx)
	if err != nil {
		t.Fatal(err)
	}
	wantUsers := []User{
		{ID: "1", Name: "alice"},
		{ID: "2", Name: "2", Type: SuspiciousUserType},
	}
	if diff := cmp.Diff(wantUsers, users); diff != "" {
		t.Errorf("users mismatch (-want +got):\n%s", diff)
	}

	qs, err := src.Queries(ctx, users[0])
	if err != nil {
		t.Fatal(err)
	}
	wantQ := []Query{
		{Text: "search a | stats count", Interactive: true},
		{Text: "search b"},
	}
	if diff := cmp.Diff(wantQ, qs); diff != "" {
		t.Errorf("queries mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDialect(t *testing.T) {
	if d, err := ParseDialect("PostgreSQL"); err != nil || d != Postgres {
		t.Errorf("ParseDialect(PostgreSQL) = %v, %v", d, err)
	}
	if _, err := ParseDialect("mysql"); err == nil {
		t.Error("expected error for mysql")
	}
	if _, err := OpenSQL(context.Background(), Postgres, ""); err == nil {
		t.Error("expected error for empty DSN")
	}
}
