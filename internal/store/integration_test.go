package store_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/soulo-online/insight/internal/store"
)

func TestStoreAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	pgUser := "insight"
	pgPassword := "insight"
	pgDB := "insight"

	pgC, err := tcPostgres.RunContainer(ctx,
		testcontainers.WithImage("pgvector/pgvector:pg16"),
		tcPostgres.WithDatabase(pgDB),
		tcPostgres.WithUsername(pgUser),
		tcPostgres.WithPassword(pgPassword),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	defer func() { _ = pgC.Terminate(ctx) }()

	pgHost, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	pgPort, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", pgUser, pgPassword, pgHost, pgPort.Port(), pgDB)
	if err := applySchema(ctx, dsn); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}

	if err := st.CreateUser(ctx, "integration@example.com", "hash"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	userID, _, err := st.GetUserByEmail(ctx, "integration@example.com")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}

	// Two entries close to the query vector, one far away, one in the past.
	close1 := unitVector(0)
	close2 := unitVector(1)
	far := unitVector(2)
	old := time.Now().UTC().AddDate(0, -2, 0)

	for _, entry := range []store.JournalEntry{
		{UserID: userID, Content: "went climbing, felt strong", Vector: close1},
		{UserID: userID, Content: "climbing again with friends", Vector: close2},
		{UserID: userID, Content: "grocery list and errands", Vector: far},
		{UserID: userID, Content: "old entry about climbing", Vector: close1, CreatedAt: old},
	} {
		if _, err := st.InsertEntry(ctx, entry); err != nil {
			t.Fatalf("insert entry: %v", err)
		}
	}

	entries, err := st.SearchEntries(ctx, close1, 0.5, 10, userID)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected at least 2 similar entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Similarity > entries[i-1].Similarity {
			t.Fatalf("entries not ordered by similarity: %+v", entries)
		}
	}

	start := time.Now().UTC().AddDate(0, 0, -7)
	recent, err := st.SearchEntriesWithDate(ctx, close1, 0.5, 10, userID, &start, nil)
	if err != nil {
		t.Fatalf("search with date: %v", err)
	}
	for _, entry := range recent {
		if entry.CreatedAt.Before(start) {
			t.Fatalf("time-bounded search returned an old entry: %+v", entry)
		}
	}

	total, err := st.CountEntries(ctx, userID, nil, nil)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 4 {
		t.Fatalf("expected 4 entries, got %d", total)
	}
	bounded, err := st.CountEntries(ctx, userID, &start, nil)
	if err != nil {
		t.Fatalf("bounded count: %v", err)
	}
	if bounded != 3 {
		t.Fatalf("expected 3 recent entries, got %d", bounded)
	}

	res, err := st.ExecuteQuery(ctx, fmt.Sprintf(`SELECT COUNT(*) AS count FROM journal_entries WHERE user_id = '%s'`, userID))
	if err != nil {
		t.Fatalf("execute query: %v", err)
	}
	if !res.Success || len(res.Data) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

// unitVector returns a dimension-sized basis vector with component i set.
func unitVector(i int) []float32 {
	v := make([]float32, store.DefaultEmbeddingDimensions)
	v[i] = 1
	return v
}

func applySchema(ctx context.Context, dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	schemaSQL := `
CREATE EXTENSION IF NOT EXISTS "uuid-ossp";
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS users (
  id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
  email TEXT UNIQUE NOT NULL,
  password_hash TEXT NOT NULL,
  created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS journal_entries (
  id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
  user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  content TEXT NOT NULL,
  embedding vector(1536),
  created_at TIMESTAMPTZ DEFAULT NOW()
);
`
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
