//go:build integration

package episodic

import (
	"context"
	"testing"
	"time"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func TestPostgresEpisodeFlow(t *testing.T) {
	ctx := context.Background()
	pg, err := tcpostgres.RunContainer(ctx,
		tcpostgres.WithDatabase("tandem"),
		tcpostgres.WithUsername("tandem"),
		tcpostgres.WithPassword("tandem"),
		tcpostgres.WithSQLDriver("pgx"),
	)
	if err != nil {
		t.Skipf("skip: cannot start postgres: %v", err)
	}
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	st, err := Open(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	base := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	for i, goal := range []string{"ship release", "fix regression"} {
		_, err := st.Append(ctx, Episode{
			TurnID:    "turn-pg",
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			Goal:      goal,
			Outcome:   "done",
			Summary:   goal + " went fine",
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	res, err := ExecCapped(ctx, st.DB(),
		"SELECT goal FROM episodes ORDER BY started_at", DefaultCaps())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 2 || res.Rows[0][0] != "ship release" {
		t.Fatalf("res=%+v", res)
	}

	// the capping wrapper must hold on postgres as well
	capped, err := ExecCapped(ctx, st.DB(), "SELECT goal FROM episodes LIMIT 50",
		Caps{MaxRows: 1, MaxFieldChars: 200, MaxTotalChars: 4000})
	if err != nil {
		t.Fatal(err)
	}
	if len(capped.Rows) != 1 || !capped.Truncated || capped.Reason != ReasonRowCap {
		t.Fatalf("capped=%+v", capped)
	}
}
