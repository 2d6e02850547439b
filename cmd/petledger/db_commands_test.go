package main

import (
	"context"
	"os"
	"testing"

	"github.com/brojonat/petledger/service/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *db.TestStore {
	t.Helper()

	// Skip by default - require explicit opt-in
	if os.Getenv("RUN_DB_TESTS") == "" {
		t.Skip("Skipping database integration test (set RUN_DB_TESTS=1 to enable)")
	}
	db.SkipIfNoTestDB(t)

	store := db.NewTestStore(t)
	t.Cleanup(store.Close)
	store.Cleanup(t)

	os.Setenv("DATABASE_URL", db.TestDatabaseURL())
	t.Cleanup(func() { os.Unsetenv("DATABASE_URL") })

	return store
}

func TestDBSubmissionsCommand(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	mint := testMint
	for _, p := range []db.CreateSubmissionParams{
		{Signature: "sigPending", Kind: "transfer_asset", Signer: testOwner, Mint: &mint, Amount: 1, Status: db.StatusPendingConfirmation},
		{Signature: "sigDone", Kind: "mint_token", Signer: testOwner, Mint: &mint, Amount: 10, Decimals: 2, Status: db.StatusConfirmed},
	} {
		_, err := store.CreateSubmission(ctx, p)
		require.NoError(t, err)
	}

	tests := []struct {
		name      string
		args      []string
		checkFunc func(t *testing.T, output string)
	}{
		{
			name: "list all submissions",
			args: []string{"db", "submissions"},
			checkFunc: func(t *testing.T, output string) {
				assert.Contains(t, output, "sigPending")
				assert.Contains(t, output, "sigDone")
			},
		},
		{
			name: "pending only",
			args: []string{"db", "submissions", "--pending"},
			checkFunc: func(t *testing.T, output string) {
				assert.Contains(t, output, "sigPending")
				assert.NotContains(t, output, "sigDone")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := runApp(t, tt.args...)
			require.NoError(t, err)
			tt.checkFunc(t, output)
		})
	}
}

func TestDBMigrateCommand(t *testing.T) {
	setupTestDB(t)

	// idempotent: the test store already applied the schema
	_, err := runApp(t, "db", "migrate")
	require.NoError(t, err)
}

func TestTemporalReconcileCommand_ReportOnly(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.CreateSubmission(context.Background(), db.CreateSubmissionParams{
		Signature: "sigOrphan",
		Kind:      "burn_asset",
		Signer:    testOwner,
		Amount:    1,
		Status:    db.StatusPendingConfirmation,
	})
	require.NoError(t, err)

	// without --fix no Temporal connection is made
	output, err := runApp(t, "temporal", "reconcile")
	require.NoError(t, err)
	assert.Contains(t, output, "sigOrphan")
}

func TestDBCommands_RequireDatabaseURL(t *testing.T) {
	os.Unsetenv("DATABASE_URL")

	_, err := runApp(t, "db", "submissions")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database-url is required")
}
