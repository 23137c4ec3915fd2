package chaos

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"libracirc/internal/clients"
	"libracirc/internal/config"
	"libracirc/internal/server"
	"libracirc/internal/storage/storagetest"
)

// newLiveSuite runs the whole service in-process over the test database.
func newLiveSuite(t *testing.T) *Suite {
	t.Helper()
	db := storagetest.Open(t)
	ctx := context.Background()

	cfg := &config.Config{
		FineDailyRateCents: 500,
		DefaultLoanDays:    14,
		LockTimeout:        100 * time.Millisecond,
		RetryMaxAttempts:   2,
		SessionSecret:      "chaos-test",
	}
	app, err := server.Build(cfg, db, nil, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, app.Membership.EnsureOperator(ctx, "chaos", "chaos-password"))

	srv := httptest.NewServer(app.Router)
	t.Cleanup(srv.Close)

	desk, err := clients.NewDeskClient(srv.URL)
	require.NoError(t, err)
	require.NoError(t, desk.Login(ctx, "chaos", "chaos-password"))

	return NewSuite(db, desk, cfg.FineDailyRateCents, zaptest.NewLogger(t))
}

func TestExperimentsHoldAgainstLiveService(t *testing.T) {
	suite := newLiveSuite(t)
	engine := NewEngine(zaptest.NewLogger(t))

	pressure := suite.ConnectionPressure(5, 10, 100)
	pressure.Duration = 0

	for _, exp := range []Experiment{
		suite.ConcurrentIssueRace(10),
		suite.DoubleReturn(5),
		suite.LockContention(),
		pressure,
	} {
		t.Run(exp.Name, func(t *testing.T) {
			res, err := engine.Run(context.Background(), exp)
			require.NoError(t, err)
			assert.Empty(t, res.ActionFailures)
			assert.Empty(t, res.Violations)
			assert.True(t, res.HypothesisHeld)
		})
	}
}

func TestConsistencyProbesDetectDrift(t *testing.T) {
	suite := newLiveSuite(t)
	ctx := context.Background()

	fx, err := suite.newFixture(ctx)
	require.NoError(t, err)

	// An instance marked on loan without an open loan row.
	_, err = suite.db.ExecContext(ctx, `UPDATE book_instances SET status = 'on_loan' WHERE id = $1`, fx.instanceID)
	require.NoError(t, err)

	violations := NewEngine(zap.NewNop()).sample(ctx, suite.ConsistencyProbes())
	require.Len(t, violations, 1)
	assert.Equal(t, "loan_status_mismatch", violations[0].Probe)
	assert.Equal(t, 1.0, violations[0].Actual)
}
