package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"capexline/internal/app"
	"capexline/internal/apperr"
	"capexline/internal/config"
	"capexline/internal/db"
	"capexline/internal/domain"
	"capexline/internal/engine"
	"capexline/internal/engine/auth"
	"capexline/internal/engine/distribution"
	"capexline/internal/migrate"
	"capexline/internal/registry"
	"capexline/internal/repo"
)

type testEnv struct {
	Engine *engine.Engine
	App    *app.Context
	Ctx    context.Context
	Dir    string
}

var fixedNow = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	return newTestEnvWith(t, t.TempDir(), config.Default("FY25"))
}

func newTestEnvWith(t *testing.T, dir string, cfg *config.Config) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err, "open db")
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	require.NoError(t, migrate.Migrate(ctx, conn), "migrate")
	eng, err := engine.New(conn, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	eng.Now = func() time.Time { return fixedNow }
	require.NoError(t, eng.Load(ctx))
	appCtx, err := app.Load(ctx, eng.Repo, cfg, dir)
	require.NoError(t, err)
	return testEnv{Engine: eng, App: appCtx, Ctx: ctx, Dir: dir}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func intake(code, macro string) domain.ProjectRecord {
	return domain.ProjectRecord{
		Code:        code,
		Name:        "Fiber ring " + code,
		MacroKey:    macro,
		Type:        domain.TypeExpansion,
		LocalAmount: d("3124563230"),
		Director:    "Director Ops",
		Manager:     "Manager Net",
		Investment:  d("120000000"),
		NPV:         d("80000000"),
	}
}

func guardErr(t *testing.T, err error) *apperr.GuardError {
	t.Helper()
	var g *apperr.GuardError
	require.True(t, errors.As(err, &g), "want GuardError, got %v", err)
	return g
}

// toPressureTest walks a fresh Maintenance record up to PressureTest.
func toPressureTest(t *testing.T, env testEnv, code string) domain.ProjectRecord {
	t.Helper()
	e := env.Engine
	_, err := e.AddProject(env.Ctx, intake(code, "CORE"), "tester")
	require.NoError(t, err)
	_, err = e.Advance(env.Ctx, code, "tester")
	require.NoError(t, err)
	_, err = e.Classify(env.Ctx, "CORE", domain.CategoryMaintenance, "Ana", "tester")
	require.NoError(t, err)
	_, err = e.Advance(env.Ctx, code, "tester")
	require.NoError(t, err)
	_, err = e.AttachEvidence(env.Ctx, code, domain.EvidenceRiskMatrix, "risk-matrix-v1.pdf", "tester")
	require.NoError(t, err)
	_, err = e.Advance(env.Ctx, code, "tester")
	require.NoError(t, err)
	_, err = e.Evaluate(env.Ctx, code)
	require.NoError(t, err)
	_, err = e.RecordDecision(env.Ctx, code, domain.VerdictApprove, "", "dir")
	require.NoError(t, err)
	rec, err := e.Advance(env.Ctx, code, "tester")
	require.NoError(t, err)
	require.Equal(t, domain.StagePressureTest, rec.Stage)
	return rec
}

func attestChecklist(t *testing.T, env testEnv, code string) {
	t.Helper()
	for _, item := range env.Engine.Config.Checklist() {
		_, err := env.Engine.AttestReview(env.Ctx, code, item, "", "dir")
		require.NoError(t, err)
	}
}

// consolidate walks a fresh record through every planning stage.
func consolidate(t *testing.T, env testEnv, code string) domain.ProjectRecord {
	t.Helper()
	e := env.Engine
	toPressureTest(t, env, code)
	attestChecklist(t, env, code)
	_, err := e.RecordDecision(env.Ctx, code, domain.VerdictApprove, "", "dir")
	require.NoError(t, err)
	rec, err := e.Advance(env.Ctx, code, "tester")
	require.NoError(t, err)
	require.Equal(t, domain.StageConsolidation, rec.Stage)
	return rec
}

func TestAddProjectStartsInIdentification(t *testing.T) {
	env := newTestEnv(t)
	rec, err := env.Engine.AddProject(env.Ctx, intake("PRJ001", "CORE"), "tester")
	require.NoError(t, err)
	assert.Equal(t, domain.StageIdentification, rec.Stage)
	assert.Equal(t, "735191.35", rec.ReferenceAmount.StringFixed(2))

	_, err = env.Engine.AddProject(env.Ctx, intake("PRJ001", "RED"), "tester")
	assert.ErrorIs(t, err, apperr.ErrDuplicateCode)

	_, err = env.Engine.AddProject(env.Ctx, intake("PRJ002", "CORE"), "tester")
	require.NoError(t, err)
	totals := env.Engine.Totals()
	require.Len(t, totals, 1)
	assert.Equal(t, 2, totals[0].Count)
	assert.True(t, totals[0].Local.Equal(d("6249126460")))

	stored, err := env.Engine.Repo.ListClassifications(env.Ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "CORE", stored[0].MacroKey)
	assert.False(t, stored[0].Category.IsSet())
}

func TestIdentificationGuardListsMissingFields(t *testing.T) {
	env := newTestEnv(t)
	rec := intake("PRJ001", "CORE")
	rec.Director = ""
	rec.LocalAmount = decimal.Zero
	_, err := env.Engine.AddProject(env.Ctx, rec, "tester")
	require.NoError(t, err)

	_, err = env.Engine.Advance(env.Ctx, "PRJ001", "tester")
	g := guardErr(t, err)
	assert.Equal(t, []string{"local_amount", "director"}, g.Missing)
	assert.NotEmpty(t, g.Hint)

	_, err = env.Engine.Advance(env.Ctx, "NOPE", "tester")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestClassificationGatesSupport(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	_, err := e.AddProject(env.Ctx, intake("PRJ001", "CORE"), "tester")
	require.NoError(t, err)
	_, err = e.Advance(env.Ctx, "PRJ001", "tester")
	require.NoError(t, err)

	_, err = e.Advance(env.Ctx, "PRJ001", "tester")
	g := guardErr(t, err)
	assert.Contains(t, g.Hint, "return to Classification")
	assert.Equal(t, []string{"category", "owner"}, g.Missing)

	_, err = e.Classify(env.Ctx, "CORE", domain.CategoryObligatory, "  ", "tester")
	require.NoError(t, err)
	_, err = e.Advance(env.Ctx, "PRJ001", "tester")
	assert.Equal(t, []string{"owner"}, guardErr(t, err).Missing)

	_, err = e.Classify(env.Ctx, "CORE", domain.CategoryObligatory, "Ana", "tester")
	require.NoError(t, err)
	rec, err := e.Advance(env.Ctx, "PRJ001", "tester")
	require.NoError(t, err)
	assert.Equal(t, domain.StageSupport, rec.Stage)

	views := e.ListProjects(engine.ProjectFilter{})
	require.Len(t, views, 1)
	assert.Equal(t, domain.EvidenceRegulatory, views[0].RequiredEvidence)
}

func TestSupportRequiresMatchingEvidence(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	_, err := e.AddProject(env.Ctx, intake("PRJ001", "CORE"), "tester")
	require.NoError(t, err)
	_, err = e.AttachEvidence(env.Ctx, "PRJ001", domain.EvidenceBusiness, "bc.xlsx", "tester")
	assert.ErrorIs(t, err, apperr.ErrGuardFailed, "no attachments before Support")

	_, err = e.Advance(env.Ctx, "PRJ001", "tester")
	require.NoError(t, err)
	_, err = e.Classify(env.Ctx, "CORE", domain.CategoryObligatory, "Ana", "tester")
	require.NoError(t, err)
	_, err = e.Advance(env.Ctx, "PRJ001", "tester")
	require.NoError(t, err)

	_, err = e.Advance(env.Ctx, "PRJ001", "tester")
	g := guardErr(t, err)
	assert.Contains(t, g.Reason, "no RegulatoryEvidence evidence")

	_, err = e.AttachEvidence(env.Ctx, "PRJ001", domain.EvidenceBusiness, "bc.xlsx", "tester")
	require.NoError(t, err)
	_, err = e.Advance(env.Ctx, "PRJ001", "tester")
	g = guardErr(t, err)
	assert.Contains(t, g.Reason, "classification/evidence mismatch")
	assert.Equal(t, []string{"RegulatoryEvidence"}, g.Missing)

	_, err = e.AttachEvidence(env.Ctx, "PRJ001", domain.EvidenceType("Photo"), "x", "tester")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = e.AttachEvidence(env.Ctx, "PRJ001", domain.EvidenceRegulatory, "resolution-123", "tester")
	require.NoError(t, err)
	rec, err := e.Advance(env.Ctx, "PRJ001", "tester")
	require.NoError(t, err)
	assert.Equal(t, domain.StageValidation, rec.Stage)
}

func TestDecisionRequiresEvaluation(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	_, err := e.AddProject(env.Ctx, intake("PRJ001", "CORE"), "tester")
	require.NoError(t, err)
	_, err = e.RecordDecision(env.Ctx, "PRJ001", domain.VerdictApprove, "", "dir")
	assert.ErrorIs(t, err, apperr.ErrGuardFailed, "not in Validation")

	_, _ = e.Advance(env.Ctx, "PRJ001", "tester")
	_, _ = e.Classify(env.Ctx, "CORE", domain.CategoryEBITDAGrowth, "Ana", "tester")
	_, _ = e.Advance(env.Ctx, "PRJ001", "tester")
	_, _ = e.AttachEvidence(env.Ctx, "PRJ001", domain.EvidenceBusiness, "bc.xlsx", "tester")
	rec, err := e.Advance(env.Ctx, "PRJ001", "tester")
	require.NoError(t, err)
	require.Equal(t, domain.StageValidation, rec.Stage)

	_, err = e.Advance(env.Ctx, "PRJ001", "tester")
	assert.Contains(t, guardErr(t, err).Hint, "evaluate")
	_, err = e.RecordDecision(env.Ctx, "PRJ001", domain.VerdictApprove, "", "dir")
	assert.Contains(t, guardErr(t, err).Reason, "not been evaluated")

	res, err := e.Evaluate(env.Ctx, "PRJ001")
	require.NoError(t, err)
	assert.Equal(t, "0.667", res.RatioDisplay())
	assert.Equal(t, domain.SeverityNoObservations, res.Severity)

	_, err = e.RecordDecision(env.Ctx, "PRJ001", domain.Verdict("Maybe"), "", "dir")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	dec, err := e.RecordDecision(env.Ctx, "PRJ001", domain.VerdictReject, "rework the model", "dir")
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityNoObservations, dec.Severity)

	_, err = e.Advance(env.Ctx, "PRJ001", "tester")
	assert.Contains(t, guardErr(t, err).Reason, "rejected")

	_, err = e.RecordDecision(env.Ctx, "PRJ001", domain.VerdictModify, "ok with changes", "dir")
	require.NoError(t, err)
	rec, err = e.Advance(env.Ctx, "PRJ001", "tester")
	require.NoError(t, err)
	assert.Equal(t, domain.StagePressureTest, rec.Stage)
}

func TestModelChangeDiscardsEvaluation(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	_, err := e.AddProject(env.Ctx, intake("PRJ001", "CORE"), "tester")
	require.NoError(t, err)
	_, err = e.Evaluate(env.Ctx, "PRJ001")
	require.NoError(t, err)
	assert.Len(t, e.ListProjects(engine.ProjectFilter{Severity: domain.SeverityNoObservations}), 1)

	npv := d("-1")
	_, err = e.UpdateProject(env.Ctx, "PRJ001", registry.Patch{NPV: &npv}, "tester")
	require.NoError(t, err)
	assert.Empty(t, e.ListProjects(engine.ProjectFilter{Severity: domain.SeverityNoObservations}))

	res, err := e.Evaluate(env.Ctx, "PRJ001")
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityCriticalErrors, res.Severity)

	zero := decimal.Zero
	_, err = e.UpdateProject(env.Ctx, "PRJ001", registry.Patch{Investment: &zero}, "tester")
	require.NoError(t, err)
	_, err = e.Evaluate(env.Ctx, "PRJ001")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = e.UpdateProject(env.Ctx, "PRJ001", registry.Patch{}, "tester")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestPressureTestToConsolidationOpensPlan(t *testing.T) {
	env := newTestEnv(t)
	rec := consolidate(t, env, "PRJ001")
	assert.Equal(t, domain.FollowUpPlan, rec.FollowUp)

	again, err := env.Engine.Advance(env.Ctx, "PRJ001", "tester")
	require.NoError(t, err, "Consolidation is terminal and advancing is a no-op")
	assert.Equal(t, domain.StageConsolidation, again.Stage)

	detail, err := env.Engine.GetProject(env.Ctx, "PRJ001")
	require.NoError(t, err)
	assert.Len(t, detail.Decisions, 2)
	require.NotNil(t, detail.Distribution)
	assert.Equal(t, distribution.NotStarted, detail.Distribution.State)
}

func TestFollowUpDistributionGuard(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	_, err := e.AddProject(env.Ctx, intake("PRJ000", "CORE"), "tester")
	require.NoError(t, err)
	_, err = e.SetMonthlyPlan(env.Ctx, "PRJ000", domain.MonthlyPlan{}, false, "tester")
	assert.ErrorIs(t, err, apperr.ErrGuardFailed, "no plan before Consolidation")
	_, err = e.AdvanceFollowUp(env.Ctx, "PRJ000", "tester")
	assert.ErrorIs(t, err, apperr.ErrGuardFailed)

	consolidate(t, env, "PRJ001")
	_, err = e.AdvanceFollowUp(env.Ctx, "PRJ001", "tester")
	assert.Contains(t, guardErr(t, err).Reason, "not been started")

	plan := distribution.Even(d("3124563230"))
	plan[3] = plan[3].Add(decimal.NewFromInt(1))
	status, err := e.SetMonthlyPlan(env.Ctx, "PRJ001", plan, false, "tester")
	require.NoError(t, err)
	assert.Equal(t, distribution.Mismatched, status.State)
	assert.Equal(t, "-1", status.Delta.String())
	_, err = e.AdvanceFollowUp(env.Ctx, "PRJ001", "tester")
	assert.Contains(t, guardErr(t, err).Reason, "delta -1")

	bad := plan
	bad[0] = d("-5")
	_, err = e.SetMonthlyPlan(env.Ctx, "PRJ001", bad, false, "tester")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	plan[3] = plan[3].Sub(decimal.NewFromInt(1))
	status, err = e.SetMonthlyPlan(env.Ctx, "PRJ001", plan, false, "tester")
	require.NoError(t, err)
	assert.True(t, status.CanComplete())

	for _, want := range []domain.FollowUpStage{domain.FollowUpValidation, domain.FollowUpRelease, domain.FollowUpTracking, domain.FollowUpAdjustments} {
		rec, err := e.AdvanceFollowUp(env.Ctx, "PRJ001", "tester")
		require.NoError(t, err)
		assert.Equal(t, want, rec.FollowUp)
	}
	rec, err := e.AdvanceFollowUp(env.Ctx, "PRJ001", "tester")
	require.NoError(t, err)
	assert.Equal(t, domain.FollowUpAdjustments, rec.FollowUp)

	shifted := plan
	shifted[0] = plan[0].Mul(d("1.5"))
	shifted[1] = plan[1].Sub(plan[0].Mul(d("0.5")))
	_, err = e.SetMonthlyPlan(env.Ctx, "PRJ001", shifted, false, "tester")
	g := guardErr(t, err)
	assert.Equal(t, []string{"JAN", "FEB"}, g.Missing)
	assert.Contains(t, g.Reason, "15%")

	status, err = e.SetMonthlyPlan(env.Ctx, "PRJ001", shifted, true, "director")
	require.NoError(t, err)
	assert.True(t, status.CanComplete())
	stored, _, err := e.GetPlan(env.Ctx, "PRJ001")
	require.NoError(t, err)
	assert.True(t, stored[0].Equal(shifted[0]))
}

func TestRemoveProjectNeedsConfirmation(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	_, err := e.AddProject(env.Ctx, intake("PRJ001", "CORE"), "tester")
	require.NoError(t, err)

	err = e.RemoveProject(env.Ctx, "PRJ001", false, "tester")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	assert.Equal(t, 1, e.Registry.Len())

	require.NoError(t, e.RemoveProject(env.Ctx, "PRJ001", true, "tester"))
	assert.ErrorIs(t, e.RemoveProject(env.Ctx, "PRJ001", true, "tester"), apperr.ErrNotFound)
	assert.Empty(t, e.Totals())
	_, err = e.Repo.GetProject(env.Ctx, "PRJ001")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestLoadRestoresPersistedState(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	_, err := e.AddProject(env.Ctx, intake("PRJ002", "RED"), "tester")
	require.NoError(t, err)
	_, err = e.AddProject(env.Ctx, intake("PRJ001", "CORE"), "tester")
	require.NoError(t, err)
	_, err = e.Classify(env.Ctx, "CORE", domain.CategoryMaintenance, "Ana", "tester")
	require.NoError(t, err)
	_, err = e.Advance(env.Ctx, "PRJ001", "tester")
	require.NoError(t, err)

	reloaded := newTestEnvWith(t, env.Dir, config.Default("FY25"))
	got := reloaded.Engine.ListProjects(engine.ProjectFilter{})
	require.Len(t, got, 2)
	assert.Equal(t, "PRJ002", got[0].Code, "insertion order survives a reload")
	assert.Equal(t, domain.StageClassification, got[1].Stage)
	assert.Equal(t, domain.CategoryMaintenance, got[1].Category)
	assert.Equal(t, []string{"RED", "CORE"}, []string{
		reloaded.Engine.Classifications()[0].MacroKey,
		reloaded.Engine.Classifications()[1].MacroKey,
	})
}

func TestExchangeRateChangeIsPersisted(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	_, err := e.AddProject(env.Ctx, intake("PRJ009", "CORE"), "tester")
	require.NoError(t, err)

	first, second := d("3999.99"), d("4100.5")
	require.NoError(t, e.UpdateParameters(env.Ctx, env.App, engine.ParameterPatch{ExchangeRate: &first}, "admin"))
	require.NoError(t, e.UpdateParameters(env.Ctx, env.App, engine.ParameterPatch{ExchangeRate: &second}, "admin"))
	assert.True(t, env.App.ExchangeRate.Equal(second))

	rec, err := e.Repo.GetProject(env.Ctx, "PRJ009")
	require.NoError(t, err)
	assert.Equal(t, "761995.67", rec.ReferenceAmount.StringFixed(2))

	bad := decimal.Zero
	err = e.UpdateParameters(env.Ctx, env.App, engine.ParameterPatch{ExchangeRate: &bad}, "admin")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	theme := "purple"
	err = e.UpdateParameters(env.Ctx, env.App, engine.ParameterPatch{Theme: &theme}, "admin")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	reloaded := newTestEnvWith(t, env.Dir, config.Default("FY25"))
	assert.True(t, reloaded.Engine.Registry.ExchangeRate().Equal(second))
	assert.True(t, reloaded.App.ExchangeRate.Equal(second))
}

func TestMissingRowIsRefusedInProduction(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	_, err := e.AddProject(env.Ctx, intake("PRJ001", "CORE"), "tester")
	require.NoError(t, err)
	_, err = e.DB.ExecContext(env.Ctx, `DELETE FROM projects WHERE code=?`, "PRJ001")
	require.NoError(t, err)

	name := "renamed"
	_, err = e.UpdateProject(env.Ctx, "PRJ001", registry.Patch{Name: &name}, "tester")
	assert.ErrorIs(t, err, apperr.ErrInvariant)
	rec, ok := e.Registry.Get("PRJ001")
	require.True(t, ok)
	assert.Equal(t, "Fiber ring PRJ001", rec.Name, "registry rolled back")
}

func TestMissingRowPanicsInDevelopment(t *testing.T) {
	cfg := config.Default("FY25")
	cfg.Cycle.Mode = config.ModeDevelopment
	env := newTestEnvWith(t, t.TempDir(), cfg)
	e := env.Engine
	_, err := e.AddProject(env.Ctx, intake("PRJ001", "CORE"), "tester")
	require.NoError(t, err)
	_, err = e.DB.ExecContext(env.Ctx, `DELETE FROM projects WHERE code=?`, "PRJ001")
	require.NoError(t, err)

	name := "renamed"
	assert.Panics(t, func() {
		_, _ = e.UpdateProject(env.Ctx, "PRJ001", registry.Patch{Name: &name}, "tester")
	})
}

func completeCase() domain.BusinessCase {
	return domain.BusinessCase{
		Name:           "Private 5G for ports",
		Quarter:        "2025-Q1",
		Leader:         "Luis",
		Categorization: "Connectivity",
		Probability:    domain.LevelHigh,
		Impact:         domain.LevelMedium,
		ContextTrigger: "Port operators asking for SLAs",
		Recommendation: domain.StrategicRecommendation{Roadmap: "pilot in Q2", TechnicalDetails: "n78 band"},
		Impacts:        domain.BusinessImpact{Quantifiable: "+3M revenue", Strategic: "enterprise share"},
		Support:        domain.SupportData{Internal: "sales pipeline"},
	}
}

func TestBusinessCaseLadder(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine

	draft, err := e.CreateCase(env.Ctx, domain.BusinessCase{Name: "Idea", Quarter: "2025-Q1"}, "tester")
	require.NoError(t, err)
	assert.Equal(t, domain.CaseDraft, draft.Stage)

	_, err = e.PromoteCase(env.Ctx, draft.ID, "tester")
	var incomplete *apperr.IncompleteCaseError
	require.True(t, errors.As(err, &incomplete))
	assert.Contains(t, incomplete.Missing, "leader")
	got, err := e.GetCase(env.Ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CaseDraft, got.Stage)

	full, err := e.UpdateCase(env.Ctx, draft.ID, completeCase(), "tester")
	require.NoError(t, err)
	assert.Equal(t, draft.CreatedAt, full.CreatedAt)

	for _, want := range []domain.CaseStage{domain.CaseTechnicalReview, domain.CaseFinancialEvaluation, domain.CaseSteeringCommittee, domain.CaseApproved} {
		c, err := e.PromoteCase(env.Ctx, draft.ID, "tester")
		require.NoError(t, err)
		assert.Equal(t, want, c.Stage)
	}
	c, err := e.PromoteCase(env.Ctx, draft.ID, "tester")
	require.NoError(t, err, "promoting an approved case is a no-op")
	assert.Equal(t, domain.CaseApproved, c.Stage)

	_, err = e.UpdateCase(env.Ctx, draft.ID, completeCase(), "tester")
	assert.ErrorIs(t, err, apperr.ErrGuardFailed)
	_, err = e.RejectCase(env.Ctx, draft.ID, "late", "dir")
	assert.ErrorIs(t, err, apperr.ErrGuardFailed)

	other, err := e.CreateCase(env.Ctx, completeCase(), "tester")
	require.NoError(t, err)
	rejected, err := e.RejectCase(env.Ctx, other.ID, "no budget", "dir")
	require.NoError(t, err)
	assert.Equal(t, domain.CaseRejected, rejected.Stage)
	reopened, err := e.ResubmitCase(env.Ctx, other.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, domain.CaseDraft, reopened.Stage)

	list, err := e.ListCases(env.Ctx, "2025-Q1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
	list, err = e.ListCases(env.Ctx, "2025-Q2")
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorIs(t, e.DeleteCase(env.Ctx, other.ID, false, "tester"), apperr.ErrInvalidInput)
	require.NoError(t, e.DeleteCase(env.Ctx, other.ID, true, "tester"))
	_, err = e.GetCase(env.Ctx, other.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	bad := completeCase()
	bad.Probability = domain.Level("Certain")
	_, err = e.CreateCase(env.Ctx, bad, "tester")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestUsersAndSession(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	u, err := e.CreateUser(env.Ctx, engine.UserInput{Name: "Ana", Email: "Ana@Example.com", Password: "s3cret-pass", Role: domain.RoleDirector}, "admin")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", u.Email)
	assert.NotEqual(t, "s3cret-pass", u.PasswordHash)

	_, err = e.CreateUser(env.Ctx, engine.UserInput{Name: "Ana 2", Email: "ana@example.com", Password: "s3cret-pass", Role: domain.RoleManager}, "admin")
	assert.ErrorIs(t, err, apperr.ErrDuplicateCode)
	_, err = e.CreateUser(env.Ctx, engine.UserInput{Name: "Bob", Email: "not-an-email", Password: "s3cret-pass", Role: domain.RoleManager}, "admin")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	authn := auth.NewService(e.Repo, e.Config)
	_, err = e.Login(env.Ctx, env.App, authn, "ana@example.com", "wrong-pass")
	assert.ErrorIs(t, err, apperr.ErrAuthFailure)
	assert.Nil(t, env.App.Session)

	p, err := e.Login(env.Ctx, env.App, authn, "ana@example.com", "s3cret-pass")
	require.NoError(t, err)
	assert.True(t, p.Has("planning.approve"))
	require.NotNil(t, env.App.Session)

	stored, err := app.Load(env.Ctx, e.Repo, e.Config, env.Dir)
	require.NoError(t, err)
	s, err := stored.ActiveSession(fixedNow)
	require.NoError(t, err)
	assert.Equal(t, u.ID, s.UserID)

	inactive := domain.UserInactive
	_, err = e.UpdateUser(env.Ctx, u.ID, engine.UserPatch{Status: &inactive}, "admin")
	require.NoError(t, err)
	_, err = e.Login(env.Ctx, env.App, authn, "ana@example.com", "s3cret-pass")
	assert.ErrorIs(t, err, apperr.ErrAuthFailure)

	require.NoError(t, e.Logout(env.Ctx, env.App))
	stored, err = app.Load(env.Ctx, e.Repo, e.Config, env.Dir)
	require.NoError(t, err)
	_, err = stored.ActiveSession(fixedNow)
	assert.ErrorIs(t, err, apperr.ErrAuthFailure)
}

func TestMutationsAreLogged(t *testing.T) {
	env := newTestEnv(t)
	consolidate(t, env, "PRJ001")
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 100, 0, repo.EventFilter{CycleID: "FY25", EntityID: "PRJ001"})
	require.NoError(t, err)
	var advanced int
	for _, ev := range evts {
		assert.Equal(t, "2025-01-06T09:00:00Z", ev.TS)
		if ev.Type == "project.advanced" {
			advanced++
		}
	}
	assert.Equal(t, 5, advanced)
}

func TestEvaluationOutlivesTheEngine(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	_, err := e.AddProject(env.Ctx, intake("PRJ001", "CORE"), "tester")
	require.NoError(t, err)
	_, _ = e.Advance(env.Ctx, "PRJ001", "tester")
	_, _ = e.Classify(env.Ctx, "CORE", domain.CategoryMaintenance, "Ana", "tester")
	_, _ = e.Advance(env.Ctx, "PRJ001", "tester")
	_, _ = e.AttachEvidence(env.Ctx, "PRJ001", domain.EvidenceRiskMatrix, "rm.pdf", "tester")
	rec, err := e.Advance(env.Ctx, "PRJ001", "tester")
	require.NoError(t, err)
	require.Equal(t, domain.StageValidation, rec.Stage)

	_, err = e.Evaluate(env.Ctx, "PRJ001")
	require.NoError(t, err)

	// Each CLI command opens its own engine over the workspace.
	second := newTestEnvWith(t, env.Dir, config.Default("FY25"))
	assert.Len(t, second.Engine.ListProjects(engine.ProjectFilter{Severity: domain.SeverityNoObservations}), 1)
	_, err = second.Engine.RecordDecision(second.Ctx, "PRJ001", domain.VerdictApprove, "", "dir")
	require.NoError(t, err)

	third := newTestEnvWith(t, env.Dir, config.Default("FY25"))
	rec, err = third.Engine.Advance(third.Ctx, "PRJ001", "tester")
	require.NoError(t, err)
	assert.Equal(t, domain.StagePressureTest, rec.Stage)
}

func TestSessionBoundaryDropsEvaluations(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	_, err := e.CreateUser(env.Ctx, engine.UserInput{Name: "Ana", Email: "ana@example.com", Password: "s3cret-pass", Role: domain.RoleDirector}, "admin")
	require.NoError(t, err)
	authn := auth.NewService(e.Repo, e.Config)
	_, err = e.Login(env.Ctx, env.App, authn, "ana@example.com", "s3cret-pass")
	require.NoError(t, err)

	_, err = e.AddProject(env.Ctx, intake("PRJ001", "CORE"), "tester")
	require.NoError(t, err)
	_, err = e.Evaluate(env.Ctx, "PRJ001")
	require.NoError(t, err)
	require.Len(t, e.ListProjects(engine.ProjectFilter{Severity: domain.SeverityNoObservations}), 1)

	require.NoError(t, e.Logout(env.Ctx, env.App))
	assert.Empty(t, e.ListProjects(engine.ProjectFilter{Severity: domain.SeverityNoObservations}))
	reloaded := newTestEnvWith(t, env.Dir, config.Default("FY25"))
	assert.Empty(t, reloaded.Engine.ListProjects(engine.ProjectFilter{Severity: domain.SeverityNoObservations}))
}

func TestChecklistGatesConsolidation(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	toPressureTest(t, env, "PRJ001")
	_, err := e.RecordDecision(env.Ctx, "PRJ001", domain.VerdictApprove, "", "dir")
	require.NoError(t, err)

	_, err = e.Advance(env.Ctx, "PRJ001", "tester")
	g := guardErr(t, err)
	assert.Contains(t, g.Reason, "checklist")
	assert.Equal(t, []string{"support_files", "value_at_risk", "methodology", "npv_assumptions"}, g.Missing)

	_, err = e.AttestReview(env.Ctx, "PRJ001", domain.ReviewItem("vibes"), "", "dir")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = e.AttestReview(env.Ctx, "PRJ001", domain.ReviewSupportFiles, "probability files checked", "dir")
	require.NoError(t, err)
	_, err = e.AttestReview(env.Ctx, "PRJ001", domain.ReviewValueAtRisk, "", "dir")
	require.NoError(t, err)
	_, err = e.Advance(env.Ctx, "PRJ001", "tester")
	assert.Equal(t, []string{"methodology", "npv_assumptions"}, guardErr(t, err).Missing)

	_, err = e.AttestReview(env.Ctx, "PRJ001", domain.ReviewMethodology, "", "dir")
	require.NoError(t, err)
	_, err = e.AttestReview(env.Ctx, "PRJ001", domain.ReviewNPVAssumptions, "", "dir")
	require.NoError(t, err)
	rec, err := e.Advance(env.Ctx, "PRJ001", "tester")
	require.NoError(t, err)
	assert.Equal(t, domain.StageConsolidation, rec.Stage)

	detail, err := e.GetProject(env.Ctx, "PRJ001")
	require.NoError(t, err)
	require.Len(t, detail.Reviews, 4)
	_, err = e.AttestReview(env.Ctx, "PRJ001", domain.ReviewContracts, "", "dir")
	assert.ErrorIs(t, err, apperr.ErrGuardFailed, "the checklist closes with PressureTest")
}

func TestModifyOptionsTravelWithTheVerdict(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	toPressureTest(t, env, "PRJ001")

	_, err := e.RecordDecision(env.Ctx, "PRJ001", domain.VerdictApprove, "", "dir", domain.ModifyReduceScope)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = e.RecordDecision(env.Ctx, "PRJ001", domain.VerdictModify, "", "dir", domain.ModifyOption("reduce_everything"))
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	d, err := e.RecordDecision(env.Ctx, "PRJ001", domain.VerdictModify, "trim the rollout", "dir",
		domain.ModifyReduceScope, domain.ModifyReduceUnits, domain.ModifyReduceScope)
	require.NoError(t, err)
	assert.Equal(t, []domain.ModifyOption{domain.ModifyReduceScope, domain.ModifyReduceUnits}, d.ModifyOptions)

	detail, err := e.GetProject(env.Ctx, "PRJ001")
	require.NoError(t, err)
	last := detail.Decisions[len(detail.Decisions)-1]
	assert.Equal(t, domain.StagePressureTest, last.Stage)
	assert.Equal(t, []domain.ModifyOption{domain.ModifyReduceScope, domain.ModifyReduceUnits}, last.ModifyOptions)
	assert.Empty(t, detail.Decisions[0].ModifyOptions)

	attestChecklist(t, env, "PRJ001")
	rec, err := e.Advance(env.Ctx, "PRJ001", "tester")
	require.NoError(t, err, "Modify does not block Consolidation")
	assert.Equal(t, domain.StageConsolidation, rec.Stage)
}

func TestRefusedAdvanceKeepsEvaluation(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	toPressureTest(t, env, "PRJ001")
	_, err := e.RecordDecision(env.Ctx, "PRJ001", domain.VerdictApprove, "", "dir")
	require.NoError(t, err)

	// A stricter floor makes the re-evaluation on leaving PressureTest critical.
	e.Config.Validation.RatioFloor = "0.9"
	_, err = e.Advance(env.Ctx, "PRJ001", "tester")
	require.ErrorIs(t, err, apperr.ErrGuardFailed)
	detail, err := e.GetProject(env.Ctx, "PRJ001")
	require.NoError(t, err)
	require.NotNil(t, detail.Evaluation)
	assert.Equal(t, domain.SeverityNoObservations, detail.Evaluation.Severity)

	attestChecklist(t, env, "PRJ001")
	_, err = e.Advance(env.Ctx, "PRJ001", "tester")
	require.NoError(t, err)
	detail, err = e.GetProject(env.Ctx, "PRJ001")
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityCriticalErrors, detail.Evaluation.Severity)
}

func TestModelChangeSupersedesDecisions(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	_, err := e.AddProject(env.Ctx, intake("PRJ001", "CORE"), "tester")
	require.NoError(t, err)
	_, _ = e.Advance(env.Ctx, "PRJ001", "tester")
	_, _ = e.Classify(env.Ctx, "CORE", domain.CategoryMaintenance, "Ana", "tester")
	_, _ = e.Advance(env.Ctx, "PRJ001", "tester")
	_, _ = e.AttachEvidence(env.Ctx, "PRJ001", domain.EvidenceRiskMatrix, "rm.pdf", "tester")
	_, err = e.Advance(env.Ctx, "PRJ001", "tester")
	require.NoError(t, err)
	_, err = e.Evaluate(env.Ctx, "PRJ001")
	require.NoError(t, err)
	_, err = e.RecordDecision(env.Ctx, "PRJ001", domain.VerdictApprove, "", "dir")
	require.NoError(t, err)

	npv := d("-5000000")
	_, err = e.UpdateProject(env.Ctx, "PRJ001", registry.Patch{NPV: &npv}, "tester")
	require.NoError(t, err)
	res, err := e.Evaluate(env.Ctx, "PRJ001")
	require.NoError(t, err)
	require.Equal(t, domain.SeverityCriticalErrors, res.Severity)

	_, err = e.Advance(env.Ctx, "PRJ001", "tester")
	assert.Contains(t, guardErr(t, err).Reason, "no committee decision")
	detail, err := e.GetProject(env.Ctx, "PRJ001")
	require.NoError(t, err)
	require.Len(t, detail.Decisions, 1)
	assert.True(t, detail.Decisions[0].Superseded)

	dec, err := e.RecordDecision(env.Ctx, "PRJ001", domain.VerdictModify, "approved with a smaller scope", "dir")
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityCriticalErrors, dec.Severity)
	rec, err := e.Advance(env.Ctx, "PRJ001", "tester")
	require.NoError(t, err)
	assert.Equal(t, domain.StagePressureTest, rec.Stage)
}

func TestListFiltersByMethodology(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	_, err := e.AddProject(env.Ctx, intake("PRJ001", "CORE"), "tester")
	require.NoError(t, err)
	_, err = e.AddProject(env.Ctx, intake("PRJ002", "GROW"), "tester")
	require.NoError(t, err)
	_, err = e.Classify(env.Ctx, "CORE", domain.CategoryMaintenance, "Ana", "tester")
	require.NoError(t, err)
	_, err = e.Classify(env.Ctx, "GROW", domain.CategoryEBITDAGrowth, "Luis", "tester")
	require.NoError(t, err)

	got := e.ListProjects(engine.ProjectFilter{Methodology: "business case"})
	require.Len(t, got, 1)
	assert.Equal(t, "PRJ002", got[0].Code)
	assert.Equal(t, "business case", got[0].Methodology)

	got = e.ListProjects(engine.ProjectFilter{Methodology: "riskmatrix"})
	require.Len(t, got, 1)
	assert.Equal(t, "PRJ001", got[0].Code)

	assert.Empty(t, e.ListProjects(engine.ProjectFilter{Methodology: "regulatory validation"}))
	assert.Len(t, e.ListProjects(engine.ProjectFilter{}), 2)
}
