package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/qmsuite/change-control/modules/changecontrol/domain/request"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/user"
)

func newOracleFixture(t *testing.T) (*fixture, PermissionOracle, *request.Request) {
	t.Helper()
	f := newFixture(t)
	oracle := NewPermissionOracle(f.departments, f.requests, f.rbac, f.cft, f.risks, f.actions)
	req := f.initiate(t)
	f.approveDeptHead(t, req.ID)
	f.qaRegister(t, req.ID, request.ImpactMajor)
	return f, oracle, req
}

func TestOracleRoles(t *testing.T) {
	f, oracle, _ := newOracleFixture(t)
	ctx := f.ctxFor(f.qaUser)

	ok, err := oracle.IsQAUser(ctx, f.qaUser)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = oracle.IsQAUser(ctx, f.initiator)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = oracle.IsQAHead(ctx, f.qaHead)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = oracle.IsQAHead(ctx, f.qaUser)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = oracle.IsDepartmentHead(ctx, f.deptHead, f.engDept)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestOracleRequestScopedPredicates(t *testing.T) {
	f, oracle, req := newOracleFixture(t)
	ctx := f.ctxFor(f.qaUser)

	ok, err := oracle.IsAssignedEvaluator(ctx, req.ID, f.evalEng)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = oracle.IsAssignedEvaluator(ctx, req.ID, f.initiator)
	require.NoError(t, err)
	require.False(t, ok)

	// Major impact auto-created a risk assessment assigned to the registrar.
	ok, err = oracle.IsRiskAssessmentAssignee(ctx, req.ID, f.qaUser)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = oracle.IsRiskAssessmentAssignee(ctx, req.ID, f.evalEng)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOracleCanView(t *testing.T) {
	f, oracle, req := newOracleFixture(t)
	ctx := f.ctxFor(f.qaUser)

	for _, userID := range []uuid.UUID{f.initiator, f.deptHead, f.qaUser, f.evalQA, f.evalEng} {
		ok, err := oracle.CanView(ctx, req.ID, userID)
		require.NoError(t, err)
		require.True(t, ok)
	}

	outsider, err := f.users.Create(ctx, &user.User{Email: "outsider@example.com", FullName: "Outsider"})
	require.NoError(t, err)
	ok, err := oracle.CanView(ctx, req.ID, outsider.ID)
	require.NoError(t, err)
	require.False(t, ok)
}
