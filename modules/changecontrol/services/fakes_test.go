package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/qmsuite/change-control/modules/changecontrol/domain/actionplan"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/cft"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/department"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/docrevision"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/history"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/rbac"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/request"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/riskassessment"
	"github.com/qmsuite/change-control/modules/changecontrol/domain/user"
	"github.com/qmsuite/change-control/pkg/composables"
)

// fakeTx satisfies pgx.Tx by embedding; no method is ever called because the
// in-memory repositories below never touch the database. Its presence in the
// context makes InTx run the unit of work directly.
type fakeTx struct {
	pgx.Tx
}

type memRequestRepo struct {
	byID map[uuid.UUID]*request.Request
}

func newMemRequestRepo() *memRequestRepo {
	return &memRequestRepo{byID: map[uuid.UUID]*request.Request{}}
}

func (m *memRequestRepo) Create(_ context.Context, r *request.Request) (*request.Request, error) {
	cp := *r
	cp.ID = uuid.New()
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.byID[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memRequestRepo) GetByID(_ context.Context, id uuid.UUID) (*request.Request, error) {
	r, ok := m.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *r
	return &cp, nil
}

func (m *memRequestRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*request.Request, error) {
	return m.GetByID(ctx, id)
}

func (m *memRequestRepo) Update(_ context.Context, r *request.Request) (*request.Request, error) {
	if _, ok := m.byID[r.ID]; !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *r
	cp.UpdatedAt = time.Now()
	m.byID[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memRequestRepo) ListVisibleTo(_ context.Context, userID uuid.UUID) ([]*request.Request, error) {
	var out []*request.Request
	for _, r := range m.byID {
		if r.InitiatorID == userID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memRequestRepo) FinalNumberExists(_ context.Context, number string, excludeID uuid.UUID) (bool, error) {
	for _, r := range m.byID {
		if r.ID != excludeID && r.FinalNumber != nil && *r.FinalNumber == number {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRequestRepo) LockNumberPrefix(context.Context, string) error { return nil }

func (m *memRequestRepo) ListNumbersByPrefix(_ context.Context, kind request.NumberKind, prefix string) ([]string, error) {
	var out []string
	for _, r := range m.byID {
		number := r.TemporaryNumber
		if kind == request.NumberFinal {
			if r.FinalNumber == nil {
				continue
			}
			number = *r.FinalNumber
		}
		if strings.HasPrefix(number, prefix) {
			out = append(out, number)
		}
	}
	return out, nil
}

type memDepartmentRepo struct {
	byID map[uuid.UUID]*department.Department
}

func newMemDepartmentRepo() *memDepartmentRepo {
	return &memDepartmentRepo{byID: map[uuid.UUID]*department.Department{}}
}

func (m *memDepartmentRepo) Create(_ context.Context, d *department.Department) (*department.Department, error) {
	cp := *d
	cp.ID = uuid.New()
	m.byID[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memDepartmentRepo) GetByID(_ context.Context, id uuid.UUID) (*department.Department, error) {
	d, ok := m.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *d
	return &cp, nil
}

func (m *memDepartmentRepo) GetByCode(_ context.Context, code string) (*department.Department, error) {
	for _, d := range m.byID {
		if d.Code == code {
			cp := *d
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memDepartmentRepo) GetAll(context.Context) ([]*department.Department, error) {
	out := make([]*department.Department, 0, len(m.byID))
	for _, d := range m.byID {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memDepartmentRepo) Update(_ context.Context, d *department.Department) (*department.Department, error) {
	if _, ok := m.byID[d.ID]; !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *d
	m.byID[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memDepartmentRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.byID[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(m.byID, id)
	return nil
}

type memUserRepo struct {
	byID map[uuid.UUID]*user.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{byID: map[uuid.UUID]*user.User{}}
}

func (m *memUserRepo) Create(_ context.Context, u *user.User) (*user.User, error) {
	cp := *u
	cp.ID = uuid.New()
	m.byID[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memUserRepo) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	u, ok := m.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (m *memUserRepo) GetAll(context.Context) ([]*user.User, error) {
	out := make([]*user.User, 0, len(m.byID))
	for _, u := range m.byID {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memUserRepo) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	_, ok := m.byID[id]
	return ok, nil
}

type evaluatorKey struct {
	requestID    uuid.UUID
	departmentID uuid.UUID
}

type memCFTRepo struct {
	evaluators  map[evaluatorKey]*cft.Evaluator
	evaluations map[evaluatorKey]*cft.Evaluation
}

func newMemCFTRepo() *memCFTRepo {
	return &memCFTRepo{
		evaluators:  map[evaluatorKey]*cft.Evaluator{},
		evaluations: map[evaluatorKey]*cft.Evaluation{},
	}
}

func (m *memCFTRepo) GetOrCreateEvaluator(_ context.Context, e *cft.Evaluator) (*cft.Evaluator, error) {
	key := evaluatorKey{e.RequestID, e.DepartmentID}
	if existing, ok := m.evaluators[key]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *e
	cp.ID = uuid.New()
	cp.AssignedAt = time.Now()
	m.evaluators[key] = &cp
	out := cp
	return &out, nil
}

func (m *memCFTRepo) ListEvaluators(_ context.Context, requestID uuid.UUID) ([]*cft.Evaluator, error) {
	var out []*cft.Evaluator
	for _, e := range m.evaluators {
		if e.RequestID == requestID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memCFTRepo) EvaluatorAssigned(_ context.Context, requestID, departmentID, userID uuid.UUID) (bool, error) {
	e, ok := m.evaluators[evaluatorKey{requestID, departmentID}]
	return ok && e.EvaluatorID == userID, nil
}

func (m *memCFTRepo) EvaluatorForRequest(_ context.Context, requestID, userID uuid.UUID) (bool, error) {
	for _, e := range m.evaluators {
		if e.RequestID == requestID && e.EvaluatorID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memCFTRepo) UpsertEvaluation(_ context.Context, e *cft.Evaluation) (*cft.Evaluation, error) {
	key := evaluatorKey{e.RequestID, e.DepartmentID}
	cp := *e
	if existing, ok := m.evaluations[key]; ok {
		cp.ID = existing.ID
	} else {
		cp.ID = uuid.New()
	}
	cp.EvaluationDate = time.Now()
	m.evaluations[key] = &cp
	out := cp
	return &out, nil
}

func (m *memCFTRepo) ListEvaluations(_ context.Context, requestID uuid.UUID) ([]*cft.Evaluation, error) {
	var out []*cft.Evaluation
	for _, e := range m.evaluations {
		if e.RequestID == requestID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memRiskRepo struct {
	byRequest map[uuid.UUID]*riskassessment.RiskAssessment
}

func newMemRiskRepo() *memRiskRepo {
	return &memRiskRepo{byRequest: map[uuid.UUID]*riskassessment.RiskAssessment{}}
}

func (m *memRiskRepo) Create(_ context.Context, ra *riskassessment.RiskAssessment) (*riskassessment.RiskAssessment, error) {
	cp := *ra
	cp.ID = uuid.New()
	cp.CreatedAt = time.Now()
	m.byRequest[cp.RequestID] = &cp
	out := cp
	return &out, nil
}

func (m *memRiskRepo) GetByRequestID(_ context.Context, requestID uuid.UUID) (*riskassessment.RiskAssessment, error) {
	ra, ok := m.byRequest[requestID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *ra
	return &cp, nil
}

func (m *memRiskRepo) Update(_ context.Context, ra *riskassessment.RiskAssessment) (*riskassessment.RiskAssessment, error) {
	if _, ok := m.byRequest[ra.RequestID]; !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *ra
	m.byRequest[cp.RequestID] = &cp
	out := cp
	return &out, nil
}

type memRevisionRepo struct {
	byID map[uuid.UUID]*docrevision.DocumentRevision
}

func newMemRevisionRepo() *memRevisionRepo {
	return &memRevisionRepo{byID: map[uuid.UUID]*docrevision.DocumentRevision{}}
}

func (m *memRevisionRepo) GetOrCreate(_ context.Context, dr *docrevision.DocumentRevision) (*docrevision.DocumentRevision, error) {
	for _, existing := range m.byID {
		if existing.RequestID == dr.RequestID &&
			existing.DocumentName == dr.DocumentName &&
			existing.AssignedDepartmentID == dr.AssignedDepartmentID {
			cp := *existing
			return &cp, nil
		}
	}
	cp := *dr
	cp.ID = uuid.New()
	m.byID[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memRevisionRepo) GetByID(_ context.Context, id uuid.UUID) (*docrevision.DocumentRevision, error) {
	dr, ok := m.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *dr
	return &cp, nil
}

func (m *memRevisionRepo) ListByRequest(_ context.Context, requestID uuid.UUID) ([]*docrevision.DocumentRevision, error) {
	var out []*docrevision.DocumentRevision
	for _, dr := range m.byID {
		if dr.RequestID == requestID {
			cp := *dr
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memRevisionRepo) Update(_ context.Context, dr *docrevision.DocumentRevision) (*docrevision.DocumentRevision, error) {
	if _, ok := m.byID[dr.ID]; !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *dr
	m.byID[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memRevisionRepo) CountOpen(_ context.Context, requestID uuid.UUID) (int, error) {
	count := 0
	for _, dr := range m.byID {
		if dr.RequestID == requestID && dr.Status.Open() {
			count++
		}
	}
	return count, nil
}

type memActionRepo struct {
	byID map[uuid.UUID]*actionplan.Item
}

func newMemActionRepo() *memActionRepo {
	return &memActionRepo{byID: map[uuid.UUID]*actionplan.Item{}}
}

func (m *memActionRepo) Create(_ context.Context, i *actionplan.Item) (*actionplan.Item, error) {
	cp := *i
	cp.ID = uuid.New()
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.byID[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memActionRepo) GetByID(_ context.Context, id uuid.UUID) (*actionplan.Item, error) {
	i, ok := m.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *i
	return &cp, nil
}

func (m *memActionRepo) ListByRequest(_ context.Context, requestID uuid.UUID) ([]*actionplan.Item, error) {
	var out []*actionplan.Item
	for _, i := range m.byID {
		if i.RequestID == requestID {
			cp := *i
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memActionRepo) Update(_ context.Context, i *actionplan.Item) (*actionplan.Item, error) {
	if _, ok := m.byID[i.ID]; !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *i
	cp.UpdatedAt = time.Now()
	m.byID[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memActionRepo) CountOpen(_ context.Context, requestID uuid.UUID) (int, error) {
	count := 0
	for _, i := range m.byID {
		if i.RequestID == requestID && i.Status.Open() {
			count++
		}
	}
	return count, nil
}

func (m *memActionRepo) ResponsibleFor(_ context.Context, requestID, userID uuid.UUID) (bool, error) {
	for _, i := range m.byID {
		if i.RequestID == requestID && i.ResponsiblePersonID == userID {
			return true, nil
		}
	}
	return false, nil
}

type memHistoryRepo struct {
	entries []*history.Entry
}

func (m *memHistoryRepo) Append(_ context.Context, e *history.Entry) (*history.Entry, error) {
	cp := *e
	cp.ID = uuid.New()
	m.entries = append(m.entries, &cp)
	out := cp
	return &out, nil
}

func (m *memHistoryRepo) ListByRequest(_ context.Context, requestID uuid.UUID) ([]*history.Entry, error) {
	var out []*history.Entry
	for _, e := range m.entries {
		if e.RequestID == requestID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memRBACRepo struct {
	grants []*rbac.Assignment
}

func (m *memRBACRepo) Grant(_ context.Context, a *rbac.Assignment) (*rbac.Assignment, error) {
	for _, g := range m.grants {
		if g.UserID == a.UserID && g.Role == a.Role && equalScope(g.DepartmentID, a.DepartmentID) {
			cp := *g
			return &cp, nil
		}
	}
	cp := *a
	cp.ID = uuid.New()
	cp.CreatedAt = time.Now()
	m.grants = append(m.grants, &cp)
	out := cp
	return &out, nil
}

func equalScope(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (m *memRBACRepo) Has(_ context.Context, userID uuid.UUID, role rbac.Role, departmentID *uuid.UUID) (bool, error) {
	for _, g := range m.grants {
		if g.UserID != userID || g.Role != role {
			continue
		}
		if departmentID == nil || g.DepartmentID == nil || *g.DepartmentID == *departmentID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRBACRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*rbac.Assignment, error) {
	var out []*rbac.Assignment
	for _, g := range m.grants {
		if g.UserID == userID {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

// fixture wires a workflow service against the in-memory repositories with
// two departments and a full cast of users.
type fixture struct {
	svc         *WorkflowService
	requests    *memRequestRepo
	departments *memDepartmentRepo
	users       *memUserRepo
	cft         *memCFTRepo
	risks       *memRiskRepo
	revisions   *memRevisionRepo
	actions     *memActionRepo
	history     *memHistoryRepo
	rbac        *memRBACRepo

	engDept uuid.UUID
	qaDept  uuid.UUID

	initiator uuid.UUID
	deptHead  uuid.UUID
	qaHead    uuid.UUID
	qaUser    uuid.UUID
	evalQA    uuid.UUID
	evalEng   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		requests:    newMemRequestRepo(),
		departments: newMemDepartmentRepo(),
		users:       newMemUserRepo(),
		cft:         newMemCFTRepo(),
		risks:       newMemRiskRepo(),
		revisions:   newMemRevisionRepo(),
		actions:     newMemActionRepo(),
		history:     &memHistoryRepo{},
		rbac:        &memRBACRepo{},
	}
	f.svc = NewWorkflowService(WorkflowServiceDeps{
		Requests:    f.requests,
		Departments: f.departments,
		Users:       f.users,
		CFT:         f.cft,
		Risks:       f.risks,
		Revisions:   f.revisions,
		Actions:     f.actions,
		History:     f.history,
		Assignments: f.rbac,
	})

	ctx := context.Background()
	newUser := func(name string) uuid.UUID {
		u, err := f.users.Create(ctx, &user.User{Email: name + "@example.com", FullName: name})
		require.NoError(t, err)
		return u.ID
	}
	f.initiator = newUser("initiator")
	f.deptHead = newUser("dept-head")
	f.qaHead = newUser("qa-head")
	f.qaUser = newUser("qa-user")
	f.evalQA = newUser("eval-qa")
	f.evalEng = newUser("eval-eng")

	eng, err := f.departments.Create(ctx, &department.Department{Code: "ENG", Name: "Engineering", HeadID: &f.deptHead})
	require.NoError(t, err)
	f.engDept = eng.ID
	qa, err := f.departments.Create(ctx, &department.Department{Code: "QA", Name: "Quality Assurance", HeadID: &f.qaHead})
	require.NoError(t, err)
	f.qaDept = qa.ID

	grant := func(userID uuid.UUID, role rbac.Role, deptID *uuid.UUID) {
		_, err := f.rbac.Grant(ctx, &rbac.Assignment{UserID: userID, Role: role, DepartmentID: deptID})
		require.NoError(t, err)
	}
	grant(f.qaUser, rbac.RoleQA, nil)
	grant(f.qaHead, rbac.RoleQAHead, nil)
	grant(f.qaHead, rbac.RoleQA, nil)

	return f
}

// ctxFor builds a context that carries the acting user and a pre-existing
// transaction marker so every unit of work runs against the fakes directly.
func (f *fixture) ctxFor(userID uuid.UUID) context.Context {
	ctx := composables.WithTx(context.Background(), fakeTx{})
	return composables.WithUserID(ctx, userID)
}

func (f *fixture) initiate(t *testing.T) *request.Request {
	t.Helper()
	req, err := f.svc.Initiate(f.ctxFor(f.initiator), InitiateParams{
		DepartmentID: f.engDept,
		Title:        "Replace granulation sieve",
		Description:  "Swap 2mm sieve for 1.6mm on line 3",
	})
	require.NoError(t, err)
	return req
}

func (f *fixture) approveDeptHead(t *testing.T, id uuid.UUID) *request.Request {
	t.Helper()
	req, err := f.svc.DeptHeadDecision(f.ctxFor(f.deptHead), id, DeptHeadDecisionParams{Approved: true})
	require.NoError(t, err)
	return req
}

func (f *fixture) qaRegister(t *testing.T, id uuid.UUID, impact request.ImpactLevel) *request.Request {
	t.Helper()
	req, err := f.svc.QARegister(f.ctxFor(f.qaUser), id, QARegisterParams{
		ImpactLevel:          impact,
		TargetCompletionDate: time.Now().AddDate(0, 1, 0),
		Evaluators: []EvaluatorAssignment{
			{DepartmentID: f.qaDept, EvaluatorID: f.evalQA},
			{DepartmentID: f.engDept, EvaluatorID: f.evalEng},
		},
	})
	require.NoError(t, err)
	return req
}

func (f *fixture) evaluate(t *testing.T, id uuid.UUID, deptID, evaluatorID uuid.UUID, decision cft.Decision) (*request.Request, error) {
	t.Helper()
	return f.svc.SubmitCFTEvaluation(f.ctxFor(evaluatorID), id, SubmitEvaluationParams{
		DepartmentID: deptID,
		ImpactType:   cft.ImpactQuality,
		Decision:     decision,
		RiskLevel:    cft.RiskLow,
	})
}

// toDocumentUpdate drives a fresh Minor request to Pending_Document_Update.
func (f *fixture) toDocumentUpdate(t *testing.T) *request.Request {
	t.Helper()
	req := f.initiate(t)
	f.approveDeptHead(t, req.ID)
	f.qaRegister(t, req.ID, request.ImpactMinor)
	_, err := f.evaluate(t, req.ID, f.qaDept, f.evalQA, cft.DecisionApproved)
	require.NoError(t, err)
	updated, err := f.evaluate(t, req.ID, f.engDept, f.evalEng, cft.DecisionApproved)
	require.NoError(t, err)
	require.Equal(t, request.StatusPendingDocumentUpdate, updated.Status)
	return updated
}

// toActionPlan continues from toDocumentUpdate through one completed
// document revision.
func (f *fixture) toActionPlan(t *testing.T) *request.Request {
	t.Helper()
	req := f.toDocumentUpdate(t)
	revs, err := f.svc.PlanDocumentRevisions(f.ctxFor(f.qaUser), req.ID, []DocumentRevisionInput{
		{DocumentName: "SOP-017 Granulation", AssignedDepartmentID: f.engDept},
	})
	require.NoError(t, err)
	updated, err := f.svc.CompleteDocumentRevision(f.ctxFor(f.deptHead), req.ID, CompleteDocumentRevisionParams{
		RevisionID: revs[0].ID,
		Notes:      "Revision C issued",
	})
	require.NoError(t, err)
	require.Equal(t, request.StatusPendingActionPlan, updated.Status)
	return updated
}

// toQAEvaluation continues from toActionPlan through one completed action
// item.
func (f *fixture) toQAEvaluation(t *testing.T) *request.Request {
	t.Helper()
	req := f.toActionPlan(t)
	items, err := f.svc.CreateActionPlans(f.ctxFor(f.qaUser), req.ID, []ActionPlanInput{
		{Description: "Install new sieve", ResponsiblePersonID: f.evalEng, ExpectedTimeline: time.Now().AddDate(0, 0, 14)},
	})
	require.NoError(t, err)
	updated, err := f.svc.CompleteActionPlanItem(f.ctxFor(f.evalEng), req.ID, CompleteActionPlanItemParams{
		ItemID: items[0].ID,
		Notes:  "Installed and calibrated",
	})
	require.NoError(t, err)
	require.Equal(t, request.StatusPendingQAEvaluation, updated.Status)
	return updated
}

// toVerification continues through QA final evaluation and QA head approval.
func (f *fixture) toVerification(t *testing.T) *request.Request {
	t.Helper()
	req := f.toQAEvaluation(t)
	_, err := f.svc.QAFinalEvaluation(f.ctxFor(f.qaUser), req.ID, QAFinalEvaluationParams{
		CFTEvaluationsComplete:    true,
		DocumentUpdatesComplete:   true,
		RegulatoryFilingsComplete: true,
	})
	require.NoError(t, err)
	updated, err := f.svc.QAHeadApproval(f.ctxFor(f.qaHead), req.ID, QAHeadApprovalParams{Approved: true})
	require.NoError(t, err)
	require.Equal(t, request.StatusPendingVerification, updated.Status)
	return updated
}
