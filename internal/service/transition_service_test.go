package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartermill/be-pr-workflow/internal/errors"
	"github.com/quartermill/be-pr-workflow/internal/repository"
	"github.com/quartermill/be-pr-workflow/internal/workflow"
)

const testWorkflowID = "wf-1"

func testStages() []*repository.Stage {
	return []*repository.Stage{
		{ID: "st-0", WorkflowID: testWorkflowID, Name: "request-creation", Position: 0, Role: "create",
			AvailableActions: map[string]repository.StageActionConfig{"submit": {IsActive: true}}},
		{ID: "st-1", WorkflowID: testWorkflowID, Name: "hod-approval", Position: 1, Role: "approve", IsHOD: true},
		{ID: "st-2", WorkflowID: testWorkflowID, Name: "finance-review", Position: 2, Role: "approve",
			AssignedUsers: []string{"fin-1"}},
		{ID: "st-3", WorkflowID: testWorkflowID, Name: "purchasing", Position: 3, Role: "purchase",
			AssignedUsers: []string{"buyer-1"}},
		{ID: "st-4", WorkflowID: testWorkflowID, Name: "completed", Position: 4, Role: "view_only"},
	}
}

// testPR builds an in-flight request with n saved items of the given unit
// price (cents, quantity 1, no discount or tax).
func testPR(stage, status, stateRole string, unitPrices ...int64) *repository.PurchaseRequest {
	pr := &repository.PurchaseRequest{
		ID:           "pr-1",
		DocumentNo:   "PR-0826-abc123",
		WorkflowID:   testWorkflowID,
		Status:       status,
		StateRole:    stateRole,
		CurrentStage: stage,
		Department:   "engineering",
		Requestor:    "requestor-1",
		Currency:     "USD",
	}
	for i, price := range unitPrices {
		id := fmt.Sprintf("item-%d", i+1)
		amounts := workflow.DeriveAmounts(1, price, 0, 0)
		pr.Items = append(pr.Items, &repository.PurchaseRequestDetail{
			ID:                 &id,
			RequestID:          pr.ID,
			ProductID:          fmt.Sprintf("prod-%d", i+1),
			ProductName:        fmt.Sprintf("Product %d", i+1),
			CategoryName:       "hardware",
			RequestedQty:       1,
			RequestUnit:        "each",
			UnitPrice:          price,
			NetAmount:          amounts.NetAmount,
			TotalAmount:        amounts.TotalPrice,
			CurrentStageStatus: workflow.StatusPending,
		})
		pr.TotalAmount += amounts.TotalPrice
	}
	return pr
}

type transitionFixture struct {
	svc         *TransitionService
	requests    *fakeRequestStore
	rules       *fakeRuleStore
	notifier    *fakeNotifier
	departments *fakeDepartments
}

func newTransitionFixture(t *testing.T) *transitionFixture {
	t.Helper()
	f := &transitionFixture{
		requests:    newFakeRequestStore(),
		rules:       &fakeRuleStore{},
		notifier:    &fakeNotifier{},
		departments: &fakeDepartments{heads: map[string][]string{"engineering": {"hod-1"}}},
	}
	stages := &fakeStageStore{stages: testStages()}
	f.svc = NewTransitionService(f.requests, stages, f.rules, f.departments, f.notifier, testMetrics(), testLogger())
	return f
}

func details(statuses ...string) []repository.ItemStageUpdate {
	out := make([]repository.ItemStageUpdate, 0, len(statuses))
	for i, s := range statuses {
		out = append(out, repository.ItemStageUpdate{ID: fmt.Sprintf("item-%d", i+1), StageStatus: s})
	}
	return out
}

func TestExecuteSubmitAdvancesToFirstApprovalStage(t *testing.T) {
	f := newTransitionFixture(t)
	f.requests.add(testPR("request-creation", workflow.PRStatusDraft, "create", 50000))

	pr, err := f.svc.Execute(context.Background(), &TransitionRequest{
		DocumentID: "pr-1",
		StateRole:  "create",
		ActorID:    "requestor-1",
		Details:    details(""),
	})
	require.NoError(t, err)

	assert.Equal(t, workflow.PRStatusInProgress, pr.Status)
	assert.Equal(t, "hod-approval", pr.CurrentStage)
	assert.Equal(t, "request-creation", pr.PreviousStage)
	assert.Equal(t, "finance-review", pr.NextStage)
	assert.Equal(t, "approve", pr.StateRole)

	require.Len(t, f.requests.history, 1)
	assert.Equal(t, "submit", f.requests.history[0].Action)

	// HOD stage: recipients come from the department head lookup.
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, "request_submitted", f.notifier.events[0].eventType)
	assert.Equal(t, []string{"hod-1"}, f.notifier.events[0].recipients)
}

func TestExecuteSubmitRefusedWhileInProgress(t *testing.T) {
	f := newTransitionFixture(t)
	f.requests.add(testPR("hod-approval", workflow.PRStatusInProgress, "approve", 50000))

	_, err := f.svc.Execute(context.Background(), &TransitionRequest{
		DocumentID: "pr-1",
		StateRole:  "create",
		ActorID:    "requestor-1",
		Details:    details(""),
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnauthorized, errors.CodeOf(err))
	assert.Zero(t, f.requests.transitionCalls)
}

func TestExecuteApproveAdvancesAndNormalizesStatuses(t *testing.T) {
	f := newTransitionFixture(t)
	f.requests.add(testPR("hod-approval", workflow.PRStatusInProgress, "approve", 10000, 20000, 30000))

	pr, err := f.svc.Execute(context.Background(), &TransitionRequest{
		DocumentID: "pr-1",
		StateRole:  "approve",
		ActorID:    "hod-1",
		Details:    details("approve", "approve", "rejected"),
	})
	require.NoError(t, err)

	assert.Equal(t, workflow.PRStatusInProgress, pr.Status)
	assert.Equal(t, "finance-review", pr.CurrentStage)
	assert.Equal(t, "approve", pr.StateRole)

	// The transient "approve" marker is persisted as "approved".
	assert.Equal(t, workflow.StatusApproved, pr.Items[0].CurrentStageStatus)
	assert.Equal(t, workflow.StatusApproved, pr.Items[1].CurrentStageStatus)
	assert.Equal(t, workflow.StatusRejected, pr.Items[2].CurrentStageStatus)

	require.Len(t, f.requests.history, 1)
	assert.Equal(t, "approve", f.requests.history[0].Action)
	assert.Equal(t, "hod-approval", f.requests.history[0].PreviousStage)
	assert.Equal(t, "finance-review", f.requests.history[0].NextStage)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, "request_approval_required", f.notifier.events[0].eventType)
	assert.Equal(t, []string{"fin-1"}, f.notifier.events[0].recipients)
}

func TestExecuteRejectReturnsToCreator(t *testing.T) {
	f := newTransitionFixture(t)
	f.requests.add(testPR("finance-review", workflow.PRStatusInProgress, "approve", 10000, 20000))

	pr, err := f.svc.Execute(context.Background(), &TransitionRequest{
		DocumentID: "pr-1",
		StateRole:  "approve",
		ActorID:    "fin-1",
		Reason:     "budget exceeded",
		Details:    details("rejected", "rejected"),
	})
	require.NoError(t, err)

	assert.Equal(t, workflow.PRStatusRejected, pr.Status)
	assert.Equal(t, "request-creation", pr.CurrentStage)
	assert.Equal(t, "create", pr.StateRole)

	// The reason lands on every item that carried no message of its own.
	require.NotNil(t, pr.Items[0].StageMessage)
	assert.Equal(t, "budget exceeded", *pr.Items[0].StageMessage)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, "request_rejected", f.notifier.events[0].eventType)
	assert.Contains(t, f.notifier.events[0].recipients, "requestor-1")
}

func TestExecuteReviewSendsBackOneStage(t *testing.T) {
	f := newTransitionFixture(t)
	f.requests.add(testPR("finance-review", workflow.PRStatusInProgress, "approve", 10000, 20000))

	pr, err := f.svc.Execute(context.Background(), &TransitionRequest{
		DocumentID: "pr-1",
		StateRole:  "approve",
		ActorID:    "fin-1",
		Details:    details("approved", "review"),
	})
	require.NoError(t, err)

	assert.Equal(t, workflow.PRStatusInProgress, pr.Status)
	assert.Equal(t, "hod-approval", pr.CurrentStage)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, "request_sent_back", f.notifier.events[0].eventType)
	assert.Contains(t, f.notifier.events[0].recipients, "requestor-1")
}

func TestExecutePurchaseApproveCompletesDocument(t *testing.T) {
	f := newTransitionFixture(t)
	f.requests.add(testPR("purchasing", workflow.PRStatusInProgress, "purchase", 10000))

	pr, err := f.svc.Execute(context.Background(), &TransitionRequest{
		DocumentID: "pr-1",
		StateRole:  "purchase",
		ActorID:    "buyer-1",
		Details:    details("approved"),
	})
	require.NoError(t, err)

	assert.Equal(t, workflow.PRStatusCompleted, pr.Status)
	assert.Equal(t, "completed", pr.CurrentStage)
	assert.Empty(t, pr.NextStage)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, "request_approved", f.notifier.events[0].eventType)
}

func TestExecuteApproveIntoTerminalMarksApproved(t *testing.T) {
	f := newTransitionFixture(t)
	f.requests.add(testPR("purchasing", workflow.PRStatusInProgress, "approve", 10000))

	pr, err := f.svc.Execute(context.Background(), &TransitionRequest{
		DocumentID: "pr-1",
		StateRole:  "approve",
		ActorID:    "fin-1",
		Details:    details("approved"),
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.PRStatusApproved, pr.Status)
	assert.Equal(t, "completed", pr.CurrentStage)
}

func TestExecuteVoidedDocumentRefusesEverything(t *testing.T) {
	f := newTransitionFixture(t)
	f.requests.add(testPR("hod-approval", workflow.PRStatusVoided, "approve", 10000))

	for _, role := range []string{"create", "approve", "purchase"} {
		_, err := f.svc.Execute(context.Background(), &TransitionRequest{
			DocumentID: "pr-1",
			StateRole:  role,
			ActorID:    "anyone",
			Details:    details("approved"),
		})
		require.Error(t, err, "role %s", role)
		assert.Equal(t, errors.ErrCodeUnauthorized, errors.CodeOf(err))
	}
	assert.Zero(t, f.requests.transitionCalls)
}

func TestExecuteViewOnlyRoleHasNoActions(t *testing.T) {
	f := newTransitionFixture(t)
	f.requests.add(testPR("hod-approval", workflow.PRStatusInProgress, "approve", 10000))

	_, err := f.svc.Execute(context.Background(), &TransitionRequest{
		DocumentID: "pr-1",
		StateRole:  "view_only",
		ActorID:    "observer",
		Details:    details("approved"),
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnauthorized, errors.CodeOf(err))
}

func TestExecuteOutstandingItemsBlockBulkAction(t *testing.T) {
	f := newTransitionFixture(t)
	f.requests.add(testPR("hod-approval", workflow.PRStatusInProgress, "approve", 10000, 20000))

	_, err := f.svc.Execute(context.Background(), &TransitionRequest{
		DocumentID: "pr-1",
		StateRole:  "approve",
		ActorID:    "hod-1",
		Details:    details("approved", "pending"),
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
	assert.Zero(t, f.requests.transitionCalls)
}

func TestExecuteReasonLengthBounded(t *testing.T) {
	f := newTransitionFixture(t)

	_, err := f.svc.Execute(context.Background(), &TransitionRequest{
		DocumentID: "pr-1",
		StateRole:  "approve",
		Reason:     strings.Repeat("x", maxReasonLength+1),
		Details:    details("approved"),
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
	assert.Zero(t, f.requests.getCalls)
}

func TestExecuteUnsavedItemRefused(t *testing.T) {
	f := newTransitionFixture(t)
	f.requests.add(testPR("hod-approval", workflow.PRStatusInProgress, "approve", 10000))

	_, err := f.svc.Execute(context.Background(), &TransitionRequest{
		DocumentID: "pr-1",
		StateRole:  "approve",
		ActorID:    "hod-1",
		Details:    []repository.ItemStageUpdate{{ID: "", StageStatus: "approved"}},
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
	assert.Zero(t, f.requests.transitionCalls)
}

func TestExecuteRoutingNextStageJumpsOverStages(t *testing.T) {
	f := newTransitionFixture(t)
	f.rules.rules = []*repository.RoutingRuleRecord{{
		ID:           "rule-1",
		WorkflowID:   testWorkflowID,
		Name:         "high-value straight to purchasing",
		TriggerStage: "hod-approval",
		Condition: workflow.RuleCondition{
			Field:    workflow.FieldTotalAmount,
			Operator: workflow.OpGt,
			Value:    []string{"10000"},
		},
		Action: workflow.RuleOutcome{Type: workflow.ActionNextStage, TargetStage: "purchasing"},
	}}

	// 15000.00 major units exceeds the threshold.
	f.requests.add(testPR("hod-approval", workflow.PRStatusInProgress, "approve", 1500000))

	pr, err := f.svc.Execute(context.Background(), &TransitionRequest{
		DocumentID: "pr-1",
		StateRole:  "approve",
		ActorID:    "hod-1",
		Details:    details("approved"),
	})
	require.NoError(t, err)
	assert.Equal(t, "purchasing", pr.CurrentStage)
	assert.Equal(t, "purchase", pr.StateRole)
}

func TestExecuteRoutingBelowThresholdFollowsConfiguredOrder(t *testing.T) {
	f := newTransitionFixture(t)
	f.rules.rules = []*repository.RoutingRuleRecord{{
		ID:           "rule-1",
		WorkflowID:   testWorkflowID,
		Name:         "high-value straight to purchasing",
		TriggerStage: "hod-approval",
		Condition: workflow.RuleCondition{
			Field:    workflow.FieldTotalAmount,
			Operator: workflow.OpGt,
			Value:    []string{"10000"},
		},
		Action: workflow.RuleOutcome{Type: workflow.ActionNextStage, TargetStage: "purchasing"},
	}}

	// 5000.00 major units stays under the threshold.
	f.requests.add(testPR("hod-approval", workflow.PRStatusInProgress, "approve", 500000))

	pr, err := f.svc.Execute(context.Background(), &TransitionRequest{
		DocumentID: "pr-1",
		StateRole:  "approve",
		ActorID:    "hod-1",
		Details:    details("approved"),
	})
	require.NoError(t, err)
	assert.Equal(t, "finance-review", pr.CurrentStage)
}

func TestExecuteRoutingSkipStageBypassesNext(t *testing.T) {
	f := newTransitionFixture(t)
	f.rules.rules = []*repository.RoutingRuleRecord{{
		ID:           "rule-1",
		WorkflowID:   testWorkflowID,
		Name:         "engineering skips finance",
		TriggerStage: "hod-approval",
		Condition: workflow.RuleCondition{
			Field:    workflow.FieldDepartment,
			Operator: workflow.OpEq,
			Value:    []string{"engineering"},
		},
		Action: workflow.RuleOutcome{Type: workflow.ActionSkipStage, TargetStage: "finance-review"},
	}}
	f.requests.add(testPR("hod-approval", workflow.PRStatusInProgress, "approve", 10000))

	pr, err := f.svc.Execute(context.Background(), &TransitionRequest{
		DocumentID: "pr-1",
		StateRole:  "approve",
		ActorID:    "hod-1",
		Details:    details("approved"),
	})
	require.NoError(t, err)
	assert.Equal(t, "purchasing", pr.CurrentStage)
}

func TestExecuteNegotiatedTermsRecomputeAmounts(t *testing.T) {
	f := newTransitionFixture(t)
	pr := testPR("hod-approval", workflow.PRStatusInProgress, "approve", 100000)
	pr.Items[0].RequestedQty = 2
	pr.TotalAmount = 200000
	f.requests.add(pr)

	newPrice := int64(50000)
	updated, err := f.svc.Execute(context.Background(), &TransitionRequest{
		DocumentID: "pr-1",
		StateRole:  "approve",
		ActorID:    "hod-1",
		Details: []repository.ItemStageUpdate{{
			ID:          "item-1",
			StageStatus: "approved",
			UnitPrice:   &newPrice,
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, newPrice, updated.Items[0].UnitPrice)
	assert.Equal(t, int64(100000), updated.Items[0].TotalAmount)
	assert.Equal(t, int64(100000), updated.TotalAmount)
}

func TestExecutePersistenceErrorSurfaces(t *testing.T) {
	f := newTransitionFixture(t)
	f.requests.add(testPR("hod-approval", workflow.PRStatusInProgress, "approve", 10000))
	f.requests.transitionErr = errors.New(errors.ErrCodeInternal, "database unavailable")

	_, err := f.svc.Execute(context.Background(), &TransitionRequest{
		DocumentID: "pr-1",
		StateRole:  "approve",
		ActorID:    "hod-1",
		Details:    details("approved"),
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInternal, errors.CodeOf(err))
	assert.Empty(t, f.notifier.events)
}
