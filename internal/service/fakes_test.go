package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quartermill/be-pr-workflow/internal/errors"
	"github.com/quartermill/be-pr-workflow/internal/logger"
	"github.com/quartermill/be-pr-workflow/internal/metrics"
	"github.com/quartermill/be-pr-workflow/internal/repository"
)

// In-memory store fakes backing the service tests.

func errNotFound(resource, id string) error {
	return errors.NotFound(resource, id)
}

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", ServiceName: "test"})
}

func testMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

// ── fakeRequestStore ─────────────────────────────────────────────────────────

type fakeRequestStore struct {
	requests map[string]*repository.PurchaseRequest
	history  []*repository.WorkflowHistoryEntry

	nextID          int
	getCalls        int
	transitionCalls int
	splitCalls      int
	transitionErr   error
}

func newFakeRequestStore() *fakeRequestStore {
	return &fakeRequestStore{requests: make(map[string]*repository.PurchaseRequest)}
}

func (f *fakeRequestStore) add(pr *repository.PurchaseRequest) {
	if pr.ID == "" {
		f.nextID++
		pr.ID = fmt.Sprintf("pr-%d", f.nextID)
	}
	for i, item := range pr.Items {
		if item.ID == nil {
			id := fmt.Sprintf("%s-item-%d", pr.ID, i+1)
			item.ID = &id
		}
	}
	f.requests[pr.ID] = pr
}

func (f *fakeRequestStore) Create(ctx context.Context, pr *repository.PurchaseRequest) error {
	f.add(pr)
	return nil
}

func (f *fakeRequestStore) GetByID(ctx context.Context, id string) (*repository.PurchaseRequest, error) {
	f.getCalls++
	pr, ok := f.requests[id]
	if !ok {
		return nil, errNotFound("purchase_request", id)
	}
	return pr, nil
}

func (f *fakeRequestStore) List(ctx context.Context, filter repository.ListFilter) ([]*repository.PurchaseRequest, int64, error) {
	var out []*repository.PurchaseRequest
	for _, pr := range f.requests {
		if filter.Status != nil && pr.Status != *filter.Status {
			continue
		}
		if filter.StateRole != nil && pr.StateRole != *filter.StateRole {
			continue
		}
		if filter.Department != nil && pr.Department != *filter.Department {
			continue
		}
		out = append(out, pr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (f *fakeRequestStore) ApplyTransition(ctx context.Context, pr *repository.PurchaseRequest, hist *repository.WorkflowHistoryEntry) error {
	f.transitionCalls++
	if f.transitionErr != nil {
		return f.transitionErr
	}
	f.requests[pr.ID] = pr
	f.history = append(f.history, hist)
	return nil
}

func (f *fakeRequestStore) Split(ctx context.Context, source *repository.PurchaseRequest, detailIDs []string, newPR *repository.PurchaseRequest, sourceHist, newHist *repository.WorkflowHistoryEntry) error {
	f.splitCalls++
	selected := make(map[string]bool, len(detailIDs))
	for _, id := range detailIDs {
		selected[id] = true
	}
	for _, item := range source.Items {
		if item.ID != nil && selected[*item.ID] {
			item.CurrentStageStatus = "rejected"
		}
	}
	f.add(newPR)
	sourceHist.RequestID = source.ID
	newHist.RequestID = newPR.ID
	f.history = append(f.history, sourceHist, newHist)
	return nil
}

// ── fakeStageStore ───────────────────────────────────────────────────────────

type fakeStageStore struct {
	stages []*repository.Stage
	nextID int
}

func (f *fakeStageStore) sorted(workflowID string) []*repository.Stage {
	var out []*repository.Stage
	for _, st := range f.stages {
		if st.WorkflowID == workflowID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (f *fakeStageStore) ListByWorkflow(ctx context.Context, workflowID string) ([]*repository.Stage, error) {
	return f.sorted(workflowID), nil
}

func (f *fakeStageStore) GetByName(ctx context.Context, workflowID, name string) (*repository.Stage, error) {
	for _, st := range f.stages {
		if st.WorkflowID == workflowID && st.Name == name {
			return st, nil
		}
	}
	return nil, errNotFound("workflow_stage", name)
}

func (f *fakeStageStore) Insert(ctx context.Context, stage *repository.Stage) error {
	for _, st := range f.stages {
		if st.WorkflowID == stage.WorkflowID && st.Position >= stage.Position {
			st.Position++
		}
	}
	f.nextID++
	stage.ID = fmt.Sprintf("stage-%d", f.nextID)
	f.stages = append(f.stages, stage)
	return nil
}

func (f *fakeStageStore) Update(ctx context.Context, stage *repository.Stage) error {
	for i, st := range f.stages {
		if st.ID == stage.ID {
			f.stages[i] = stage
			return nil
		}
	}
	return errNotFound("workflow_stage", stage.ID)
}

func (f *fakeStageStore) Reorder(ctx context.Context, workflowID, stageID string, newPosition int) error {
	var target *repository.Stage
	for _, st := range f.stages {
		if st.ID == stageID && st.WorkflowID == workflowID {
			target = st
		}
	}
	if target == nil {
		return errNotFound("workflow_stage", stageID)
	}
	current := target.Position
	for _, st := range f.stages {
		if st.WorkflowID != workflowID || st == target {
			continue
		}
		if current < newPosition && st.Position > current && st.Position <= newPosition {
			st.Position--
		}
		if current > newPosition && st.Position >= newPosition && st.Position < current {
			st.Position++
		}
	}
	target.Position = newPosition
	return nil
}

func (f *fakeStageStore) Delete(ctx context.Context, workflowID, stageID string) error {
	for i, st := range f.stages {
		if st.ID == stageID && st.WorkflowID == workflowID {
			pos := st.Position
			f.stages = append(f.stages[:i], f.stages[i+1:]...)
			for _, other := range f.stages {
				if other.WorkflowID == workflowID && other.Position > pos {
					other.Position--
				}
			}
			return nil
		}
	}
	return errNotFound("workflow_stage", stageID)
}

// ── fakeRuleStore ────────────────────────────────────────────────────────────

type fakeRuleStore struct {
	rules  []*repository.RoutingRuleRecord
	nextID int
}

func (f *fakeRuleStore) ListByWorkflow(ctx context.Context, workflowID string) ([]*repository.RoutingRuleRecord, error) {
	var out []*repository.RoutingRuleRecord
	for _, r := range f.rules {
		if r.WorkflowID == workflowID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (f *fakeRuleStore) GetByID(ctx context.Context, id string) (*repository.RoutingRuleRecord, error) {
	for _, r := range f.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, errNotFound("routing_rule", id)
}

func (f *fakeRuleStore) Create(ctx context.Context, rule *repository.RoutingRuleRecord) error {
	f.nextID++
	rule.ID = fmt.Sprintf("rule-%d", f.nextID)
	rule.Position = len(f.rules)
	f.rules = append(f.rules, rule)
	return nil
}

func (f *fakeRuleStore) Update(ctx context.Context, rule *repository.RoutingRuleRecord) error {
	for i, r := range f.rules {
		if r.ID == rule.ID {
			rule.Position = r.Position
			f.rules[i] = rule
			return nil
		}
	}
	return errNotFound("routing_rule", rule.ID)
}

func (f *fakeRuleStore) Delete(ctx context.Context, id string) error {
	for i, r := range f.rules {
		if r.ID == id {
			f.rules = append(f.rules[:i], f.rules[i+1:]...)
			return nil
		}
	}
	return errNotFound("routing_rule", id)
}

// ── fakeHistoryStore ─────────────────────────────────────────────────────────

type fakeHistoryStore struct {
	entries []*repository.WorkflowHistoryEntry
}

func (f *fakeHistoryStore) Append(ctx context.Context, entry *repository.WorkflowHistoryEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeHistoryStore) GetByRequestID(ctx context.Context, requestID string) ([]*repository.WorkflowHistoryEntry, error) {
	var out []*repository.WorkflowHistoryEntry
	for _, e := range f.entries {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ── fakeNotifier / fakeDepartments / fakeCommentStore ────────────────────────

type publishedEvent struct {
	eventType  string
	requestID  string
	actorID    string
	recipients []string
}

type fakeNotifier struct {
	events []publishedEvent
}

func (f *fakeNotifier) PublishRequestEvent(eventType, requestID, actorID string, recipients []string, payload map[string]interface{}) {
	f.events = append(f.events, publishedEvent{eventType, requestID, actorID, recipients})
}

type fakeDepartments struct {
	heads map[string][]string
	err   error
}

func (f *fakeDepartments) GetHeadOfDepartment(ctx context.Context, department string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.heads[department], nil
}

type fakeCommentStore struct {
	comments map[string]*repository.Comment
	nextID   int
}

func newFakeCommentStore() *fakeCommentStore {
	return &fakeCommentStore{comments: make(map[string]*repository.Comment)}
}

func (f *fakeCommentStore) Create(ctx context.Context, c *repository.Comment) error {
	f.nextID++
	c.ID = fmt.Sprintf("comment-%d", f.nextID)
	f.comments[c.ID] = c
	return nil
}

func (f *fakeCommentStore) GetByID(ctx context.Context, id string) (*repository.Comment, error) {
	c, ok := f.comments[id]
	if !ok {
		return nil, errNotFound("comment", id)
	}
	return c, nil
}

func (f *fakeCommentStore) ListByRequest(ctx context.Context, requestID string) ([]*repository.Comment, error) {
	var out []*repository.Comment
	for _, c := range f.comments {
		if c.RequestID == requestID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeCommentStore) Update(ctx context.Context, c *repository.Comment) error {
	if _, ok := f.comments[c.ID]; !ok {
		return errNotFound("comment", c.ID)
	}
	f.comments[c.ID] = c
	return nil
}

func (f *fakeCommentStore) Delete(ctx context.Context, id string) error {
	if _, ok := f.comments[id]; !ok {
		return errNotFound("comment", id)
	}
	delete(f.comments, id)
	return nil
}
