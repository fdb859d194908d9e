package services

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/iota-attest/modules/attestation/domain/aggregates/attestation"
	"github.com/iota-uz/iota-attest/modules/attestation/domain/attendance"
	"github.com/iota-uz/iota-attest/modules/attestation/domain/hierarchy"
	"github.com/iota-uz/iota-attest/pkg/composables"
	"github.com/iota-uz/iota-attest/pkg/eventbus"
	"github.com/iota-uz/iota-attest/pkg/logging"
)

type fakeRepo struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*attestation.Request
	saves    int
	saveErr  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{requests: make(map[uuid.UUID]*attestation.Request)}
}

func (r *fakeRepo) clone(req *attestation.Request) *attestation.Request {
	data, err := json.Marshal(req)
	if err != nil {
		panic(err)
	}
	var out attestation.Request
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return &out
}

func (r *fakeRepo) visible(ctx context.Context, req *attestation.Request) bool {
	tenantID, err := composables.UseTenantID(ctx)
	return err == nil && req.TenantID == tenantID
}

func (r *fakeRepo) Create(_ context.Context, req *attestation.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req.Version = 1
	r.requests[req.ID] = r.clone(req)
	return nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id uuid.UUID) (*attestation.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok || !r.visible(ctx, req) {
		return nil, attestation.ErrNotFound
	}
	return r.clone(req), nil
}

func (r *fakeRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*attestation.Request, error) {
	return r.GetByID(ctx, id)
}

func (r *fakeRepo) Save(_ context.Context, req *attestation.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	cur, ok := r.requests[req.ID]
	if !ok {
		return attestation.ErrNotFound
	}
	if cur.Version != req.Version {
		return attestation.ErrVersionConflict
	}
	req.Version++
	r.requests[req.ID] = r.clone(req)
	r.saves++
	return nil
}

func (r *fakeRepo) PendingForSuperior(ctx context.Context, superiorID uuid.UUID) ([]*attestation.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*attestation.Request
	for _, req := range r.requests {
		if r.visible(ctx, req) && !req.IsTerminal() && req.Awaiting(superiorID) {
			out = append(out, r.clone(req))
		}
	}
	sortByCreated(out, false)
	return out, nil
}

func (r *fakeRepo) ByWorker(ctx context.Context, workerID uuid.UUID) ([]*attestation.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*attestation.Request
	for _, req := range r.requests {
		if r.visible(ctx, req) && req.WorkerID == workerID {
			out = append(out, r.clone(req))
		}
	}
	sortByCreated(out, true)
	return out, nil
}

func (r *fakeRepo) Stalled(_ context.Context, limit int) ([]attestation.Ref, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []attestation.Ref
	for _, req := range r.requests {
		if req.IsTerminal() {
			continue
		}
		if req.OpenTier == "" || req.ReadyToClose() {
			out = append(out, attestation.Ref{TenantID: req.TenantID, ID: req.ID})
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) Overdue(_ context.Context, cutoff time.Time, limit int) ([]attestation.Ref, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []attestation.Ref
	for _, req := range r.requests {
		if req.IsTerminal() || req.OpenTier == "" {
			continue
		}
		for _, slot := range req.Slots {
			if slot.Decision == nil && !slot.LastNoticeAt().After(cutoff) {
				out = append(out, attestation.Ref{TenantID: req.TenantID, ID: req.ID})
				break
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func sortByCreated(reqs []*attestation.Request, desc bool) {
	sort.SliceStable(reqs, func(i, j int) bool {
		if desc {
			return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
		}
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
}

type fakeHierarchy struct {
	mu        sync.Mutex
	immediate map[uuid.UUID][]hierarchy.SuperiorRef
	mediate   map[uuid.UUID][]hierarchy.SuperiorRef
	workers   map[uuid.UUID]hierarchy.Worker
	err       error
}

func newFakeHierarchy() *fakeHierarchy {
	return &fakeHierarchy{
		immediate: make(map[uuid.UUID][]hierarchy.SuperiorRef),
		mediate:   make(map[uuid.UUID][]hierarchy.SuperiorRef),
		workers:   make(map[uuid.UUID]hierarchy.Worker),
	}
}

func (h *fakeHierarchy) setErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}

func (h *fakeHierarchy) ImmediateSuperiors(_ context.Context, workerID uuid.UUID) ([]hierarchy.SuperiorRef, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	return h.immediate[workerID], nil
}

func (h *fakeHierarchy) MediateSuperiors(_ context.Context, workerID uuid.UUID) ([]hierarchy.SuperiorRef, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	return h.mediate[workerID], nil
}

func (h *fakeHierarchy) FindWorker(_ context.Context, workerID uuid.UUID) (hierarchy.Worker, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.workers[workerID]
	if !ok {
		return hierarchy.Worker{}, hierarchy.ErrWorkerNotFound
	}
	return w, nil
}

type fakeAttendance struct {
	records []attendance.Record
	err     error
}

func (a *fakeAttendance) FetchRecords(_ context.Context, _ uuid.UUID, period attendance.Period) ([]attendance.Record, error) {
	if a.err != nil {
		return nil, a.err
	}
	var out []attendance.Record
	for _, r := range a.records {
		if period.Contains(r.Date) {
			out = append(out, r)
		}
	}
	return out, nil
}

type approvalNotice struct {
	RequestID uuid.UUID
	Superior  uuid.UUID
	Tier      attestation.Tier
	Reminders int
}

type fakeNotifier struct {
	mu            sync.Mutex
	approvals     []approvalNotice
	completions   []attestation.Status
	approvalErr   error
	completionErr error
}

func (n *fakeNotifier) NotifyApprovalNeeded(_ context.Context, req *attestation.Request, superior hierarchy.SuperiorRef, tier attestation.Tier) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.approvalErr != nil {
		return n.approvalErr
	}
	reminders := 0
	if slot, ok := req.Slot(superior.ID); ok {
		reminders = slot.Reminders
	}
	n.approvals = append(n.approvals, approvalNotice{RequestID: req.ID, Superior: superior.ID, Tier: tier, Reminders: reminders})
	return nil
}

func (n *fakeNotifier) NotifyCompletion(_ context.Context, req *attestation.Request) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.completionErr != nil {
		return n.completionErr
	}
	n.completions = append(n.completions, req.Status)
	return nil
}

func (n *fakeNotifier) notifiedSuperiors() []uuid.UUID {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]uuid.UUID, 0, len(n.approvals))
	for _, a := range n.approvals {
		out = append(out, a.Superior)
	}
	return out
}

type fakeDocuments struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (d *fakeDocuments) GenerateAttestationDocument(_ context.Context, req *attestation.Request) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return "", d.err
	}
	if req.Status != attestation.StatusCompleted {
		return "", errors.New("document requested before completion")
	}
	return "documents/" + req.ID.String() + ".xlsx", nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc       *WorkflowService
	repo      *fakeRepo
	hierarchy *fakeHierarchy
	att       *fakeAttendance
	notifier  *fakeNotifier
	docs      *fakeDocuments
	bus       eventbus.EventBus
	clock     *testClock
	ctx       context.Context
	tenantID  uuid.UUID
}

func passthroughTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func newHarness(t *testing.T, rules ApprovalRuleEvaluator) *harness {
	t.Helper()
	h := &harness{
		repo:      newFakeRepo(),
		hierarchy: newFakeHierarchy(),
		att:       &fakeAttendance{},
		notifier:  &fakeNotifier{},
		docs:      &fakeDocuments{},
		bus:       eventbus.NewEventPublisher(logging.ConsoleLogger(logrus.PanicLevel)),
		clock:     &testClock{now: time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)},
		tenantID:  uuid.New(),
	}
	h.ctx = composables.WithTenantID(context.Background(), h.tenantID)
	h.ctx = composables.WithLogger(h.ctx, logging.NopLogger())
	h.svc = NewWorkflowService(Deps{
		Repository: h.repo,
		Hierarchy:  h.hierarchy,
		Workers:    h.hierarchy,
		Attendance: h.att,
		Rules:      rules,
		Notifier:   h.notifier,
		Documents:  h.docs,
		EventBus:   h.bus,
		Logger:     logging.ConsoleLogger(logrus.PanicLevel),
		Transactor: passthroughTx,
	}, Config{ReminderAfter: 48 * time.Hour}, WithClock(h.clock.Now))
	return h
}

func (h *harness) worker(name, sector string) hierarchy.Worker {
	w := hierarchy.Worker{ID: uuid.New(), Name: name, Sector: sector}
	h.hierarchy.workers[w.ID] = w
	return w
}

func superior(name string) hierarchy.SuperiorRef {
	return hierarchy.SuperiorRef{ID: uuid.New(), Name: name, Role: "head"}
}

func flexible(name string) hierarchy.SuperiorRef {
	s := superior(name)
	s.FlexibleSchedule = true
	return s
}

func january() attendance.Period {
	return attendance.NewPeriod(
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	)
}

func januaryRecords() []attendance.Record {
	var out []attendance.Record
	for d := 1; d <= 3; d++ {
		out = append(out, attendance.Record{
			Date:     time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC),
			WorkMode: attendance.WorkModeOnsite,
			Hours:    decimal.NewFromInt(8),
		})
	}
	return out
}

func (h *harness) create(t *testing.T, w hierarchy.Worker) *attestation.Request {
	t.Helper()
	req, err := h.svc.CreateRequest(h.ctx, CreateRequestParams{WorkerID: w.ID, Period: january()})
	require.NoError(t, err)
	return req
}

func (h *harness) decide(requestID uuid.UUID, s hierarchy.SuperiorRef, d attestation.Decision) (*attestation.Request, error) {
	return h.svc.ProcessApproval(h.ctx, ProcessApprovalParams{RequestID: requestID, SuperiorID: s.ID, Decision: d})
}

func (h *harness) stored(t *testing.T, id uuid.UUID) *attestation.Request {
	t.Helper()
	req, err := h.repo.GetByID(h.ctx, id)
	require.NoError(t, err)
	return req
}
