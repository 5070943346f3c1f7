package payments

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/intlpay/payportal/internal/approval"
	"github.com/intlpay/payportal/internal/atrest"
	"github.com/intlpay/payportal/internal/beneficiary"
	"github.com/intlpay/payportal/internal/identity"
	"github.com/intlpay/payportal/internal/logging"
	"github.com/intlpay/payportal/internal/notification"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notification.Message
}

func (n *recordingNotifier) Send(_ context.Context, m notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, m)
	return nil
}

func (n *recordingNotifier) kinds(kind string) []notification.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notification.Message
	for _, m := range n.messages {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

type fixture struct {
	svc      *Service
	repo     Repository
	actors   identity.Repository
	gate     *approval.Gate
	payees   *beneficiary.Service
	notifier *recordingNotifier
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	codec, err := atrest.New(bytes.Repeat([]byte{7}, atrest.KeySize))
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	actors := identity.NewMemoryRepository()
	for _, a := range []identity.Actor{
		{ID: "cust-1", Username: "alice", FullName: "Alice Mokoena", Role: identity.RoleCustomer},
		{ID: "cust-2", Username: "bob", FullName: "Bob Smith", Role: identity.RoleCustomer},
		{ID: "staff-1", Username: "sam", FullName: "Sam Staff", Role: identity.RoleStaff},
		{ID: "staff-2", Username: "tess", FullName: "Tess Staff", Role: identity.RoleStaff},
	} {
		a.CreatedAt = t0
		if err := actors.Create(context.Background(), a); err != nil {
			t.Fatalf("seed actor: %v", err)
		}
	}

	gate := approval.NewGate(actors, logging.Discard(), approval.WithHashCost(bcrypt.MinCost))
	payees := beneficiary.NewService(beneficiary.NewMemoryRepository(), codec, "SWIFT", logging.Discard())
	repo := NewMemoryRepository(actors)
	notifier := &recordingNotifier{}

	f := &fixture{repo: repo, actors: actors, gate: gate, payees: payees, notifier: notifier, now: t0}
	f.svc = NewService(ServiceDeps{
		Repo:          repo,
		Cipher:        codec,
		Gate:          gate,
		Owners:        actors,
		Beneficiaries: payees,
		Notifier:      notifier,
		Policy: Policy{
			MaxAmount:       decimal.NewFromInt(1000000),
			Currencies:      []string{"ZAR", "USD", "EUR", "GBP"},
			DefaultProvider: "SWIFT",
			AuthWindow:      59 * time.Second,
		},
		Logger: logging.Discard(),
	})
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func validInput(owner string) CreateInput {
	return CreateInput{
		OwnerID:            owner,
		Amount:             "1500.50",
		Currency:           "usd",
		BeneficiaryName:    "Thabo Ndlovu",
		BeneficiaryAccount: "1234567890",
		BeneficiarySwift:   "abcdza22",
	}
}

func TestCreateAndApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreatePayment(ctx, validInput("cust-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Status != StatusPendingAuth || len(res.AuthToken) != 32 || res.ExpiresAt == nil {
		t.Fatalf("unexpected create result %+v", res)
	}
	if !res.ExpiresAt.Equal(t0.Add(59 * time.Second)) {
		t.Fatalf("unexpected expiry %s", res.ExpiresAt)
	}

	f.advance(10 * time.Second)
	id, err := f.svc.ApprovePayment(ctx, res.PaymentID, "cust-1", res.AuthToken)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if id != res.PaymentID {
		t.Fatalf("unexpected id %s", id)
	}

	summary, err := f.svc.GetSummary(ctx, id, "cust-1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Status != StatusSent || summary.BeneficiaryAccount != "1234567890" || summary.Currency != "USD" {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.BeneficiarySwift != "ABCDZA22" || len(summary.ProofRef) != 12 {
		t.Fatalf("unexpected payee fields %+v", summary)
	}

	receipt, err := f.svc.Receipt(ctx, id, "cust-1")
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if receipt.Reference != summary.ProofRef || !receipt.Amount.Equal(decimal.RequireFromString("1500.50")) {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	view, err := f.svc.StaffGet(ctx, id)
	if err != nil {
		t.Fatalf("staff get: %v", err)
	}
	if view.MaskedAccount != "••••7890" || view.Owner.Username != "alice" {
		t.Fatalf("unexpected staff view %+v", view)
	}
	actions := make([]string, 0, len(view.Audit))
	for _, e := range view.Audit {
		actions = append(actions, e.Action)
	}
	want := []string{ActionCreated, ActionPendingAuth, ActionSubmitSwift}
	if len(actions) != len(want) {
		t.Fatalf("unexpected audit %v", actions)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Fatalf("unexpected audit %v", actions)
		}
	}

	if got := len(f.notifier.kinds(notification.KindPaymentStatus)); got != 2 {
		t.Fatalf("expected 2 status events, got %d", got)
	}
}

func TestApproveAfterExpiryFailsPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreatePayment(ctx, validInput("cust-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.advance(60 * time.Second)

	if _, err := f.svc.ApprovePayment(ctx, res.PaymentID, "cust-1", res.AuthToken); !errors.Is(err, ErrAuthWindowExpired) {
		t.Fatalf("expected ErrAuthWindowExpired, got %v", err)
	}
	p, _ := f.repo.FindByID(ctx, res.PaymentID)
	if p.Status != StatusFailed || p.Auth != nil {
		t.Fatalf("expected failed payment, got %+v", p)
	}
	if _, err := f.svc.ApprovePayment(ctx, res.PaymentID, "cust-1", res.AuthToken); !errors.Is(err, ErrAuthWindowExpired) {
		t.Fatalf("expected ErrAuthWindowExpired on retry, got %v", err)
	}
}

func TestApprovePaymentWrongTokenPersistsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, _ := f.svc.CreatePayment(ctx, validInput("cust-1"))
	if _, err := f.svc.ApprovePayment(ctx, res.PaymentID, "cust-1", "deadbeef"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := f.svc.ApprovePayment(ctx, res.PaymentID, "cust-1", res.AuthToken); !errors.Is(err, ErrAuthWindowExpired) {
		t.Fatalf("the correct token must not revive a failed payment, got %v", err)
	}
}

func TestOwnershipIsEnforced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, _ := f.svc.CreatePayment(ctx, validInput("cust-1"))
	if _, err := f.svc.GetSummary(ctx, res.PaymentID, "cust-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.ApprovePayment(ctx, res.PaymentID, "cust-2", res.AuthToken); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	p, _ := f.repo.FindByID(ctx, res.PaymentID)
	if p.Status != StatusPendingAuth {
		t.Fatalf("foreign approval must not touch the payment, got %s", p.Status)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]func(*CreateInput){
		"amount":   func(in *CreateInput) { in.Amount = "12.345" },
		"negative": func(in *CreateInput) { in.Amount = "-5" },
		"too big":  func(in *CreateInput) { in.Amount = "1000000.01" },
		"currency": func(in *CreateInput) { in.Currency = "JPY" },
		"swift":    func(in *CreateInput) { in.BeneficiarySwift = "AB12" },
		"account":  func(in *CreateInput) { in.BeneficiaryAccount = "12-34" },
		"name":     func(in *CreateInput) { in.BeneficiaryName = "<script>" },
		"provider": func(in *CreateInput) { in.Provider = "bad provider!" },
	}
	for name, mutate := range cases {
		in := validInput("cust-1")
		mutate(&in)
		if _, err := f.svc.CreatePayment(ctx, in); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", name, err)
		}
	}

	list, err := f.svc.ListPayments(ctx, "cust-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("rejected requests must not persist, got %d payments", len(list))
	}
}

func TestCreateFromSavedBeneficiary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := validInput("cust-1")
	in.SaveBeneficiary = true
	first, err := f.svc.CreatePayment(ctx, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	saved, err := f.payees.List(ctx, "cust-1")
	if err != nil || len(saved) != 1 {
		t.Fatalf("expected one saved beneficiary, got %v %v", saved, err)
	}
	summary, _ := f.svc.GetSummary(ctx, first.PaymentID, "cust-1")
	if summary.SavedBeneficiaryID != saved[0].ID {
		t.Fatalf("payment not linked to saved beneficiary")
	}

	second, err := f.svc.CreatePayment(ctx, CreateInput{
		OwnerID:       "cust-1",
		Amount:        "10",
		Currency:      "EUR",
		BeneficiaryID: saved[0].ID,
	})
	if err != nil {
		t.Fatalf("create from saved: %v", err)
	}
	summary, _ = f.svc.GetSummary(ctx, second.PaymentID, "cust-1")
	if summary.BeneficiaryAccount != "1234567890" || summary.BeneficiaryName != "Thabo Ndlovu" {
		t.Fatalf("unexpected snapshot %+v", summary)
	}

	_, err = f.svc.CreatePayment(ctx, CreateInput{OwnerID: "cust-2", Amount: "10", Currency: "EUR", BeneficiaryID: saved[0].ID})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign beneficiary, got %v", err)
	}
}

func TestGetAuthStatusExpiresLazily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, _ := f.svc.CreatePayment(ctx, validInput("cust-1"))
	f.advance(20 * time.Second)
	status, err := f.svc.GetAuthStatus(ctx, res.PaymentID, "cust-1")
	if err != nil {
		t.Fatalf("auth status: %v", err)
	}
	if !status.Pending || status.RemainingSeconds != 39 || status.Token != res.AuthToken {
		t.Fatalf("unexpected status %+v", status)
	}

	f.advance(time.Minute)
	status, err = f.svc.GetAuthStatus(ctx, res.PaymentID, "cust-1")
	if err != nil {
		t.Fatalf("auth status: %v", err)
	}
	if status.Pending || status.RemainingSeconds != 0 {
		t.Fatalf("expected closed window, got %+v", status)
	}
	p, _ := f.repo.FindByID(ctx, res.PaymentID)
	if p.Status != StatusFailed {
		t.Fatalf("expected failed after lazy expiry, got %s", p.Status)
	}
}

func TestDeferredAuthWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := validInput("cust-1")
	in.DeferAuth = true
	res, err := f.svc.CreatePayment(ctx, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Status != StatusCreated || res.AuthToken != "" {
		t.Fatalf("expected created payment without token, got %+v", res)
	}

	started, err := f.svc.StartAuthWindow(ctx, res.PaymentID, "cust-1")
	if err != nil {
		t.Fatalf("start auth: %v", err)
	}
	if started.Status != StatusPendingAuth || started.AuthToken == "" {
		t.Fatalf("unexpected start result %+v", started)
	}
	if _, err := f.svc.StartAuthWindow(ctx, res.PaymentID, "cust-1"); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestExpireLapsed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, _ := f.svc.CreatePayment(ctx, validInput("cust-1"))
	f.advance(30 * time.Second)
	b, _ := f.svc.CreatePayment(ctx, validInput("cust-1"))
	f.advance(40 * time.Second)

	n, err := f.svc.ExpireLapsed(ctx, 100)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one expired payment, got %d", n)
	}
	pa, _ := f.repo.FindByID(ctx, a.PaymentID)
	pb, _ := f.repo.FindByID(ctx, b.PaymentID)
	if pa.Status != StatusFailed || pb.Status != StatusPendingAuth {
		t.Fatalf("unexpected statuses %s %s", pa.Status, pb.Status)
	}
}

func TestStaffVerifyAndSubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := validInput("cust-1")
	in.DeferAuth = true
	res, _ := f.svc.CreatePayment(ctx, in)

	if _, err := f.svc.StaffVerify(ctx, res.PaymentID, "staff-1", "1234", ""); !errors.Is(err, approval.ErrNoPinConfigured) {
		t.Fatalf("expected ErrNoPinConfigured, got %v", err)
	}
	if err := f.gate.Provision(ctx, "staff-1", "1234"); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if _, err := f.svc.StaffVerify(ctx, res.PaymentID, "staff-1", "9999", ""); !errors.Is(err, approval.ErrInvalidPin) {
		t.Fatalf("expected ErrInvalidPin, got %v", err)
	}
	if _, err := f.svc.StaffVerify(ctx, res.PaymentID, "cust-1", "1234", ""); !errors.Is(err, approval.ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	if _, err := f.svc.StaffVerify(ctx, res.PaymentID, "staff-1", "1234", "<b>"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for note, got %v", err)
	}
	p, _ := f.repo.FindByID(ctx, res.PaymentID)
	if p.Status != StatusCreated || len(p.Audit) != 1 {
		t.Fatalf("rejected attempts must not mutate the payment, got %+v", p)
	}

	if _, err := f.svc.StaffSubmit(ctx, res.PaymentID, "staff-1", "1234"); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition before verify, got %v", err)
	}

	view, err := f.svc.StaffVerify(ctx, res.PaymentID, "staff-1", "1234", "documents checked")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if view.Status != StatusVerified || view.VerifiedBy != "staff-1" {
		t.Fatalf("unexpected verified view %+v", view)
	}

	done, err := f.svc.StaffSubmit(ctx, res.PaymentID, "staff-1", "1234")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if done.Status != StatusCompleted || done.ProofRef == "" || done.SubmittedBy != "staff-1" {
		t.Fatalf("unexpected completed view %+v", done)
	}

	again, err := f.svc.StaffSubmit(ctx, res.PaymentID, "staff-1", "1234")
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if again.ProofRef != done.ProofRef || len(again.Audit) != len(done.Audit) {
		t.Fatalf("resubmit must be a no-op")
	}
}

func TestConcurrentVerifyHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"staff-1", "staff-2"} {
		if err := f.gate.Provision(ctx, id, "2468"); err != nil {
			t.Fatalf("provision %s: %v", id, err)
		}
	}
	in := validInput("cust-1")
	in.DeferAuth = true
	res, _ := f.svc.CreatePayment(ctx, in)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, actor := range []string{"staff-1", "staff-2"} {
		wg.Add(1)
		go func(i int, actor string) {
			defer wg.Done()
			_, errs[i] = f.svc.StaffVerify(ctx, res.PaymentID, actor, "2468", "")
		}(i, actor)
	}
	wg.Wait()
	oneWinner(t, errs)

	p, _ := f.repo.FindByID(ctx, res.PaymentID)
	var verified int
	for _, e := range p.Audit {
		if e.Action == ActionVerified {
			verified++
		}
	}
	if verified != 1 {
		t.Fatalf("expected exactly one verified audit entry, got %d", verified)
	}
}

func TestAddNote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, _ := f.svc.CreatePayment(ctx, validInput("cust-1"))
	view, err := f.svc.AddNote(ctx, res.PaymentID, "staff-1", "called customer")
	if err != nil {
		t.Fatalf("note: %v", err)
	}
	last := view.Audit[len(view.Audit)-1]
	if last.Action != ActionNote || last.ActorID != "staff-1" || view.Status != StatusPendingAuth {
		t.Fatalf("unexpected note result %+v", view)
	}
	if _, err := f.svc.AddNote(ctx, res.PaymentID, "staff-1", "  "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty note, got %v", err)
	}
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.svc.CreatePayment(ctx, validInput("cust-1"))
		f.advance(time.Second)
	}
	other := validInput("cust-2")
	other.BeneficiarySwift = "ZZZZGB2L"
	other.DeferAuth = true
	f.svc.CreatePayment(ctx, other)

	res, err := f.svc.Search(ctx, SearchInput{Query: "alice", PageSize: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Total != 3 || len(res.Items) != 3 || res.Items[0].Owner.FullName != "Alice Mokoena" {
		t.Fatalf("unexpected search result %+v", res)
	}

	res, err = f.svc.Search(ctx, SearchInput{Query: "zzzz"})
	if err != nil || res.Total != 1 || res.PageSize != 20 {
		t.Fatalf("unexpected swift search %+v %v", res, err)
	}

	res, err = f.svc.Search(ctx, SearchInput{Status: "pending"})
	if err != nil || res.Total != 1 || res.Items[0].Status != StatusCreated {
		t.Fatalf("legacy status filter should match created: %+v %v", res, err)
	}

	res, err = f.svc.Search(ctx, SearchInput{Page: "2", PageSize: 10})
	if err != nil || res.Total != 4 || len(res.Items) != 0 {
		t.Fatalf("unexpected second page %+v %v", res, err)
	}

	for _, in := range []SearchInput{{Status: "bogus"}, {Query: "a%"}, {Page: "0"}, {PageSize: 7}} {
		if _, err := f.svc.Search(ctx, in); !errors.Is(err, ErrValidation) {
			t.Fatalf("%+v: expected ErrValidation, got %v", in, err)
		}
	}
}

func TestReceiptRequiresSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, _ := f.svc.CreatePayment(ctx, validInput("cust-1"))
	if _, err := f.svc.Receipt(ctx, res.PaymentID, "cust-1"); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
	if err := f.svc.EmailReceipt(ctx, res.PaymentID, "cust-1", "alice@example.com"); !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}

	if _, err := f.svc.ApprovePayment(ctx, res.PaymentID, "cust-1", res.AuthToken); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := f.svc.EmailReceipt(ctx, res.PaymentID, "cust-1", "not an email"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if err := f.svc.EmailReceipt(ctx, res.PaymentID, "cust-1", "Alice <alice@example.com>"); err != nil {
		t.Fatalf("email receipt: %v", err)
	}
	sent := f.notifier.kinds(notification.KindReceiptRequested)
	if len(sent) != 1 || sent[0].Destination != "alice@example.com" {
		t.Fatalf("unexpected receipt messages %+v", sent)
	}
}

func TestListPaymentsIsolatesUndecryptableRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.CreatePayment(ctx, validInput("cust-1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	broken := newPayment()
	broken.ID = "broken"
	broken.BeneficiaryAccountEnc = "AAAA"
	broken.CreatedAt = t0.Add(-time.Hour)
	if err := f.repo.Create(ctx, broken); err != nil {
		t.Fatalf("seed: %v", err)
	}

	list, err := f.svc.ListPayments(ctx, "cust-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 payments, got %d", len(list))
	}
	if list[0].AccountUnavailable || list[0].BeneficiaryAccount != "1234567890" {
		t.Fatalf("healthy record affected: %+v", list[0])
	}
	if !list[1].AccountUnavailable || list[1].BeneficiaryAccount != "" {
		t.Fatalf("broken record should be flagged: %+v", list[1])
	}

	if _, err := f.svc.GetSummary(ctx, "broken", "cust-1"); !errors.Is(err, atrest.ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
}

type countingNetwork struct {
	mu    sync.Mutex
	calls []Instruction
	err   error
}

func (n *countingNetwork) Submit(_ context.Context, in Instruction) (Confirmation, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, in)
	if n.err != nil {
		return Confirmation{}, n.err
	}
	return Confirmation{Status: "accepted"}, nil
}

func (n *countingNetwork) submitted() []Instruction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Instruction(nil), n.calls...)
}

// lockstepRepository holds every read until all expected readers have
// arrived, so racing requests act on the same version.
type lockstepRepository struct {
	Repository
	arrived sync.WaitGroup
}

func newLockstepRepository(repo Repository, readers int) *lockstepRepository {
	r := &lockstepRepository{Repository: repo}
	r.arrived.Add(readers)
	return r
}

func (r *lockstepRepository) FindOwned(ctx context.Context, id, ownerID string) (Payment, error) {
	p, err := r.Repository.FindOwned(ctx, id, ownerID)
	r.arrived.Done()
	r.arrived.Wait()
	return p, err
}

func (r *lockstepRepository) FindByID(ctx context.Context, id string) (Payment, error) {
	p, err := r.Repository.FindByID(ctx, id)
	r.arrived.Done()
	r.arrived.Wait()
	return p, err
}

func oneWinner(t *testing.T, errs []error) {
	t.Helper()
	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrInvalidStateTransition):
			conflicts++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("expected one winner and one conflict, got %d/%d", wins, conflicts)
	}
}

func TestConcurrentApproveSettlesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.CreatePayment(ctx, validInput("cust-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	network := &countingNetwork{}
	f.svc.network = network
	f.svc.repo = newLockstepRepository(f.repo, 2)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.ApprovePayment(ctx, res.PaymentID, "cust-1", res.AuthToken)
		}(i)
	}
	wg.Wait()
	oneWinner(t, errs)

	calls := network.submitted()
	if len(calls) != 1 {
		t.Fatalf("expected one settlement submission, got %d", len(calls))
	}
	p, _ := f.repo.FindByID(ctx, res.PaymentID)
	if p.Status != StatusSent || calls[0].Reference != p.ProofRef || calls[0].PaymentID != p.ID {
		t.Fatalf("submission does not match the committed payment: %+v vs %+v", calls[0], p)
	}
}

func TestConcurrentSubmitSettlesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"staff-1", "staff-2"} {
		if err := f.gate.Provision(ctx, id, "2468"); err != nil {
			t.Fatalf("provision %s: %v", id, err)
		}
	}
	in := validInput("cust-1")
	in.DeferAuth = true
	res, _ := f.svc.CreatePayment(ctx, in)
	if _, err := f.svc.StaffVerify(ctx, res.PaymentID, "staff-1", "2468", ""); err != nil {
		t.Fatalf("verify: %v", err)
	}
	network := &countingNetwork{}
	f.svc.network = network
	f.svc.repo = newLockstepRepository(f.repo, 2)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, actor := range []string{"staff-1", "staff-2"} {
		wg.Add(1)
		go func(i int, actor string) {
			defer wg.Done()
			_, errs[i] = f.svc.StaffSubmit(ctx, res.PaymentID, actor, "2468")
		}(i, actor)
	}
	wg.Wait()
	oneWinner(t, errs)

	calls := network.submitted()
	p, _ := f.repo.FindByID(ctx, res.PaymentID)
	if len(calls) != 1 || calls[0].Reference != p.ProofRef || p.Status != StatusCompleted {
		t.Fatalf("expected one submission matching the completed payment, got %+v vs %+v", calls, p)
	}
}

func TestSettlementRejectionKeepsCommittedPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	network := &countingNetwork{err: errors.New("rail unavailable")}
	f.svc.network = network
	res, _ := f.svc.CreatePayment(ctx, validInput("cust-1"))
	if _, err := f.svc.ApprovePayment(ctx, res.PaymentID, "cust-1", res.AuthToken); err != nil {
		t.Fatalf("approve: %v", err)
	}
	p, _ := f.repo.FindByID(ctx, res.PaymentID)
	if p.Status != StatusSent || p.ProofRef == "" {
		t.Fatalf("expected committed sent payment, got %+v", p)
	}
	if len(network.submitted()) != 1 {
		t.Fatalf("expected a single submission attempt")
	}
	if _, err := f.svc.ApprovePayment(ctx, res.PaymentID, "cust-1", res.AuthToken); !errors.Is(err, ErrAuthWindowExpired) {
		t.Fatalf("expected ErrAuthWindowExpired on retry, got %v", err)
	}
	if len(network.submitted()) != 1 {
		t.Fatalf("a retry must not resubmit")
	}
}

type failingCreateRepository struct {
	Repository
}

func (failingCreateRepository) Create(context.Context, Payment) error {
	return errors.New("insert failed")
}

func TestSavedBeneficiaryRemovedWhenPaymentNotStored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.repo = failingCreateRepository{Repository: f.repo}

	in := validInput("cust-1")
	in.SaveBeneficiary = true
	if _, err := f.svc.CreatePayment(ctx, in); err == nil {
		t.Fatalf("expected store error")
	}
	saved, err := f.payees.List(ctx, "cust-1")
	if err != nil || len(saved) != 0 {
		t.Fatalf("expected no saved beneficiary, got %v %v", saved, err)
	}
}
