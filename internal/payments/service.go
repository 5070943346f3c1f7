package payments

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/intlpay/payportal/internal/approval"
	"github.com/intlpay/payportal/internal/beneficiary"
	"github.com/intlpay/payportal/internal/identity"
	"github.com/intlpay/payportal/internal/metrics"
	"github.com/intlpay/payportal/internal/notification"
)

const tracerName = "github.com/intlpay/payportal/internal/payments"

// Cipher encrypts account numbers at rest.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(blob string) (string, error)
}

// StaffGate authorizes staff mutations with a second-factor PIN.
type StaffGate interface {
	Authorize(ctx context.Context, actorID, pin string) (identity.Actor, error)
}

// Beneficiaries resolves and saves payees at creation time.
type Beneficiaries interface {
	Resolve(ctx context.Context, id, ownerID string) (beneficiary.Payee, error)
	Create(ctx context.Context, in beneficiary.CreateInput) (beneficiary.View, error)
	Delete(ctx context.Context, id, ownerID string) error
}

// ServiceDeps wires the collaborators of Service.
type ServiceDeps struct {
	Repo          Repository
	Cipher        Cipher
	Gate          StaffGate
	Owners        OwnerLookup
	Beneficiaries Beneficiaries
	Network       Network
	Notifier      notification.Notifier
	Policy        Policy
	Logger        *slog.Logger
}

// Service implements the payment operations exposed to customers and staff.
type Service struct {
	repo          Repository
	cipher        Cipher
	gate          StaffGate
	owners        OwnerLookup
	beneficiaries Beneficiaries
	network       Network
	notifier      notification.Notifier
	policy        Policy
	logger        *slog.Logger
	tracer        trace.Tracer
	now           func() time.Time
	newToken      func() (string, error)
	newRef        func() (string, error)
}

// NewService constructs a payment service.
func NewService(d ServiceDeps) *Service {
	if d.Network == nil {
		d.Network = SimulatedNetwork{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Policy.AuthWindow <= 0 {
		d.Policy.AuthWindow = 59 * time.Second
	}
	if d.Policy.DefaultProvider == "" {
		d.Policy.DefaultProvider = "SWIFT"
	}
	return &Service{
		repo:          d.Repo,
		cipher:        d.Cipher,
		gate:          d.Gate,
		owners:        d.Owners,
		beneficiaries: d.Beneficiaries,
		network:       d.Network,
		notifier:      d.Notifier,
		policy:        d.Policy,
		logger:        d.Logger,
		tracer:        otel.Tracer(tracerName),
		now:           time.Now,
		newToken:      randomToken,
		newRef:        NewProofReference,
	}
}

// CreateInput captures a new payment request. Either BeneficiaryID or the
// inline beneficiary fields must be set.
type CreateInput struct {
	OwnerID            string
	Amount             string
	Currency           string
	Provider           string
	BeneficiaryID      string
	BeneficiaryName    string
	BeneficiaryAccount string
	BeneficiarySwift   string
	SaveBeneficiary    bool
	// DeferAuth leaves the payment in created for the staff-mediated flow.
	DeferAuth bool
}

// CreateResult is returned by CreatePayment and StartAuthWindow.
type CreateResult struct {
	PaymentID string     `json:"payment_id"`
	Status    Status     `json:"status"`
	AuthToken string     `json:"auth_token,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type statusEvent struct {
	PaymentID string    `json:"payment_id"`
	Status    Status    `json:"status"`
	ProofRef  string    `json:"proof_ref,omitempty"`
	At        time.Time `json:"at"`
}

// CreatePayment validates the request, snapshots and encrypts the payee and
// persists the payment, opening the confirmation window unless deferred.
func (s *Service) CreatePayment(ctx context.Context, in CreateInput) (res CreateResult, err error) {
	ctx, span := s.tracer.Start(ctx, "payments.CreatePayment")
	defer func() { endSpan(span, err) }()

	if in.OwnerID == "" {
		return CreateResult{}, invalid("owner")
	}
	amount, err := parseAmount(in.Amount, s.policy.MaxAmount)
	if err != nil {
		return CreateResult{}, err
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if !s.policy.currencyAllowed(currency) {
		return CreateResult{}, invalid("currency")
	}
	provider, err := beneficiary.NormalizeProvider(in.Provider, s.policy.DefaultProvider)
	if err != nil {
		return CreateResult{}, invalid("provider")
	}
	payee, err := s.payee(ctx, in)
	if err != nil {
		return CreateResult{}, err
	}

	enc, err := s.cipher.Encrypt(payee.Account)
	if err != nil {
		return CreateResult{}, fmt.Errorf("encrypt account: %w", err)
	}

	savedID, newPayee := payee.ID, ""
	if in.SaveBeneficiary && savedID == "" && s.beneficiaries != nil {
		view, err := s.beneficiaries.Create(ctx, beneficiary.CreateInput{
			OwnerID:  in.OwnerID,
			Name:     payee.Name,
			Account:  payee.Account,
			Swift:    payee.Swift,
			Provider: provider,
		})
		if err != nil {
			return CreateResult{}, fmt.Errorf("save beneficiary: %w", err)
		}
		savedID, newPayee = view.ID, view.ID
	}

	now := s.now().UTC()
	p := Payment{
		ID:                    uuid.NewString(),
		OwnerID:               in.OwnerID,
		Amount:                amount,
		Currency:              currency,
		Provider:              provider,
		BeneficiaryName:       payee.Name,
		BeneficiarySwift:      payee.Swift,
		BeneficiaryAccountEnc: enc,
		AccountLast4:          last4(payee.Account),
		SavedBeneficiaryID:    savedID,
		Status:                StatusCreated,
		Audit:                 []AuditEntry{{At: now, Action: ActionCreated}},
		Version:               1,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if !in.DeferAuth {
		token, err := s.newToken()
		if err != nil {
			return CreateResult{}, fmt.Errorf("generate auth token: %w", err)
		}
		t, err := StartAuthWindow(p, token, s.policy.AuthWindow, now)
		if err != nil {
			return CreateResult{}, err
		}
		p = t.Next
	}

	if err := s.repo.Create(ctx, p); err != nil {
		if newPayee != "" {
			if derr := s.beneficiaries.Delete(ctx, newPayee, in.OwnerID); derr != nil {
				s.logger.Warn("remove beneficiary saved for failed payment", "beneficiary_id", newPayee, "error", derr)
			}
		}
		return CreateResult{}, fmt.Errorf("store payment: %w", err)
	}
	span.SetAttributes(attribute.String("payment.id", p.ID), attribute.String("payment.status", string(p.Status)))
	metrics.RecordTransition(string(p.Status))
	s.logger.Info("payment created", "payment_id", p.ID, "owner_id", p.OwnerID, "status", p.Status, "currency", p.Currency)
	s.publish(ctx, p)

	return createResult(p), nil
}

func (s *Service) payee(ctx context.Context, in CreateInput) (beneficiary.Payee, error) {
	if in.BeneficiaryID != "" {
		if s.beneficiaries == nil {
			return beneficiary.Payee{}, invalid("beneficiary")
		}
		payee, err := s.beneficiaries.Resolve(ctx, in.BeneficiaryID, in.OwnerID)
		if errors.Is(err, beneficiary.ErrNotFound) {
			return beneficiary.Payee{}, fmt.Errorf("%w: beneficiary", ErrNotFound)
		}
		return payee, err
	}

	name, err := beneficiary.NormalizeName(in.BeneficiaryName)
	if err != nil {
		return beneficiary.Payee{}, invalid("beneficiary name")
	}
	account := strings.TrimSpace(in.BeneficiaryAccount)
	if !beneficiary.ValidAccountNumber(account) {
		return beneficiary.Payee{}, invalid("beneficiary account")
	}
	swift, err := beneficiary.NormalizeSwift(in.BeneficiarySwift)
	if err != nil {
		return beneficiary.Payee{}, invalid("beneficiary swift")
	}
	return beneficiary.Payee{Name: name, Account: account, Swift: swift}, nil
}

// StartAuthWindow opens the confirmation window on a deferred payment.
func (s *Service) StartAuthWindow(ctx context.Context, id, ownerID string) (res CreateResult, err error) {
	ctx, span := s.tracer.Start(ctx, "payments.StartAuthWindow", trace.WithAttributes(attribute.String("payment.id", id)))
	defer func() { endSpan(span, err) }()

	p, err := s.repo.FindOwned(ctx, id, ownerID)
	if err != nil {
		return CreateResult{}, err
	}
	token, err := s.newToken()
	if err != nil {
		return CreateResult{}, fmt.Errorf("generate auth token: %w", err)
	}
	t, err := StartAuthWindow(p, token, s.policy.AuthWindow, s.now().UTC())
	if err != nil {
		return CreateResult{}, err
	}
	next, err := s.persist(ctx, p, t)
	if err != nil {
		return CreateResult{}, err
	}
	return createResult(next), nil
}

// GetAuthStatus reports the confirmation window, failing it first if it has
// lapsed.
func (s *Service) GetAuthStatus(ctx context.Context, id, ownerID string) (AuthStatus, error) {
	p, err := s.repo.FindOwned(ctx, id, ownerID)
	if err != nil {
		return AuthStatus{}, err
	}
	now := s.now().UTC()
	if t := Expire(p, now); t.Changed() {
		next, err := s.persist(ctx, p, t)
		switch {
		case err == nil:
			p = next
		case !errors.Is(err, ErrInvalidStateTransition):
			return AuthStatus{}, err
		}
	}
	if !IsAuthPending(p, now) {
		return AuthStatus{}, nil
	}
	return AuthStatus{Pending: true, RemainingSeconds: RemainingSeconds(p, now), Token: p.Auth.Token}, nil
}

// ApprovePayment confirms a pending payment with its one-time token. A wrong
// token or a lapsed window fails the payment.
func (s *Service) ApprovePayment(ctx context.Context, id, ownerID, token string) (paymentID string, err error) {
	ctx, span := s.tracer.Start(ctx, "payments.ApprovePayment", trace.WithAttributes(attribute.String("payment.id", id)))
	defer func() { endSpan(span, err) }()

	p, err := s.repo.FindOwned(ctx, id, ownerID)
	if err != nil {
		return "", err
	}
	now := s.now().UTC()

	var ref string
	if IsAuthPending(p, now) && VerifyToken(p.Auth.Token, token) {
		if ref, err = s.newRef(); err != nil {
			return "", fmt.Errorf("generate proof reference: %w", err)
		}
	}

	t, approveErr := Approve(p, token, now, ref)
	next, err := s.persist(ctx, p, t)
	if err != nil {
		return "", err
	}
	if approveErr != nil {
		s.logger.Info("payment approval rejected", "payment_id", p.ID, "error", approveErr)
		return "", approveErr
	}
	s.settle(ctx, next)
	return p.ID, nil
}

// ListPayments returns the owner's payments newest first with decrypted
// account numbers. A record that fails decryption is flagged, not dropped.
func (s *Service) ListPayments(ctx context.Context, ownerID string) ([]Summary, error) {
	list, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(list))
	for _, p := range list {
		account, err := s.cipher.Decrypt(p.BeneficiaryAccountEnc)
		if err != nil {
			s.logger.Error("decrypt payment account", "payment_id", p.ID, "error", err)
			out = append(out, toSummary(p, "", true))
			continue
		}
		out = append(out, toSummary(p, account, false))
	}
	return out, nil
}

// GetSummary returns one of the owner's payments with its decrypted account.
func (s *Service) GetSummary(ctx context.Context, id, ownerID string) (Summary, error) {
	p, err := s.repo.FindOwnedWithAccount(ctx, id, ownerID)
	if err != nil {
		return Summary{}, err
	}
	account, err := s.cipher.Decrypt(p.BeneficiaryAccountEnc)
	if err != nil {
		return Summary{}, fmt.Errorf("decrypt account: %w", err)
	}
	return toSummary(p, account, false), nil
}

// Receipt returns the proof-of-payment fields of a settled payment.
func (s *Service) Receipt(ctx context.Context, id, ownerID string) (Receipt, error) {
	p, err := s.repo.FindOwned(ctx, id, ownerID)
	if err != nil {
		return Receipt{}, err
	}
	if !p.Status.Settled() {
		return Receipt{}, fmt.Errorf("%w: payment not completed", ErrInvalidStateTransition)
	}
	return toReceipt(p), nil
}

// EmailReceipt asks the notification service to send the receipt to an
// address.
func (s *Service) EmailReceipt(ctx context.Context, id, ownerID, to string) error {
	addr, err := mail.ParseAddress(strings.TrimSpace(to))
	if err != nil {
		return invalid("email")
	}
	receipt, err := s.Receipt(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if s.notifier == nil {
		return errors.New("receipt delivery unavailable")
	}
	err = s.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindReceiptRequested,
		Destination: addr.Address,
		Subject:     "Proof of Payment " + receipt.Reference,
		Data:        receipt,
	})
	if err != nil {
		return fmt.Errorf("dispatch receipt: %w", err)
	}
	s.logger.Info("receipt dispatched", "payment_id", id, "owner_id", ownerID)
	return nil
}

// StaffGet returns the staff view of any payment.
func (s *Service) StaffGet(ctx context.Context, id string) (StaffView, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return StaffView{}, err
	}
	return toStaffView(p, s.ownerOf(ctx, p.OwnerID, nil)), nil
}

// StaffVerify moves a payment to verified after the approval gate.
func (s *Service) StaffVerify(ctx context.Context, id, actorID, pin, note string) (view StaffView, err error) {
	ctx, span := s.tracer.Start(ctx, "payments.StaffVerify", trace.WithAttributes(attribute.String("payment.id", id)))
	defer func() { endSpan(span, err) }()

	note = strings.TrimSpace(note)
	if !validNote(note) {
		return StaffView{}, invalid("note")
	}
	actor, err := s.authorize(ctx, actorID, pin)
	if err != nil {
		return StaffView{}, err
	}
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return StaffView{}, err
	}
	t, err := Verify(p, actor.ID, note, s.now().UTC())
	if err != nil {
		return StaffView{}, err
	}
	next, err := s.persist(ctx, p, t)
	if err != nil {
		return StaffView{}, err
	}
	return toStaffView(next, s.ownerOf(ctx, next.OwnerID, nil)), nil
}

// StaffSubmit submits a verified payment to the settlement network after the
// approval gate. Submitting a completed payment returns it unchanged.
func (s *Service) StaffSubmit(ctx context.Context, id, actorID, pin string) (view StaffView, err error) {
	ctx, span := s.tracer.Start(ctx, "payments.StaffSubmit", trace.WithAttributes(attribute.String("payment.id", id)))
	defer func() { endSpan(span, err) }()

	actor, err := s.authorize(ctx, actorID, pin)
	if err != nil {
		return StaffView{}, err
	}
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return StaffView{}, err
	}

	var ref string
	if p.Status == StatusVerified {
		if ref, err = s.newRef(); err != nil {
			return StaffView{}, fmt.Errorf("generate proof reference: %w", err)
		}
	}

	t, err := Submit(p, actor.ID, s.now().UTC(), ref)
	if err != nil {
		return StaffView{}, err
	}
	next, err := s.persist(ctx, p, t)
	if err != nil {
		return StaffView{}, err
	}
	if t.Changed() {
		s.settle(ctx, next)
	}
	return toStaffView(next, s.ownerOf(ctx, next.OwnerID, nil)), nil
}

// AddNote appends a staff note to the audit trail.
func (s *Service) AddNote(ctx context.Context, id, actorID, note string) (StaffView, error) {
	note = strings.TrimSpace(note)
	if note == "" || !validNote(note) {
		return StaffView{}, invalid("note")
	}
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return StaffView{}, err
	}
	next, err := s.persist(ctx, p, Annotate(p, actorID, note, s.now().UTC()))
	if err != nil {
		return StaffView{}, err
	}
	return toStaffView(next, s.ownerOf(ctx, next.OwnerID, nil)), nil
}

// Search pages through all payments for staff.
func (s *Service) Search(ctx context.Context, in SearchInput) (SearchResult, error) {
	filter, page, size, err := parseSearch(in)
	if err != nil {
		return SearchResult{}, err
	}
	list, total, err := s.repo.Search(ctx, filter)
	if err != nil {
		return SearchResult{}, err
	}
	owners := make(map[string]identity.Owner)
	items := make([]StaffView, 0, len(list))
	for _, p := range list {
		items = append(items, toStaffView(p, s.ownerOf(ctx, p.OwnerID, owners)))
	}
	return SearchResult{Items: items, Total: total, Page: page, PageSize: size}, nil
}

// ListForOwner returns staff views of one customer's payments.
func (s *Service) ListForOwner(ctx context.Context, ownerID string) ([]StaffView, error) {
	list, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	owner := s.ownerOf(ctx, ownerID, nil)
	out := make([]StaffView, 0, len(list))
	for _, p := range list {
		out = append(out, toStaffView(p, owner))
	}
	return out, nil
}

// ExpireLapsed fails up to limit payments whose window has lapsed. Payments
// that change concurrently are skipped.
func (s *Service) ExpireLapsed(ctx context.Context, limit int) (int, error) {
	now := s.now().UTC()
	list, err := s.repo.ListAuthExpired(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	var expired int
	for _, p := range list {
		t := Expire(p, now)
		if !t.Changed() {
			continue
		}
		if _, err := s.persist(ctx, p, t); err != nil {
			if errors.Is(err, ErrInvalidStateTransition) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

func (s *Service) authorize(ctx context.Context, actorID, pin string) (identity.Actor, error) {
	if s.gate == nil {
		return identity.Actor{}, approval.ErrInvalidRole
	}
	actor, err := s.gate.Authorize(ctx, actorID, pin)
	if err != nil {
		metrics.RecordGateRejection(gateReason(err))
		s.logger.Warn("approval gate rejected", "actor_id", actorID, "error", err)
		return identity.Actor{}, err
	}
	return actor, nil
}

func gateReason(err error) string {
	switch {
	case errors.Is(err, approval.ErrInvalidPin):
		return "invalid_pin"
	case errors.Is(err, approval.ErrNoPinConfigured):
		return "no_pin"
	case errors.Is(err, approval.ErrInvalidRole):
		return "invalid_role"
	case errors.Is(err, approval.ErrPinLocked):
		return "locked"
	default:
		return "error"
	}
}

// persist writes a changed transition with compare-and-swap. Losing the race
// surfaces as ErrInvalidStateTransition.
func (s *Service) persist(ctx context.Context, current Payment, t Transition) (Payment, error) {
	if !t.Changed() {
		return t.Next, nil
	}
	if err := s.repo.UpdateWithAudit(ctx, t.Next, current.Version, t.Audit); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return Payment{}, fmt.Errorf("%w: payment changed concurrently", ErrInvalidStateTransition)
		}
		return Payment{}, fmt.Errorf("persist payment: %w", err)
	}
	next := t.Next
	next.Version = current.Version + 1

	if next.Status != current.Status {
		metrics.RecordTransition(string(next.Status))
		s.logger.Info("payment transition", "payment_id", next.ID, "from", current.Status, "to", next.Status)
		s.publish(ctx, next)
	}
	return next, nil
}

// settle hands a committed payment to the settlement network. Only the caller
// that won the compare-and-swap gets here. A rejected submission leaves the
// committed record as is and is counted for operators to reconcile by
// reference.
func (s *Service) settle(ctx context.Context, p Payment) {
	conf, err := s.network.Submit(ctx, instructionFor(p))
	if err != nil {
		metrics.RecordSettlementFailure()
		s.logger.Error("settlement submit", "payment_id", p.ID, "reference", p.ProofRef, "error", err)
		return
	}
	s.logger.Info("settlement submitted", "payment_id", p.ID, "reference", p.ProofRef, "network_status", conf.Status)
}

func (s *Service) publish(ctx context.Context, p Payment) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindPaymentStatus,
		Destination: p.OwnerID,
		Data:        statusEvent{PaymentID: p.ID, Status: p.Status, ProofRef: p.ProofRef, At: p.UpdatedAt},
	})
	if err != nil {
		s.logger.Warn("publish payment event", "payment_id", p.ID, "error", err)
	}
}

func (s *Service) ownerOf(ctx context.Context, id string, cache map[string]identity.Owner) identity.Owner {
	if owner, ok := cache[id]; ok {
		return owner
	}
	owner := identity.Owner{ID: id}
	if s.owners != nil {
		if actor, err := s.owners.FindByID(ctx, id); err == nil {
			owner = actor.OwnerView()
		}
	}
	if cache != nil {
		cache[id] = owner
	}
	return owner
}

func createResult(p Payment) CreateResult {
	res := CreateResult{PaymentID: p.ID, Status: p.Status}
	if p.Auth != nil {
		res.AuthToken = p.Auth.Token
		res.ExpiresAt = timePtr(p.Auth.ExpiresAt)
	}
	return res
}

func toSummary(p Payment, account string, unavailable bool) Summary {
	return Summary{
		ID:                 p.ID,
		Status:             p.Status,
		Amount:             p.Amount,
		Currency:           p.Currency,
		Provider:           p.Provider,
		BeneficiaryName:    p.BeneficiaryName,
		BeneficiarySwift:   p.BeneficiarySwift,
		BeneficiaryAccount: account,
		AccountUnavailable: unavailable,
		SavedBeneficiaryID: p.SavedBeneficiaryID,
		ProofRef:           p.ProofRef,
		CreatedAt:          p.CreatedAt,
		CompletedAt:        p.CompletedAt,
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
