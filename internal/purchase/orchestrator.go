package purchase

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/dkurbatov/vpn-shop-bot/internal/catalog"
	"github.com/dkurbatov/vpn-shop-bot/internal/payments"
	"github.com/dkurbatov/vpn-shop-bot/internal/provision"
	"github.com/dkurbatov/vpn-shop-bot/store"
	"github.com/dkurbatov/vpn-shop-bot/types"
)

// User input errors: recovered by re-prompting, never logged above debug.
var (
	ErrUnknownPlan     = errors.New("unknown plan")
	ErrUnknownProtocol = errors.New("unknown protocol")
	ErrWrongState      = errors.New("no purchase step awaiting this input")
	ErrOrderMismatch   = errors.New("order does not belong to this conversation")
)

// ErrProvisioningFailed covers a settled order whose profile could not be
// produced. The order stays completed; the next verify repairs it.
var ErrProvisioningFailed = errors.New("provisioning failed")

type VerifyOutcome int

const (
	// VerifyCompleted: settlement observed, order transitioned, subscription
	// activated, profile freshly provisioned.
	VerifyCompleted VerifyOutcome = iota
	// VerifyAlreadyCompleted: duplicate trigger, stored profile replayed.
	VerifyAlreadyCompleted
	// VerifyStillPending: provider has not settled yet, nothing mutated.
	VerifyStillPending
	// VerifyOrderClosed: the order is failed or cancelled.
	VerifyOrderClosed
)

type VerifyResult struct {
	Outcome      VerifyOutcome
	Order        *types.Order
	Subscription *types.Subscription
	Profile      string
	FileName     string
}

type PaymentIntent struct {
	Order  *types.Order
	Plan   catalog.Plan
	PayURL string
}

// Orchestrator drives one conversation through plan, protocol and payment
// method selection, payment creation and verification, and subscription
// activation. A conversation's inputs arrive serialized (middleware), so
// scratch state is never mutated concurrently; all cross-trigger races are
// resolved by the store's conditional updates.
type Orchestrator struct {
	store    types.EntityStore
	scratch  types.ScratchStore
	catalog  *catalog.Catalog
	gateways *payments.Registry
	prov     provision.Provisioner
	ledger   *Ledger
	log      zerolog.Logger
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*orderLock
}

// orderLock serializes settlement work for one order id. Entries are
// evicted once the last holder releases, so the map is bounded by the
// number of in-flight verifies.
type orderLock struct {
	mu   sync.Mutex
	refs int
}

func NewOrchestrator(
	entities types.EntityStore,
	scratch types.ScratchStore,
	cat *catalog.Catalog,
	gateways *payments.Registry,
	prov provision.Provisioner,
	ledger *Ledger,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:    entities,
		scratch:  scratch,
		catalog:  cat,
		gateways: gateways,
		prov:     prov,
		ledger:   ledger,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		locks:    make(map[string]*orderLock),
	}
}

func (o *Orchestrator) lockOrder(id string) func() {
	o.mu.Lock()
	l, ok := o.locks[id]
	if !ok {
		l = &orderLock{}
		o.locks[id] = l
	}
	l.refs++
	o.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		o.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(o.locks, id)
		}
		o.mu.Unlock()
	}
}

const referralCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func NewReferralCode() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// uuid still gives unique material if the system RNG misbehaves
		copy(buf, uuid.NewString())
	}
	for i, b := range buf {
		buf[i] = referralCodeAlphabet[int(b)%len(referralCodeAlphabet)]
	}
	return string(buf)
}

// StartConversation upserts the user and, on the very first contact with a
// referral code, binds the referrer. The binding is a conditional write:
// once set it never changes, and self-referral never applies.
func (o *Orchestrator) StartConversation(ctx context.Context, u types.User, referralCode string) (*types.User, error) {
	u.ReferralCode = NewReferralCode()
	user, err := o.store.GetOrCreateUser(ctx, u)
	if err != nil {
		return nil, err
	}

	if referralCode != "" && user.ReferrerID == nil {
		referrer, err := o.store.GetUserByReferralCode(ctx, referralCode)
		switch {
		case errors.Is(err, store.ErrNotFound):
			o.log.Debug().Int64("user_id", user.UserID).Str("code", referralCode).Msg("referral code not found")
		case err != nil:
			return nil, err
		case referrer.UserID != user.UserID:
			applied, err := o.store.SetReferrer(ctx, user.UserID, referrer.UserID)
			if err != nil {
				return nil, err
			}
			if applied {
				user.ReferrerID = &referrer.UserID
				o.log.Info().Int64("user_id", user.UserID).Int64("referrer_id", referrer.UserID).Msg("referral attached")
			}
		}
	}

	return user, nil
}

// BeginPurchase starts a fresh run of the purchase flow. Any previous
// scratch state for the conversation is discarded.
func (o *Orchestrator) BeginPurchase(chatID, userID int64) error {
	return o.scratch.PutScratch(&types.Scratch{
		ChatID: chatID,
		UserID: userID,
		State:  types.StateSelectingPlan,
	})
}

func (o *Orchestrator) Plans() []catalog.Plan {
	return o.catalog.Plans()
}

func (o *Orchestrator) Methods() []string {
	return o.gateways.Methods()
}

// CurrentPlan reports the plan picked in the live conversation, if any.
func (o *Orchestrator) CurrentPlan(chatID int64) (catalog.Plan, bool) {
	scratch, err := o.scratch.GetScratch(chatID)
	if err != nil || scratch.PlanID == "" {
		return catalog.Plan{}, false
	}
	return o.catalog.Plan(scratch.PlanID)
}

func (o *Orchestrator) getScratch(chatID int64, want types.PurchaseState) (*types.Scratch, error) {
	scratch, err := o.scratch.GetScratch(chatID)
	if err != nil {
		if errors.Is(err, store.ErrScratchNotFound) {
			return nil, ErrWrongState
		}
		return nil, err
	}
	if scratch.State != want {
		return nil, ErrWrongState
	}
	return scratch, nil
}

func (o *Orchestrator) SelectPlan(ctx context.Context, chatID int64, planID string) (catalog.Plan, error) {
	scratch, err := o.getScratch(chatID, types.StateSelectingPlan)
	if err != nil {
		return catalog.Plan{}, err
	}

	plan, ok := o.catalog.Plan(planID)
	if !ok {
		return catalog.Plan{}, fmt.Errorf("%w: %q", ErrUnknownPlan, planID)
	}

	scratch.PlanID = plan.ID
	scratch.State = types.StateSelectingProtocol
	if err := o.scratch.PutScratch(scratch); err != nil {
		return catalog.Plan{}, err
	}
	return plan, nil
}

func (o *Orchestrator) SelectProtocol(ctx context.Context, chatID int64, raw string) (types.Protocol, error) {
	scratch, err := o.getScratch(chatID, types.StateSelectingProtocol)
	if err != nil {
		return "", err
	}

	protocol, ok := types.ParseProtocol(raw)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProtocol, raw)
	}

	scratch.Protocol = protocol
	scratch.State = types.StateSelectingPaymentMethod
	if err := o.scratch.PutScratch(scratch); err != nil {
		return "", err
	}
	return protocol, nil
}

// SelectPaymentMethod creates the pending order and the provider invoice.
// At most one pending order is live per user: a new selection supersedes
// any prior one. A transient provider failure is retried once with backoff;
// any final failure rolls the order to failed and aborts the purchase, so
// the flow never parks in AwaitingPayment with an unresolvable order.
func (o *Orchestrator) SelectPaymentMethod(ctx context.Context, chatID, userID int64, method string) (*PaymentIntent, error) {
	scratch, err := o.getScratch(chatID, types.StateSelectingPaymentMethod)
	if err != nil {
		return nil, err
	}

	plan, ok := o.catalog.Plan(scratch.PlanID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, scratch.PlanID)
	}

	gateway, err := o.gateways.Lookup(method)
	if err != nil {
		o.log.Error().Err(err).
			Int64("user_id", userID).
			Str("method", method).
			Msg("payment method not registered")
		return nil, err
	}

	if n, err := o.store.CancelPendingOrders(ctx, userID); err != nil {
		return nil, err
	} else if n > 0 {
		o.log.Debug().Int64("user_id", userID).Int64("superseded", n).Msg("cancelled prior pending orders")
	}

	order := &types.Order{
		ID:       uuid.NewString(),
		UserID:   userID,
		PlanID:   plan.ID,
		Protocol: scratch.Protocol,
		Method:   method,
		Amount:   plan.AmountMinor(),
	}
	if err := o.store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	description := fmt.Sprintf("VPN %s (%s)", plan.Name, scratch.Protocol)
	var invoice *payments.Invoice
	backoff := retry.WithMaxRetries(1, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		inv, err := gateway.Create(ctx, order.Amount, description)
		if err != nil {
			if errors.Is(err, payments.ErrProviderUnavailable) {
				return retry.RetryableError(err)
			}
			return err
		}
		invoice = inv
		return nil
	})
	if err != nil {
		if _, ferr := o.store.FinishOrderIfPending(ctx, order.ID, types.OrderFailed); ferr != nil {
			o.log.Error().Err(ferr).Str("order_id", order.ID).Msg("failed to roll back order")
		}
		_ = o.scratch.DeleteScratch(chatID)
		o.logProviderError(err, userID, order.ID, method)
		return nil, err
	}

	if err := o.store.SetOrderExternal(ctx, order.ID, invoice.ExternalRef, invoice.PayURL); err != nil {
		return nil, err
	}
	order.ExternalRef = invoice.ExternalRef
	order.PayURL = invoice.PayURL

	scratch.OrderID = order.ID
	scratch.State = types.StateAwaitingPayment
	if err := o.scratch.PutScratch(scratch); err != nil {
		return nil, err
	}

	o.log.Info().
		Int64("user_id", userID).
		Str("order_id", order.ID).
		Str("method", method).
		Int64("amount", order.Amount).
		Msg("payment created")

	return &PaymentIntent{Order: order, Plan: plan, PayURL: invoice.PayURL}, nil
}

func (o *Orchestrator) logProviderError(err error, userID int64, orderID, method string) {
	evt := o.log.Error()
	if errors.Is(err, payments.ErrProviderUnavailable) {
		evt = o.log.Warn()
	}
	evt.Err(err).
		Int64("user_id", userID).
		Str("order_id", orderID).
		Str("method", method).
		Msg("payment creation failed")
}

// VerifyPayment is the only path that completes an order. The compare-and-set
// on the order row makes it idempotent: exactly one trigger provisions and
// credits, every other trigger replays the stored profile. Triggers for the
// same order are additionally serialized in-process, so a CAS loser never
// observes the completed status before the winner has stored the
// subscription row.
func (o *Orchestrator) VerifyPayment(ctx context.Context, chatID, userID int64, orderID string) (*VerifyResult, error) {
	unlock := o.lockOrder(orderID)
	defer unlock()

	order, err := o.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrOrderMismatch
		}
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrOrderMismatch
	}

	switch order.Status {
	case types.OrderCompleted:
		return o.replayCompleted(ctx, chatID, order)
	case types.OrderFailed, types.OrderCancelled:
		return &VerifyResult{Outcome: VerifyOrderClosed, Order: order}, nil
	}

	gateway, err := o.gateways.Lookup(order.Method)
	if err != nil {
		o.log.Error().Err(err).
			Str("order_id", order.ID).
			Str("method", order.Method).
			Msg("payment method not registered for verification")
		return nil, err
	}

	status, err := gateway.CheckStatus(ctx, order.ExternalRef)
	if err != nil {
		o.log.Warn().Err(err).Str("order_id", order.ID).Msg("settlement check failed")
		return nil, err
	}

	switch status {
	case payments.StatusPending:
		return &VerifyResult{Outcome: VerifyStillPending, Order: order}, nil
	case payments.StatusFailed:
		if _, err := o.store.FinishOrderIfPending(ctx, order.ID, types.OrderFailed); err != nil {
			return nil, err
		}
		order.Status = types.OrderFailed
		return &VerifyResult{Outcome: VerifyOrderClosed, Order: order}, nil
	}

	applied, err := o.store.CompleteOrderIfPending(ctx, order.ID, o.now())
	if err != nil {
		return nil, err
	}
	if !applied {
		// Lost the race. Either a concurrent verify completed the order, or
		// the sweep/cancel got there first and the settlement arrived late.
		current, err := o.store.GetOrder(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		if current.Status == types.OrderCompleted {
			return o.replayCompleted(ctx, chatID, current)
		}
		o.log.Warn().
			Str("order_id", order.ID).
			Str("status", string(current.Status)).
			Msg("settlement observed for order no longer pending; manual reconciliation required")
		return &VerifyResult{Outcome: VerifyOrderClosed, Order: current}, nil
	}

	order.Status = types.OrderCompleted
	return o.activate(ctx, chatID, order, VerifyCompleted)
}

// replayCompleted serves duplicate verify triggers: the stored profile is
// re-emitted without re-provisioning or re-crediting. Callers hold the
// order lock, so any concurrent activation has finished before the lookup;
// a completed order with no subscription row therefore means the process
// died between the status transition and provisioning, and that gap is
// repaired here.
func (o *Orchestrator) replayCompleted(ctx context.Context, chatID int64, order *types.Order) (*VerifyResult, error) {
	sub, err := o.store.GetSubscriptionByOrder(ctx, order.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			o.log.Warn().Str("order_id", order.ID).Msg("completed order without subscription; repairing")
			return o.activate(ctx, chatID, order, VerifyAlreadyCompleted)
		}
		return nil, err
	}
	return &VerifyResult{
		Outcome:      VerifyAlreadyCompleted,
		Order:        order,
		Subscription: sub,
		Profile:      sub.VPNConfig,
		FileName:     profileFileName(order.Protocol),
	}, nil
}

func (o *Orchestrator) activate(ctx context.Context, chatID int64, order *types.Order, outcome VerifyOutcome) (*VerifyResult, error) {
	user, err := o.store.GetUser(ctx, order.UserID)
	if err != nil {
		return nil, err
	}
	plan, ok := o.catalog.Plan(order.PlanID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, order.PlanID)
	}

	profile, err := o.prov.Allocate(ctx, user.Seq, order.Protocol)
	if err != nil {
		o.log.Error().Err(err).
			Str("order_id", order.ID).
			Int64("user_id", order.UserID).
			Str("protocol", string(order.Protocol)).
			Msg("provisioning failed for settled order")
		if errors.Is(err, provision.ErrAllocationExhausted) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrProvisioningFailed, err)
	}

	now := o.now()
	sub := &types.Subscription{
		ID:        uuid.NewString(),
		UserID:    order.UserID,
		OrderID:   order.ID,
		PlanID:    order.PlanID,
		StartsAt:  now,
		EndsAt:    now.Add(plan.Duration()),
		IsActive:  true,
		VPNConfig: profile.Config,
	}
	if err := o.store.ActivateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	if err := o.ledger.OnOrderCompleted(ctx, order); err != nil {
		// The credit insert is idempotent; a lost credit here is recoverable
		// from the orders table, so the activation still succeeds.
		o.log.Error().Err(err).Str("order_id", order.ID).Msg("referral credit failed")
	}

	_ = o.scratch.DeleteScratch(chatID)

	o.log.Info().
		Str("order_id", order.ID).
		Int64("user_id", order.UserID).
		Str("plan_id", order.PlanID).
		Time("ends_at", sub.EndsAt).
		Msg("subscription activated")

	return &VerifyResult{
		Outcome:      outcome,
		Order:        order,
		Subscription: sub,
		Profile:      profile.Config,
		FileName:     profileFileName(order.Protocol),
	}, nil
}

// Cancel closes the purchase flow in any state. Only still-pending orders
// are touched; an order settled out-of-band keeps its status, and a late
// settlement of a cancelled order is an anomaly handled at verify time.
func (o *Orchestrator) Cancel(ctx context.Context, chatID, userID int64) (int64, error) {
	cancelled, err := o.store.CancelPendingOrders(ctx, userID)
	if err != nil {
		return 0, err
	}
	if err := o.scratch.DeleteScratch(chatID); err != nil {
		return cancelled, err
	}
	if cancelled > 0 {
		o.log.Info().Int64("user_id", userID).Int64("orders", cancelled).Msg("purchase cancelled")
	}
	return cancelled, nil
}

func profileFileName(protocol types.Protocol) string {
	if protocol == types.ProtocolOpenVPN {
		return "vpn_config.ovpn"
	}
	return "vpn_config.conf"
}
