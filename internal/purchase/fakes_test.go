package purchase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkurbatov/vpn-shop-bot/internal/payments"
	"github.com/dkurbatov/vpn-shop-bot/internal/provision"
	"github.com/dkurbatov/vpn-shop-bot/store"
	"github.com/dkurbatov/vpn-shop-bot/types"
)

// memEntityStore mirrors the conditional-update contracts of the Postgres
// store so races resolve the same way under test.
type memEntityStore struct {
	mu      sync.Mutex
	seq     int64
	users   map[int64]*types.User
	orders  map[string]*types.Order
	subs    map[string]*types.Subscription
	credits map[string]types.ReferralCredit

	failCutoff time.Time
}

func newMemEntityStore() *memEntityStore {
	return &memEntityStore{
		users:   make(map[int64]*types.User),
		orders:  make(map[string]*types.Order),
		subs:    make(map[string]*types.Subscription),
		credits: make(map[string]types.ReferralCredit),
	}
}

func (s *memEntityStore) GetOrCreateUser(_ context.Context, u types.User) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.users[u.UserID]; ok {
		existing.ChatID = u.ChatID
		existing.Username = u.Username
		existing.FirstName = u.FirstName
		cp := *existing
		return &cp, nil
	}
	s.seq++
	u.Seq = s.seq
	u.CreatedAt = time.Now().UTC()
	cp := u
	s.users[u.UserID] = &cp
	out := cp
	return &out, nil
}

func (s *memEntityStore) GetUser(_ context.Context, userID int64) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memEntityStore) GetUserByReferralCode(_ context.Context, code string) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ReferralCode == code {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *memEntityStore) SetReferrer(_ context.Context, userID, referrerID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return false, store.ErrNotFound
	}
	if u.ReferrerID != nil || userID == referrerID {
		return false, nil
	}
	u.ReferrerID = &referrerID
	return true, nil
}

func (s *memEntityStore) CreateOrder(_ context.Context, o *types.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.Status = types.OrderPending
	o.CreatedAt = time.Now().UTC()
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *memEntityStore) GetOrder(_ context.Context, id string) (*types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *memEntityStore) SetOrderExternal(_ context.Context, id, externalRef, payURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return store.ErrNotFound
	}
	o.ExternalRef = externalRef
	o.PayURL = payURL
	return nil
}

func (s *memEntityStore) CompleteOrderIfPending(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != types.OrderPending {
		return false, nil
	}
	o.Status = types.OrderCompleted
	o.CompletedAt = &at
	return true, nil
}

func (s *memEntityStore) FinishOrderIfPending(_ context.Context, id string, status types.OrderStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != types.OrderPending {
		return false, nil
	}
	o.Status = status
	return true, nil
}

func (s *memEntityStore) CancelPendingOrders(_ context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, o := range s.orders {
		if o.UserID == userID && o.Status == types.OrderPending {
			o.Status = types.OrderCancelled
			n++
		}
	}
	return n, nil
}

func (s *memEntityStore) FailOrdersPendingSince(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCutoff = cutoff
	var n int64
	for _, o := range s.orders {
		if o.Status == types.OrderPending && o.CreatedAt.Before(cutoff) {
			o.Status = types.OrderFailed
			n++
		}
	}
	return n, nil
}

func (s *memEntityStore) ActivateSubscription(_ context.Context, sub *types.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.OrderID]; ok {
		return nil
	}
	for _, existing := range s.subs {
		if existing.UserID == sub.UserID {
			existing.IsActive = false
		}
	}
	cp := *sub
	cp.IsActive = true
	s.subs[sub.OrderID] = &cp
	return nil
}

func (s *memEntityStore) GetActiveSubscription(_ context.Context, userID int64) (*types.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.UserID == userID && sub.IsActive && sub.EndsAt.After(time.Now()) {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *memEntityStore) GetSubscriptionByOrder(_ context.Context, orderID string) (*types.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *memEntityStore) AddReferralCredit(_ context.Context, c types.ReferralCredit) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.credits[c.OrderID]; ok {
		return false, nil
	}
	s.credits[c.OrderID] = c
	return true, nil
}

func (s *memEntityStore) ReferralBalance(_ context.Context, referrerID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, c := range s.credits {
		if c.ReferrerID == referrerID {
			total += c.Amount
		}
	}
	return total, nil
}

func (s *memEntityStore) CountReferrals(_ context.Context, referrerID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, u := range s.users {
		if u.ReferrerID != nil && *u.ReferrerID == referrerID {
			n++
		}
	}
	return n, nil
}

func (s *memEntityStore) creditCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.credits)
}

func (s *memEntityStore) subscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

type memScratchStore struct {
	mu       sync.Mutex
	byChatID map[int64]*types.Scratch
}

func newMemScratchStore() *memScratchStore {
	return &memScratchStore{byChatID: make(map[int64]*types.Scratch)}
}

func (s *memScratchStore) GetScratch(chatID int64) (*types.Scratch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.byChatID[chatID]
	if !ok {
		return nil, store.ErrScratchNotFound
	}
	cp := *sc
	return &cp, nil
}

func (s *memScratchStore) PutScratch(sc *types.Scratch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sc
	s.byChatID[sc.ChatID] = &cp
	return nil
}

func (s *memScratchStore) DeleteScratch(chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byChatID, chatID)
	return nil
}

// scriptedGateway pops one response per call, repeating the last entry once
// the script runs out.
type scriptedGateway struct {
	mu         sync.Mutex
	createErrs []error
	statuses   []payments.Status
	created    int
	checked    int
}

func (g *scriptedGateway) Create(_ context.Context, amountMinor int64, _ string) (*payments.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created++
	if len(g.createErrs) > 0 {
		err := g.createErrs[0]
		g.createErrs = g.createErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &payments.Invoice{
		ExternalRef: fmt.Sprintf("inv_%d", g.created),
		PayURL:      fmt.Sprintf("https://pay.example/%d", amountMinor),
	}, nil
}

func (g *scriptedGateway) CheckStatus(_ context.Context, _ string) (payments.Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checked++
	if len(g.statuses) == 0 {
		return payments.StatusPending, nil
	}
	status := g.statuses[0]
	if len(g.statuses) > 1 {
		g.statuses = g.statuses[1:]
	}
	return status, nil
}

type countingProvisioner struct {
	mu     sync.Mutex
	allocs int
	err    error
	delay  time.Duration
}

func (p *countingProvisioner) Allocate(_ context.Context, userKey int64, protocol types.Protocol) (*provision.Profile, error) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.allocs++
	return &provision.Profile{
		Protocol: protocol,
		FileName: fmt.Sprintf("vpn_%d.conf", userKey),
		Config:   fmt.Sprintf("config for %d via %s", userKey, protocol),
	}, nil
}

func (p *countingProvisioner) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocs
}
