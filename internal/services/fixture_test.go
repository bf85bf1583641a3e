package services

import (
	"bytes"
	"context"
	"database/sql"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"agentdesk/internal/catalog"
	"agentdesk/internal/events"
	"agentdesk/internal/models"
	"agentdesk/internal/store"
	"agentdesk/internal/validator"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// memState is everything the in-memory database holds. WithTx snapshots it
// and restores the snapshot when the transaction function fails.
type memState struct {
	wallets  map[string]models.Wallet
	ledger   []models.Transaction
	requests map[string]models.ServiceRequest
	changes  map[string]models.PendingAccountChange
	users    map[string]models.User
	admins   map[string]bool
	roles    map[string]map[models.AdminRole]bool
	audit    []models.AuditEntry
}

func (s memState) clone() memState {
	out := memState{
		wallets:  make(map[string]models.Wallet, len(s.wallets)),
		ledger:   append([]models.Transaction(nil), s.ledger...),
		requests: make(map[string]models.ServiceRequest, len(s.requests)),
		changes:  make(map[string]models.PendingAccountChange, len(s.changes)),
		users:    make(map[string]models.User, len(s.users)),
		admins:   make(map[string]bool, len(s.admins)),
		roles:    make(map[string]map[models.AdminRole]bool, len(s.roles)),
		audit:    append([]models.AuditEntry(nil), s.audit...),
	}
	for k, v := range s.wallets {
		out.wallets[k] = v
	}
	for k, v := range s.requests {
		out.requests[k] = v
	}
	for k, v := range s.changes {
		out.changes[k] = v
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.admins {
		out.admins[k] = v
	}
	for k, v := range s.roles {
		granted := make(map[models.AdminRole]bool, len(v))
		for role := range v {
			granted[role] = true
		}
		out.roles[k] = granted
	}
	return out
}

// memDB serializes transactions with txMu, which stands in for the row locks
// the Postgres stores take. dataMu guards reads made outside a transaction.
type memDB struct {
	txMu   sync.Mutex
	dataMu sync.Mutex
	state  memState
}

func newMemDB() *memDB {
	return &memDB{state: memState{}.clone()}
}

func (m *memDB) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	m.dataMu.Lock()
	snapshot := m.state.clone()
	m.dataMu.Unlock()
	if err := fn(nil); err != nil {
		m.dataMu.Lock()
		m.state = snapshot
		m.dataMu.Unlock()
		return err
	}
	return nil
}

func (m *memDB) with(fn func(s *memState)) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	fn(&m.state)
}

func uniqueViolation(constraint string) error {
	return &pq.Error{Code: "23505", Constraint: constraint}
}

type memWallets struct{ db *memDB }

func (w memWallets) Create(_ context.Context, _ store.Execer, userID string) error {
	var err error
	w.db.with(func(s *memState) {
		if _, ok := s.wallets[userID]; ok {
			err = uniqueViolation("wallets_pkey")
			return
		}
		s.wallets[userID] = models.Wallet{UserID: userID, Balance: decimal.Zero, CommissionBalance: decimal.Zero}
	})
	return err
}

func (w memWallets) GetByUser(_ context.Context, userID string) (models.Wallet, error) {
	var (
		wallet models.Wallet
		ok     bool
	)
	w.db.with(func(s *memState) { wallet, ok = s.wallets[userID] })
	if !ok {
		return models.Wallet{}, sql.ErrNoRows
	}
	return wallet, nil
}

func (w memWallets) GetForUpdate(ctx context.Context, _ store.Getter, userID string) (models.Wallet, error) {
	return w.GetByUser(ctx, userID)
}

func (w memWallets) UpdateBalance(_ context.Context, _ store.Execer, userID string, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return &pq.Error{Code: "23514", Constraint: "wallets_balance_check"}
	}
	w.db.with(func(s *memState) {
		wallet := s.wallets[userID]
		wallet.Balance = balance
		s.wallets[userID] = wallet
	})
	return nil
}

func (w memWallets) UpdateCommissionBalance(_ context.Context, _ store.Execer, userID string, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return &pq.Error{Code: "23514", Constraint: "wallets_commission_balance_check"}
	}
	w.db.with(func(s *memState) {
		wallet := s.wallets[userID]
		wallet.CommissionBalance = balance
		s.wallets[userID] = wallet
	})
	return nil
}

type memLedger struct{ db *memDB }

func (l memLedger) Append(_ context.Context, _ store.Execer, entry models.Transaction) error {
	var err error
	l.db.with(func(s *memState) {
		for _, existing := range s.ledger {
			if existing.Reference != entry.Reference || existing.Type != entry.Type {
				continue
			}
			if entry.Type != models.TransactionCommission || existing.UserID == entry.UserID {
				err = uniqueViolation("transactions_reference_" + string(entry.Type))
				return
			}
		}
		if entry.Status == "" {
			entry.Status = models.TransactionCompleted
		}
		entry.CreatedAt = time.Now()
		s.ledger = append(s.ledger, entry)
	})
	return err
}

func (l memLedger) FindByReference(_ context.Context, _ store.Getter, reference string, txType models.TransactionType) (models.Transaction, error) {
	var (
		found models.Transaction
		ok    bool
	)
	l.db.with(func(s *memState) {
		for _, entry := range s.ledger {
			if entry.Reference == reference && entry.Type == txType {
				found, ok = entry, true
				return
			}
		}
	})
	if !ok {
		return models.Transaction{}, sql.ErrNoRows
	}
	return found, nil
}

func (l memLedger) ListByUser(_ context.Context, userID string, limit int) ([]models.Transaction, error) {
	var out []models.Transaction
	l.db.with(func(s *memState) {
		refunded := map[string]bool{}
		for _, entry := range s.ledger {
			if entry.Type == models.TransactionRefund {
				refunded[entry.Reference] = true
			}
		}
		for i := len(s.ledger) - 1; i >= 0 && len(out) < limit; i-- {
			entry := s.ledger[i]
			if entry.UserID != userID {
				continue
			}
			if entry.Type == models.TransactionDebit && refunded[entry.Reference] {
				entry.Status = models.TransactionReversed
			}
			out = append(out, entry)
		}
	})
	return out, nil
}

type memRequests struct{ db *memDB }

func (r memRequests) Create(_ context.Context, _ store.Execer, req models.ServiceRequest) error {
	var err error
	r.db.with(func(s *memState) {
		if _, ok := s.requests[req.ID]; ok {
			err = uniqueViolation("service_requests_pkey")
			return
		}
		now := time.Now()
		req.CreatedAt, req.UpdatedAt = now, now
		s.requests[req.ID] = req
	})
	return err
}

func (r memRequests) GetByID(_ context.Context, requestID string) (models.ServiceRequest, error) {
	var (
		req models.ServiceRequest
		ok  bool
	)
	r.db.with(func(s *memState) { req, ok = s.requests[requestID] })
	if !ok {
		return models.ServiceRequest{}, sql.ErrNoRows
	}
	return req, nil
}

func (r memRequests) GetForUpdate(ctx context.Context, _ store.Getter, requestID string) (models.ServiceRequest, error) {
	return r.GetByID(ctx, requestID)
}

func (r memRequests) UpdateStatus(_ context.Context, _ store.Execer, update store.StatusUpdate) (int64, error) {
	var rows int64
	r.db.with(func(s *memState) {
		req, ok := s.requests[update.RequestID]
		if !ok || req.Status != update.From {
			return
		}
		req.Status = update.To
		req.StatusMessage = update.StatusMessage
		req.ResultPayload = update.ResultPayload
		req.UpdatedAt = time.Now()
		s.requests[update.RequestID] = req
		rows = 1
	})
	return rows, nil
}

func (r memRequests) ListByUser(_ context.Context, userID, serviceID string, limit, offset int) ([]models.ServiceRequest, error) {
	return r.list(func(req models.ServiceRequest) bool {
		return req.UserID == userID && (serviceID == "" || req.ServiceID == serviceID)
	}, limit, offset), nil
}

func (r memRequests) ListPending(_ context.Context, limit, offset int) ([]models.ServiceRequest, error) {
	return r.list(func(req models.ServiceRequest) bool {
		return !req.Status.Terminal()
	}, limit, offset), nil
}

func (r memRequests) list(keep func(models.ServiceRequest) bool, limit, offset int) []models.ServiceRequest {
	var out []models.ServiceRequest
	r.db.with(func(s *memState) {
		for _, req := range s.requests {
			if keep(req) {
				out = append(out, req)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

type memChanges struct{ db *memDB }

func (c memChanges) Upsert(_ context.Context, _ store.Execer, change models.PendingAccountChange) error {
	change.CreatedAt = time.Now()
	c.db.with(func(s *memState) { s.changes[change.UserID] = change })
	return nil
}

func (c memChanges) GetForUpdate(_ context.Context, _ store.Getter, userID string) (models.PendingAccountChange, error) {
	var (
		change models.PendingAccountChange
		ok     bool
	)
	c.db.with(func(s *memState) { change, ok = s.changes[userID] })
	if !ok {
		return models.PendingAccountChange{}, sql.ErrNoRows
	}
	return change, nil
}

func (c memChanges) Delete(_ context.Context, _ store.Execer, userID string) (int64, error) {
	var rows int64
	c.db.with(func(s *memState) {
		if _, ok := s.changes[userID]; ok {
			delete(s.changes, userID)
			rows = 1
		}
	})
	return rows, nil
}

func (c memChanges) List(context.Context) ([]models.PendingAccountChange, error) {
	var out []models.PendingAccountChange
	c.db.with(func(s *memState) {
		for _, change := range s.changes {
			out = append(out, change)
		}
	})
	return out, nil
}

type memUsers struct{ db *memDB }

func (u memUsers) Create(_ context.Context, _ store.Execer, user models.User) error {
	var err error
	u.db.with(func(s *memState) {
		for _, existing := range s.users {
			if existing.Username == user.Username || existing.Email == user.Email {
				err = uniqueViolation("users_username_key")
				return
			}
		}
		s.users[user.ID] = user
	})
	return err
}

func (u memUsers) GetByID(_ context.Context, userID string) (models.User, error) {
	return u.find(func(user models.User) bool { return user.ID == userID })
}

func (u memUsers) GetInTx(ctx context.Context, _ store.Getter, userID string) (models.User, error) {
	return u.GetByID(ctx, userID)
}

func (u memUsers) GetByUsername(_ context.Context, username string) (models.User, error) {
	return u.find(func(user models.User) bool { return user.Username == username })
}

func (u memUsers) GetByEmail(_ context.Context, email string) (models.User, error) {
	return u.find(func(user models.User) bool { return user.Email == email })
}

func (u memUsers) find(match func(models.User) bool) (models.User, error) {
	var (
		found models.User
		ok    bool
	)
	u.db.with(func(s *memState) {
		for _, user := range s.users {
			if match(user) {
				found, ok = user, true
				return
			}
		}
	})
	if !ok {
		return models.User{}, sql.ErrNoRows
	}
	return found, nil
}

func (u memUsers) UpdatePayoutAccount(_ context.Context, _ store.Execer, userID string, details models.AccountDetails) (int64, error) {
	var rows int64
	u.db.with(func(s *memState) {
		user, ok := s.users[userID]
		if !ok {
			return
		}
		user.BankName, user.AccountNumber, user.AccountName = details.BankName, details.AccountNumber, details.AccountName
		s.users[userID] = user
		rows = 1
	})
	return rows, nil
}

func (u memUsers) UpdatePasswordHash(_ context.Context, _ store.Execer, userID, passwordHash string) (int64, error) {
	var rows int64
	u.db.with(func(s *memState) {
		user, ok := s.users[userID]
		if !ok {
			return
		}
		user.PasswordHash = passwordHash
		s.users[userID] = user
		rows = 1
	})
	return rows, nil
}

type memAdmins struct{ db *memDB }

func (a memAdmins) Access(_ context.Context, userID string) (models.AdminAccess, error) {
	var access models.AdminAccess
	a.db.with(func(s *memState) {
		isSuper, ok := s.admins[userID]
		access = models.AdminAccess{IsAdmin: ok, IsSuper: isSuper}
	})
	return access, nil
}

func (a memAdmins) CreateAdmin(_ context.Context, _ store.Execer, userID string, isSuper bool, _ *string) error {
	a.db.with(func(s *memState) {
		if _, ok := s.admins[userID]; !ok {
			s.admins[userID] = isSuper
		}
	})
	return nil
}

func (a memAdmins) GrantRole(_ context.Context, _ store.Execer, adminUserID string, role models.AdminRole) error {
	a.db.with(func(s *memState) {
		if s.roles[adminUserID] == nil {
			s.roles[adminUserID] = map[models.AdminRole]bool{}
		}
		s.roles[adminUserID][role] = true
	})
	return nil
}

func (a memAdmins) HasAnyAdmin(context.Context, store.Getter) (bool, error) {
	var exists bool
	a.db.with(func(s *memState) { exists = len(s.admins) > 0 })
	return exists, nil
}

type memAudit struct{ db *memDB }

func (a memAudit) Log(_ context.Context, _ store.Execer, entry models.AuditEntry) error {
	a.db.with(func(s *memState) { s.audit = append(s.audit, entry) })
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(event events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}

type fixture struct {
	db         *memDB
	engine     *SettlementEngine
	lifecycle  *LifecycleController
	changes    *AccountChangeService
	admin      *AdminService
	events     *recordingPublisher
	dispatched []models.ServiceRequest
	dispatchOK bool
	dispatchMu sync.Mutex
}

func (f *fixture) Dispatch(req models.ServiceRequest, _ models.Service) bool {
	f.dispatchMu.Lock()
	defer f.dispatchMu.Unlock()
	f.dispatched = append(f.dispatched, req)
	return f.dispatchOK
}

var testServices = []models.Service{
	{ID: "nin-verification", Name: "NIN slip", Category: "identity_verification", Price: decimal.NewFromInt(300), CommissionRate: decimal.RequireFromString("0.10"), Active: true},
	{ID: "cac-retrieval", Name: "CAC retrieval", Category: "business_registration", Price: decimal.NewFromInt(500), CommissionRate: decimal.RequireFromString("0.05"), Active: true},
	{ID: "airtime-vtu", Name: "Airtime", Category: "airtime", Price: decimal.Zero, CommissionRate: decimal.RequireFromString("0.02"), Active: true, Instant: true},
	{ID: "retired", Name: "Retired", Category: "identity_verification", Price: decimal.NewFromInt(100), Active: false},
}

const ninForm = `{"id_number":"12345678901"}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// newFixture wires the real services over memDB with three users: agent-1
// recruited by agg-1, and solo-1 with no aggregator.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := newMemDB()
	pricing, err := catalog.New(testServices...)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	forms := validator.DefaultForms()
	users := memUsers{db: mem}
	wallets := memWallets{db: mem}
	ledger := memLedger{db: mem}
	requests := memRequests{db: mem}
	audit := memAudit{db: mem}

	f := &fixture{db: mem, events: &recordingPublisher{}, dispatchOK: true}
	f.engine = NewSettlementEngine(mem, wallets, ledger, requests, audit, pricing, forms, NewCommissionResolver(users))
	f.engine.SetEvents(f.events)
	f.engine.SetDispatcher(f)
	f.engine.SetLogger(discardLogger())
	f.lifecycle = NewLifecycleController(mem, requests, audit, forms, f.engine)
	f.lifecycle.SetEvents(f.events)
	f.lifecycle.SetLogger(discardLogger())
	f.changes = NewAccountChangeService(mem, memChanges{db: mem}, users, audit)
	f.changes.SetEvents(f.events)
	f.changes.SetLogger(discardLogger())
	f.admin = NewAdminService(mem, users, wallets, memAdmins{db: mem}, audit)
	f.admin.SetLogger(discardLogger())

	aggregator := "agg-1"
	mem.with(func(s *memState) {
		s.users["agg-1"] = models.User{ID: "agg-1", Username: "aggregator", Email: "agg@example.com", Role: models.RoleAggregator}
		s.users["agent-1"] = models.User{ID: "agent-1", Username: "agent", Email: "agent@example.com", Role: models.RoleAgent, AggregatorID: &aggregator}
		s.users["solo-1"] = models.User{ID: "solo-1", Username: "solo", Email: "solo@example.com", Role: models.RoleAgent}
		for id := range s.users {
			s.wallets[id] = models.Wallet{UserID: id, Balance: decimal.Zero, CommissionBalance: decimal.Zero}
		}
	})
	return f
}

// fund credits a wallet through the engine so the ledger stays conserved.
func (f *fixture) fund(t *testing.T, userID string, amount int64) {
	t.Helper()
	_, err := f.engine.CreditWallet(context.Background(), CreditRequest{
		ActorID: "admin-1",
		UserID:  userID,
		Amount:  decimal.NewFromInt(amount),
		Note:    "test funding",
	})
	if err != nil {
		t.Fatalf("fund %s: %v", userID, err)
	}
}

func (f *fixture) wallet(t *testing.T, userID string) models.Wallet {
	t.Helper()
	wallet, err := f.engine.Wallet(context.Background(), userID)
	if err != nil {
		t.Fatalf("wallet %s: %v", userID, err)
	}
	return wallet
}

func (f *fixture) entries(reference string, txType models.TransactionType) []models.Transaction {
	var out []models.Transaction
	f.db.with(func(s *memState) {
		for _, entry := range s.ledger {
			if entry.Reference == reference && entry.Type == txType {
				out = append(out, entry)
			}
		}
	})
	return out
}

func (f *fixture) requestCount() int {
	var n int
	f.db.with(func(s *memState) { n = len(s.requests) })
	return n
}

// ledgerBalance is CREDIT + REFUND - DEBIT for userID.
func (f *fixture) ledgerBalance(userID string) (spendable, commission decimal.Decimal) {
	spendable, commission = decimal.Zero, decimal.Zero
	f.db.with(func(s *memState) {
		for _, entry := range s.ledger {
			if entry.UserID != userID {
				continue
			}
			switch entry.Type {
			case models.TransactionCredit, models.TransactionRefund:
				spendable = spendable.Add(entry.Amount)
			case models.TransactionDebit:
				spendable = spendable.Sub(entry.Amount)
			case models.TransactionCommission:
				commission = commission.Add(entry.Amount)
			}
		}
	})
	return spendable, commission
}

func mustDecimal(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("decimal %q: %v", value, err)
	}
	return d
}
