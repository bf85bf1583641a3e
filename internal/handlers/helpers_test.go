package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"agentdesk/internal/auth"
	"agentdesk/internal/config"
	"agentdesk/internal/models"
	"agentdesk/internal/reconcile"
	"agentdesk/internal/services"
	"agentdesk/internal/store"
	"agentdesk/internal/websocket"
)

const testSecret = "secret"

type stubSettlement struct {
	submitFn       func(ctx context.Context, req services.SubmitRequest) (models.ServiceRequest, error)
	creditFn       func(ctx context.Context, req services.CreditRequest) (models.Transaction, error)
	walletFn       func(ctx context.Context, userID string) (models.Wallet, error)
	transactionsFn func(ctx context.Context, userID string, limit int) ([]models.Transaction, error)
}

func (s stubSettlement) Submit(ctx context.Context, req services.SubmitRequest) (models.ServiceRequest, error) {
	if s.submitFn == nil {
		return models.ServiceRequest{}, nil
	}
	return s.submitFn(ctx, req)
}

func (s stubSettlement) CreditWallet(ctx context.Context, req services.CreditRequest) (models.Transaction, error) {
	if s.creditFn == nil {
		return models.Transaction{}, nil
	}
	return s.creditFn(ctx, req)
}

func (s stubSettlement) Wallet(ctx context.Context, userID string) (models.Wallet, error) {
	if s.walletFn == nil {
		return models.Wallet{UserID: userID}, nil
	}
	return s.walletFn(ctx, userID)
}

func (s stubSettlement) Transactions(ctx context.Context, userID string, limit int) ([]models.Transaction, error) {
	if s.transactionsFn == nil {
		return nil, nil
	}
	return s.transactionsFn(ctx, userID, limit)
}

type stubLifecycle struct {
	transitionFn  func(ctx context.Context, req services.TransitionRequest) (models.ServiceRequest, error)
	getFn         func(ctx context.Context, requestID string) (models.ServiceRequest, error)
	getForUserFn  func(ctx context.Context, userID, requestID string) (models.ServiceRequest, error)
	listForUserFn func(ctx context.Context, userID, serviceID string, limit, offset int) ([]models.ServiceRequest, error)
	listPendingFn func(ctx context.Context, limit, offset int) ([]models.ServiceRequest, error)
}

func (s stubLifecycle) Transition(ctx context.Context, req services.TransitionRequest) (models.ServiceRequest, error) {
	if s.transitionFn == nil {
		return models.ServiceRequest{}, nil
	}
	return s.transitionFn(ctx, req)
}

func (s stubLifecycle) Get(ctx context.Context, requestID string) (models.ServiceRequest, error) {
	if s.getFn == nil {
		return models.ServiceRequest{}, nil
	}
	return s.getFn(ctx, requestID)
}

func (s stubLifecycle) GetForUser(ctx context.Context, userID, requestID string) (models.ServiceRequest, error) {
	if s.getForUserFn == nil {
		return models.ServiceRequest{}, nil
	}
	return s.getForUserFn(ctx, userID, requestID)
}

func (s stubLifecycle) ListForUser(ctx context.Context, userID, serviceID string, limit, offset int) ([]models.ServiceRequest, error) {
	if s.listForUserFn == nil {
		return nil, nil
	}
	return s.listForUserFn(ctx, userID, serviceID, limit, offset)
}

func (s stubLifecycle) ListPending(ctx context.Context, limit, offset int) ([]models.ServiceRequest, error) {
	if s.listPendingFn == nil {
		return nil, nil
	}
	return s.listPendingFn(ctx, limit, offset)
}

type stubChanges struct {
	requestFn func(ctx context.Context, userID string, details models.AccountDetails) (models.PendingAccountChange, error)
	approveFn func(ctx context.Context, actorID, userID string) (models.AccountDetails, error)
	rejectFn  func(ctx context.Context, actorID, userID, reason string) error
	listFn    func(ctx context.Context) ([]models.PendingAccountChange, error)
}

func (s stubChanges) Request(ctx context.Context, userID string, details models.AccountDetails) (models.PendingAccountChange, error) {
	if s.requestFn == nil {
		return models.PendingAccountChange{UserID: userID}, nil
	}
	return s.requestFn(ctx, userID, details)
}

func (s stubChanges) Approve(ctx context.Context, actorID, userID string) (models.AccountDetails, error) {
	if s.approveFn == nil {
		return models.AccountDetails{}, nil
	}
	return s.approveFn(ctx, actorID, userID)
}

func (s stubChanges) Reject(ctx context.Context, actorID, userID, reason string) error {
	if s.rejectFn == nil {
		return nil
	}
	return s.rejectFn(ctx, actorID, userID, reason)
}

func (s stubChanges) ListPending(ctx context.Context) ([]models.PendingAccountChange, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx)
}

type stubAdminCommands struct {
	provisionFn func(ctx context.Context, req services.ProvisionRequest) (models.User, error)
	resetFn     func(ctx context.Context, actorID, userID, password string) error
	promoteFn   func(ctx context.Context, actorID, identifier string) (string, error)
	grantFn     func(ctx context.Context, actorID, adminUserID string, role models.AdminRole) error
}

func (s stubAdminCommands) Provision(ctx context.Context, req services.ProvisionRequest) (models.User, error) {
	if s.provisionFn == nil {
		return models.User{}, nil
	}
	return s.provisionFn(ctx, req)
}

func (s stubAdminCommands) ResetPassword(ctx context.Context, actorID, userID, password string) error {
	if s.resetFn == nil {
		return nil
	}
	return s.resetFn(ctx, actorID, userID, password)
}

func (s stubAdminCommands) Promote(ctx context.Context, actorID, identifier string) (string, error) {
	if s.promoteFn == nil {
		return "", nil
	}
	return s.promoteFn(ctx, actorID, identifier)
}

func (s stubAdminCommands) GrantRole(ctx context.Context, actorID, adminUserID string, role models.AdminRole) error {
	if s.grantFn == nil {
		return nil
	}
	return s.grantFn(ctx, actorID, adminUserID, role)
}

type stubCatalog []models.Service

func (s stubCatalog) Active() []models.Service { return s }

type stubUsers struct {
	getByIDFn       func(ctx context.Context, userID string) (models.User, error)
	getByEmailFn    func(ctx context.Context, email string) (models.User, error)
	getByUsernameFn func(ctx context.Context, username string) (models.User, error)
}

func (s stubUsers) GetByID(ctx context.Context, userID string) (models.User, error) {
	if s.getByIDFn == nil {
		return models.User{ID: userID}, nil
	}
	return s.getByIDFn(ctx, userID)
}

func (s stubUsers) GetByEmail(ctx context.Context, email string) (models.User, error) {
	if s.getByEmailFn == nil {
		return models.User{}, nil
	}
	return s.getByEmailFn(ctx, email)
}

func (s stubUsers) GetByUsername(ctx context.Context, username string) (models.User, error) {
	if s.getByUsernameFn == nil {
		return models.User{}, nil
	}
	return s.getByUsernameFn(ctx, username)
}

type stubAudit struct {
	listFn func(ctx context.Context, filter store.AuditFilter) ([]models.AuditEntry, error)
}

func (s stubAudit) List(ctx context.Context, filter store.AuditFilter) ([]models.AuditEntry, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, filter)
}

type stubReconciler struct {
	runFn func(ctx context.Context) (reconcile.Report, error)
}

func (s stubReconciler) Run(ctx context.Context) (reconcile.Report, error) {
	if s.runFn == nil {
		return reconcile.Report{}, nil
	}
	return s.runFn(ctx)
}

// stubAdmins grants access by user id: supers are super admins, roles maps
// an admin to their granted roles.
type stubAdmins struct {
	supers map[string]bool
	roles  map[string][]models.AdminRole
	err    error
}

func (s stubAdmins) Access(_ context.Context, userID string) (models.AdminAccess, error) {
	if s.err != nil {
		return models.AdminAccess{}, s.err
	}
	_, granted := s.roles[userID]
	return models.AdminAccess{IsAdmin: s.supers[userID] || granted, IsSuper: s.supers[userID]}, nil
}

func (s stubAdmins) HasRole(_ context.Context, userID string, role models.AdminRole) (bool, error) {
	for _, r := range s.roles[userID] {
		if r == role {
			return true, nil
		}
	}
	return false, nil
}

func (s stubAdmins) Roles(_ context.Context, userID string) ([]models.AdminRole, error) {
	return s.roles[userID], nil
}

func testConfig() config.Config {
	return config.Config{
		AppEnv:         "test",
		Port:           "0",
		JWTSecret:      testSecret,
		TokenTTL:       time.Minute,
		AllowedOrigins: "*",
	}
}

// newTestHandler fills every collaborator with an empty stub; callers
// override the ones a test exercises.
func newTestHandler(deps Deps) *Handler {
	if deps.Settlement == nil {
		deps.Settlement = stubSettlement{}
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = stubLifecycle{}
	}
	if deps.Changes == nil {
		deps.Changes = stubChanges{}
	}
	if deps.Admin == nil {
		deps.Admin = stubAdminCommands{}
	}
	if deps.Catalog == nil {
		deps.Catalog = stubCatalog{}
	}
	if deps.Users == nil {
		deps.Users = stubUsers{}
	}
	if deps.Audit == nil {
		deps.Audit = stubAudit{}
	}
	if deps.Reconciler == nil {
		deps.Reconciler = stubReconciler{}
	}
	if deps.Admins == nil {
		deps.Admins = stubAdmins{}
	}
	if deps.Hub == nil {
		deps.Hub = websocket.NewHub()
	}
	return New(testConfig(), deps)
}

// serveWithAuth sends a request through the full router. An empty userID
// sends no Authorization header.
func serveWithAuth(t *testing.T, h *Handler, method, path, body, userID string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		token, err := auth.GenerateToken(testSecret, userID, time.Minute)
		if err != nil {
			t.Fatalf("failed to generate token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dest); err != nil {
		t.Fatalf("invalid response body %q: %v", rr.Body.String(), err)
	}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decodeBody(t, rr, &body)
	return body["error"]
}
