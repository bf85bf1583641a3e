package services

import (
	"context"
	"log/slog"
	"strings"

	"agentdesk/internal/apperr"
	"agentdesk/internal/auth"
	"agentdesk/internal/db"
	"agentdesk/internal/models"
	"agentdesk/internal/validator"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// AdminService runs maintenance commands. Each one is audited in the same
// transaction as its change.
type AdminService struct {
	txRunner db.TxRunner
	users    UserStore
	wallets  WalletStore
	admins   AdminStore
	audit    AuditStore
	logger   *slog.Logger
}

func NewAdminService(txRunner db.TxRunner, users UserStore, wallets WalletStore, admins AdminStore, audit AuditStore) *AdminService {
	return &AdminService{
		txRunner: txRunner,
		users:    users,
		wallets:  wallets,
		admins:   admins,
		audit:    audit,
		logger:   slog.Default(),
	}
}

func (s *AdminService) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

type ProvisionRequest struct {
	ActorID      string
	Username     string
	Email        string
	Password     string
	Role         models.Role
	AggregatorID string
}

// Provision creates a user and an empty wallet.
func (s *AdminService) Provision(ctx context.Context, req ProvisionRequest) (models.User, error) {
	const op = "services.AdminService.Provision"
	user, hash, err := s.prepareUser(ctx, op, req)
	if err != nil {
		return models.User{}, err
	}
	user.PasswordHash = hash
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.createUser(ctx, tx, op, user); err != nil {
			return err
		}
		return writeAudit(ctx, s.audit, tx, req.ActorID, "provision_user", "user", user.ID, map[string]any{
			"username":      user.Username,
			"role":          user.Role,
			"aggregator_id": req.AggregatorID,
		})
	})
	if err != nil {
		return models.User{}, err
	}
	s.logger.Info("user provisioned", "user_id", user.ID, "role", user.Role, "actor_id", req.ActorID)
	return user, nil
}

func (s *AdminService) prepareUser(ctx context.Context, op string, req ProvisionRequest) (models.User, string, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	for _, check := range []error{
		validator.ValidateUsername(username),
		validator.ValidateEmail(email),
		validator.ValidatePassword(req.Password),
	} {
		if check != nil {
			return models.User{}, "", &apperr.Error{Kind: apperr.ValidationError, Op: op, Message: check.Error(), Err: check}
		}
	}
	role := req.Role
	if role == "" {
		role = models.RoleAgent
	}
	if !role.Valid() {
		return models.User{}, "", apperr.E(apperr.ValidationError, op, "unknown role "+string(role))
	}
	user := models.User{
		ID:       uuid.NewString(),
		Username: username,
		Email:    email,
		Role:     role,
	}
	if aggregatorID := strings.TrimSpace(req.AggregatorID); aggregatorID != "" {
		aggregator, err := s.users.GetByID(ctx, aggregatorID)
		if err != nil {
			return models.User{}, "", notFound(op, err, "aggregator not found")
		}
		if aggregator.Role != models.RoleAggregator {
			return models.User{}, "", apperr.E(apperr.ValidationError, op, "user "+aggregatorID+" is not an aggregator")
		}
		user.AggregatorID = &aggregator.ID
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return models.User{}, "", apperr.Wrap(op, err)
	}
	return user, hash, nil
}

func (s *AdminService) createUser(ctx context.Context, tx *sqlx.Tx, op string, user models.User) error {
	err := s.users.Create(ctx, tx, user)
	if db.IsUniqueViolation(err) {
		return &apperr.Error{Kind: apperr.ValidationError, Op: op, Message: "username or email already taken", Err: err}
	}
	if err != nil {
		return apperr.Wrap(op, err)
	}
	if err := s.wallets.Create(ctx, tx, user.ID); err != nil {
		return apperr.Wrap(op, err)
	}
	return nil
}

func (s *AdminService) ResetPassword(ctx context.Context, actorID, userID, password string) error {
	const op = "services.AdminService.ResetPassword"
	if err := validator.ValidatePassword(password); err != nil {
		return &apperr.Error{Kind: apperr.ValidationError, Op: op, Message: err.Error(), Err: err}
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return apperr.Wrap(op, err)
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		rows, err := s.users.UpdatePasswordHash(ctx, tx, userID, hash)
		if err != nil {
			return apperr.Wrap(op, err)
		}
		if rows == 0 {
			return apperr.E(apperr.NotFound, op, "user not found")
		}
		return writeAudit(ctx, s.audit, tx, actorID, "reset_password", "user", userID, nil)
	})
	if err != nil {
		return err
	}
	s.logger.Info("password reset", "user_id", userID, "actor_id", actorID)
	return nil
}

// Promote makes the user named by identifier (username or email) a regular
// admin with no roles.
func (s *AdminService) Promote(ctx context.Context, actorID, identifier string) (string, error) {
	const op = "services.AdminService.Promote"
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", apperr.E(apperr.ValidationError, op, "identifier is required")
	}
	var (
		target models.User
		err    error
	)
	if strings.Contains(identifier, "@") {
		target, err = s.users.GetByEmail(ctx, strings.ToLower(identifier))
	} else {
		target, err = s.users.GetByUsername(ctx, identifier)
	}
	if err != nil {
		return "", notFound(op, err, "user not found")
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.admins.CreateAdmin(ctx, tx, target.ID, false, actorRef(actorID)); err != nil {
			return apperr.Wrap(op, err)
		}
		return writeAudit(ctx, s.audit, tx, actorID, "promote_admin", "admin", target.ID, map[string]any{
			"target_user_id": target.ID,
		})
	})
	if err != nil {
		return "", err
	}
	return target.ID, nil
}

func (s *AdminService) GrantRole(ctx context.Context, actorID, adminUserID string, role models.AdminRole) error {
	const op = "services.AdminService.GrantRole"
	if !role.Valid() {
		return apperr.E(apperr.ValidationError, op, "unknown role "+string(role))
	}
	access, err := s.admins.Access(ctx, adminUserID)
	if err != nil {
		return apperr.Wrap(op, err)
	}
	if !access.IsAdmin {
		return apperr.E(apperr.ValidationError, op, "target is not an admin")
	}
	if access.IsSuper {
		return apperr.E(apperr.ValidationError, op, "cannot assign roles to super admin")
	}
	return s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.admins.GrantRole(ctx, tx, adminUserID, role); err != nil {
			return apperr.Wrap(op, err)
		}
		return writeAudit(ctx, s.audit, tx, actorID, "grant_role", "admin_role", adminUserID, map[string]any{
			"admin_user_id": adminUserID,
			"role":          role,
		})
	})
}

// Bootstrap creates a super admin when no admin exists yet. It reports
// whether one was created.
func (s *AdminService) Bootstrap(ctx context.Context, username, email, password string) (bool, error) {
	const op = "services.AdminService.Bootstrap"
	user, hash, err := s.prepareUser(ctx, op, ProvisionRequest{
		Username: username,
		Email:    email,
		Password: password,
		Role:     models.RoleAgent,
	})
	if err != nil {
		return false, err
	}
	user.PasswordHash = hash
	created := false
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		exists, err := s.admins.HasAnyAdmin(ctx, tx)
		if err != nil {
			return apperr.Wrap(op, err)
		}
		if exists {
			return nil
		}
		if err := s.createUser(ctx, tx, op, user); err != nil {
			return err
		}
		if err := s.admins.CreateAdmin(ctx, tx, user.ID, true, nil); err != nil {
			return apperr.Wrap(op, err)
		}
		created = true
		return writeAudit(ctx, s.audit, tx, "", "bootstrap_admin", "admin", user.ID, map[string]any{
			"username": user.Username,
		})
	})
	if err != nil {
		return false, err
	}
	if created {
		s.logger.Info("bootstrap super admin created", "user_id", user.ID, "username", user.Username)
	}
	return created, nil
}
