package transport

import (
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"github.com/automateiq/platform/pkg/account"
	"github.com/automateiq/platform/pkg/api"
	"github.com/automateiq/platform/pkg/auth"
	"github.com/automateiq/platform/pkg/storage"
)

type createAccountRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type updateAccountRequest struct {
	Name   *string `json:"name"`
	Role   *string `json:"role"`
	Active *bool   `json:"active"`
}

// handleListAccounts returns one page of the caller's organization
// members ordered by creation time.
func (h *Handler) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	sess := auth.MustSession(r.Context())
	opts := api.ParsePageOptions(r.URL.Query())

	accounts, total, err := h.cfg.Store.ListAccounts(r.Context(), sess.Tenant.ID, opts)
	if err != nil {
		slog.Error("listing accounts", "error", err, "tenant_id", sess.Tenant.ID)
		api.WriteRejection(w, api.NewRejection(api.CodeInternal, "internal server error"))
		return
	}
	api.WriteList(w, http.StatusOK, accounts, api.NewPagination(opts, total))
}

// handleCreateAccount adds a member to the caller's organization. The
// new account is always created in the admin's own tenant.
func (h *Handler) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	sess := auth.MustSession(r.Context())

	var req createAccountRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if req.Name == "" {
		api.WriteRejection(w, api.NewRejection(api.CodeBadRequest, "name is required"))
		return
	}
	if _, err := mail.ParseAddress(email); err != nil {
		api.WriteRejection(w, api.NewRejection(api.CodeBadRequest, "invalid email address"))
		return
	}
	if err := account.ValidatePassword(req.Password); err != nil {
		api.WriteRejection(w, api.NewRejection(api.CodeBadRequest, err.Error()))
		return
	}
	role := account.RoleStaff
	if req.Role != "" {
		var err error
		if role, err = account.ParseRole(req.Role); err != nil {
			api.WriteRejection(w, api.NewRejection(api.CodeBadRequest, err.Error()))
			return
		}
	}

	hash, err := account.HashPassword(req.Password)
	if err != nil {
		slog.Error("hashing password", "error", err)
		api.WriteRejection(w, api.NewRejection(api.CodeInternal, "internal server error"))
		return
	}

	acct := &account.Account{
		ID:           api.NewAccountID(),
		TenantID:     sess.Tenant.ID,
		Email:        email,
		Name:         req.Name,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	}
	if err := h.cfg.Store.CreateAccount(r.Context(), acct); err != nil {
		switch {
		case errors.Is(err, storage.ErrConflict):
			api.WriteRejection(w, api.NewRejection(api.CodeConflict, "email already registered"))
		case errors.Is(err, storage.ErrQuotaExceeded):
			api.WriteRejection(w, api.NewRejection(api.CodeQuotaExhausted, "user limit reached for your plan"))
		default:
			slog.Error("creating account", "error", err, "tenant_id", sess.Tenant.ID)
			api.WriteRejection(w, api.NewRejection(api.CodeInternal, "internal server error"))
		}
		return
	}

	slog.Info("account created",
		"account_id", acct.ID,
		"tenant_id", sess.Tenant.ID,
		"role", acct.Role,
		"created_by", sess.Account.ID)
	api.WriteData(w, http.StatusCreated, acct)
}

// handleUpdateAccount changes a member's name, role, or active flag.
// Accounts in other organizations read as absent, and admins cannot
// lock themselves out by deactivating or demoting their own account.
func (h *Handler) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	sess := auth.MustSession(r.Context())

	id := r.PathValue("id")
	if !api.ValidateAccountID(id) {
		api.WriteRejection(w, api.NewRejection(api.CodeBadRequest, "malformed account ID"))
		return
	}

	acct, err := h.cfg.Store.GetAccount(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			api.WriteRejection(w, api.NewRejection(api.CodeNotFound, "account not found"))
			return
		}
		slog.Error("loading account for update", "error", err, "account_id", id)
		api.WriteRejection(w, api.NewRejection(api.CodeInternal, "internal server error"))
		return
	}
	if acct.TenantID != sess.Tenant.ID {
		api.WriteRejection(w, api.NewRejection(api.CodeNotFound, "account not found"))
		return
	}

	var req updateAccountRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			api.WriteRejection(w, api.NewRejection(api.CodeBadRequest, "name must not be empty"))
			return
		}
		acct.Name = name
	}
	if req.Role != nil {
		role, err := account.ParseRole(*req.Role)
		if err != nil {
			api.WriteRejection(w, api.NewRejection(api.CodeBadRequest, err.Error()))
			return
		}
		if acct.ID == sess.Account.ID && role != account.RoleAdmin {
			api.WriteRejection(w, api.NewRejection(api.CodeBadRequest, "cannot change your own role"))
			return
		}
		acct.Role = role
	}
	if req.Active != nil {
		if acct.ID == sess.Account.ID && !*req.Active {
			api.WriteRejection(w, api.NewRejection(api.CodeBadRequest, "cannot deactivate your own account"))
			return
		}
		acct.Active = *req.Active
	}

	if err := h.cfg.Store.UpdateAccount(r.Context(), acct); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			api.WriteRejection(w, api.NewRejection(api.CodeNotFound, "account not found"))
		case errors.Is(err, storage.ErrQuotaExceeded):
			api.WriteRejection(w, api.NewRejection(api.CodeQuotaExhausted, "user limit reached for your plan"))
		default:
			slog.Error("updating account", "error", err, "account_id", id)
			api.WriteRejection(w, api.NewRejection(api.CodeInternal, "internal server error"))
		}
		return
	}

	slog.Info("account updated",
		"account_id", acct.ID,
		"tenant_id", sess.Tenant.ID,
		"updated_by", sess.Account.ID)
	api.WriteData(w, http.StatusOK, acct)
}

type updateTenantRequest struct {
	Name string `json:"name"`
}

// handleGetTenant returns the caller's organization as loaded by the
// authenticator.
func (h *Handler) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	sess := auth.MustSession(r.Context())
	api.WriteData(w, http.StatusOK, sess.Tenant)
}

// handleUpdateTenant renames the caller's organization. The slug
// follows the name.
func (h *Handler) handleUpdateTenant(w http.ResponseWriter, r *http.Request) {
	sess := auth.MustSession(r.Context())

	var req updateTenantRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		api.WriteRejection(w, api.NewRejection(api.CodeBadRequest, "name is required"))
		return
	}

	// Work from a fresh read rather than the session snapshot so a
	// concurrent subscription change is not clobbered.
	tenant, err := h.cfg.Store.GetTenant(r.Context(), sess.Tenant.ID)
	if err != nil {
		slog.Error("loading tenant for update", "error", err, "tenant_id", sess.Tenant.ID)
		api.WriteRejection(w, api.NewRejection(api.CodeInternal, "internal server error"))
		return
	}
	tenant.Name = req.Name
	tenant.Slug = account.Slugify(req.Name)

	if err := h.cfg.Store.UpdateTenant(r.Context(), tenant); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			api.WriteRejection(w, api.NewRejection(api.CodeConflict, "organization name is taken"))
			return
		}
		slog.Error("updating tenant", "error", err, "tenant_id", tenant.ID)
		api.WriteRejection(w, api.NewRejection(api.CodeInternal, "internal server error"))
		return
	}

	slog.Info("organization updated",
		"tenant_id", tenant.ID,
		"slug", tenant.Slug,
		"updated_by", sess.Account.ID)
	api.WriteData(w, http.StatusOK, tenant)
}

// usageEntry pairs one resource's limit with its current consumption.
type usageEntry struct {
	Limit     account.Limit `json:"limit"`
	Used      int64         `json:"used"`
	Remaining account.Limit `json:"remaining"`
}

// handleUsage reports per-resource consumption against the plan limits
// from a fresh read, so a just-debited operation is already visible.
func (h *Handler) handleUsage(w http.ResponseWriter, r *http.Request) {
	sess := auth.MustSession(r.Context())

	tenant, err := h.cfg.Store.GetTenant(r.Context(), sess.Tenant.ID)
	if err != nil {
		slog.Error("loading tenant usage", "error", err, "tenant_id", sess.Tenant.ID)
		api.WriteRejection(w, api.NewRejection(api.CodeInternal, "internal server error"))
		return
	}

	usage := make(map[account.Resource]usageEntry, 4)
	for _, res := range []account.Resource{
		account.ResourceUsers,
		account.ResourceAICredits,
		account.ResourceStorageMB,
		account.ResourceDocuments,
	} {
		limit := tenant.Limits.Get(res)
		used := tenant.Usage.Get(res)
		usage[res] = usageEntry{
			Limit:     limit,
			Used:      used,
			Remaining: account.Limit(limit.Remaining(used)),
		}
	}

	api.WriteData(w, http.StatusOK, map[string]any{
		"plan":   tenant.Subscription.Plan,
		"status": tenant.Subscription.Status,
		"usage":  usage,
	})
}
