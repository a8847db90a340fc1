package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wenwu/saas-platform/panel-service/internal/client"
	"github.com/wenwu/saas-platform/panel-service/internal/config"
	"github.com/wenwu/saas-platform/panel-service/internal/models"
	"github.com/wenwu/saas-platform/panel-service/internal/repository"
)

const (
	remotePasswordLength  = 12
	remotePasswordCharset = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789!@#$%^&*"

	defaultIO = 500
)

// ProvisionService turns a purchase into a server on the remote panel and
// drives every later lifecycle action on it.
type ProvisionService struct {
	cfg       config.ProvisionConfig
	orderRepo *repository.OrderRepository
	planRepo  *repository.PlanRepository
	userRepo  *repository.UserRepository
	logRepo   *repository.LogRepository
	panel     RemotePanel
	settings  SettingsSource
	allocator *AllocationSelector
	resolver  *TemplateResolver
	locks     *KeyedMutex
	tracer    trace.Tracer
	now       func() time.Time
	log       *slog.Logger
}

func NewProvisionService(
	cfg config.ProvisionConfig,
	orderRepo *repository.OrderRepository,
	planRepo *repository.PlanRepository,
	userRepo *repository.UserRepository,
	logRepo *repository.LogRepository,
	panel RemotePanel,
	settings SettingsSource,
	locks *KeyedMutex,
) *ProvisionService {
	if cfg.RenewMinAge <= 0 {
		cfg.RenewMinAge = 15 * 24 * time.Hour
	}
	if cfg.FallbackRemoteUserID <= 0 {
		cfg.FallbackRemoteUserID = 1
	}
	return &ProvisionService{
		cfg:       cfg,
		orderRepo: orderRepo,
		planRepo:  planRepo,
		userRepo:  userRepo,
		logRepo:   logRepo,
		panel:     panel,
		settings:  settings,
		allocator: NewAllocationSelector(panel),
		resolver:  NewTemplateResolver(panel),
		locks:     locks,
		tracer:    otel.Tracer("panel-service/provision"),
		now:       time.Now,
		log:       slog.Default().With("component", "provision"),
	}
}

// Checkout records an order for plan and provisions it synchronously. The
// returned error is non-nil only for bad input or local store failures;
// remote problems end up on the order and in the notification.
func (s *ProvisionService) Checkout(ctx context.Context, userID, planID int64, serverName string) (*models.CheckoutResponse, error) {
	ctx, span := s.tracer.Start(ctx, "provision.checkout", trace.WithAttributes(
		attribute.Int64("user.id", userID),
		attribute.Int64("plan.id", planID),
	))
	defer span.End()

	serverName = strings.TrimSpace(serverName)
	if planID <= 0 || serverName == "" {
		return nil, invalid("missing server name or plan")
	}

	plan, err := s.planRepo.GetByID(ctx, planID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, invalid("plan %d not found", planID)
	}
	if err != nil {
		return nil, err
	}

	cycle := plan.BillingCycle
	if cycle == "" {
		cycle = models.BillingMonthly
	}
	now := s.now().UTC()
	expires := now.Add(models.BillingPeriod(cycle))

	order := &models.Order{
		UserID:       userID,
		PlanID:       plan.ID,
		ServerName:   serverName,
		Price:        plan.Price,
		BillingCycle: cycle,
		CreatedAt:    now,
		ExpiresAt:    &expires,
	}
	if err := s.orderRepo.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	span.SetAttributes(attribute.Int64("order.id", order.ID))

	unlock := s.locks.Lock(orderKey(order.ID))
	defer unlock()

	s.log.Info("checkout started", "order_id", order.ID, "user_id", userID, "plan_id", plan.ID)
	s.logRepo.LogAction(ctx, order.ID, "checkout_started", models.OrderPending,
		fmt.Sprintf("Order for plan %q, server %q", plan.Name, serverName))

	if err := s.orderRepo.UpdateStatus(ctx, order.ID, models.OrderProcessing); err != nil {
		return nil, err
	}

	notice := s.provision(ctx, order, plan)

	current, err := s.orderRepo.GetByID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if notice == nil {
		notice = orderNotification(current)
	}
	span.SetAttributes(attribute.String("order.status", string(current.Status)))

	return &models.CheckoutResponse{Order: current, Plan: plan, Notify: notice}, nil
}

// provision runs the remote half of checkout. It returns a notification
// only when the outcome needs a message other than the status default.
func (s *ProvisionService) provision(ctx context.Context, order *models.Order, plan *models.Plan) *models.Notification {
	creds, ok := s.settings.Get().Integration()
	if !ok {
		s.setStep(ctx, order.ID, models.StepLocalOnly)
		s.logRepo.LogAction(ctx, order.ID, "local_only", models.OrderProcessing, ErrConfigMissing.Error())
		s.log.Info("remote panel not configured, order kept local", "order_id", order.ID)
		return nil
	}

	s.setStep(ctx, order.ID, models.StepRemoteUser)
	remoteUserID, found := s.ensureRemoteUser(ctx, creds, order.UserID)
	if !found {
		remoteUserID = s.cfg.FallbackRemoteUserID
		s.log.Warn("no remote account for buyer, using fallback owner",
			"order_id", order.ID, "user_id", order.UserID, "remote_user_id", remoteUserID)
		s.logRepo.LogActionWithMetadata(ctx, order.ID, "remote_user_fallback", models.OrderProcessing,
			"Server will be owned by the fallback remote account",
			map[string]any{"remote_user_id": remoteUserID})
	}

	s.setStep(ctx, order.ID, models.StepMetadata)
	meta := s.resolver.Resolve(ctx, creds, plan)

	s.setStep(ctx, order.ID, models.StepAllocation)
	allocationID, nodes, err := s.allocator.Select(ctx, creds, plan.RAM)
	if err != nil {
		s.fail(ctx, order.ID, "no_allocation", err)
		var noAlloc *NoAllocationError
		if errors.As(err, &noAlloc) {
			return noAllocationNotice(noAlloc)
		}
		return nil
	}
	s.log.Info("allocation chosen", "order_id", order.ID, "allocation_id", allocationID, "nodes_scanned", len(nodes))

	req := &client.CreateServerRequest{
		Name:        order.ServerName,
		User:        remoteUserID,
		Egg:         plan.EggID,
		Nest:        plan.NestID,
		DockerImage: meta.DockerImage,
		Environment: meta.Environment,
		Limits: client.Limits{
			Memory: plan.RAM,
			Swap:   0,
			Disk:   plan.Disk,
			IO:     defaultIO,
			CPU:    plan.CPU,
		},
		FeatureLimits:     meta.FeatureLimits,
		Startup:           meta.Startup,
		Allocation:        client.AllocationRef{Default: allocationID},
		StartOnCompletion: true,
		ExternalID:        order.ExternalID(),
	}

	s.setStep(ctx, order.ID, models.StepCreateServer)
	resp, err := s.panel.CreateServer(ctx, creds, req)
	if err != nil {
		s.fail(ctx, order.ID, "create_server_failed", err)
		return nil
	}
	if !resp.OK() {
		s.fail(ctx, order.ID, "create_server_failed", rejected("create server", resp))
		return nil
	}

	// Without an id in the answer the external id still finds the server later.
	ref := order.ExternalID()
	if id, ok := resp.ResourceID(); ok {
		ref = strconv.FormatInt(id, 10)
	}
	s.finish(ctx, order.ID, &ref, resp.Raw(), models.OrderActive)
	s.logRepo.LogActionWithMetadata(ctx, order.ID, "server_created", models.OrderActive,
		"Server created on the remote panel", map[string]any{"server_id": ref})
	s.log.Info("server created", "order_id", order.ID, "server_id", ref)
	return nil
}

// ensureRemoteUser returns the buyer's remote account id, creating the
// account or adopting an existing one with the same email when needed.
func (s *ProvisionService) ensureRemoteUser(ctx context.Context, creds client.Credentials, userID int64) (int64, bool) {
	unlock := s.locks.Lock(userKey(userID))
	defer unlock()

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		s.log.Warn("load buyer failed", "user_id", userID, "error", err)
		return 0, false
	}
	if user.RemoteUserID != nil {
		return *user.RemoteUserID, true
	}

	email := user.EmailOrEmpty()
	if email == "" {
		email = fmt.Sprintf("user%d@example.com", user.ID)
	}
	username := slug.Make(user.Username)
	if username == "" {
		username = fmt.Sprintf("user%d", user.ID)
	}
	password, err := generatePassword(remotePasswordLength)
	if err != nil {
		s.log.Error("generate remote password failed", "error", err)
		return 0, false
	}

	resp, err := s.panel.CreateUser(ctx, creds, &client.CreateUserRequest{
		Email:     email,
		Username:  username,
		FirstName: username,
		LastName:  username,
		Password:  password,
	})
	if err != nil {
		s.log.Warn("create remote user failed", "user_id", userID, "error", err)
		return 0, false
	}
	if resp.OK() {
		if id, ok := resp.ResourceID(); ok {
			s.storeRemoteAccount(ctx, user.ID, id, &password)
			return id, true
		}
	}

	s.log.Warn("remote user not created, searching by email", "user_id", userID, "status", resp.Status)
	id, ok := s.findRemoteUser(ctx, creds, email)
	if ok {
		s.storeRemoteAccount(ctx, user.ID, id, nil)
	}
	return id, ok
}

func (s *ProvisionService) findRemoteUser(ctx context.Context, creds client.Credentials, email string) (int64, bool) {
	resp, err := s.panel.ListUsers(ctx, creds)
	if err != nil || !resp.OK() {
		s.log.Warn("list remote users failed", "error", err)
		return 0, false
	}
	for _, item := range resp.Data() {
		attrs := client.Attributes(item)
		candidate := client.String(attrs["email"])
		if candidate == "" {
			if nested, ok := attrs["user"].(map[string]any); ok {
				candidate = client.String(nested["email"])
			}
		}
		if candidate == "" || !strings.EqualFold(candidate, email) {
			continue
		}
		if raw, ok := item.(map[string]any); ok {
			if id, ok := client.Int64(raw["id"]); ok {
				return id, true
			}
		}
		if id, ok := client.Int64(attrs["id"]); ok {
			return id, true
		}
	}
	return 0, false
}

func (s *ProvisionService) storeRemoteAccount(ctx context.Context, userID, remoteID int64, password *string) {
	if _, err := s.userRepo.SetRemoteAccount(ctx, userID, remoteID, password); err != nil {
		s.log.Warn("store remote account failed", "user_id", userID, "remote_user_id", remoteID, "error", err)
	}
}

// ToggleSuspend suspends an active order or reactivates a suspended one.
// Orders without a remote server, or with the integration switched off,
// are only toggled locally, and can only be suspended.
func (s *ProvisionService) ToggleSuspend(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := s.tracer.Start(ctx, "provision.toggle_suspend", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	unlock := s.locks.Lock(orderKey(orderID))
	defer unlock()

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	resume := order.Status == models.OrderSuspended
	next := models.OrderSuspended
	action := "suspend"
	if resume {
		next = models.OrderActive
		action = "unsuspend"
	}
	if !order.Status.CanTransitionTo(next) {
		return nil, conflict("cannot %s an order in status %s", action, order.Status)
	}
	// active orders are always backed by a remote server
	if resume && !order.HasServer() {
		return nil, conflict("order %d has no remote server to unsuspend", orderID)
	}

	creds, ok := s.settings.Get().Integration()
	if !ok || !order.HasServer() {
		if err := s.orderRepo.UpdateStatus(ctx, orderID, next); err != nil {
			return nil, s.mapTransition(err)
		}
		s.logRepo.LogAction(ctx, orderID, action, next, "Status changed locally")
		return s.orderRepo.GetByID(ctx, orderID)
	}

	serverID, err := s.remoteServerID(ctx, creds, order)
	if err == nil {
		var resp *client.Response
		if resume {
			resp, err = s.panel.UnsuspendServer(ctx, creds, serverID)
		} else {
			resp, err = s.panel.SuspendServer(ctx, creds, serverID)
		}
		if err == nil && !resp.OK() {
			err = rejected(action, resp)
		}
		if err == nil {
			s.finish(ctx, orderID, nil, resp.Raw(), next)
			s.logRepo.LogAction(ctx, orderID, action, next, "Remote server "+action+"ed")
			return s.orderRepo.GetByID(ctx, orderID)
		}
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.fail(ctx, orderID, action+"_failed", err)
	return s.orderRepo.GetByID(ctx, orderID)
}

// DeleteService removes the remote server and then the order row. When the
// remote delete fails the row is kept with the failure recorded. force skips
// the remote side entirely.
func (s *ProvisionService) DeleteService(ctx context.Context, orderID int64, force bool) error {
	ctx, span := s.tracer.Start(ctx, "provision.delete", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.Bool("force", force),
	))
	defer span.End()

	unlock := s.locks.Lock(orderKey(orderID))
	defer unlock()

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return err
	}

	if !force && order.HasServer() {
		creds, ok := s.settings.Get().Integration()
		if !ok {
			return fmt.Errorf("delete order %d: %w", orderID, ErrConfigMissing)
		}
		if err := s.deleteRemote(ctx, creds, order); err != nil {
			span.RecordError(err)
			s.recordFailure(ctx, orderID, "delete_failed", order.Status, err)
			return err
		}
	}

	if err := s.orderRepo.Delete(ctx, orderID); err != nil {
		return err
	}
	s.logRepo.LogActionWithMetadata(ctx, orderID, "deleted", order.Status, "Order deleted",
		map[string]any{"force": force, "server_id": order.ServerID})
	s.log.Info("order deleted", "order_id", orderID, "force", force)
	return nil
}

func (s *ProvisionService) deleteRemote(ctx context.Context, creds client.Credentials, order *models.Order) error {
	serverID, err := s.remoteServerID(ctx, creds, order)
	if errors.Is(err, client.ErrServerNotFound) {
		s.log.Warn("remote server already gone", "order_id", order.ID, "server_id", *order.ServerID)
		return nil
	}
	if err != nil {
		return err
	}

	resp, err := s.panel.DeleteServer(ctx, creds, serverID)
	if err != nil {
		return err
	}
	if resp.Status == http.StatusNotFound {
		s.log.Warn("remote server already gone", "order_id", order.ID, "server_id", serverID)
		return nil
	}
	if !resp.OK() {
		return rejected("delete server", resp)
	}
	return nil
}

// Renew extends an order by one billing period, whatever its status. Owners
// may renew their own orders once the order is old enough; admins may renew
// any order.
func (s *ProvisionService) Renew(ctx context.Context, orderID, actorID int64, admin bool) (*models.Order, error) {
	unlock := s.locks.Lock(orderKey(orderID))
	defer unlock()

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !admin && order.UserID != actorID {
		return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}

	now := s.now().UTC()
	if now.Sub(order.CreatedAt) < s.cfg.RenewMinAge {
		days := int(s.cfg.RenewMinAge.Hours() / 24)
		return nil, conflict("renewal is available %d days after purchase", days)
	}

	base := now
	if order.ExpiresAt != nil && order.ExpiresAt.After(now) {
		base = *order.ExpiresAt
	}
	expires := base.Add(models.BillingPeriod(order.BillingCycle))
	if err := s.orderRepo.SetExpiry(ctx, orderID, expires); err != nil {
		return nil, err
	}
	s.logRepo.LogActionWithMetadata(ctx, orderID, "renewed", order.Status, "Order renewed",
		map[string]any{"expires_at": expires.Format(time.RFC3339), "actor_id": actorID})
	return s.orderRepo.GetByID(ctx, orderID)
}

func (s *ProvisionService) ListUserServices(ctx context.Context, userID int64) ([]*models.OrderView, error) {
	return s.orderRepo.ListByUser(ctx, userID)
}

func (s *ProvisionService) ListAllServices(ctx context.Context) ([]*models.OrderView, error) {
	return s.orderRepo.ListAll(ctx)
}

// OrderLogs returns the audit trail of an order, newest first.
func (s *ProvisionService) OrderLogs(ctx context.Context, orderID int64) ([]*models.OrderLog, error) {
	return s.logRepo.ListByOrder(ctx, orderID, 100)
}

// remoteServerID resolves the stored server reference of order.
func (s *ProvisionService) remoteServerID(ctx context.Context, creds client.Credentials, order *models.Order) (int64, error) {
	id, resp, err := s.panel.ResolveServerID(ctx, creds, *order.ServerID)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		if resp != nil {
			return 0, rejected("resolve server", resp)
		}
		return 0, client.ErrServerNotFound
	}
	return id, nil
}

func (s *ProvisionService) setStep(ctx context.Context, orderID int64, step models.ProvisionStep) {
	if err := s.orderRepo.SetStep(ctx, orderID, step); err != nil {
		s.log.Warn("set provision step failed", "order_id", orderID, "step", step, "error", err)
	}
}

// finish stores the remote answer with the new status. If the combined
// write fails the status change is retried on its own.
func (s *ProvisionService) finish(ctx context.Context, orderID int64, serverID *string, response string, next models.OrderStatus) {
	if err := s.orderRepo.MarkResult(ctx, orderID, serverID, response, next); err != nil {
		s.log.Error("store remote result failed", "order_id", orderID, "status", next, "error", err)
		if err := s.orderRepo.UpdateStatus(ctx, orderID, next); err != nil {
			s.log.Error("update order status failed", "order_id", orderID, "status", next, "error", err)
		}
	}
	s.setStep(ctx, orderID, models.StepDone)
}

// fail moves the order to error, keeping any known server id.
func (s *ProvisionService) fail(ctx context.Context, orderID int64, action string, cause error) {
	trace.SpanFromContext(ctx).RecordError(cause)
	s.log.Warn("remote operation failed", "order_id", orderID, "action", action, "error", cause)
	s.finish(ctx, orderID, nil, encodePayload(failurePayload(cause)), models.OrderError)
	s.logRepo.LogAction(ctx, orderID, action, models.OrderError, cause.Error())
}

// recordFailure stores the failure without changing status.
func (s *ProvisionService) recordFailure(ctx context.Context, orderID int64, action string, status models.OrderStatus, cause error) {
	s.log.Warn("remote operation failed", "order_id", orderID, "action", action, "error", cause)
	if err := s.orderRepo.SetRemoteResponse(ctx, orderID, encodePayload(failurePayload(cause))); err != nil {
		s.log.Error("store remote response failed", "order_id", orderID, "error", err)
	}
	s.logRepo.LogAction(ctx, orderID, action, status, cause.Error())
}

func (s *ProvisionService) mapTransition(err error) error {
	if errors.Is(err, repository.ErrIllegalTransition) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func encodePayload(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, fmt.Sprint(v))
	}
	return string(b)
}

func generatePassword(n int) (string, error) {
	limit := big.NewInt(int64(len(remotePasswordCharset)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		out[i] = remotePasswordCharset[idx.Int64()]
	}
	return string(out), nil
}

func orderNotification(o *models.Order) *models.Notification {
	switch o.Status {
	case models.OrderActive:
		return &models.Notification{Type: "success", Text: "Server created successfully and is active."}
	case models.OrderError:
		return &models.Notification{
			Type:    "error",
			Text:    "Provisioning failed. See details below.",
			Details: failureDetails(o.RemoteResult),
		}
	default:
		return &models.Notification{
			Type: "info",
			Text: fmt.Sprintf("Order created with status: %s. Provisioning may still be in progress.", o.Status),
		}
	}
}

// failureDetails prefers the panel's "errors" list, then its message, then
// the whole document.
func failureDetails(raw *string) string {
	if raw == nil || *raw == "" {
		return ""
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(*raw), &doc); err != nil {
		return *raw
	}
	if errs, ok := doc["errors"]; ok {
		b, _ := json.MarshalIndent(errs, "", "  ")
		return string(b)
	}
	if msg := client.String(doc["message"]); msg != "" {
		return msg
	}
	b, _ := json.MarshalIndent(doc, "", "  ")
	return string(b)
}

func noAllocationNotice(e *NoAllocationError) *models.Notification {
	if e.TotalFree() == 0 {
		return &models.Notification{
			Type:    "error",
			Text:    "All nodes are full. Unable to provision at this time.",
			Details: e.Summary(),
		}
	}
	b, _ := json.MarshalIndent(e.Nodes, "", "  ")
	return &models.Notification{
		Type:    "error",
		Text:    "No allocation available to provision the server. Contact admin.",
		Details: string(b),
	}
}
