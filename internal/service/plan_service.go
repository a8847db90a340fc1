package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/wenwu/saas-platform/panel-service/internal/models"
	"github.com/wenwu/saas-platform/panel-service/internal/repository"
)

// PlanService manages the plan catalogue.
type PlanService struct {
	plans *repository.PlanRepository
	log   *slog.Logger
}

func NewPlanService(plans *repository.PlanRepository) *PlanService {
	return &PlanService{
		plans: plans,
		log:   slog.Default().With("component", "plans"),
	}
}

func (s *PlanService) List(ctx context.Context) ([]*models.Plan, error) {
	plans, err := s.plans.List(ctx)
	if err != nil {
		return nil, err
	}
	if plans == nil {
		plans = []*models.Plan{}
	}
	return plans, nil
}

func (s *PlanService) Get(ctx context.Context, id int64) (*models.Plan, error) {
	return s.plans.GetByID(ctx, id)
}

func (s *PlanService) Create(ctx context.Context, req *models.PlanRequest) (*models.Plan, error) {
	plan, err := planFromRequest(req)
	if err != nil {
		return nil, err
	}
	if err := s.plans.Create(ctx, plan); err != nil {
		return nil, err
	}
	s.log.Info("plan created", "plan_id", plan.ID, "name", plan.Name)
	return plan, nil
}

func (s *PlanService) Update(ctx context.Context, id int64, req *models.PlanRequest) (*models.Plan, error) {
	existing, err := s.plans.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	plan, err := planFromRequest(req)
	if err != nil {
		return nil, err
	}
	plan.ID = existing.ID
	plan.CreatedAt = existing.CreatedAt
	if err := s.plans.Update(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// Delete removes a plan. Orders keep their snapshot of price and cycle.
func (s *PlanService) Delete(ctx context.Context, id int64) error {
	if err := s.plans.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("plan deleted", "plan_id", id)
	return nil
}

func planFromRequest(req *models.PlanRequest) (*models.Plan, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if req.Price.IsNegative() {
		return nil, invalid("price must not be negative")
	}
	env, err := models.ParseEnv(req.Environment)
	if err != nil {
		return nil, invalid("%v", err)
	}
	cycle := req.BillingCycle
	if cycle == "" {
		cycle = models.BillingMonthly
	}
	return &models.Plan{
		Name:         req.Name,
		NestID:       req.NestID,
		EggID:        req.EggID,
		RAM:          req.RAM,
		Disk:         req.Disk,
		CPU:          req.CPU,
		Databases:    req.Databases,
		Backups:      req.Backups,
		BillingCycle: cycle,
		Price:        req.Price,
		Environment:  env,
		Startup:      strings.TrimSpace(req.Startup),
		DockerImage:  strings.TrimSpace(req.DockerImage),
	}, nil
}
