package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of a purchased service.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderActive     OrderStatus = "active"
	OrderError      OrderStatus = "error"
	OrderSuspended  OrderStatus = "suspended"
)

// orderTransitions lists the legal targets for each state. Identity
// transitions are always allowed and handled separately.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderProcessing, OrderError},
	OrderProcessing: {OrderActive, OrderError},
	OrderActive:     {OrderSuspended, OrderError},
	OrderSuspended:  {OrderActive, OrderError},
	OrderError:      {OrderSuspended},
}

func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s == next {
		return true
	}
	for _, t := range orderTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// SourcesOf returns every status from which next may be entered, next included.
func SourcesOf(next OrderStatus) []OrderStatus {
	out := []OrderStatus{next}
	for from, targets := range orderTransitions {
		if from == next {
			continue
		}
		for _, t := range targets {
			if t == next {
				out = append(out, from)
				break
			}
		}
	}
	return out
}

// ProvisionStep records how far checkout got, so an interrupted order can be
// reconciled on restart.
type ProvisionStep string

const (
	StepCreated      ProvisionStep = "created"
	StepRemoteUser   ProvisionStep = "remote_user"
	StepMetadata     ProvisionStep = "metadata"
	StepAllocation   ProvisionStep = "allocation"
	StepCreateServer ProvisionStep = "create_server"
	StepDone         ProvisionStep = "done"
	StepLocalOnly    ProvisionStep = "local_only"
)

const (
	BillingMonthly = "monthly"
	BillingYearly  = "yearly"
)

// BillingDays is the length of one billing period. Anything mentioning
// "year" is yearly, everything else monthly.
func BillingDays(cycle string) int {
	if strings.Contains(strings.ToLower(cycle), "year") {
		return 365
	}
	return 30
}

func BillingPeriod(cycle string) time.Duration {
	return time.Duration(BillingDays(cycle)) * 24 * time.Hour
}

// Order is a user's purchase of a plan.
type Order struct {
	ID            int64           `db:"id" json:"id"`
	UserID        int64           `db:"user_id" json:"user_id"`
	PlanID        int64           `db:"plan_id" json:"plan_id"`
	ServerName    string          `db:"server_name" json:"server_name"`
	Price         decimal.Decimal `db:"price" json:"price"`
	BillingCycle  string          `db:"billing_cycle" json:"billing_cycle"`
	Status        OrderStatus     `db:"status" json:"status"`
	ServerID      *string         `db:"server_id" json:"server_id,omitempty"`
	RemoteResult  *string         `db:"remote_response" json:"remote_response,omitempty"`
	ProvisionStep ProvisionStep   `db:"provision_step" json:"provision_step"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	ExpiresAt     *time.Time      `db:"expires_at" json:"expires_at,omitempty"`
}

// ExternalID is the reference sent to the remote panel with create-server.
func (o *Order) ExternalID() string {
	return ExternalIDFor(o.ID)
}

func ExternalIDFor(orderID int64) string {
	return "order-" + strconv.FormatInt(orderID, 10)
}

func (o *Order) HasServer() bool {
	return o.ServerID != nil && strings.TrimSpace(*o.ServerID) != ""
}

// Expired reports whether an active order is due for suspension.
func (o *Order) Expired(now time.Time) bool {
	return o.Status == OrderActive && o.ExpiresAt != nil && !o.ExpiresAt.After(now)
}

// OrderView is an order joined with its plan and owner for listings.
type OrderView struct {
	Order
	PlanName *string `db:"plan_name" json:"plan_name,omitempty"`
	Username *string `db:"username" json:"username,omitempty"`
}
