package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// ==================== Auth / Profile DTOs ====================

type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Email    string `json:"email" validate:"omitempty,email,max=255"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

type UpdateUsernameRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
}

// ProfileResponse includes the generated remote-panel credentials so the
// owner can log in to the game panel.
type ProfileResponse struct {
	User           *User   `json:"user"`
	RemotePassword *string `json:"remote_password,omitempty"`
}

// ==================== Store DTOs ====================

type CheckoutRequest struct {
	ServerName string `json:"server_name"`
}

// Notification is the user-facing summary of a checkout.
type Notification struct {
	Type    string `json:"type"` // success, error, info
	Text    string `json:"text"`
	Details string `json:"details,omitempty"`
}

type CheckoutResponse struct {
	Order  *Order        `json:"order"`
	Plan   *Plan         `json:"plan"`
	Notify *Notification `json:"notify"`
}

// ==================== Admin DTOs ====================

type PlanRequest struct {
	Name         string          `json:"name" validate:"required,max=100"`
	NestID       int64           `json:"nest" validate:"gte=0"`
	EggID        int64           `json:"egg" validate:"gte=0"`
	RAM          int64           `json:"ram" validate:"gte=0"`
	Disk         int64           `json:"disk" validate:"gte=0"`
	CPU          int64           `json:"cpu" validate:"gte=0"`
	Databases    int64           `json:"databases" validate:"gte=0"`
	Backups      int64           `json:"backups" validate:"gte=0"`
	BillingCycle string          `json:"billing_cycle" validate:"omitempty,oneof=monthly yearly"`
	Price        decimal.Decimal `json:"price"`
	Environment  json.RawMessage `json:"environment,omitempty"`
	Startup      string          `json:"startup" validate:"max=2000"`
	DockerImage  string          `json:"docker_image" validate:"max=255"`
}

type AdjustCoinsRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Action string          `json:"action" validate:"required,oneof=add remove"`
}

type UserListResponse struct {
	Users      []*User `json:"users"`
	Page       int     `json:"page"`
	TotalPages int     `json:"total_pages"`
	Total      int     `json:"total"`
}

type SiteSettingsRequest struct {
	Name    string `json:"name" validate:"max=100"`
	Favicon string `json:"favicon" validate:"max=500"`
}

// PterodactylSettingsRequest updates the integration. A blank APIKey keeps
// the stored key.
type PterodactylSettingsRequest struct {
	URL    string `json:"url" validate:"omitempty,url"`
	APIKey string `json:"api_key"`
}

// ConnectionTestResult reports a connection check. Error carries the panel's
// decoded error body, or the transport error text.
type ConnectionTestResult struct {
	OK      bool   `json:"ok"`
	Status  int    `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	Error   any    `json:"error,omitempty"`
}

// NodeOverview is one row of the admin capacity page.
type NodeOverview struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	FQDN        string  `json:"fqdn,omitempty"`
	Location    string  `json:"location,omitempty"`
	Memory      float64 `json:"memory"`
	MemoryUsed  float64 `json:"memory_used"`
	Disk        float64 `json:"disk"`
	DiskUsed    float64 `json:"disk_used"`
	ServerCount int     `json:"server_count"`
}

type NodesOverviewResponse struct {
	Nodes   []NodeOverview `json:"nodes"`
	Warning string         `json:"warning,omitempty"`
}
