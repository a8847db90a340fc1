package service

import (
	"context"

	"github.com/wenwu/saas-platform/panel-service/internal/client"
	"github.com/wenwu/saas-platform/panel-service/internal/settings"
)

// RemotePanel is the subset of the Pterodactyl API the services use.
// *client.PanelClient implements it.
type RemotePanel interface {
	TestConnection(ctx context.Context, creds client.Credentials) (*client.Response, error)
	ListNodes(ctx context.Context, creds client.Credentials) (*client.Response, error)
	ListNodeAllocations(ctx context.Context, creds client.Credentials, nodeID int64) (*client.Response, error)
	ListNodeServers(ctx context.Context, creds client.Credentials, nodeID int64) (*client.Response, error)
	ListLocations(ctx context.Context, creds client.Credentials) (*client.Response, error)
	ListUsers(ctx context.Context, creds client.Credentials) (*client.Response, error)
	CreateUser(ctx context.Context, creds client.Credentials, req *client.CreateUserRequest) (*client.Response, error)
	GetEgg(ctx context.Context, creds client.Credentials, nestID, eggID int64) (*client.Response, error)
	CreateServer(ctx context.Context, creds client.Credentials, req *client.CreateServerRequest) (*client.Response, error)
	SuspendServer(ctx context.Context, creds client.Credentials, serverID int64) (*client.Response, error)
	UnsuspendServer(ctx context.Context, creds client.Credentials, serverID int64) (*client.Response, error)
	DeleteServer(ctx context.Context, creds client.Credentials, serverID int64) (*client.Response, error)
	ListServers(ctx context.Context, creds client.Credentials, page, perPage int) (*client.Response, error)
	GetServerByExternalID(ctx context.Context, creds client.Credentials, externalID string) (*client.Response, error)
	ResolveServerID(ctx context.Context, creds client.Credentials, ref string) (int64, *client.Response, error)
}

// SettingsSource hands out the current integration settings.
// *settings.Store implements it.
type SettingsSource interface {
	Get() settings.Settings
}

var _ RemotePanel = (*client.PanelClient)(nil)
