package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/wenwu/saas-platform/panel-service/internal/client"
	"github.com/wenwu/saas-platform/panel-service/internal/models"
	"github.com/wenwu/saas-platform/panel-service/internal/settings"
)

// PanelService backs the admin settings and node pages.
type PanelService struct {
	store *settings.Store
	panel RemotePanel
	log   *slog.Logger
}

func NewPanelService(store *settings.Store, panel RemotePanel) *PanelService {
	return &PanelService{
		store: store,
		panel: panel,
		log:   slog.Default().With("component", "panel_admin"),
	}
}

// Settings returns the settings with the API key masked.
func (s *PanelService) Settings() settings.Settings {
	return s.store.Get().Masked()
}

func (s *PanelService) SaveSite(req *models.SiteSettingsRequest) (settings.Settings, error) {
	if err := validateStruct(req); err != nil {
		return settings.Settings{}, err
	}
	next := s.store.Get()
	next.Web.Name = req.Name
	next.Web.Favicon = req.Favicon
	if err := s.store.Save(next); err != nil {
		return settings.Settings{}, err
	}
	return s.Settings(), nil
}

// SavePterodactyl stores the integration. A blank key keeps the stored one.
func (s *PanelService) SavePterodactyl(req *models.PterodactylSettingsRequest) (settings.Settings, error) {
	req.URL = strings.TrimSpace(req.URL)
	if err := validateStruct(req); err != nil {
		return settings.Settings{}, err
	}
	next := s.store.Get()
	next.Pterodactyl.URL = strings.TrimRight(req.URL, "/")
	if key := strings.TrimSpace(req.APIKey); key != "" {
		next.Pterodactyl.APIKey = key
	}
	if err := s.store.Save(next); err != nil {
		return settings.Settings{}, err
	}
	return s.Settings(), nil
}

// TestConnection lists servers to check a URL and key. Values supplied in
// req win over the saved ones, so credentials can be checked before saving.
func (s *PanelService) TestConnection(ctx context.Context, req *models.PterodactylSettingsRequest) (*models.ConnectionTestResult, error) {
	creds, _ := s.store.Get().Integration()
	if req != nil {
		if u := strings.TrimSpace(req.URL); u != "" {
			creds.BaseURL = strings.TrimRight(u, "/")
		}
		if key := strings.TrimSpace(req.APIKey); key != "" {
			creds.APIKey = key
		}
	}
	if creds.BaseURL == "" || creds.APIKey == "" {
		return nil, ErrConfigMissing
	}
	if u, err := url.Parse(creds.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid base URL", ErrInvalidInput)
	}

	resp, err := s.panel.TestConnection(ctx, creds)
	if err != nil {
		return &models.ConnectionTestResult{OK: false, Message: err.Error(), Error: err.Error()}, nil
	}
	if !resp.OK() {
		return &models.ConnectionTestResult{
			OK:      false,
			Status:  resp.Status,
			Message: fmt.Sprintf("panel answered with status %d", resp.Status),
			Error:   resp.Body,
		}, nil
	}
	return &models.ConnectionTestResult{OK: true, Status: resp.Status, Message: "Connection successful"}, nil
}

// NodesOverview lists nodes with their capacity and usage. Problems talking
// to the panel are reported as a warning next to whatever could be read.
func (s *PanelService) NodesOverview(ctx context.Context) (*models.NodesOverviewResponse, error) {
	out := &models.NodesOverviewResponse{Nodes: []models.NodeOverview{}}

	creds, ok := s.store.Get().Integration()
	if !ok {
		out.Warning = ErrConfigMissing.Error()
		return out, nil
	}

	resp, err := s.panel.ListNodes(ctx, creds)
	if err != nil {
		out.Warning = err.Error()
		return out, nil
	}
	if !resp.OK() {
		out.Warning = rejected("list nodes", resp).Error()
		return out, nil
	}

	locations := s.locationNames(ctx, creds)
	usage, err := s.serverUsage(ctx, creds)
	if err != nil {
		s.log.Warn("list servers failed", "error", err)
		out.Warning = "could not read servers to compute usage"
	}

	for _, item := range resp.Data() {
		attrs := client.Attributes(item)
		id, ok := client.Int64(attrs["id"])
		if !ok {
			continue
		}
		node := models.NodeOverview{
			ID:   id,
			Name: nodeName(id, attrs),
			FQDN: client.String(attrs["fqdn"]),
		}
		if locID, ok := client.Int64(attrs["location_id"]); ok {
			node.Location = locations[locID]
		}
		node.Memory, _ = client.Float64(attrs["memory"])
		node.Disk, _ = client.Float64(attrs["disk"])
		if u, ok := usage[id]; ok {
			node.ServerCount = u.ServerCount
			node.MemoryUsed = u.MemoryUsed
			node.DiskUsed = u.DiskUsed
		}
		out.Nodes = append(out.Nodes, node)
	}
	return out, nil
}

// serverUsage reads every server in one listing and sums limits per node.
// Servers that name no node are skipped.
func (s *PanelService) serverUsage(ctx context.Context, creds client.Credentials) (map[int64]models.NodeOverview, error) {
	resp, err := s.panel.ListServers(ctx, creds, 0, 1000)
	if err == nil && !resp.OK() {
		err = rejected("list servers", resp)
	}
	if err != nil {
		return nil, err
	}

	usage := make(map[int64]models.NodeOverview)
	for _, item := range resp.Data() {
		attrs := client.Attributes(item)
		nodeID, ok := client.Int64(attrs["node"])
		if !ok {
			if nodeID, ok = client.Int64(attrs["node_id"]); !ok {
				continue
			}
		}
		limits, _ := attrs["limits"].(map[string]any)
		mem, _ := client.Float64(limits["memory"])
		disk, _ := client.Float64(limits["disk"])

		u := usage[nodeID]
		u.ServerCount++
		u.MemoryUsed += mem
		u.DiskUsed += disk
		usage[nodeID] = u
	}
	return usage, nil
}

func (s *PanelService) locationNames(ctx context.Context, creds client.Credentials) map[int64]string {
	names := make(map[int64]string)
	resp, err := s.panel.ListLocations(ctx, creds)
	if err == nil && !resp.OK() {
		err = rejected("list locations", resp)
	}
	if err != nil {
		s.log.Warn("list locations failed", "error", err)
		return names
	}
	for _, item := range resp.Data() {
		attrs := client.Attributes(item)
		id, ok := client.Int64(attrs["id"])
		if !ok {
			continue
		}
		name := client.String(attrs["short"])
		if long := client.String(attrs["long"]); long != "" {
			name = long
		}
		names[id] = name
	}
	return names
}
