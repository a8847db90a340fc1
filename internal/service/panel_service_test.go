package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wenwu/saas-platform/panel-service/internal/client"
	"github.com/wenwu/saas-platform/panel-service/internal/models"
)

func newPanelService(h *harness) *PanelService {
	return NewPanelService(h.store, client.NewPanelClient(2*time.Second, 2*time.Second))
}

func TestSavePterodactylKeepsKey(t *testing.T) {
	h := newHarness(t, true)
	svc := newPanelService(h)

	saved, err := svc.SavePterodactyl(&models.PterodactylSettingsRequest{URL: "https://panel.example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "https://panel.example.com", saved.Pterodactyl.URL)
	assert.Equal(t, "ptla*test", saved.Pterodactyl.APIKey)
	assert.Equal(t, "ptla_test", h.store.Get().Pterodactyl.APIKey)

	_, err = svc.SavePterodactyl(&models.PterodactylSettingsRequest{URL: "not a url"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.SaveSite(&models.SiteSettingsRequest{Name: "My Hosting"})
	require.NoError(t, err)
	assert.Equal(t, "My Hosting", h.store.Get().Web.Name)
	assert.Equal(t, "ptla_test", h.store.Get().Pterodactyl.APIKey)
}

func TestTestConnection(t *testing.T) {
	h := newHarness(t, false)
	svc := newPanelService(h)

	_, err := svc.TestConnection(context.Background(), nil)
	assert.ErrorIs(t, err, ErrConfigMissing)

	h = newHarness(t, true)
	svc = newPanelService(h)
	res, err := svc.TestConnection(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, http.StatusOK, res.Status)

	h.srv.Close()
	res, err = svc.TestConnection(context.Background(), &models.PterodactylSettingsRequest{})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, res.Message, "unavailable")
}

func TestTestConnectionSuppliedCredentials(t *testing.T) {
	ctx := context.Background()

	t.Run("unsaved url and key", func(t *testing.T) {
		h := newHarness(t, false)
		h.panel.requiredKey = "ptla_new"
		svc := newPanelService(h)

		res, err := svc.TestConnection(ctx, &models.PterodactylSettingsRequest{URL: h.srv.URL + "/", APIKey: "ptla_new"})
		require.NoError(t, err)
		assert.True(t, res.OK)
		_, saved := h.store.Get().Integration()
		assert.False(t, saved, "testing does not save")
	})

	t.Run("supplied key overrides the saved one", func(t *testing.T) {
		h := newHarness(t, true)
		h.panel.requiredKey = "ptla_test"
		svc := newPanelService(h)

		res, err := svc.TestConnection(ctx, &models.PterodactylSettingsRequest{APIKey: "ptla_wrong"})
		require.NoError(t, err)
		assert.False(t, res.OK)
		assert.Equal(t, http.StatusUnauthorized, res.Status)
		body, ok := res.Error.(map[string]any)
		require.True(t, ok, "panel error body is passed through")
		assert.Contains(t, body, "errors")

		res, err = svc.TestConnection(ctx, nil)
		require.NoError(t, err)
		assert.True(t, res.OK)
	})

	t.Run("invalid url", func(t *testing.T) {
		h := newHarness(t, false)
		_, err := newPanelService(h).TestConnection(ctx, &models.PterodactylSettingsRequest{URL: "panel", APIKey: "k"})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestNodesOverview(t *testing.T) {
	h := newHarness(t, true)
	svc := newPanelService(h)
	h.panel.locations = []map[string]any{{"id": 1, "short": "eu", "long": "Frankfurt"}}
	h.panel.nodes = []map[string]any{
		{"id": 1, "name": "n1", "fqdn": "n1.example.com", "location_id": 1, "memory": 8192, "disk": 100000},
		{"id": 2, "name": "n2", "location_id": 1},
	}
	h.panel.servers = []map[string]any{
		{"id": 10, "node": 1, "limits": map[string]any{"memory": 1024, "disk": 5000}},
		{"id": 11, "node": 1, "limits": map[string]any{"memory": 2048, "disk": 5000}},
		{"id": 12, "node_id": 2, "limits": map[string]any{"memory": 512}},
		{"id": 13, "limits": map[string]any{"memory": 4096}},
	}

	out, err := svc.NodesOverview(context.Background())
	require.NoError(t, err)
	require.Len(t, out.Nodes, 2)
	assert.Empty(t, out.Warning)
	assert.Equal(t, 1, h.panel.called("GET /servers"))
	assert.Zero(t, h.panel.called("GET /nodes/"))

	n1 := out.Nodes[0]
	assert.Equal(t, "Frankfurt", n1.Location)
	assert.Equal(t, 2, n1.ServerCount)
	assert.InDelta(t, 3072, n1.MemoryUsed, 0.001)
	assert.InDelta(t, 10000, n1.DiskUsed, 0.001)

	n2 := out.Nodes[1]
	assert.Equal(t, 1, n2.ServerCount)
	assert.InDelta(t, 512, n2.MemoryUsed, 0.001)
}

func TestNodesOverviewServersUnavailable(t *testing.T) {
	h := newHarness(t, true)
	h.panel.nodes = []map[string]any{{"id": 1, "name": "n1", "memory": 8192}}
	h.panel.listSrvCode = http.StatusInternalServerError

	out, err := newPanelService(h).NodesOverview(context.Background())
	require.NoError(t, err)
	require.Len(t, out.Nodes, 1)
	assert.Zero(t, out.Nodes[0].ServerCount)
	assert.Equal(t, "could not read servers to compute usage", out.Warning)
}

func TestNodesOverviewNotConfigured(t *testing.T) {
	h := newHarness(t, false)
	out, err := newPanelService(h).NodesOverview(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out.Nodes)
	assert.Equal(t, ErrConfigMissing.Error(), out.Warning)
}
