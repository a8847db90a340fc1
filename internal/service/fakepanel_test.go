package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/wenwu/saas-platform/panel-service/internal/client"
	"github.com/wenwu/saas-platform/panel-service/internal/config"
	"github.com/wenwu/saas-platform/panel-service/internal/db"
	"github.com/wenwu/saas-platform/panel-service/internal/models"
	"github.com/wenwu/saas-platform/panel-service/internal/repository"
	"github.com/wenwu/saas-platform/panel-service/internal/settings"
)

// fakePanel is an in-memory Pterodactyl application API.
type fakePanel struct {
	mu sync.Mutex

	nodes          []map[string]any
	allocations    map[int64][]map[string]any
	nodeServers    map[int64][]map[string]any
	brokenNodes    map[int64]bool
	locations      []map[string]any
	users          []map[string]any
	servers        []map[string]any
	egg            map[string]any
	createUserCode int
	createSrvCode  int
	createSrvBody  map[string]any
	suspendCode    int
	unsuspendCode  int
	deleteCode     int
	externalCode   int
	externalBody   map[string]any
	requiredKey    string
	listSrvCode    int

	calls      []string
	lastUser   map[string]any
	lastServer map[string]any
	nextUserID int64
	nextSrvID  int64
}

func newFakePanel() *fakePanel {
	return &fakePanel{
		allocations:    map[int64][]map[string]any{},
		nodeServers:    map[int64][]map[string]any{},
		brokenNodes:    map[int64]bool{},
		createUserCode: http.StatusCreated,
		createSrvCode:  http.StatusCreated,
		suspendCode:    http.StatusNoContent,
		unsuspendCode:  http.StatusNoContent,
		deleteCode:     http.StatusNoContent,
		externalCode:   http.StatusNotFound,
		nextUserID:     77,
		nextSrvID:      501,
	}
}

func wrapList(items []map[string]any) map[string]any {
	data := make([]any, 0, len(items))
	for _, it := range items {
		data = append(data, map[string]any{"object": "item", "attributes": it})
	}
	return map[string]any{"object": "list", "data": data}
}

func (f *fakePanel) called(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakePanel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/api/application")
	f.calls = append(f.calls, r.Method+" "+path)
	parts := strings.Split(strings.Trim(path, "/"), "/")

	reply := func(code int, body any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if body != nil && code != http.StatusNoContent {
			_ = json.NewEncoder(w).Encode(body)
		}
	}

	if f.requiredKey != "" && r.Header.Get("Authorization") != "Bearer "+f.requiredKey {
		reply(http.StatusUnauthorized, map[string]any{"errors": []any{map[string]any{"code": "AuthenticationException", "status": "401"}}})
		return
	}

	switch {
	case r.Method == http.MethodGet && path == "/nodes":
		reply(http.StatusOK, wrapList(f.nodes))
	case r.Method == http.MethodGet && len(parts) == 3 && parts[0] == "nodes":
		id, _ := strconv.ParseInt(parts[1], 10, 64)
		if f.brokenNodes[id] {
			reply(http.StatusInternalServerError, map[string]any{"errors": []any{"node down"}})
			return
		}
		if parts[2] == "allocations" {
			reply(http.StatusOK, wrapList(f.allocations[id]))
		} else {
			reply(http.StatusOK, wrapList(f.nodeServers[id]))
		}
	case r.Method == http.MethodGet && path == "/locations":
		reply(http.StatusOK, wrapList(f.locations))
	case r.Method == http.MethodGet && path == "/users":
		reply(http.StatusOK, wrapList(f.users))
	case r.Method == http.MethodPost && path == "/users":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.lastUser = body
		if f.createUserCode >= 300 {
			reply(f.createUserCode, map[string]any{"errors": []any{map[string]any{"detail": "email taken"}}})
			return
		}
		id := f.nextUserID
		f.nextUserID++
		reply(f.createUserCode, map[string]any{"object": "user", "attributes": map[string]any{"id": id}})
	case r.Method == http.MethodGet && len(parts) == 4 && parts[0] == "nests":
		if f.egg == nil {
			reply(http.StatusNotFound, map[string]any{"errors": []any{"egg not found"}})
			return
		}
		reply(http.StatusOK, f.egg)
	case r.Method == http.MethodPost && path == "/servers":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.lastServer = body
		if f.createSrvBody != nil {
			reply(f.createSrvCode, f.createSrvBody)
			return
		}
		id := f.nextSrvID
		f.nextSrvID++
		reply(f.createSrvCode, map[string]any{"object": "server", "attributes": map[string]any{"id": id, "identifier": "abcd" + strconv.FormatInt(id, 10)}})
	case r.Method == http.MethodGet && path == "/servers":
		if f.listSrvCode != 0 {
			reply(f.listSrvCode, map[string]any{"errors": []any{"listing failed"}})
			return
		}
		reply(http.StatusOK, wrapList(f.servers))
	case r.Method == http.MethodGet && len(parts) == 3 && parts[1] == "external":
		reply(f.externalCode, f.externalBody)
	case r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "suspend":
		reply(f.suspendCode, map[string]any{"errors": []any{"suspend refused"}})
	case r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "unsuspend":
		reply(f.unsuspendCode, map[string]any{"errors": []any{"unsuspend refused"}})
	case r.Method == http.MethodDelete && len(parts) == 2:
		reply(f.deleteCode, map[string]any{"errors": []any{"delete refused"}})
	default:
		reply(http.StatusNotFound, map[string]any{"errors": []any{"no route"}})
	}
}

type harness struct {
	svc    *ProvisionService
	orders *repository.OrderRepository
	plans  *repository.PlanRepository
	users  *repository.UserRepository
	logs   *repository.LogRepository
	store  *settings.Store
	panel  *fakePanel
	srv    *httptest.Server
}

// newHarness wires a provisioning service to a temp SQLite file and a fake
// panel. With configured=false no integration settings are saved.
func newHarness(t *testing.T, configured bool) *harness {
	t.Helper()

	database, err := db.New(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "panel.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	panel := newFakePanel()
	srv := httptest.NewServer(panel)
	t.Cleanup(srv.Close)

	store := settings.NewStore(filepath.Join(t.TempDir(), "config.json"))
	if configured {
		require.NoError(t, store.Save(settings.Settings{
			Pterodactyl: settings.Pterodactyl{URL: srv.URL, APIKey: "ptla_test"},
		}))
	}

	h := &harness{
		orders: repository.NewOrderRepository(database.DB),
		plans:  repository.NewPlanRepository(database.DB),
		users:  repository.NewUserRepository(database.DB),
		logs:   repository.NewLogRepository(database.DB),
		store:  store,
		panel:  panel,
		srv:    srv,
	}
	h.svc = NewProvisionService(
		config.ProvisionConfig{FallbackRemoteUserID: 1, RenewMinAge: 15 * 24 * time.Hour},
		h.orders, h.plans, h.users, h.logs,
		client.NewPanelClient(2*time.Second, 2*time.Second),
		store,
		NewKeyedMutex(),
	)
	return h
}

func (h *harness) plan(t *testing.T, mutate func(*models.Plan)) *models.Plan {
	t.Helper()
	p := &models.Plan{
		Name:         "Basic",
		NestID:       1,
		EggID:        5,
		RAM:          1024,
		Disk:         5000,
		CPU:          100,
		Databases:    1,
		Backups:      2,
		BillingCycle: models.BillingMonthly,
		Price:        decimal.RequireFromString("5.0"),
	}
	if mutate != nil {
		mutate(p)
	}
	require.NoError(t, h.plans.Create(context.Background(), p))
	return p
}

func (h *harness) user(t *testing.T, name string) *models.User {
	t.Helper()
	u := &models.User{
		Username:     name,
		Email:        repository.NormalizeEmail(name + "@example.com"),
		PasswordHash: "x",
	}
	require.NoError(t, h.users.Create(context.Background(), u))
	return u
}

// activeOrder inserts an order and walks it to active with serverID.
func (h *harness) activeOrder(t *testing.T, userID int64, serverID string, mutate func(*models.Order)) *models.Order {
	t.Helper()
	ctx := context.Background()
	exp := time.Now().UTC().Add(30 * 24 * time.Hour)
	o := &models.Order{
		UserID:       userID,
		PlanID:       1,
		ServerName:   "srv",
		Price:        decimal.RequireFromString("5"),
		BillingCycle: models.BillingMonthly,
		ExpiresAt:    &exp,
	}
	if mutate != nil {
		mutate(o)
	}
	require.NoError(t, h.orders.Create(ctx, o))
	require.NoError(t, h.orders.UpdateStatus(ctx, o.ID, models.OrderProcessing))
	var sid *string
	if serverID != "" {
		sid = &serverID
	}
	require.NoError(t, h.orders.MarkResult(ctx, o.ID, sid, "{}", models.OrderActive))
	got, err := h.orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	return got
}

// singleNode gives the fake panel one node with the given allocations.
func (f *fakePanel) singleNode(memory any, allocs ...map[string]any) {
	node := map[string]any{"id": 1, "name": "n1", "fqdn": "n1.example.com", "location_id": 1}
	if memory != nil {
		node["memory"] = memory
	}
	f.nodes = []map[string]any{node}
	f.allocations[1] = allocs
}

func freeAlloc(id int) map[string]any {
	return map[string]any{"id": id, "ip": "10.0.0.1", "port": 25565 + id, "assigned": false}
}

func usedAlloc(id int) map[string]any {
	return map[string]any{"id": id, "ip": "10.0.0.1", "port": 25565 + id, "assigned": true}
}
