package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"

	"github.com/wenwu/saas-platform/panel-service/internal/client"
	"github.com/wenwu/saas-platform/panel-service/internal/models"
)

const (
	maxWalkDepth = 32
	maxWalkNodes = 10000
)

// TemplateMetadata is everything create-server needs from the egg.
type TemplateMetadata struct {
	DockerImage   string
	Startup       string
	Environment   map[string]string
	FeatureLimits map[string]any
}

// TemplateResolver reads an egg definition and merges it with plan
// overrides. Egg responses vary between panel versions, so lookups are
// best-effort and the plan always has the last word.
type TemplateResolver struct {
	panel RemotePanel
	log   *slog.Logger
}

func NewTemplateResolver(panel RemotePanel) *TemplateResolver {
	return &TemplateResolver{
		panel: panel,
		log:   slog.Default().With("component", "template_resolver"),
	}
}

// Resolve never fails. A missing or unreachable egg leaves plan values and
// the built-in fallbacks in place.
func (r *TemplateResolver) Resolve(ctx context.Context, creds client.Credentials, plan *models.Plan) TemplateMetadata {
	var body any
	if plan.NestID > 0 && plan.EggID > 0 {
		resp, err := r.panel.GetEgg(ctx, creds, plan.NestID, plan.EggID)
		switch {
		case err != nil:
			r.log.Warn("egg lookup failed", "nest", plan.NestID, "egg", plan.EggID, "error", err)
		case !resp.OK():
			r.log.Warn("egg lookup rejected", "nest", plan.NestID, "egg", plan.EggID, "status", resp.Status)
		default:
			body = resp.Body
		}
	}
	return resolveTemplate(body, plan)
}

func resolveTemplate(body any, plan *models.Plan) TemplateMetadata {
	attrs := eggAttributes(body)

	meta := TemplateMetadata{
		DockerImage: explicitImage(attrs),
		Startup:     firstString(attrs, "startup", "startup_command", "startup_cmd"),
	}
	if meta.DockerImage == "" {
		meta.DockerImage = newWalker().findImage(body, 0)
	}
	if meta.DockerImage == "" {
		meta.DockerImage = newWalker().findImage(attrs, 0)
	}
	if meta.DockerImage == "" {
		meta.DockerImage = plan.DockerImage
	}
	if meta.Startup == "" {
		meta.Startup = plan.Startup
	}

	if fl, ok := attrs["feature_limits"].(map[string]any); ok {
		meta.FeatureLimits = fl
	} else {
		meta.FeatureLimits = map[string]any{"databases": plan.Databases, "backups": plan.Backups}
	}

	// plan overrides first so egg defaults never replace them
	env := make(map[string]string, len(plan.Environment))
	for k, v := range plan.Environment {
		env[k] = v
	}
	for _, v := range newWalker().collectVariables(attrs, 0) {
		if _, set := env[v.name]; !set {
			env[v.name] = v.value
		}
	}
	if env["SERVER_JARFILE"] == "" {
		env["SERVER_JARFILE"] = "server.jar"
	}
	if env["BUILD_NUMBER"] == "" {
		env["BUILD_NUMBER"] = "0"
	}
	meta.Environment = env

	return meta
}

func eggAttributes(body any) map[string]any {
	m, _ := body.(map[string]any)
	if data, ok := m["data"].(map[string]any); ok {
		if attrs, ok := data["attributes"].(map[string]any); ok {
			return attrs
		}
	}
	if attrs, ok := m["attributes"].(map[string]any); ok {
		return attrs
	}
	return map[string]any{}
}

func explicitImage(attrs map[string]any) string {
	if c, ok := attrs["container"].(map[string]any); ok {
		if img := firstString(c, "image", "docker_image", "Image"); img != "" {
			return img
		}
	}
	return firstString(attrs, "docker_image")
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(client.String(m[k])); s != "" {
			return s
		}
	}
	return ""
}

func looksLikeImage(s string) bool {
	s = strings.TrimSpace(s)
	return strings.Contains(s, "/") && !strings.ContainsAny(s, " \t\r\n")
}

type variable struct {
	name  string
	value string
}

// walker bounds a traversal of an arbitrary JSON-like tree by depth and by
// the number of nodes visited, and never enters the same map or slice twice.
type walker struct {
	seen   map[[2]uintptr]bool
	budget int
}

func newWalker() *walker {
	return &walker{seen: make(map[[2]uintptr]bool), budget: maxWalkNodes}
}

func (w *walker) enter(v any, depth int) bool {
	if depth > maxWalkDepth || w.budget <= 0 {
		return false
	}
	w.budget--
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice:
		if rv.Len() == 0 {
			return true
		}
		key := [2]uintptr{rv.Pointer(), uintptr(rv.Len())}
		if w.seen[key] {
			return false
		}
		w.seen[key] = true
	}
	return true
}

// findImage prefers keys that mention container, image or docker before
// falling back to every other key. Keys are visited in sorted order.
func (w *walker) findImage(v any, depth int) string {
	if !w.enter(v, depth) {
		return ""
	}
	switch x := v.(type) {
	case string:
		if looksLikeImage(x) {
			return strings.TrimSpace(x)
		}
	case []any:
		for _, item := range x {
			if img := w.findImage(item, depth+1); img != "" {
				return img
			}
		}
	case map[string]any:
		keys := sortedKeys(x)
		var preferred, rest []string
		for _, k := range keys {
			lk := strings.ToLower(k)
			if strings.Contains(lk, "container") || strings.Contains(lk, "image") || strings.Contains(lk, "docker") {
				preferred = append(preferred, k)
			} else {
				rest = append(rest, k)
			}
		}
		for _, k := range append(preferred, rest...) {
			if img := w.findImage(x[k], depth+1); img != "" {
				return img
			}
		}
	}
	return ""
}

// collectVariables finds every object that names an environment variable
// and carries a default value.
func (w *walker) collectVariables(v any, depth int) []variable {
	if !w.enter(v, depth) {
		return nil
	}
	var out []variable
	switch x := v.(type) {
	case []any:
		for _, item := range x {
			out = append(out, w.collectVariables(item, depth+1)...)
		}
	case map[string]any:
		if name := firstString(x, "env_variable", "env", "variable", "name"); name != "" {
			if value, ok := defaultValue(x); ok {
				out = append(out, variable{name: name, value: value})
			}
		}
		for _, k := range sortedKeys(x) {
			switch x[k].(type) {
			case map[string]any, []any:
				out = append(out, w.collectVariables(x[k], depth+1)...)
			}
		}
	}
	return out
}

func defaultValue(m map[string]any) (string, bool) {
	for _, k := range []string{"default_value", "default", "value", "env_value"} {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		switch x := v.(type) {
		case string:
			return x, true
		case map[string]any, []any:
			b, err := json.Marshal(x)
			if err != nil {
				continue
			}
			return string(b), true
		default:
			return fmt.Sprint(x), true
		}
	}
	return "", false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
