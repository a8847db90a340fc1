package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wenwu/saas-platform/panel-service/internal/models"
)

func TestResolveTemplateExplicitFields(t *testing.T) {
	body := map[string]any{
		"object": "egg",
		"attributes": map[string]any{
			"container":       map[string]any{"image": "quay.io/parkervcp/yolks:rust"},
			"startup_command": "./RustDedicated",
			"feature_limits":  map[string]any{"databases": 3, "backups": 4},
		},
	}
	meta := resolveTemplate(body, &models.Plan{Startup: "ignored", DockerImage: "ignored/too"})

	assert.Equal(t, "quay.io/parkervcp/yolks:rust", meta.DockerImage)
	assert.Equal(t, "./RustDedicated", meta.Startup)
	assert.Equal(t, 3, meta.FeatureLimits["databases"])
}

func TestResolveTemplateDataWrapper(t *testing.T) {
	body := map[string]any{
		"data": map[string]any{"attributes": map[string]any{"startup_cmd": "run.sh"}},
	}
	meta := resolveTemplate(body, &models.Plan{})
	assert.Equal(t, "run.sh", meta.Startup)
}

func TestResolveTemplateWalksForImage(t *testing.T) {
	body := map[string]any{
		"attributes": map[string]any{
			"description": "a server with spaces / slashes",
			"docker_images": map[string]any{
				"Java 17": "ghcr.io/pterodactyl/yolks:java_17",
			},
		},
	}
	meta := resolveTemplate(body, &models.Plan{})
	assert.Equal(t, "ghcr.io/pterodactyl/yolks:java_17", meta.DockerImage)
}

func TestResolveTemplateFallsBackToPlan(t *testing.T) {
	plan := &models.Plan{
		Startup:     "java -jar server.jar",
		DockerImage: "ghcr.io/custom/image:1",
		Databases:   2,
		Backups:     1,
		Environment: models.EnvMap{"SERVER_JARFILE": "custom.jar"},
	}
	meta := resolveTemplate(nil, plan)

	assert.Equal(t, "ghcr.io/custom/image:1", meta.DockerImage)
	assert.Equal(t, "java -jar server.jar", meta.Startup)
	assert.Equal(t, map[string]any{"databases": int64(2), "backups": int64(1)}, meta.FeatureLimits)
	assert.Equal(t, "custom.jar", meta.Environment["SERVER_JARFILE"])
	assert.Equal(t, "0", meta.Environment["BUILD_NUMBER"])
}

func TestResolveTemplateVariables(t *testing.T) {
	body := map[string]any{
		"attributes": map[string]any{
			"name": "Paper",
			"variables": []any{
				map[string]any{"env_variable": "MINECRAFT_VERSION", "default_value": "latest"},
				map[string]any{"env": "MAX_PLAYERS", "default": float64(20)},
				map[string]any{"variable": "MOTD", "value": "hello"},
				map[string]any{"name": "NO_DEFAULT"},
				map[string]any{"env_variable": "EMPTY", "default_value": ""},
			},
		},
	}
	meta := resolveTemplate(body, &models.Plan{Environment: models.EnvMap{"MOTD": "mine"}})

	assert.Equal(t, "latest", meta.Environment["MINECRAFT_VERSION"])
	assert.Equal(t, "20", meta.Environment["MAX_PLAYERS"])
	assert.Equal(t, "mine", meta.Environment["MOTD"])
	assert.NotContains(t, meta.Environment, "NO_DEFAULT")
	assert.NotContains(t, meta.Environment, "Paper")
	assert.Contains(t, meta.Environment, "EMPTY")
	assert.Equal(t, "server.jar", meta.Environment["SERVER_JARFILE"])
}

func TestResolveTemplateSurvivesCycles(t *testing.T) {
	inner := map[string]any{"name": "loop"}
	inner["self"] = inner
	list := []any{inner}
	inner["list"] = list
	body := map[string]any{"attributes": inner}

	meta := resolveTemplate(body, &models.Plan{DockerImage: "fallback/image"})
	assert.Equal(t, "fallback/image", meta.DockerImage)
}

func TestResolveTemplateDepthBound(t *testing.T) {
	deep := map[string]any{"image": "too/deep"}
	for i := 0; i < 100; i++ {
		deep = map[string]any{"next": deep}
	}
	meta := resolveTemplate(map[string]any{"attributes": deep}, &models.Plan{DockerImage: "plan/image"})
	assert.Equal(t, "plan/image", meta.DockerImage)

	shallow := map[string]any{"a": map[string]any{"b": map[string]any{"image": "found/it"}}}
	meta = resolveTemplate(map[string]any{"attributes": shallow}, &models.Plan{})
	assert.Equal(t, "found/it", meta.DockerImage)
}
