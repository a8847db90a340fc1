package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreMissingFileFallsBackToDefault(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nope", "config.json"))

	got := store.Get()
	assert.Equal(t, DefaultSiteName, got.Web.Name)

	_, ok := got.Integration()
	assert.False(t, ok)
}

func TestStoreMalformedFileFallsBackToDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	got := NewStore(path).Get()
	assert.Equal(t, Default(), got)
}

func TestStoreReadsIntegration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"web": {"name": "Acme Hosting"},
		"pterodactyl": {"url": " https://panel.example.com ", "api_key": "ptla_abc"}
	}`), 0o600))

	got := NewStore(path).Get()
	assert.Equal(t, "Acme Hosting", got.Web.Name)

	creds, ok := got.Integration()
	require.True(t, ok)
	assert.Equal(t, "https://panel.example.com", creds.BaseURL)
	assert.Equal(t, "ptla_abc", creds.APIKey)
}

func TestStoreSaveReplacesCacheAndKeepsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"web":{"name":"Old"},"extra":{"keep":true}}`), 0o600))

	store := NewStore(path)
	assert.Equal(t, "Old", store.Get().Web.Name)

	err := store.Save(Settings{
		Web:         Web{Name: "New"},
		Pterodactyl: Pterodactyl{URL: "https://panel.example.com/", APIKey: "key"},
	})
	require.NoError(t, err)

	got := store.Get()
	assert.Equal(t, "New", got.Web.Name)
	assert.Equal(t, "https://panel.example.com", got.Pterodactyl.URL)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "extra")

	store.Invalidate()
	assert.Equal(t, "New", store.Get().Web.Name)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "", MaskKey(""))
	assert.Equal(t, "****", MaskKey("abcd"))
	assert.Equal(t, "ptla****wxyz", MaskKey("ptla1234wxyz"))
}
