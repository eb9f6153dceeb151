package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worldforge/internal/domain"
)

func TestExtractPrefersFullResScene(t *testing.T) {
	res := &Resource{Status: "ready"}
	res.Assets.Scene.FullResURL = "https://cdn/full.splat"
	res.Assets.Scene.LowResURL = "https://cdn/low.splat"
	res.SceneURL = "https://cdn/legacy.splat"

	assets, err := ExtractSceneAssets(res)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/full.splat", assets.SceneURL)
	assert.Equal(t, "https://cdn/low.splat", assets.LowResSceneURL)
}

func TestExtractFallsBackToSecondaryPath(t *testing.T) {
	res := &Resource{
		Status:    "ready",
		Downloads: []Download{{Kind: "scene_full_res", URL: "https://cdn/dl.splat"}},
	}

	assets, err := ExtractSceneAssets(res)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/dl.splat", assets.SceneURL)
}

func TestExtractFallsBackToLegacyField(t *testing.T) {
	res := &Resource{Status: "ready", SceneURL: "https://cdn/legacy.splat"}

	assets, err := ExtractSceneAssets(res)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/legacy.splat", assets.SceneURL)
}

func TestExtractNoUsableAsset(t *testing.T) {
	res := &Resource{
		Status:    "ready",
		Downloads: []Download{{Kind: "preview", URL: "https://cdn/preview.png"}},
	}

	_, err := ExtractSceneAssets(res)
	assert.ErrorIs(t, err, domain.ErrNoUsableAsset)
}

func TestExtractOptionalAssets(t *testing.T) {
	res := &Resource{Status: "ready"}
	res.Assets.Scene.FullResURL = "https://cdn/full.splat"
	res.Assets.Collider.URL = "https://cdn/collider.glb"
	res.Downloads = []Download{{Kind: "preview", URL: "https://cdn/preview.png"}}

	assets, err := ExtractSceneAssets(res)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/collider.glb", assets.ColliderURL)
	assert.Equal(t, "https://cdn/preview.png", assets.PreviewImageURL)
	assert.Empty(t, assets.LowResSceneURL)
}
