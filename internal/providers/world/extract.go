package world

import (
	"strings"

	"worldforge/internal/domain"
)

// Resource is the result of a finished generation as the upstream API
// reports it. The schema has drifted across API revisions, so the same
// logical asset can surface at several paths; extraction below tries them
// in preference order.
type Resource struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Assets struct {
		Scene struct {
			FullResURL string `json:"full_res_url"`
			LowResURL  string `json:"low_res_url"`
		} `json:"scene"`
		Collider struct {
			URL string `json:"url"`
		} `json:"collider"`
		Preview struct {
			ImageURL string `json:"image_url"`
		} `json:"preview"`
	} `json:"assets"`
	Downloads []Download `json:"downloads"`
	// Fields kept by older API revisions.
	SceneURL    string `json:"scene_url"`
	ColliderURL string `json:"collider_url"`
}

// Download is a generic named artifact attached to the resource.
type Download struct {
	Kind string `json:"kind"`
	URL  string `json:"url"`
}

// Ready reports whether downstream assets have been populated. Freshly done
// operations can expose the resource before its assets exist.
func (r *Resource) Ready() bool {
	return strings.EqualFold(r.Status, "ready")
}

func (r *Resource) download(kind string) string {
	for _, d := range r.Downloads {
		if strings.EqualFold(d.Kind, kind) {
			return d.URL
		}
	}
	return ""
}

// SceneAssets is the normalized set of asset URLs extracted from a Resource.
type SceneAssets struct {
	SceneURL        string
	ColliderURL     string
	LowResSceneURL  string
	PreviewImageURL string
}

// Candidate accessors, ordered by preference. Kept as package variables so
// upstream schema drift is absorbed by extending a list instead of touching
// orchestration logic.
var (
	sceneCandidates = []func(*Resource) string{
		func(r *Resource) string { return r.Assets.Scene.FullResURL },
		func(r *Resource) string { return r.download("scene_full_res") },
		func(r *Resource) string { return r.SceneURL },
		func(r *Resource) string { return r.Assets.Scene.LowResURL },
	}
	colliderCandidates = []func(*Resource) string{
		func(r *Resource) string { return r.Assets.Collider.URL },
		func(r *Resource) string { return r.download("collider") },
		func(r *Resource) string { return r.ColliderURL },
	}
	lowResCandidates = []func(*Resource) string{
		func(r *Resource) string { return r.Assets.Scene.LowResURL },
		func(r *Resource) string { return r.download("scene_low_res") },
	}
	previewCandidates = []func(*Resource) string{
		func(r *Resource) string { return r.Assets.Preview.ImageURL },
		func(r *Resource) string { return r.download("preview") },
	}
)

func firstPresent(r *Resource, candidates []func(*Resource) string) string {
	for _, get := range candidates {
		if v := strings.TrimSpace(get(r)); v != "" {
			return v
		}
	}
	return ""
}

// ExtractSceneAssets pulls the usable asset URLs out of a resource. The
// primary scene asset is required: when no candidate path holds a value the
// extraction fails with domain.ErrNoUsableAsset, which is distinct from the
// eventual-consistency timeout in FetchResult. Secondary assets are
// optional and simply absent when not found.
func ExtractSceneAssets(r *Resource) (SceneAssets, error) {
	scene := firstPresent(r, sceneCandidates)
	if scene == "" {
		return SceneAssets{}, domain.ErrNoUsableAsset
	}
	return SceneAssets{
		SceneURL:        scene,
		ColliderURL:     firstPresent(r, colliderCandidates),
		LowResSceneURL:  firstPresent(r, lowResCandidates),
		PreviewImageURL: firstPresent(r, previewCandidates),
	}, nil
}
