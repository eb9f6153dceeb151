package pipeline

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"worldforge/internal/domain"
)

// buildWorldPrompt renders the generation prompt for the world service. The
// phrasing scales with the requested quality tier: higher tiers ask for
// larger, more open exploration spaces.
func buildWorldPrompt(concept string, quality domain.QualityTier, brief string) string {
	concept = strings.TrimSpace(concept)
	var prompt string
	switch quality {
	case domain.QualityDraft:
		prompt = fmt.Sprintf("A small explorable 3D environment of %s.", concept)
	case domain.QualityPremium:
		prompt = fmt.Sprintf(
			"A vast, richly detailed, fully explorable 3D environment of %s, with wide open spaces, layered depth, long sightlines and walkable paths in every direction.",
			concept,
		)
	default:
		prompt = fmt.Sprintf("An explorable 3D environment of %s, with realistic lighting and open walkable paths.", concept)
	}
	if brief != "" {
		prompt += " " + brief
	}
	return prompt
}

// buildImagePrompt renders the prompt for reference-image synthesis.
func buildImagePrompt(concept string, quality domain.QualityTier) string {
	detail := "detailed"
	if quality == domain.QualityPremium {
		detail = "highly detailed, cinematic"
	}
	return fmt.Sprintf("A %s equirectangular panorama of %s, eye level, natural lighting.", detail, strings.TrimSpace(concept))
}

// sceneTitle derives a display title from the raw concept.
func sceneTitle(concept string) string {
	return cases.Title(language.Und).String(strings.TrimSpace(concept))
}

// stageMessage returns the user-facing progress message for a stage,
// localized the same way the HTTP layer resolves locales.
func stageMessage(stage domain.JobStatus, locale string) string {
	messages := stageMessagesEN
	if locale == "id" {
		messages = stageMessagesID
	}
	if msg, ok := messages[stage]; ok {
		return msg
	}
	return string(stage)
}

var stageMessagesEN = map[domain.JobStatus]string{
	domain.JobStatusOrchestrating:   "Shaping your concept",
	domain.JobStatusGeneratingImage: "Creating a reference image",
	domain.JobStatusCreatingWorld:   "Building your world",
	domain.JobStatusLoadingResult:   "Preparing the result",
	domain.JobStatusComplete:        "Your world is ready",
	domain.JobStatusError:           "Generation failed",
	domain.JobStatusCancelled:       "Generation cancelled",
}

var stageMessagesID = map[domain.JobStatus]string{
	domain.JobStatusOrchestrating:   "Menyusun konsep Anda",
	domain.JobStatusGeneratingImage: "Membuat gambar referensi",
	domain.JobStatusCreatingWorld:   "Membangun dunia Anda",
	domain.JobStatusLoadingResult:   "Menyiapkan hasil",
	domain.JobStatusComplete:        "Dunia Anda sudah siap",
	domain.JobStatusError:           "Pembuatan gagal",
	domain.JobStatusCancelled:       "Pembuatan dibatalkan",
}
