package models

import (
	"strings"

	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/mynaparrot/v2tic-server/pkg/request"
)

// LanguageResolver decides which languages a request is recognized in and
// which thresholds gate its conversion status. It only writes the resolved
// fields, so resolving the same metadata twice gives the same result.
type LanguageResolver struct {
	settings *config.LanguageSettings
}

func NewLanguageResolver(settings *config.LanguageSettings) *LanguageResolver {
	return &LanguageResolver{settings: settings}
}

func (r *LanguageResolver) Resolve(md *request.Metadata) {
	tags := r.validTags(md.Language)

	if len(tags) == 1 {
		if t, ok := r.threshold(md, tags[0]); ok {
			md.RequestedLanguages = tags
			md.LIDEnabled = false
			md.MinConfidencePercentage = t.MinConfidencePercentage
			md.MaxAudioLengthSecs = t.MaxAudioLengthSecs
			return
		}
	}

	if len(tags) >= 2 {
		md.RequestedLanguages = tags
		md.LIDEnabled = true
		t := r.lidThreshold(md, tags)
		md.MinConfidencePercentage = t.MinConfidencePercentage
		md.MaxAudioLengthSecs = t.MaxAudioLengthSecs
		return
	}

	md.RequestedLanguages = append([]string(nil), r.settings.DefaultLIDLanguages...)
	md.LIDEnabled = true
	md.MinConfidencePercentage = r.settings.DefaultLIDThresholds.MinConfidencePercentage
	md.MaxAudioLengthSecs = r.settings.DefaultLIDThresholds.MaxAudioLengthSecs
}

// validTags returns the registered spelling of every valid tag, deduplicated,
// in request order. Invalid tags are dropped.
func (r *LanguageResolver) validTags(language string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, tag := range config.SplitList(language) {
		canonical, ok := r.settings.Canonical(tag)
		if !ok || seen[canonical] {
			continue
		}
		seen[canonical] = true
		out = append(out, canonical)
	}
	return out
}

// threshold looks the language up in the request's own configuration first,
// then in the configured per-language thresholds.
func (r *LanguageResolver) threshold(md *request.Metadata, lang string) (config.LanguageThreshold, bool) {
	for k, v := range md.LanguageConfiguration {
		if !strings.EqualFold(strings.TrimSpace(k), lang) {
			continue
		}
		if t, ok := parseThreshold(v); ok {
			return t, true
		}
	}
	t, ok := r.settings.Thresholds[lang]
	return t, ok
}

func (r *LanguageResolver) lidThreshold(md *request.Metadata, tags []string) config.LanguageThreshold {
	def := r.settings.DefaultLIDThresholds
	var res config.LanguageThreshold
	for i, lang := range tags {
		t, ok := r.threshold(md, lang)
		if !ok {
			t = def
		}
		if i == 0 {
			res = t
			continue
		}
		res.MinConfidencePercentage = min(res.MinConfidencePercentage, t.MinConfidencePercentage)
		res.MaxAudioLengthSecs = min(res.MaxAudioLengthSecs, t.MaxAudioLengthSecs)
	}
	return res
}

func parseThreshold(v map[string]any) (config.LanguageThreshold, bool) {
	var t config.LanguageThreshold
	mc, ok := v["min_confidence_percentage"]
	if !ok {
		return t, false
	}
	ma, ok := v["max_audio_length_secs"]
	if !ok {
		return t, false
	}

	var err error
	if t.MinConfidencePercentage, err = config.ToInt(mc); err != nil {
		return t, false
	}
	if t.MaxAudioLengthSecs, err = config.ToInt(ma); err != nil {
		return t, false
	}
	return t, t.Validate() == nil
}
