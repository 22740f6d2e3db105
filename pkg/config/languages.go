package config

import (
	"fmt"
	"strings"
)

// defaultLanguages is used when v2tic.languages.valid is not configured.
var defaultLanguages = []string{
	"ar-EG", "ar-SA", "ca-ES", "cs-CZ", "da-DK", "de-AT", "de-CH", "de-DE",
	"el-GR", "en-AU", "en-CA", "en-GB", "en-IE", "en-IN", "en-NZ", "en-US",
	"es-ES", "es-MX", "es-US", "fi-FI", "fr-CA", "fr-CH", "fr-FR", "he-IL",
	"hi-IN", "hu-HU", "it-IT", "ja-JP", "ko-KR", "nb-NO", "nl-NL", "pl-PL",
	"pt-BR", "pt-PT", "ro-RO", "ru-RU", "sv-SE", "th-TH", "tr-TR", "uk-UA",
	"vi-VN", "zh-CN", "zh-HK", "zh-TW",
}

type LanguageThreshold struct {
	MinConfidencePercentage int `json:"min_confidence_percentage"`
	MaxAudioLengthSecs      int `json:"max_audio_length_secs"`
}

// Validate checks 0 <= min_confidence_percentage <= 100 and max_audio_length_secs > 0.
func (t LanguageThreshold) Validate() error {
	if t.MinConfidencePercentage < 0 || t.MinConfidencePercentage > 100 {
		return fmt.Errorf("min_confidence_percentage %d out of range 0-100", t.MinConfidencePercentage)
	}
	if t.MaxAudioLengthSecs <= 0 {
		return fmt.Errorf("max_audio_length_secs %d must be positive", t.MaxAudioLengthSecs)
	}
	return nil
}

type LanguageSettings struct {
	Valid                []string
	Thresholds           map[string]LanguageThreshold
	DefaultLIDLanguages  []string
	DefaultLIDThresholds LanguageThreshold

	index map[string]string
}

func (l *LanguageSettings) buildIndex() {
	l.index = make(map[string]string, len(l.Valid))
	for _, lang := range l.Valid {
		l.index[strings.ToLower(lang)] = lang
	}
}

// Canonical returns the registered spelling of tag, matching case-insensitively.
func (l *LanguageSettings) Canonical(tag string) (string, bool) {
	tag = strings.TrimSpace(tag)
	if l.index == nil {
		for _, lang := range l.Valid {
			if strings.EqualFold(lang, tag) {
				return lang, true
			}
		}
		return "", false
	}
	lang, ok := l.index[strings.ToLower(tag)]
	return lang, ok
}

// IsValid reports whether tag is a member of the language registry.
func (l *LanguageSettings) IsValid(tag string) bool {
	_, ok := l.Canonical(tag)
	return ok
}

// NewLanguageSettings builds a registry from already validated values.
func NewLanguageSettings(valid []string, thresholds map[string]LanguageThreshold, defaultLID []string, defaultLIDThresholds LanguageThreshold) *LanguageSettings {
	ls := &LanguageSettings{
		Valid:                valid,
		Thresholds:           thresholds,
		DefaultLIDLanguages:  defaultLID,
		DefaultLIDThresholds: defaultLIDThresholds,
	}
	if ls.Thresholds == nil {
		ls.Thresholds = make(map[string]LanguageThreshold)
	}
	ls.buildIndex()
	return ls
}

func readLanguageSettings(p *Properties) (*LanguageSettings, error) {
	ls := &LanguageSettings{
		Valid:      p.StringSlice("v2tic.languages.valid", defaultLanguages),
		Thresholds: make(map[string]LanguageThreshold),
	}
	ls.buildIndex()

	var err error
	ls.DefaultLIDThresholds, err = readThreshold(p, "v2tic.languages.default_lid_thresholds", LanguageThreshold{
		MinConfidencePercentage: 0,
		MaxAudioLengthSecs:      120,
	})
	if err != nil {
		return ls, err
	}

	for _, lang := range p.Sub("v2tic.languages.thresholds") {
		canonical, ok := ls.Canonical(lang)
		if !ok {
			return ls, fmt.Errorf("%w: threshold configured for unknown language %s", ErrConfiguration, lang)
		}
		t, err := readThreshold(p, "v2tic.languages.thresholds."+lang, ls.DefaultLIDThresholds)
		if err != nil {
			return ls, err
		}
		ls.Thresholds[canonical] = t
	}

	for _, lang := range p.StringSlice("v2tic.languages.default_lid_languages", []string{"en-US"}) {
		canonical, ok := ls.Canonical(lang)
		if !ok {
			return ls, fmt.Errorf("%w: default LID language %s is not valid", ErrConfiguration, lang)
		}
		ls.DefaultLIDLanguages = append(ls.DefaultLIDLanguages, canonical)
	}
	if len(ls.DefaultLIDLanguages) == 0 {
		return ls, fmt.Errorf("%w: v2tic.languages.default_lid_languages is empty", ErrConfiguration)
	}

	return ls, nil
}

func readThreshold(p *Properties, prefix string, def LanguageThreshold) (LanguageThreshold, error) {
	var t LanguageThreshold
	var err error
	t.MinConfidencePercentage, err = p.Int(prefix+".min_confidence_percentage", def.MinConfidencePercentage)
	if err != nil {
		return t, err
	}
	t.MaxAudioLengthSecs, err = p.Int(prefix+".max_audio_length_secs", def.MaxAudioLengthSecs)
	if err != nil {
		return t, err
	}
	if err = t.Validate(); err != nil {
		return t, fmt.Errorf("%w: %s: %v", ErrConfiguration, prefix, err)
	}
	return t, nil
}
