// Package i18n localizes the API's stable reason keys. Every error response
// carries a machine-readable reason; this package resolves it to a human
// message in the caller's language. Supported languages: English (en) and
// Chinese (zh); selection follows the Accept-Language header.
package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// DefaultLanguage is used when negotiation fails or no header is present.
const DefaultLanguage = "en"

var supportedLanguages = []language.Tag{
	language.English,
	language.Chinese,
}

var matcher = language.NewMatcher(supportedLanguages)

// Bundle holds the message catalogs for every supported language. A bundle
// is loaded once at startup and read concurrently afterwards.
type Bundle struct {
	mu       sync.RWMutex
	catalogs map[string]map[string]string
}

// NewBundle loads the embedded catalogs. It fails only when an embedded
// catalog is missing or malformed, which is a build defect.
func NewBundle() (*Bundle, error) {
	bundle := &Bundle{catalogs: make(map[string]map[string]string)}
	for _, lang := range []string{"en", "zh"} {
		data, err := localeFS.ReadFile(fmt.Sprintf("locales/%s.json", lang))
		if err != nil {
			return nil, fmt.Errorf("read locale %s: %w", lang, err)
		}
		if err := bundle.LoadMessages(lang, data); err != nil {
			return nil, err
		}
	}
	return bundle, nil
}

// LoadMessages registers a flat JSON catalog ({"key": "message"}) for lang,
// replacing any prior catalog for that language.
func (b *Bundle) LoadMessages(lang string, data []byte) error {
	var messages map[string]string
	if err := json.Unmarshal(data, &messages); err != nil {
		return fmt.Errorf("parse locale %s: %w", lang, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.catalogs[lang] = messages
	return nil
}

// Translate resolves key in lang, falling back to the default language and
// finally to the key itself so a missing entry never hides the reason.
func (b *Bundle) Translate(lang, key string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if catalog, ok := b.catalogs[lang]; ok {
		if message, ok := catalog[key]; ok {
			return message
		}
	}
	if lang != DefaultLanguage {
		if catalog, ok := b.catalogs[DefaultLanguage]; ok {
			if message, ok := catalog[key]; ok {
				return message
			}
		}
	}
	return key
}

// MatchLanguage negotiates the best supported language for an
// Accept-Language header value.
func MatchLanguage(acceptLanguage string) string {
	if acceptLanguage == "" {
		return DefaultLanguage
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return DefaultLanguage
	}
	_, index, confidence := matcher.Match(tags...)
	if confidence == language.No {
		return DefaultLanguage
	}
	base, _ := supportedLanguages[index].Base()
	return base.String()
}
