package i18n

import (
	"embed"
	"encoding/json"
	"path"

	"AlertaPiura/pkg/logger"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// Supported languages, first one is the fallback.
var Supported = []string{"es", "en"}

// I18nSupport wraps a message bundle loaded from the embedded locale files.
type I18nSupport struct {
	bundle      *i18n.Bundle
	defaultLang string
}

// NewI18nSupport loads every embedded locale. defaultLang must be a valid BCP 47 tag.
func NewI18nSupport(defaultLang string) (*I18nSupport, error) {
	tag, err := language.Parse(defaultLang)
	if err != nil {
		return nil, err
	}
	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	for _, lang := range Supported {
		name := path.Join("locales", lang+".json")
		buf, err := localeFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		if _, err := bundle.ParseMessageFileBytes(buf, name); err != nil {
			return nil, err
		}
	}

	return &I18nSupport{bundle: bundle, defaultLang: tag.String()}, nil
}

// DefaultLang returns the bundle's fallback language.
func (i *I18nSupport) DefaultLang() string {
	return i.defaultLang
}

// Supports reports whether lang has an embedded message file.
func Supports(lang string) bool {
	for _, l := range Supported {
		if l == lang {
			return true
		}
	}
	return false
}

// T translates key into languageTag, falling back to the default language
// and finally to the key itself.
func (i *I18nSupport) T(languageTag, key string, templateData map[string]interface{}) string {
	localizer := i18n.NewLocalizer(i.bundle, languageTag, i.defaultLang)

	translation, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    key,
		TemplateData: templateData,
	})
	if err != nil {
		logger.Debug("missing translation", zap.String("key", key), zap.String("lang", languageTag), zap.Error(err))
		return key
	}

	return translation
}

// TWithDefaultLang translates key using the default language.
func (i *I18nSupport) TWithDefaultLang(key string, templateData map[string]interface{}) string {
	return i.T(i.defaultLang, key, templateData)
}
