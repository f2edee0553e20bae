package middleware

import (
	constants "AlertaPiura/pkg/constant"
	"AlertaPiura/pkg/i18n"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/language"
)

var langMatcher = language.NewMatcher([]language.Tag{language.Spanish, language.English})

// LanguageMiddleware picks the response language from ?lang= or
// Accept-Language and falls back to the bundle default.
func LanguageMiddleware(i18nSupport *i18n.I18nSupport) gin.HandlerFunc {
	return func(c *gin.Context) {
		lang := c.Query("lang")
		if !i18n.Supports(lang) {
			lang = i18nSupport.DefaultLang()
			if accept := c.GetHeader("Accept-Language"); accept != "" {
				tags, _, err := language.ParseAcceptLanguage(accept)
				if err == nil && len(tags) > 0 {
					_, idx, conf := langMatcher.Match(tags...)
					if conf != language.No {
						lang = i18n.Supported[idx]
					}
				}
			}
		}

		c.Set(constants.LangField, lang)
		c.Set(constants.I18nField, i18nSupport)
		c.Next()
	}
}
