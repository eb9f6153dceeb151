package middleware

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

const localeKey contextKey = "locale"

var supportedLocales = language.NewMatcher([]language.Tag{
	language.English,
	language.Indonesian,
})

// Locale resolves the request locale from the X-Locale header or the
// Accept-Language negotiation, falling back to the service default.
func Locale(defaultLocale string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			locale := defaultLocale
			var prefs []string
			for _, h := range []string{r.Header.Get("X-Locale"), r.Header.Get("Accept-Language")} {
				if h != "" {
					prefs = append(prefs, h)
				}
			}
			desired, _, _ := language.ParseAcceptLanguage(strings.Join(prefs, ","))
			tag, _, confidence := supportedLocales.Match(desired...)
			if confidence > language.No {
				base, _ := tag.Base()
				locale = base.String()
			}
			ctx := context.WithValue(r.Context(), localeKey, locale)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LocaleFromContext returns the resolved locale, defaulting to English.
func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(localeKey).(string); ok && v != "" {
		return v
	}
	return "en"
}
