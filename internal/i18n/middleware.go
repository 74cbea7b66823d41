package i18n

import "net/http"

// Middleware injects a localizer chosen from the lang query parameter or
// the Accept-Language header into every request context.
func (t *Translator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lang := t.Match(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"))
		ctx := WithLocalizer(r.Context(), t.NewLocalizer(lang))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
