package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestTranslator(t *testing.T) *Translator {
	t.Helper()
	tr, err := New("en")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr
}

func ctxFor(t *testing.T, lang string) context.Context {
	t.Helper()
	return WithLocalizer(context.Background(), newTestTranslator(t).NewLocalizer(lang))
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		lang, id, want string
	}{
		{"en", "ReportTitle", "ACE Assessment Report"},
		{"en", "OutcomeFailed", "Not passed"},
		{"ru", "ReportTitle", "Отчёт об оценивании ACE"},
		{"ru", "DimensionAnalysis", "Анализ"},
		{"de", "OverallLabel", "Overall"},
	}
	for _, tt := range tests {
		if got := T(ctxFor(t, tt.lang), tt.id); got != tt.want {
			t.Errorf("T(%s, %s) = %q, want %q", tt.lang, tt.id, got, tt.want)
		}
	}
}

func TestPluralTranslation(t *testing.T) {
	tests := []struct {
		lang  string
		count int
		want  string
	}{
		{"en", 1, "1 type of work assessed"},
		{"en", 3, "3 types of work assessed"},
		{"ru", 1, "Оценён 1 вид работы"},
		{"ru", 2, "Оценено 2 вида работы"},
		{"ru", 5, "Оценено 5 видов работы"},
	}
	for _, tt := range tests {
		if got := Tp(ctxFor(t, tt.lang), "ArtifactsAssessed", tt.count); got != tt.want {
			t.Errorf("Tp(%s, %d) = %q, want %q", tt.lang, tt.count, got, tt.want)
		}
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	got := Td(ctxFor(t, "en"), "ScoreLine", map[string]any{"Name": "Analysis", "Score": "85.33"})
	if got != "Analysis: 85.33 / 100" {
		t.Errorf("Td(ScoreLine) = %q", got)
	}
}

func TestMissingKeyAndLocalizer(t *testing.T) {
	if got := T(ctxFor(t, "en"), "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q", got)
	}
	if got := T(context.Background(), "ReportTitle"); got != "ReportTitle" {
		t.Errorf("T without localizer = %q", got)
	}
}

func TestMatch(t *testing.T) {
	tr := newTestTranslator(t)
	tests := []struct {
		prefs []string
		want  string
	}{
		{nil, "en"},
		{[]string{"ru-RU,ru;q=0.9,en;q=0.8"}, "ru"},
		{[]string{"", "fr-CH, fr;q=0.9"}, "en"},
		{[]string{"ru", "en"}, "ru"},
	}
	for _, tt := range tests {
		if got := tr.Match(tt.prefs...); got != tt.want {
			t.Errorf("Match(%q) = %q, want %q", tt.prefs, got, tt.want)
		}
	}
	if langs := tr.Languages(); len(langs) != 2 || langs[0] != "en" {
		t.Errorf("Languages = %v", langs)
	}
}

func TestMiddleware(t *testing.T) {
	tr := newTestTranslator(t)
	var got string
	h := tr.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "OutcomePassed")
	}))

	req := httptest.NewRequest("GET", "/?lang=ru", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "Сдано" {
		t.Errorf("lang=ru gave %q", got)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Language", "fr")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "Passed" {
		t.Errorf("fallback gave %q", got)
	}
}
