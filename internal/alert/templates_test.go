package alert

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchLang(t *testing.T) {
	tests := map[string]Lang{
		"":                       LangEN,
		"en":                     LangEN,
		"zh":                     LangZH,
		"zh-TW":                  LangZH,
		"zh-Hant-TW,zh;q=0.9":    LangZH,
		"fr-FR":                  LangEN,
		"en-GB,en;q=0.8,zh;q=0.5": LangEN,
		"not a tag!!":            LangEN,
	}
	for in, want := range tests {
		assert.Equal(t, want, MatchLang(in), "MatchLang(%q)", in)
	}
}

func TestRender(t *testing.T) {
	assert.Equal(t, "Water level low (20%). Schedule a refill soon.",
		Render(LangEN, KeyWaterLevelLow, map[string]any{"percent": 20}))
	assert.Equal(t, "Water level low (%). Schedule a refill soon.",
		Render(LangEN, KeyWaterLevelLow, nil), "missing variables render empty")
	assert.Equal(t, "mysteryKey", Render(LangZH, "mysteryKey", nil))
}

func TestHintFor(t *testing.T) {
	h, ok := HintFor(LangZH, KeyCatAwayTooLong)
	assert.True(t, ok)
	assert.Equal(t, "/#care-center", h.URL)
	assert.Equal(t, "準備食物或啟動餵食器，並留意回家狀況。", h.Action)

	h, ok = HintFor(LangEN, "")
	assert.False(t, ok)
	assert.Equal(t, Hint{URL: FallbackURL}, h)
}
