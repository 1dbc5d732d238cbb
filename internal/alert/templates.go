package alert

import (
	"fmt"
	"regexp"

	"golang.org/x/text/language"
)

// Lang is a language alert messages can be rendered in.
type Lang string

// Supported languages.
const (
	LangEN Lang = "en"
	LangZH Lang = "zh"
)

var (
	supportedLangs = []Lang{LangEN, LangZH}
	langMatcher    = language.NewMatcher([]language.Tag{language.English, language.Chinese})
)

// MatchLang maps a language tag or Accept-Language value onto a supported
// language. Anything unrecognised is English.
func MatchLang(value string) Lang {
	tags, _, err := language.ParseAcceptLanguage(value)
	if err != nil || len(tags) == 0 {
		return LangEN
	}
	_, idx, conf := langMatcher.Match(tags...)
	if conf != language.No {
		return supportedLangs[idx]
	}
	// Traditional Chinese tags can score No against the Simplified default.
	for _, tag := range tags {
		if base, _ := tag.Base(); base.String() == "zh" {
			return LangZH
		}
	}
	return LangEN
}

var messageTemplates = map[Lang]map[Key]string{
	LangEN: {
		KeyWaterLevelCritical: "Water level at {percent}%. Refill immediately.",
		KeyWaterLevelLow:      "Water level low ({percent}%). Schedule a refill soon.",
		KeyBrightnessLow:      "Brightness is very low while the cat is inside. Consider turning on the lights.",
		KeyBrightnessHigh:     "Brightness extremely high ({percent}%) while the cat is inside. Check for direct sunlight or glare.",
		KeyCatLeft:            "Cat just left the habitat. Monitor if this was expected.",
		KeyCatAwayTooLong:     "Cat has been away for over 6 hours since last feeding. Please check on them.",
	},
	LangZH: {
		KeyWaterLevelCritical: "水位僅剩 {percent}%，請立即補水。",
		KeyWaterLevelLow:      "水位偏低（{percent}%），建議儘快補水。",
		KeyBrightnessLow:      "偵測到貓咪在屋內且環境亮度偏暗，請考慮開燈或增加照明。",
		KeyBrightnessHigh:     "偵測到貓咪在屋內且亮度過高（{percent}%），請檢查是否有強光或直射日光。",
		KeyCatLeft:            "偵測到貓咪剛離開智慧貓屋，請確認是否為預期情況。",
		KeyCatAwayTooLong:     "貓咪離開超過 6 小時且未餵食，請確認其狀態。",
	},
}

var placeholder = regexp.MustCompile(`\{(\w+)\}`)

// Render fills the template for key in lang, falling back to English and
// then to the key itself. Missing variables render as empty strings.
func Render(lang Lang, key Key, vars map[string]any) string {
	tmpl, ok := messageTemplates[lang][key]
	if !ok {
		tmpl, ok = messageTemplates[LangEN][key]
	}
	if !ok {
		tmpl = string(key)
	}
	return placeholder.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := match[1 : len(match)-1]
		if v, ok := vars[name]; ok {
			return fmt.Sprint(v)
		}
		return ""
	})
}

// Hint is the follow-up suggested to the user for a built-in alert.
type Hint struct {
	Action string
	URL    string
}

// FallbackURL is where alerts without a specific hint link to.
const FallbackURL = "/#alerts"

var actionHints = map[Key]struct {
	en, zh, url string
}{
	KeyWaterLevelCritical: {"Refill the water bowl immediately or trigger auto-refill.", "立即補滿水碗或啟動自動補水。", "/#hydration"},
	KeyWaterLevelLow:      {"Schedule a refill or remind a family member to check the bowl.", "安排補水或提醒家人注意水位。", "/#hydration"},
	KeyBrightnessLow:      {"Turn on a light or adjust the night lamp so your cat stays safe.", "開燈或調整夜燈，讓貓咪保持安全。", "/#control"},
	KeyBrightnessHigh:     {"Close the curtains or move the habitat to avoid harsh light.", "拉上窗簾或換個位置，避免直射強光。", "/#control"},
	KeyCatLeft:            {"Check the surroundings and confirm where your cat is heading.", "檢查室外環境並確認牠的行蹤。", "/#alerts"},
	KeyCatAwayTooLong:     {"Prepare food or trigger the feeder and watch for their return.", "準備食物或啟動餵食器，並留意回家狀況。", "/#care-center"},
}

// HintFor returns the action hint for key in lang. ok is false for alerts
// without a hint, in which case the hint carries only FallbackURL.
func HintFor(lang Lang, key Key) (Hint, bool) {
	h, ok := actionHints[key]
	if !ok {
		return Hint{URL: FallbackURL}, false
	}
	action := h.en
	if lang == LangZH {
		action = h.zh
	}
	return Hint{Action: action, URL: h.url}, true
}
