package language

import (
	"errors"
	"fmt"
	"strings"

	xlanguage "golang.org/x/text/language"
)

// AutoHint is the client-side selector for provider language detection.
const AutoHint = "auto"

var ErrUnsupportedLanguage = errors.New("unsupported language")

// Language represents a supported recognition language
type Language struct {
	Code       string // ISO 639-1 code (e.g., "en", "es", "zh")
	Name       string // English name (e.g., "English", "Spanish")
	NativeName string // Native name (e.g., "English", "Espanol", "中文")
}

// Auto represents auto-detection - used when the client sends no hint or "auto"
var Auto = Language{Code: "", Name: "Auto-detect", NativeName: ""}

// languages is the master list of supported languages
var languages = []Language{
	{Code: "af", Name: "Afrikaans", NativeName: "Afrikaans"},
	{Code: "ar", Name: "Arabic", NativeName: "العربية"},
	{Code: "hy", Name: "Armenian", NativeName: "Հայերեն"},
	{Code: "az", Name: "Azerbaijani", NativeName: "Azərbaycan"},
	{Code: "be", Name: "Belarusian", NativeName: "Беларуская"},
	{Code: "bs", Name: "Bosnian", NativeName: "Bosanski"},
	{Code: "bg", Name: "Bulgarian", NativeName: "Български"},
	{Code: "ca", Name: "Catalan", NativeName: "Català"},
	{Code: "zh", Name: "Chinese", NativeName: "中文"},
	{Code: "hr", Name: "Croatian", NativeName: "Hrvatski"},
	{Code: "cs", Name: "Czech", NativeName: "Čeština"},
	{Code: "da", Name: "Danish", NativeName: "Dansk"},
	{Code: "nl", Name: "Dutch", NativeName: "Nederlands"},
	{Code: "en", Name: "English", NativeName: "English"},
	{Code: "et", Name: "Estonian", NativeName: "Eesti"},
	{Code: "fi", Name: "Finnish", NativeName: "Suomi"},
	{Code: "fr", Name: "French", NativeName: "Français"},
	{Code: "gl", Name: "Galician", NativeName: "Galego"},
	{Code: "de", Name: "German", NativeName: "Deutsch"},
	{Code: "el", Name: "Greek", NativeName: "Ελληνικά"},
	{Code: "he", Name: "Hebrew", NativeName: "עברית"},
	{Code: "hi", Name: "Hindi", NativeName: "हिन्दी"},
	{Code: "hu", Name: "Hungarian", NativeName: "Magyar"},
	{Code: "is", Name: "Icelandic", NativeName: "Íslenska"},
	{Code: "id", Name: "Indonesian", NativeName: "Bahasa Indonesia"},
	{Code: "it", Name: "Italian", NativeName: "Italiano"},
	{Code: "ja", Name: "Japanese", NativeName: "日本語"},
	{Code: "kn", Name: "Kannada", NativeName: "ಕನ್ನಡ"},
	{Code: "kk", Name: "Kazakh", NativeName: "Қазақ"},
	{Code: "ko", Name: "Korean", NativeName: "한국어"},
	{Code: "lv", Name: "Latvian", NativeName: "Latviešu"},
	{Code: "lt", Name: "Lithuanian", NativeName: "Lietuvių"},
	{Code: "mk", Name: "Macedonian", NativeName: "Македонски"},
	{Code: "ms", Name: "Malay", NativeName: "Bahasa Melayu"},
	{Code: "mr", Name: "Marathi", NativeName: "मराठी"},
	{Code: "mi", Name: "Maori", NativeName: "Māori"},
	{Code: "ne", Name: "Nepali", NativeName: "नेपाली"},
	{Code: "no", Name: "Norwegian", NativeName: "Norsk"},
	{Code: "fa", Name: "Persian", NativeName: "فارسی"},
	{Code: "pl", Name: "Polish", NativeName: "Polski"},
	{Code: "pt", Name: "Portuguese", NativeName: "Português"},
	{Code: "ro", Name: "Romanian", NativeName: "Română"},
	{Code: "ru", Name: "Russian", NativeName: "Русский"},
	{Code: "sr", Name: "Serbian", NativeName: "Српски"},
	{Code: "sk", Name: "Slovak", NativeName: "Slovenčina"},
	{Code: "sl", Name: "Slovenian", NativeName: "Slovenščina"},
	{Code: "es", Name: "Spanish", NativeName: "Español"},
	{Code: "sw", Name: "Swahili", NativeName: "Kiswahili"},
	{Code: "sv", Name: "Swedish", NativeName: "Svenska"},
	{Code: "tl", Name: "Tagalog", NativeName: "Tagalog"},
	{Code: "ta", Name: "Tamil", NativeName: "தமிழ்"},
	{Code: "th", Name: "Thai", NativeName: "ไทย"},
	{Code: "tr", Name: "Turkish", NativeName: "Türkçe"},
	{Code: "uk", Name: "Ukrainian", NativeName: "Українська"},
	{Code: "ur", Name: "Urdu", NativeName: "اردو"},
	{Code: "vi", Name: "Vietnamese", NativeName: "Tiếng Việt"},
	{Code: "cy", Name: "Welsh", NativeName: "Cymraeg"},
}

// default regional variants for providers that want a locale rather than a bare code
var defaultRegions = map[string]string{
	"en": "en-US",
	"pt": "pt-BR",
	"zh": "zh-CN",
	"es": "es-ES",
	"fr": "fr-FR",
	"de": "de-DE",
	"it": "it-IT",
	"ja": "ja-JP",
	"ko": "ko-KR",
	"nl": "nl-NL",
	"ru": "ru-RU",
}

var codeIndex map[string]Language

func init() {
	codeIndex = make(map[string]Language, len(languages)+1)
	codeIndex[""] = Auto
	for _, lang := range languages {
		codeIndex[lang.Code] = lang
	}
}

// FromCode returns the Language for the given base code.
// Returns Auto if code is not found.
func FromCode(code string) Language {
	if lang, ok := codeIndex[Base(code)]; ok {
		return lang
	}
	return Auto
}

// List returns all supported languages (excluding Auto)
func List() []Language {
	result := make([]Language, len(languages))
	copy(result, languages)
	return result
}

// Codes returns all language codes (excluding empty string for auto)
func Codes() []string {
	codes := make([]string, len(languages))
	for i, lang := range languages {
		codes[i] = lang.Code
	}
	return codes
}

// IsValidCode returns true if the base code is recognized (including empty for auto)
func IsValidCode(code string) bool {
	_, ok := codeIndex[Base(code)]
	return ok
}

// ParseHint turns a client language selector into the canonical BCP 47 tag
// used for a recognition sub-stream. Empty and "auto" both mean auto-detect
// and yield "".
func ParseHint(hint string) (string, error) {
	h := strings.TrimSpace(hint)
	if h == "" || strings.EqualFold(h, AutoHint) {
		return "", nil
	}

	tag, err := xlanguage.Parse(strings.ReplaceAll(h, "_", "-"))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, hint)
	}

	base, _ := tag.Base()
	if _, ok := codeIndex[base.String()]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, hint)
	}
	return tag.String(), nil
}

// Base returns the primary language subtag of a BCP 47 tag ("en-US" -> "en").
func Base(tag string) string {
	if tag == "" {
		return ""
	}
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		return strings.ToLower(tag[:i])
	}
	return strings.ToLower(tag)
}

// ToProviderFormat converts a canonical tag into the form a provider expects.
// Google wants a full locale, Deepgram a locale for a few languages and the
// bare code otherwise, the synthesis backends the bare code.
func ToProviderFormat(tag, provider string) string {
	if tag == "" {
		return ""
	}

	switch provider {
	case "google":
		if strings.Contains(tag, "-") {
			return tag
		}
		if region, ok := defaultRegions[tag]; ok {
			return region
		}
		return tag
	case "deepgram":
		switch Base(tag) {
		case "en", "pt", "zh":
			if strings.Contains(tag, "-") {
				return tag
			}
			return defaultRegions[tag]
		}
		return tag
	default:
		return Base(tag)
	}
}
