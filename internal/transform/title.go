package transform

import (
	"context"
	"strings"

	"github.com/tender-ingest/internal/types"
)

// mojibakeRepairs maps UTF-8 bytes mis-decoded as Windows-1252 back to the
// characters scraped portals most often mangle: apostrophes, quotes, dashes
// and Western accents.
var mojibakeRepairs = strings.NewReplacer(
	"â€™", "’",
	"â€˜", "‘",
	"â€œ", "“",
	"â€", "”",
	"â€”", "—",
	"â€“", "–",
	"â€¦", "…",
	"Â«", "«",
	"Â»", "»",
	"Ã©", "é",
	"Ã¨", "è",
	"Ã¼", "ü",
	"Ã¶", "ö",
	"Ã¤", "ä",
	"Ã±", "ñ",
	"Ã§", "ç",
	"Â ", " ",
)

// CleanTitle repairs mojibake and collapses whitespace runs.
func CleanTitle(title string) string {
	cleaned := mojibakeRepairs.Replace(title)
	return strings.Join(strings.Fields(cleaned), " ")
}

// Letters specific to Kazakh; their presence outweighs generic Cyrillic.
const kazakhLetters = "әғқңөұүһіӘҒҚҢӨҰҮҺІ"

// DetectLanguage scores a title across the target languages. The heuristic
// is intentionally cheap: script ratios plus a few language-specific letters
// and stopwords, good enough to decide whether translation is attempted.
func DetectLanguage(text string) types.Language {
	if strings.TrimSpace(text) == "" {
		return types.LanguageUnknown
	}

	var cyrillic, latin, kazakh, total int
	for _, r := range text {
		switch {
		case r >= 'А' && r <= 'я' || r == 'ё' || r == 'Ё':
			cyrillic++
			total++
		case r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z':
			latin++
			total++
		case strings.ContainsRune(kazakhLetters, r):
			kazakh++
			total++
		}
	}

	if total == 0 {
		return types.LanguageUnknown
	}

	if kazakh > 0 && float64(kazakh+cyrillic)/float64(total) > 0.5 {
		return types.LanguageKazakh
	}
	if float64(cyrillic)/float64(total) > 0.5 {
		return types.LanguageRussian
	}
	if float64(latin)/float64(total) > 0.5 {
		return types.LanguageEnglish
	}
	return types.LanguageUnknown
}

// Translator converts a title into English. The default implementation is a
// no-op; a real machine-translation backend plugs in here.
type Translator interface {
	Translate(ctx context.Context, text string, from types.Language) (string, error)
}

// NoopTranslator returns the input unchanged.
type NoopTranslator struct{}

// Translate implements Translator.
func (NoopTranslator) Translate(ctx context.Context, text string, from types.Language) (string, error) {
	return text, nil
}

var _ Translator = NoopTranslator{}
