package transform

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tender-ingest/internal/types"
)

// CategoryClassifier maps a scraped tender onto a normalized category.
// Implementations are swappable so the pipeline stays free of portal-specific
// string literals.
type CategoryClassifier interface {
	Classify(label, title string) types.TenderCategory
}

// CategoryRule drives the keyword classifier: exact labels first, then
// keyword substring hits over the title.
type CategoryRule struct {
	Category types.TenderCategory `yaml:"category"`
	Labels   []string             `yaml:"labels"`
	Keywords []string             `yaml:"keywords"`
}

type categoryRulesFile struct {
	Categories []CategoryRule `yaml:"categories"`
}

// KeywordClassifier resolves categories by exact label match, then keyword
// heuristics, then the default "other" bucket.
type KeywordClassifier struct {
	labelIndex map[string]types.TenderCategory
	rules      []CategoryRule
}

// NewKeywordClassifier builds a classifier from explicit rules.
func NewKeywordClassifier(rules []CategoryRule) *KeywordClassifier {
	index := make(map[string]types.TenderCategory)
	for _, rule := range rules {
		for _, label := range rule.Labels {
			index[strings.ToLower(strings.TrimSpace(label))] = rule.Category
		}
	}
	return &KeywordClassifier{labelIndex: index, rules: rules}
}

// LoadClassifier reads rules from a YAML file, or returns the built-in rules
// when path is empty.
func LoadClassifier(path string) (*KeywordClassifier, error) {
	if path == "" {
		return NewKeywordClassifier(defaultCategoryRules()), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read category rules: %w", err)
	}

	var file categoryRulesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse category rules: %w", err)
	}
	if len(file.Categories) == 0 {
		return nil, fmt.Errorf("category rules file %s defines no categories", path)
	}

	return NewKeywordClassifier(file.Categories), nil
}

// Classify implements CategoryClassifier.
func (c *KeywordClassifier) Classify(label, title string) types.TenderCategory {
	if cat, ok := c.labelIndex[strings.ToLower(strings.TrimSpace(label))]; ok {
		return cat
	}

	lowered := strings.ToLower(title)
	for _, rule := range c.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(lowered, strings.ToLower(kw)) {
				return rule.Category
			}
		}
	}

	return types.CategoryOther
}

// defaultCategoryRules covers the vocabulary seen on the supported portals,
// in both Russian and English.
func defaultCategoryRules() []CategoryRule {
	return []CategoryRule{
		{
			Category: types.CategoryConstruction,
			Labels:   []string{"Строительство", "Construction"},
			Keywords: []string{"строитель", "ремонт", "реконструкц", "монтаж", "construction", "renovation"},
		},
		{
			Category: types.CategoryITServices,
			Labels:   []string{"Информационные технологии", "IT"},
			Keywords: []string{"программн", "информацион", "серверн", "вычислител", "software", "server", "it "},
		},
		{
			Category: types.CategoryMedical,
			Labels:   []string{"Медицина", "Medical"},
			Keywords: []string{"медицин", "лекарствен", "больниц", "medical", "pharmaceutical"},
		},
		{
			Category: types.CategoryTransport,
			Labels:   []string{"Транспорт", "Transport"},
			Keywords: []string{"транспорт", "перевозк", "автомобил", "transport", "vehicle", "logistics"},
		},
		{
			Category: types.CategorySupplies,
			Labels:   []string{"Поставка", "Supplies"},
			Keywords: []string{"поставка", "закуп", "приобретение", "supply", "procurement"},
		},
		{
			Category: types.CategoryConsulting,
			Labels:   []string{"Консалтинг", "Consulting"},
			Keywords: []string{"консультацион", "аудит", "consulting", "advisory", "audit"},
		},
	}
}

var _ CategoryClassifier = (*KeywordClassifier)(nil)
