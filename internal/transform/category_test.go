package transform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tender-ingest/internal/types"
)

func TestKeywordClassifierExactLabel(t *testing.T) {
	c := NewKeywordClassifier(defaultCategoryRules())

	assert.Equal(t, types.CategoryConstruction, c.Classify("Строительство", "whatever"))
	assert.Equal(t, types.CategoryMedical, c.Classify("Medical", "whatever"))
}

func TestKeywordClassifierTitleKeywords(t *testing.T) {
	c := NewKeywordClassifier(defaultCategoryRules())

	tests := []struct {
		title string
		want  types.TenderCategory
	}{
		{title: "Капитальный ремонт здания школы", want: types.CategoryConstruction},
		{title: "Закупка серверного оборудования", want: types.CategoryITServices},
		{title: "Перевозка грузов по маршруту Астана-Алматы", want: types.CategoryTransport},
		{title: "Поставка канцелярских товаров", want: types.CategorySupplies},
		{title: "Аудит финансовой отчетности", want: types.CategoryConsulting},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Classify("", tt.title), "title %q", tt.title)
	}
}

func TestKeywordClassifierDefaultsToOther(t *testing.T) {
	c := NewKeywordClassifier(defaultCategoryRules())

	assert.Equal(t, types.CategoryOther, c.Classify("Неизвестная рубрика", "Нечто совершенно иное"))
}

func TestLoadClassifierFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")

	rules := `categories:
  - category: it_services
    labels: ["Digital"]
    keywords: ["cloud", "облач"]
  - category: construction
    labels: []
    keywords: ["мост"]
`
	require.NoError(t, os.WriteFile(path, []byte(rules), 0o644))

	c, err := LoadClassifier(path)
	require.NoError(t, err)

	assert.Equal(t, types.CategoryITServices, c.Classify("Digital", ""))
	assert.Equal(t, types.CategoryITServices, c.Classify("", "Миграция в облачную инфраструктуру"))
	assert.Equal(t, types.CategoryConstruction, c.Classify("", "Строительство моста через реку"))
	assert.Equal(t, types.CategoryOther, c.Classify("", "nothing relevant"))
}

func TestLoadClassifierEmptyPathUsesDefaults(t *testing.T) {
	c, err := LoadClassifier("")
	require.NoError(t, err)
	assert.Equal(t, types.CategoryConstruction, c.Classify("Строительство", ""))
}

func TestLoadClassifierRejectsEmptyRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("categories: []\n"), 0o644))

	_, err := LoadClassifier(path)
	assert.Error(t, err)
}
