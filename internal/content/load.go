package content

import (
	"fmt"
	"os"

	yaml "go.yaml.in/yaml/v3"
)

type itemDoc struct {
	Verse         string `yaml:"verse"`
	TranslationEN string `yaml:"translation_en"`
	TranslationHI string `yaml:"translation_hi"`
	Expanded      string `yaml:"expanded"`
}

// Parse decodes a catalog document keyed by day:
//
//	day1:
//	  verse: "..."
//	  translation_en: "..."
//	  translation_hi: "..."
//	  expanded: "..."
//
// JSON is accepted as well since it is valid YAML.
func Parse(data []byte) (*Sequence, error) {
	var doc map[string]itemDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("content: decode: %w", err)
	}
	if len(doc) == 0 {
		return nil, fmt.Errorf("content: catalog is empty")
	}
	items := make([]Item, 0, len(doc))
	for k, v := range doc {
		day, err := parseDayKey(k)
		if err != nil {
			return nil, err
		}
		items = append(items, Item{
			Day:           day,
			Verse:         v.Verse,
			TranslationEN: v.TranslationEN,
			TranslationHI: v.TranslationHI,
			Meaning:       v.Expanded,
		})
	}
	return NewSequence(items)
}

// LoadFile reads and parses a catalog file.
func LoadFile(path string) (*Sequence, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	seq, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return seq, nil
}
