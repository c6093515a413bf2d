package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog lists the templates a Renderer can produce.
type Catalog struct {
	Locale    string                  `yaml:"locale"`
	Layout    string                  `yaml:"layout"`
	Templates map[string]CatalogEntry `yaml:"templates"`
}

// CatalogEntry names the files backing one email.
type CatalogEntry struct {
	HTML      string `yaml:"html"`
	Text      string `yaml:"text"`
	Preheader string `yaml:"preheader"`
}

// LoadCatalog reads catalog.yaml from source.
func LoadCatalog(ctx context.Context, source TemplateSource) (Catalog, error) {
	data, err := source.ReadTemplate(ctx, catalogFile)
	if err != nil {
		return Catalog{}, err
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a catalog document. Unknown keys are rejected.
func ParseCatalog(data []byte) (Catalog, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var catalog Catalog
	if err := decoder.Decode(&catalog); err != nil {
		if errors.Is(err, io.EOF) {
			return Catalog{}, errors.New("mail: catalog is empty")
		}
		return Catalog{}, fmt.Errorf("mail: decode catalog: %w", err)
	}
	if err := catalog.validate(); err != nil {
		return Catalog{}, err
	}
	if strings.TrimSpace(catalog.Locale) == "" {
		catalog.Locale = "en"
	}
	return catalog, nil
}

func (c Catalog) validate() error {
	if len(c.Templates) == 0 {
		return errors.New("mail: catalog defines no templates")
	}
	for name, entry := range c.Templates {
		if strings.TrimSpace(entry.HTML) == "" && strings.TrimSpace(entry.Text) == "" {
			return fmt.Errorf("mail: template %q has neither html nor text body", name)
		}
		if strings.TrimSpace(entry.HTML) != "" && strings.TrimSpace(c.Layout) == "" {
			return fmt.Errorf("mail: template %q has an html body but the catalog has no layout", name)
		}
	}
	return nil
}
