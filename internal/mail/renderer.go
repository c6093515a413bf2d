package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const defaultMoneyScale = 2

// ErrUnknownTemplate reports a render request for a template absent from the catalog.
var ErrUnknownTemplate = errors.New("mail: unknown template")

// Rendered is a fully rendered email body pair.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// Renderer turns catalog templates into email bodies.
type Renderer struct {
	catalog Catalog
	printer *message.Printer
	html    map[string]*htmltemplate.Template
	text    map[string]*texttemplate.Template
}

type view struct {
	Subject   string
	Preheader string
	Data      any
}

// NewRenderer loads the catalog and parses every template it lists from source.
func NewRenderer(ctx context.Context, source TemplateSource) (*Renderer, error) {
	if source == nil {
		return nil, errors.New("mail: template source is required")
	}
	catalog, err := LoadCatalog(ctx, source)
	if err != nil {
		return nil, err
	}
	tag, err := language.Parse(catalog.Locale)
	if err != nil {
		return nil, fmt.Errorf("mail: catalog locale %q: %w", catalog.Locale, err)
	}

	r := &Renderer{
		catalog: catalog,
		printer: message.NewPrinter(tag),
		html:    make(map[string]*htmltemplate.Template, len(catalog.Templates)),
		text:    make(map[string]*texttemplate.Template, len(catalog.Templates)),
	}

	var layout []byte
	if catalog.Layout != "" {
		if layout, err = source.ReadTemplate(ctx, catalog.Layout); err != nil {
			return nil, err
		}
	}

	for name, entry := range catalog.Templates {
		if entry.HTML != "" {
			body, err := source.ReadTemplate(ctx, entry.HTML)
			if err != nil {
				return nil, err
			}
			tmpl := htmltemplate.New(name).Funcs(htmltemplate.FuncMap(r.funcs()))
			if _, err := tmpl.New(catalog.Layout).Parse(string(layout)); err != nil {
				return nil, fmt.Errorf("mail: parse %s: %w", catalog.Layout, err)
			}
			if _, err := tmpl.New(entry.HTML).Parse(string(body)); err != nil {
				return nil, fmt.Errorf("mail: parse %s: %w", entry.HTML, err)
			}
			r.html[name] = tmpl
		}
		if entry.Text != "" {
			body, err := source.ReadTemplate(ctx, entry.Text)
			if err != nil {
				return nil, err
			}
			tmpl, err := texttemplate.New(entry.Text).Funcs(texttemplate.FuncMap(r.funcs())).Parse(string(body))
			if err != nil {
				return nil, fmt.Errorf("mail: parse %s: %w", entry.Text, err)
			}
			r.text[name] = tmpl
		}
	}
	return r, nil
}

// Templates returns the names the renderer can produce.
func (r *Renderer) Templates() []string {
	names := make([]string, 0, len(r.catalog.Templates))
	for name := range r.catalog.Templates {
		names = append(names, name)
	}
	return names
}

// Render executes the named template with data.
func (r *Renderer) Render(name, subject string, data any) (Rendered, error) {
	entry, ok := r.catalog.Templates[name]
	if !ok {
		return Rendered{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	v := view{Subject: subject, Preheader: entry.Preheader, Data: data}
	out := Rendered{Subject: subject}

	if tmpl, ok := r.html[name]; ok {
		var buf bytes.Buffer
		if err := tmpl.ExecuteTemplate(&buf, "layout", v); err != nil {
			return Rendered{}, fmt.Errorf("mail: render %s html: %w", name, err)
		}
		out.HTML = buf.String()
	}
	if tmpl, ok := r.text[name]; ok {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, v); err != nil {
			return Rendered{}, fmt.Errorf("mail: render %s text: %w", name, err)
		}
		out.Text = strings.TrimSpace(buf.String()) + "\n"
	}
	return out, nil
}

// FormatMoney renders amount with the currency's minor-unit scale and locale grouping,
// e.g. "LKR 1,250.50".
func (r *Renderer) FormatMoney(amount decimal.Decimal, code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	scale := defaultMoneyScale
	if unit, err := currency.ParseISO(code); err == nil {
		scale, _ = currency.Standard.Rounding(unit)
	}
	value, _ := amount.Round(int32(scale)).Float64()
	formatted := r.printer.Sprint(number.Decimal(value, number.Scale(scale)))
	if code == "" {
		return formatted
	}
	return code + " " + formatted
}

func (r *Renderer) funcs() map[string]any {
	return map[string]any{
		"money": r.FormatMoney,
	}
}
