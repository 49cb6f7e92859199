package filler

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/propale/propale/internal/model"
)

// PDFFiller sets text values on the interactive form of a fillable PDF.
// PDFs without an AcroForm cannot be filled and fail fast instead of
// silently producing an unmodified file.
type PDFFiller struct{}

// pdfTextField mirrors pdfcpu's form-fill JSON for one text field.
type pdfTextField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (f *PDFFiller) Fill(ctx context.Context, template []byte, cfg model.FileConfig, data map[string]any) ([]byte, error) {
	if cfg.PDF == nil {
		return nil, eris.New("pdf filler: config has no pdf section")
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "pdf filler: cancelled")
	}

	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed

	fields, err := api.FormFields(bytes.NewReader(template), conf)
	if err != nil {
		return nil, &UnsupportedTemplateError{Reason: "pdf has no readable interactive form: " + err.Error()}
	}
	if len(fields) == 0 {
		return nil, &UnsupportedTemplateError{Reason: "pdf has no interactive form fields"}
	}

	known := make(map[string]bool, len(fields))
	for _, fld := range fields {
		if fld.Name != "" {
			known[fld.Name] = true
		}
		if fld.ID != "" {
			known[fld.ID] = true
		}
	}

	entries := selectFormEntries(cfg.PDF.Fields, known, data)
	if len(entries) == 0 {
		// Every mapping entry missed the form; the document is returned
		// untouched, each miss already logged.
		return append([]byte(nil), template...), nil
	}

	fillJSON, err := json.Marshal(map[string]any{
		"forms": []map[string]any{{"textfield": entries}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "pdf filler: marshal form data")
	}

	var out bytes.Buffer
	if err := api.FillForm(bytes.NewReader(template), bytes.NewReader(fillJSON), &out, conf); err != nil {
		return nil, eris.Wrap(err, "pdf filler: fill form")
	}
	return out.Bytes(), nil
}

// selectFormEntries resolves the mapping against the form's actual field
// names, skipping entries the form does not carry.
func selectFormEntries(mapping map[string]string, known map[string]bool, data map[string]any) []pdfTextField {
	var entries []pdfTextField
	for name, key := range mapping {
		if !known[name] {
			zap.L().Warn("pdf filler: skipping unknown form field",
				zap.String("field", name),
				zap.String("field_key", key),
			)
			continue
		}
		entries = append(entries, pdfTextField{Name: name, Value: lookup(data, key)})
	}
	return entries
}
