package filler

import (
	"bytes"
	"context"
	"errors"
	"strings"

	docx "github.com/lukasjarosch/go-docx"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/propale/propale/internal/model"
)

// WordFiller substitutes delimiter-wrapped placeholders inside a .docx
// package. The document is parsed once up front, so replacement handles
// repeated placeholders and placeholders fragmented across runs without
// sequential string rewriting.
type WordFiller struct{}

func (f *WordFiller) Fill(ctx context.Context, template []byte, cfg model.FileConfig, data map[string]any) ([]byte, error) {
	if cfg.Word == nil {
		return nil, eris.New("word filler: config has no word section")
	}

	doc, err := docx.OpenBytes(template)
	if err != nil {
		return nil, &UnsupportedTemplateError{Reason: "not a readable .docx package: " + err.Error()}
	}

	for placeholder, key := range cfg.Word.Placeholders {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "word filler: cancelled")
		}
		name := normalizePlaceholder(placeholder)
		if name == "" {
			continue
		}
		if err := doc.Replace(name, lookup(data, key)); err != nil {
			if errors.Is(err, docx.ErrPlaceholderNotFound) {
				zap.L().Warn("word filler: skipping unknown placeholder",
					zap.String("placeholder", name),
					zap.String("field_key", key),
				)
				continue
			}
			return nil, eris.Wrapf(err, "word filler: replace %s", name)
		}
	}

	var out bytes.Buffer
	if err := doc.Write(&out); err != nil {
		return nil, eris.Wrap(err, "word filler: serialize document")
	}
	return out.Bytes(), nil
}

// normalizePlaceholder strips delimiter characters so configs may declare
// placeholders as "{{client}}", "{client}" or "client" interchangeably.
func normalizePlaceholder(p string) string {
	return strings.Trim(strings.TrimSpace(p), "{}")
}
