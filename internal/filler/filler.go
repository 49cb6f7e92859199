// Package filler merges flat data records into document templates. One
// engine per format, all sharing a single contract: the template binary is
// immutable input, the filled binary is the only output, and persistence is
// the caller's problem.
//
// Mapping contract: a field key absent or null in the data record writes an
// empty string (partial proposals are valid); a target address missing from
// the template binary is skipped with a warning rather than aborting the
// document, so generation survives template/config drift.
package filler

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/propale/propale/internal/model"
)

// Filler merges data into a template of one specific format.
type Filler interface {
	Fill(ctx context.Context, template []byte, cfg model.FileConfig, data map[string]any) ([]byte, error)
}

// For returns the engine matching the declared file type.
func For(ft model.FileType) (Filler, error) {
	switch ft {
	case model.FileTypeExcel:
		return &ExcelFiller{}, nil
	case model.FileTypeWord:
		return &WordFiller{}, nil
	case model.FileTypePDF:
		return &PDFFiller{}, nil
	default:
		return nil, eris.Errorf("filler: no engine for file type %q", ft)
	}
}

// lookup resolves a field key against the data record. Absent or null
// values become the empty string, never an error.
func lookup(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return ""
	}
	return stringify(v)
}

// stringify renders a data value the way it should appear in a document.
func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case json.Number:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
