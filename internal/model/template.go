package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// FileType discriminates the three supported document formats.
type FileType string

const (
	FileTypeExcel FileType = "excel"
	FileTypeWord  FileType = "word"
	FileTypePDF   FileType = "pdf"
)

// TemplateStatus tracks a template through its authoring lifecycle.
type TemplateStatus string

const (
	TemplateStatusDraft  TemplateStatus = "brouillon"
	TemplateStatusTested TemplateStatus = "teste"
	TemplateStatusActive TemplateStatus = "actif"
)

// MaxTemplatesPerOrg caps how many templates one organization may own.
const MaxTemplatesPerOrg = 3

// FileConfig is the tagged union describing how logical field keys map onto
// physical locations in a template. Exactly one of the per-format configs
// must be set, and it must match FileType.
type FileConfig struct {
	FileType FileType     `json:"file_type"`
	Excel    *ExcelConfig `json:"excel,omitempty"`
	Word     *WordConfig  `json:"word,omitempty"`
	PDF      *PDFConfig   `json:"pdf,omitempty"`
}

// ExcelConfig maps cell addresses to field keys within one worksheet.
type ExcelConfig struct {
	Worksheet    string            `json:"worksheet"`
	Cells        map[string]string `json:"cells"` // cell address -> field key
	FormulaCells []string          `json:"formula_cells,omitempty"`
}

// WordConfig maps delimiter-wrapped placeholders to field keys. Placeholders
// may be written with or without their delimiters ("{{client}}", "{client}"
// or "client" all address the same placeholder).
type WordConfig struct {
	Delimiter    string            `json:"delimiter,omitempty"`
	Placeholders map[string]string `json:"placeholders"` // placeholder -> field key
}

// PDFConfig maps interactive form field names to field keys. Only
// fillable-form PDFs are supported.
type PDFConfig struct {
	Fields map[string]string `json:"fields"` // form field name -> field key
}

// Validate checks that the union shape matches the declared file type.
// A config for the wrong format must be rejected before generation.
func (c FileConfig) Validate() error {
	switch c.FileType {
	case FileTypeExcel:
		if c.Excel == nil || c.Word != nil || c.PDF != nil {
			return eris.Errorf("file config: declared type %q but excel section missing or foreign section present", c.FileType)
		}
		if c.Excel.Worksheet == "" {
			return eris.New("file config: excel worksheet name is required")
		}
	case FileTypeWord:
		if c.Word == nil || c.Excel != nil || c.PDF != nil {
			return eris.Errorf("file config: declared type %q but word section missing or foreign section present", c.FileType)
		}
	case FileTypePDF:
		if c.PDF == nil || c.Excel != nil || c.Word != nil {
			return eris.Errorf("file config: declared type %q but pdf section missing or foreign section present", c.FileType)
		}
	default:
		return eris.Errorf("file config: unknown file type %q", c.FileType)
	}
	return nil
}

// FieldKeys returns the logical field keys referenced by the config,
// regardless of format.
func (c FileConfig) FieldKeys() []string {
	var keys []string
	seen := map[string]bool{}
	add := func(m map[string]string) {
		for _, k := range m {
			if k != "" && !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	switch {
	case c.Excel != nil:
		add(c.Excel.Cells)
	case c.Word != nil:
		add(c.Word.Placeholders)
	case c.PDF != nil:
		add(c.PDF.Fields)
	}
	return keys
}

// PropositionTemplate is an organization-owned (or global, when
// OrganizationID is nil) document template plus its mapping config.
type PropositionTemplate struct {
	ID             string         `json:"id"`
	OrganizationID *string        `json:"organization_id,omitempty"` // nil = global, importable by anyone
	Name           string         `json:"name"`
	FileType       FileType       `json:"file_type"`
	Config         FileConfig     `json:"config"`
	Status         TemplateStatus `json:"statut"`
	FileKey        string         `json:"file_key"` // template binary location in blob storage
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
