package filler

import "fmt"

// TemplateStructureError reports a target location missing from the
// template binary. For single mapping entries this is downgraded to a
// warning and the entry is skipped; it is fatal only for structural
// anchors such as the configured Excel worksheet.
type TemplateStructureError struct {
	Target string
	Detail string
}

func (e *TemplateStructureError) Error() string {
	return fmt.Sprintf("template structure: %s: %s", e.Target, e.Detail)
}

// UnsupportedTemplateError reports a template that can never be filled,
// such as a PDF without an interactive form. Ideally caught at template
// test time rather than at generation time.
type UnsupportedTemplateError struct {
	Reason string
}

func (e *UnsupportedTemplateError) Error() string {
	return "unsupported template: " + e.Reason
}
