// Package notesdiff renders a detected change's before/after values into the
// human-readable text an operator sees in EventNotes.DiffText when reviewing
// a PARTIAL or ERROR event. Structured numeric/status fields go through
// Kong/gojsondiff so the rendering matches the teacher's own JSON-diff
// tooling; the free-text listing URL goes through hexops/gotextdiff's
// unified-diff renderer instead, since an ASCII JSON diff of a single long
// string is unreadable next to a line-oriented diff of the same string.
package notesdiff

import (
	"encoding/json"
	"strings"

	"github.com/Kong/gojsondiff"
	"github.com/Kong/gojsondiff/formatter"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"

	"github.com/tommytoolman/marketsync/internal/model"
)

// Build renders data's old/new fields into a single diff text. It never
// errors: a field it cannot render cleanly is simply omitted, since this
// output is advisory (operator review), not something downstream logic
// parses back.
func Build(changeType model.ChangeType, data model.ChangeData) string {
	var sections []string

	if s := structuredDiff(data); s != "" {
		sections = append(sections, s)
	}
	if s := textDiff("listing_url", data.OldListingURL, data.NewListingURL); s != "" {
		sections = append(sections, s)
	}

	return strings.Join(sections, "\n")
}

// structuredDiff compares the scalar old/new fields of data as two small
// JSON objects via gojsondiff, producing a compact field-by-field delta.
func structuredDiff(data model.ChangeData) string {
	before := map[string]any{}
	after := map[string]any{}

	if data.OldStatus != nil {
		before["status"] = string(*data.OldStatus)
	}
	if data.NewStatus != nil {
		after["status"] = string(*data.NewStatus)
	}
	if data.OldPrice != nil {
		before["price"] = *data.OldPrice
	}
	if data.NewPrice != nil {
		after["price"] = *data.NewPrice
	}
	if data.OldQuantity != nil {
		before["quantity"] = *data.OldQuantity
	}
	if data.NewQuantity != nil {
		after["quantity"] = *data.NewQuantity
	}
	if len(before) == 0 && len(after) == 0 {
		return ""
	}

	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return ""
	}
	afterJSON, err := json.Marshal(after)
	if err != nil {
		return ""
	}

	delta, err := gojsondiff.New().Compare(beforeJSON, afterJSON)
	if err != nil || !delta.Modified() {
		return ""
	}

	var beforeMap map[string]any
	if err := json.Unmarshal(beforeJSON, &beforeMap); err != nil {
		return ""
	}
	f := formatter.NewAsciiFormatter(beforeMap, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, err := f.Format(delta)
	if err != nil {
		return ""
	}
	return strings.TrimRight(out, "\n")
}

// textDiff renders a unified line diff of a single free-text field, skipping
// fields that are unchanged or empty on both sides.
func textDiff(field, before, after string) string {
	if before == "" || after == "" || before == after {
		return ""
	}
	edits := myers.ComputeEdits(span.URIFromPath(field), before, after)
	unified := gotextdiff.ToUnified(field+" (before)", field+" (after)", before, edits)
	return unified.String()
}
