package metadata

import (
	"strings"

	"github.com/bqeco/bqmeta/pkg/types"
)

const (
	// rowCountLabelSuffix marks a label carrying the row count of a view.
	rowCountLabelSuffix = "-metadata_num_rows"
	// viewRowCountLabel is the exact-key form of the row count label.
	viewRowCountLabel = "view_row_count"

	shadowProjectSuffix = "-shdw"
)

// NormalizeView moves a row-count label into numRows and maps a shadow
// project's view back to the table it mirrors. It applies only when the
// descriptor has a labels field and reports whether the reference changed.
func NormalizeView(d types.Descriptor) bool {
	if _, ok := d[types.FieldLabels]; !ok {
		return false
	}
	applyRowCountLabel(d)
	return rewriteShadow(d)
}

// applyRowCountLabel handles the first matching label in key order.
func applyRowCountLabel(d types.Descriptor) {
	for _, key := range d.LabelKeys() {
		if strings.HasSuffix(key, rowCountLabelSuffix) || key == viewRowCountLabel {
			v, _ := d.Label(key)
			d[types.FieldNumRows] = v
			d.DeleteLabel(key)
			return
		}
	}
}

func rewriteShadow(d types.Descriptor) bool {
	project, dataset, table := d.Reference()
	if !strings.HasSuffix(project, shadowProjectSuffix) {
		return false
	}
	project = strings.TrimSuffix(project, shadowProjectSuffix)
	dataset = strings.ReplaceAll(dataset, "_views", "_tables")
	table = strings.ReplaceAll(table, "_view", "")
	d.SetReference(project, dataset, table)
	return true
}
