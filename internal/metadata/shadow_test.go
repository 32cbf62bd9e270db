package metadata

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/bqeco/bqmeta/pkg/types"
)

func TestNormalizeView_RowCountLabel(t *testing.T) {
	d := table("isb-cgc-bq", "TCGA", "clinical", map[string]string{
		"program":                    "tcga",
		"clinical-metadata_num_rows": "11160",
	}, 0)

	changed := NormalizeView(d)

	assert.False(t, changed)
	assert.Equal(t, "11160", d[types.FieldNumRows])
	_, ok := d.Label("clinical-metadata_num_rows")
	assert.False(t, ok)
	v, _ := d.Label("program")
	assert.Equal(t, "tcga", v)
}

func TestNormalizeView_OnlyFirstRowCountLabel(t *testing.T) {
	d := table("p", "d", "t", map[string]string{
		"a-metadata_num_rows": "1",
		"view_row_count":      "2",
	}, 0)

	NormalizeView(d)

	assert.Equal(t, "1", d[types.FieldNumRows])
	v, ok := d.Label("view_row_count")
	assert.True(t, ok)
	assert.Equal(t, "2", v)
}

func TestNormalizeView_ShadowRewrite(t *testing.T) {
	d := table("isb-cgc-bq-shdw", "TCGA_views", "clinical_gdc_r24_view", map[string]string{"view_row_count": "5"}, 0)

	changed := NormalizeView(d)

	assert.True(t, changed)
	p, ds, tbl := d.Reference()
	assert.Equal(t, "isb-cgc-bq", p)
	assert.Equal(t, "TCGA_tables", ds)
	assert.Equal(t, "clinical_gdc_r24", tbl)
	assert.Equal(t, "isb-cgc-bq:TCGA_tables.clinical_gdc_r24", d.ID())
	assert.Equal(t, "5", d[types.FieldNumRows])
}

func TestNormalizeView_NoLabelsField(t *testing.T) {
	d := table("isb-cgc-bq-shdw", "TCGA_views", "clinical_view", nil, 0)

	assert.False(t, NormalizeView(d))
	assert.Equal(t, "isb-cgc-bq-shdw:TCGA_views.clinical_view", d.ID())
}

func TestProperty_ShadowRewriteCanonicalizesAllParts(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	nonEmpty := gen.AlphaString().SuchThat(func(s string) bool { return s != "" })

	properties.Property("shadow project, views dataset and view table map to the canonical id", prop.ForAll(
		func(project, dataset, tbl string) bool {
			d := table(project+"-shdw", dataset+"_views", tbl+"_view", map[string]string{}, 0)
			if !NormalizeView(d) {
				return false
			}
			p, ds, tt := d.Reference()
			return p == project &&
				ds == dataset+"_tables" &&
				tt == tbl &&
				d.ID() == types.TableID(project, dataset+"_tables", tbl)
		},
		nonEmpty, nonEmpty, nonEmpty,
	))

	properties.TestingRun(t)
}
