// Package filters derives the facet index shown by the search UI from
// table labels.
package filters

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/bqeco/bqmeta/pkg/types"
)

// Facets in publishing order.
var Facets = []string{
	"category",
	"status",
	"program",
	"data_type",
	"experimental_strategy",
	"reference_genome",
	"source",
	"project_id",
}

const (
	facetCategory  = "category"
	facetProjectID = "project_id"

	allLabel = "ALL"
)

// withAllOption lists the facets that open with a catch-all option.
var withAllOption = map[string]bool{
	"status":           true,
	"reference_genome": true,
	"project_id":       true,
}

// CategoryDescriptions are shown under known category values.
var CategoryDescriptions = map[string]string{
	"clinical_biospecimen_data": "Patient case and sample information ",
	"reference_database":        "Genomic and Proteomic information that can be used to cross-reference with processed -omics data tables. (e.g. dbSNP)",
	"metadata":                  "Information about raw data files including Google Cloud Storage paths",
	"processed_-omics_data":     "Processed data primarily from the GDC (e.g. raw data that has gone through GDC pipeline processing)",
}

var (
	// facetKey splits "name" or "name_<index>" label keys.
	facetKey      = regexp.MustCompile(`^(\w+?)(?:_\d+)?$`)
	upper         = cases.Upper(language.Und)
	categoryAlias = map[string]string{"file_metadata": "metadata"}
)

// FacetName maps a label key to its facet. Keys are a facet name optionally
// followed by _<digits> so one table can carry several values of a facet.
// ok is false for keys outside the published facets.
func FacetName(key string) (string, bool) {
	m := facetKey.FindStringSubmatch(key)
	if m == nil {
		return "", false
	}
	for _, f := range Facets {
		if f == m[1] {
			return f, true
		}
	}
	return "", false
}

// OptionLabel renders a value for display.
func OptionLabel(value string) string {
	return upper.String(strings.ReplaceAll(value, "_", " "))
}

// Build produces the filter index for a list of descriptors.
func Build(tables []types.Descriptor) *types.FilterIndex {
	options := make(map[string]map[string]types.FilterOption, len(Facets))
	for _, f := range Facets {
		options[f] = make(map[string]types.FilterOption)
	}

	for _, d := range tables {
		for _, key := range d.LabelKeys() {
			facet, ok := FacetName(key)
			if !ok {
				continue
			}
			value, _ := d.Label(key)
			// An empty value would collide with the ALL option
			if value == "" {
				continue
			}
			if facet == facetCategory {
				if alias, ok := categoryAlias[value]; ok {
					value = alias
				}
			}
			if _, exists := options[facet][value]; exists {
				continue
			}
			opt := types.FilterOption{Label: OptionLabel(value), Value: value}
			if facet == facetCategory {
				opt.Description = CategoryDescriptions[value]
			}
			options[facet][value] = opt
		}
		if d.HasReference() {
			if project, _, _ := d.Reference(); project != "" {
				options[facetProjectID][project] = types.FilterOption{Label: project, Value: project}
			}
		}
	}

	idx := &types.FilterIndex{
		Names:  append([]string(nil), Facets...),
		Facets: make(map[string]types.Facet, len(Facets)),
	}
	for _, f := range Facets {
		values := make([]string, 0, len(options[f]))
		for v := range options[f] {
			values = append(values, v)
		}
		sort.Strings(values)

		opts := make([]types.FilterOption, 0, len(values)+1)
		if withAllOption[f] {
			opts = append(opts, types.FilterOption{Label: allLabel})
		}
		for _, v := range values {
			opts = append(opts, options[f][v])
		}
		idx.Facets[f] = types.Facet{Options: opts}
	}
	return idx
}
