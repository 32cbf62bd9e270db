package metadata

import (
	"testing"

	"github.com/bqeco/bqmeta/pkg/types"
)

func TestVersionRoot(t *testing.T) {
	marked := types.MarkedTables{
		"isb-cgc-bq": {
			"TCGA_versioned": {
				"clin_":          "clinical_",
				"clin_gdc_long_": "clinical_gdc_",
			},
		},
	}

	tests := []struct {
		name        string
		desc        types.Descriptor
		wantOK      bool
		wantRoot    string
		wantVersion string
		wantLatest  bool
	}{
		{
			name:        "versioned dataset, current status",
			desc:        table("isb-cgc-bq", "TCGA_versioned", "clinical_gdc_r24", map[string]string{"version": "r24", "status": "current"}, 0),
			wantOK:      true,
			wantRoot:    "isb-cgc-bq:TCGA.clinical_gdc",
			wantVersion: "r24",
			wantLatest:  true,
		},
		{
			name:        "versioned dataset, archived status",
			desc:        table("isb-cgc-bq", "TCGA_versioned", "clinical_gdc_r23", map[string]string{"version": "r23", "status": "archived"}, 0),
			wantOK:      true,
			wantRoot:    "isb-cgc-bq:TCGA.clinical_gdc",
			wantVersion: "r23",
		},
		{
			name:        "version suffix matched case-insensitively",
			desc:        table("isb-cgc-bq", "TCGA_versioned", "mirna_HG38_GDC_R14", map[string]string{"version": "hg38_gdc_r14"}, 0),
			wantOK:      true,
			wantRoot:    "isb-cgc-bq:TCGA.mirna",
			wantVersion: "hg38.gdc.r14",
		},
		{
			name:        "marked prefix, longest wins",
			desc:        table("isb-cgc-bq", "TCGA_versioned", "clin_gdc_long_2019_06", map[string]string{"version": "2019_06"}, 0),
			wantOK:      true,
			wantRoot:    "isb-cgc-bq:TCGA.clinical_gdc",
			wantVersion: "2019.06",
		},
		{
			name:        "marked prefix, short",
			desc:        table("isb-cgc-bq", "TCGA_versioned", "clin_pdc_r1", map[string]string{"version": "r1"}, 0),
			wantOK:      true,
			wantRoot:    "isb-cgc-bq:TCGA.clinical_pdc",
			wantVersion: "r1",
		},
		{
			name:        "flat current layout",
			desc:        table("isb-cgc-bq", "TCGA", "clinical_gdc_current", map[string]string{"version": "r24"}, 0),
			wantOK:      true,
			wantRoot:    "isb-cgc-bq:TCGA.clinical_gdc",
			wantVersion: "r24",
			wantLatest:  true,
		},
		{
			name: "no version label",
			desc: table("isb-cgc-bq", "TCGA_versioned", "clinical_gdc_r24", map[string]string{"status": "current"}, 0),
		},
		{
			name: "version label outside known layouts",
			desc: table("isb-cgc-bq", "TCGA", "clinical_gdc_r24", map[string]string{"version": "r24"}, 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, version, latest, ok := VersionRoot(tt.desc, marked)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if root != tt.wantRoot {
				t.Errorf("root = %q, want %q", root, tt.wantRoot)
			}
			if version != tt.wantVersion {
				t.Errorf("version = %q, want %q", version, tt.wantVersion)
			}
			if latest != tt.wantLatest {
				t.Errorf("latest = %v, want %v", latest, tt.wantLatest)
			}
		})
	}
}
