package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

const sampleDescriptor = `{
  "kind": "bigquery#table",
  "id": "isb-cgc-bq:TCGA.clinical_gdc_current",
  "tableReference": {"projectId": "isb-cgc-bq", "datasetId": "TCGA", "tableId": "clinical_gdc_current"},
  "labels": {"category": "clinical_biospecimen_data", "program": "tcga"},
  "numRows": "11160",
  "lastModifiedTime": "1700000000123"
}`

func TestDecodeDescriptor(t *testing.T) {
	d, err := DecodeDescriptor([]byte(sampleDescriptor))
	if err != nil {
		t.Fatalf("DecodeDescriptor failed: %v", err)
	}
	if d.ID() != "isb-cgc-bq:TCGA.clinical_gdc_current" {
		t.Errorf("ID: got %q", d.ID())
	}
	p, ds, tbl := d.Reference()
	if p != "isb-cgc-bq" || ds != "TCGA" || tbl != "clinical_gdc_current" {
		t.Errorf("Reference: got %s %s %s", p, ds, tbl)
	}
	if !d.HasReference() {
		t.Error("expected HasReference")
	}
	if v, ok := d.Label("program"); !ok || v != "tcga" {
		t.Errorf("Label(program): got %q %v", v, ok)
	}
	keys := d.LabelKeys()
	if strings.Join(keys, ",") != "category,program" {
		t.Errorf("LabelKeys: got %v", keys)
	}
	ts, ok := d.LastModified()
	if !ok || !ts.Equal(time.UnixMilli(1700000000123)) {
		t.Errorf("LastModified: got %v %v", ts, ok)
	}
}

func TestDecodeDescriptors_KeepsNumbers(t *testing.T) {
	ds, err := DecodeDescriptors(strings.NewReader(`[{"id":"a:b.c","numLongTermBytes":12345678901234567890}]`))
	if err != nil {
		t.Fatalf("DecodeDescriptors failed: %v", err)
	}
	if len(ds) != 1 {
		t.Fatalf("expected 1 descriptor, got %d", len(ds))
	}
	out, err := json.Marshal(ds[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "12345678901234567890") {
		t.Errorf("large number lost precision: %s", out)
	}
}

func TestDecodeDescriptors_Malformed(t *testing.T) {
	if _, err := DecodeDescriptors(strings.NewReader(`{"not":"an array"}`)); err == nil {
		t.Error("expected error for non-array document")
	}
}

func TestDescriptor_SetReference(t *testing.T) {
	d := Descriptor{}
	d.SetReference("p", "d", "t")
	if d.ID() != "p:d.t" {
		t.Errorf("ID: got %q", d.ID())
	}
	p, ds, tbl := d.Reference()
	if p != "p" || ds != "d" || tbl != "t" {
		t.Errorf("Reference: got %s %s %s", p, ds, tbl)
	}
}

func TestDescriptor_LabelMutation(t *testing.T) {
	d := Descriptor{}
	if keys := d.LabelKeys(); len(keys) != 0 {
		t.Errorf("expected no labels, got %v", keys)
	}
	d.SetLabel("status", "current")
	d.SetLabel("version", "r9")
	d.DeleteLabel("version")
	d.DeleteLabel("absent")

	keys := d.LabelKeys()
	if len(keys) != 1 || keys[0] != "status" {
		t.Errorf("label keys: got %v", keys)
	}
	if v, ok := d.Label("status"); !ok || v != "current" {
		t.Errorf("status label: got %q %v", v, ok)
	}
	if _, ok := d.Label("version"); ok {
		t.Error("deleted label still present")
	}
}

func TestDescriptor_LastModifiedForms(t *testing.T) {
	cases := []struct {
		name  string
		value any
		ok    bool
	}{
		{"string", "1000", true},
		{"number", json.Number("1000"), true},
		{"float", float64(1000), true},
		{"bad string", "soon", false},
		{"missing", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Descriptor{}
			if tc.value != nil {
				d[FieldLastModifiedTime] = tc.value
			}
			ts, ok := d.LastModified()
			if ok != tc.ok {
				t.Fatalf("ok: got %v, want %v", ok, tc.ok)
			}
			if ok && !ts.Equal(time.UnixMilli(1000)) {
				t.Errorf("time: got %v", ts)
			}
		})
	}
}

func TestDescriptor_Clone(t *testing.T) {
	d, err := DecodeDescriptor([]byte(sampleDescriptor))
	if err != nil {
		t.Fatal(err)
	}
	c := d.Clone()
	c.SetLabel("program", "ccle")
	c.SetReference("x", "y", "z")

	if v, _ := d.Label("program"); v != "tcga" {
		t.Errorf("clone shares labels: %q", v)
	}
	if d.ID() != "isb-cgc-bq:TCGA.clinical_gdc_current" {
		t.Errorf("clone shares reference: %q", d.ID())
	}
}
