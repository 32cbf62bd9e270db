// Package types defines the documents bqmeta publishes for the web front end.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"
)

// Descriptor field names as they appear in the warehouse REST representation.
const (
	FieldID               = "id"
	FieldTableReference   = "tableReference"
	FieldProjectID        = "projectId"
	FieldDatasetID        = "datasetId"
	FieldTableID          = "tableId"
	FieldLabels           = "labels"
	FieldNumRows          = "numRows"
	FieldLastModifiedTime = "lastModifiedTime"
)

// Descriptor is the metadata of one table or view, keyed by REST field name.
// Values keep their decoded JSON form (numbers as json.Number).
type Descriptor map[string]any

// TableID formats the composite identity project:dataset.table.
func TableID(project, dataset, table string) string {
	return fmt.Sprintf("%s:%s.%s", project, dataset, table)
}

// DecodeDescriptor parses one descriptor object.
func DecodeDescriptor(data []byte) (Descriptor, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var d Descriptor
	if err := dec.Decode(&d); err != nil {
		return nil, err
	}
	return d, nil
}

// DecodeDescriptors parses a metadata artifact (a JSON array of descriptors).
func DecodeDescriptors(r io.Reader) ([]Descriptor, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var out []Descriptor
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// ID returns the composite table id.
func (d Descriptor) ID() string {
	s, _ := d[FieldID].(string)
	return s
}

// Reference returns the project, dataset and table of the tableReference.
func (d Descriptor) Reference() (project, dataset, table string) {
	ref, ok := d[FieldTableReference].(map[string]any)
	if !ok {
		return "", "", ""
	}
	project, _ = ref[FieldProjectID].(string)
	dataset, _ = ref[FieldDatasetID].(string)
	table, _ = ref[FieldTableID].(string)
	return project, dataset, table
}

// HasReference reports whether the descriptor carries a non-empty tableReference.
func (d Descriptor) HasReference() bool {
	ref, ok := d[FieldTableReference].(map[string]any)
	return ok && len(ref) > 0
}

// SetReference rewrites the tableReference and recomputes the id.
func (d Descriptor) SetReference(project, dataset, table string) {
	ref, ok := d[FieldTableReference].(map[string]any)
	if !ok {
		ref = make(map[string]any, 3)
		d[FieldTableReference] = ref
	}
	ref[FieldProjectID] = project
	ref[FieldDatasetID] = dataset
	ref[FieldTableID] = table
	d[FieldID] = TableID(project, dataset, table)
}

// LabelKeys returns the label keys in sorted order.
func (d Descriptor) LabelKeys() []string {
	raw, _ := d[FieldLabels].(map[string]any)
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Label returns one label value.
func (d Descriptor) Label(key string) (string, bool) {
	raw, ok := d[FieldLabels].(map[string]any)
	if !ok {
		return "", false
	}
	v, ok := raw[key]
	if !ok {
		return "", false
	}
	return labelString(v), true
}

// DeleteLabel removes a label if present.
func (d Descriptor) DeleteLabel(key string) {
	if raw, ok := d[FieldLabels].(map[string]any); ok {
		delete(raw, key)
	}
}

// SetLabel sets a label value, creating the mapping when needed.
func (d Descriptor) SetLabel(key, value string) {
	raw, ok := d[FieldLabels].(map[string]any)
	if !ok {
		raw = make(map[string]any)
		d[FieldLabels] = raw
	}
	raw[key] = value
}

// LastModified returns lastModifiedTime, which the REST API reports in
// epoch milliseconds as a string.
func (d Descriptor) LastModified() (time.Time, bool) {
	var ms int64
	switch v := d[FieldLastModifiedTime].(type) {
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		ms = n
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return time.Time{}, false
		}
		ms = n
	case float64:
		ms = int64(v)
	default:
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

// Clone returns a deep copy of the descriptor.
func (d Descriptor) Clone() Descriptor {
	return cloneValue(map[string]any(d)).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case Descriptor:
		return cloneValue(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}

func labelString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
