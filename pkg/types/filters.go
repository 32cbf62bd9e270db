package types

import (
	"bytes"
	"encoding/json"
)

// FilterOption is one selectable value of a facet.
type FilterOption struct {
	Label       string `json:"label"`
	Value       string `json:"value"`
	Description string `json:"description"`
}

// Facet holds the ordered options of one filter dimension.
type Facet struct {
	Options []FilterOption `json:"options"`
}

// FilterIndex is the filters artifact. Facets are emitted in Names order so
// the document is stable across runs.
type FilterIndex struct {
	Names  []string
	Facets map[string]Facet
}

// Facet returns the named facet.
func (f *FilterIndex) Facet(name string) (Facet, bool) {
	fc, ok := f.Facets[name]
	return fc, ok
}

// MarshalJSON encodes the index as {facet: {options: [...]}, ...}.
func (f *FilterIndex) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range f.Names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		facet := f.Facets[name]
		if facet.Options == nil {
			facet.Options = []FilterOption{}
		}
		val, err := json.Marshal(facet)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes the object form. Facet order follows the document.
func (f *FilterIndex) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return err
	}
	f.Names = nil
	f.Facets = make(map[string]Facet)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var facet Facet
		if err := dec.Decode(&facet); err != nil {
			return err
		}
		f.Names = append(f.Names, name)
		f.Facets[name] = facet
	}
	_, err := dec.Token()
	return err
}
