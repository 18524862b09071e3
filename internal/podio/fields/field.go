// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 PackPortal Authors

// Package fields translates Podio's generic item/field wire representation
// into the portal's domain records, and builds the field-update payloads
// for the write path. All functions are pure and never panic on missing
// or oddly shaped fields; an absent field is a normal, expected case.
package fields

import (
	"encoding/json"
	"strconv"
)

// Type is the declared type of a field. It dictates how values[0] unwraps.
type Type string

const (
	TypeText        Type = "text"
	TypeCategory    Type = "category"
	TypeApp         Type = "app"
	TypeEmail       Type = "email"
	TypePhone       Type = "phone"
	TypeNumber      Type = "number"
	TypeDate        Type = "date"
	TypeImage       Type = "image"
	TypeFile        Type = "file"
	TypeEmbed       Type = "embed"
	TypeCalculation Type = "calculation"
)

// Field is the platform's wire representation of a typed item attribute.
// Values are kept raw and decoded per the declared Type on access, so a
// shape the Type does not declare is never assumed.
type Field struct {
	ExternalID string            `json:"external_id"`
	FieldID    int64             `json:"field_id"`
	Label      string            `json:"label,omitempty"`
	Type       Type              `json:"type"`
	Values     []json.RawMessage `json:"values"`
}

// AppRef is a reference to another item, as carried by an app field.
type AppRef struct {
	ItemID int64  `json:"item_id"`
	Title  string `json:"title"`
}

// FileRef is a file or image attachment carried by a file/image field.
type FileRef struct {
	FileID int64  `json:"file_id"`
	Name   string `json:"name,omitempty"`
	Link   string `json:"link,omitempty"`
}

// Per-type value envelopes. Each matches exactly the shape the platform
// documents for that field type.
type textValue struct {
	Value string `json:"value"`
}

type rawValue struct {
	Value json.RawMessage `json:"value"`
}

type categoryValue struct {
	Value struct {
		ID   int64  `json:"id"`
		Text string `json:"text"`
	} `json:"value"`
}

type appValue struct {
	Value struct {
		ItemID int64  `json:"item_id"`
		Title  string `json:"title"`
	} `json:"value"`
}

type dateValue struct {
	Start string `json:"start"`
	Value struct {
		Start string `json:"start"`
	} `json:"value"`
}

type fileValue struct {
	Value FileRef `json:"value"`
}

// Find returns the field matching ref, or nil. The ref matches the field's
// external id; an all-digit ref also matches the numeric field id.
func Find(fs []Field, ref string) *Field {
	var id int64 = -1
	if n, err := strconv.ParseInt(ref, 10, 64); err == nil {
		id = n
	}
	for i := range fs {
		if fs[i].ExternalID == ref || (id >= 0 && fs[i].FieldID == id) {
			return &fs[i]
		}
	}
	return nil
}

// ExtractValue unwraps the value of the field matching ref according to its
// declared type. It returns nil for absent fields, empty value arrays,
// unknown types, and undecodable values.
func ExtractValue(fs []Field, ref string) any {
	f := Find(fs, ref)
	if f == nil {
		return nil
	}
	return f.Extract()
}

// Extract unwraps the field's own value per its declared type.
func (f *Field) Extract() any {
	if len(f.Values) == 0 {
		return nil
	}

	switch f.Type {
	case TypeText, TypeEmail, TypePhone, TypeNumber:
		var v textValue
		if json.Unmarshal(f.Values[0], &v) != nil {
			return nil
		}
		if v.Value == "" {
			return nil
		}
		return v.Value

	case TypeCalculation:
		var v rawValue
		if json.Unmarshal(f.Values[0], &v) != nil || len(v.Value) == 0 {
			return nil
		}
		return stringifyCalculation(v.Value)

	case TypeCategory:
		if len(f.Values) > 1 {
			texts := make([]string, 0, len(f.Values))
			for _, raw := range f.Values {
				var v categoryValue
				if json.Unmarshal(raw, &v) == nil && v.Value.Text != "" {
					texts = append(texts, v.Value.Text)
				}
			}
			if len(texts) == 0 {
				return nil
			}
			return texts
		}
		var v categoryValue
		if json.Unmarshal(f.Values[0], &v) != nil || v.Value.Text == "" {
			return nil
		}
		return v.Value.Text

	case TypeApp:
		refs := make([]AppRef, 0, len(f.Values))
		for _, raw := range f.Values {
			var v appValue
			if json.Unmarshal(raw, &v) == nil && v.Value.ItemID != 0 {
				refs = append(refs, AppRef{ItemID: v.Value.ItemID, Title: v.Value.Title})
			}
		}
		if len(refs) == 0 {
			return nil
		}
		return refs

	case TypeDate:
		var v dateValue
		if json.Unmarshal(f.Values[0], &v) != nil {
			return nil
		}
		if v.Start != "" {
			return v.Start
		}
		if v.Value.Start != "" {
			return v.Value.Start
		}
		return nil

	case TypeImage, TypeFile:
		if len(f.Values) > 1 {
			refs := make([]FileRef, 0, len(f.Values))
			for _, raw := range f.Values {
				var v fileValue
				if json.Unmarshal(raw, &v) == nil && v.Value.FileID != 0 {
					refs = append(refs, v.Value)
				}
			}
			if len(refs) == 0 {
				return nil
			}
			return refs
		}
		var v fileValue
		if json.Unmarshal(f.Values[0], &v) != nil || v.Value.FileID == 0 {
			return nil
		}
		return v.Value

	default:
		// Unknown types (including embed) carry no extraction rule.
		return nil
	}
}

// stringifyCalculation renders a calculation result as a string. The
// platform returns either a JSON string or a number depending on the
// calculation's output type.
func stringifyCalculation(raw json.RawMessage) any {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if s == "" {
			return nil
		}
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return nil
}

// Text returns the field value under ref as a string, or "" when the
// value is absent or not string-shaped.
func Text(fs []Field, ref string) string {
	s, _ := ExtractValue(fs, ref).(string)
	return s
}

// Files returns the attachments under ref, normalizing the single-valued
// and multi-valued forms.
func Files(fs []Field, ref string) []FileRef {
	switch v := ExtractValue(fs, ref).(type) {
	case FileRef:
		return []FileRef{v}
	case []FileRef:
		return v
	default:
		return nil
	}
}

// Apps returns the item references under ref.
func Apps(fs []Field, ref string) []AppRef {
	refs, _ := ExtractValue(fs, ref).([]AppRef)
	return refs
}
