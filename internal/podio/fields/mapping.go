// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 PackPortal Authors

package fields

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/prodflow/packportal/internal/domain"
)

// Item is the platform's generic item envelope as returned by the item API.
type Item struct {
	ItemID    int64     `json:"item_id"`
	Title     string    `json:"title"`
	CreatedOn string    `json:"created_on"`
	Fields    []Field   `json:"fields"`
	Files     []FileRef `json:"files,omitempty"`
}

// FilterResponse is the envelope of POST /item/app/{appId}/filter/.
type FilterResponse struct {
	Total int    `json:"total"`
	Items []Item `json:"items"`
}

// RawComment is the wire shape of GET /comment/item/{itemId}/.
type RawComment struct {
	CommentID int64  `json:"comment_id"`
	Value     string `json:"value"`
	RichValue string `json:"rich_value"`
	CreatedOn string `json:"created_on"`
	CreatedBy struct {
		Name string `json:"name"`
	} `json:"created_by"`
}

// Well-known external ids of the Contacts app.
const (
	ContactNameField     = "name"
	ContactEmailField    = "email"
	ContactUsernameField = "customer-username"
	ContactPasswordField = "customer-password"
	ContactLogoField     = "logo"
)

// Well-known external ids of the Packing Spec app. The platform schema is
// configurable; every one of these is optional on any given deployment.
const (
	SpecDescriptionField          = "description"
	SpecStatusField               = "customer-approval-status"
	SpecCustomerField             = "customer"
	SpecProductNameField          = "product-name"
	SpecProductCodeField          = "product-code"
	SpecBarcodeField              = "barcode"
	SpecBarcodeTypeField          = "barcode-type"
	SpecProductionSiteField       = "production-site"
	SpecUnitWeightField           = "unit-weight"
	SpecUnitHeightField           = "unit-height"
	SpecUnitWidthField            = "unit-width"
	SpecUnitDepthField            = "unit-depth"
	SpecNetWeightField            = "net-weight"
	SpecGrossWeightField          = "gross-weight"
	SpecOuterPackTypeField        = "outer-packaging-type"
	SpecOuterPackMaterialField    = "outer-packaging-material"
	SpecInnerPackTypeField        = "inner-packaging-type"
	SpecInnerPackMaterialField    = "inner-packaging-material"
	SpecUnitsPerCartonField       = "units-per-carton"
	SpecCartonWeightField         = "carton-weight"
	SpecPalletTypeField           = "pallet-type"
	SpecCartonsPerLayerField      = "cartons-per-layer"
	SpecLayersPerPalletField      = "layers-per-pallet"
	SpecUnitsPerPalletField       = "units-per-pallet"
	SpecPalletHeightField         = "pallet-height"
	SpecPalletWeightField         = "pallet-weight"
	SpecStackingAllowedField      = "stacking-allowed"
	SpecTransportTempField        = "transport-temperature"
	SpecShippingMarksField        = "shipping-marks"
	SpecLabelFormatField          = "label-format"
	SpecLabelMaterialField        = "label-material"
	SpecPrintMethodField          = "print-method"
	SpecPrintColoursField         = "print-colours"
	SpecArtworkField              = "artwork-reference"
	SpecImagesField               = "images"
	SpecApprovedByField           = "approved-by"
	SpecApprovalDateField         = "approval-date"
	SpecRequestedChangesField     = "customer-requested-changes"
)

// createdOnLayout is the platform's item timestamp format (UTC).
const createdOnLayout = "2006-01-02 15:04:05"

// ParseTimestamp parses a platform timestamp. The zero time is returned
// for empty or unparseable input.
func ParseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(createdOnLayout, s); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// BuildContact maps a Contacts app item to a customer identity.
func BuildContact(item *Item) domain.Contact {
	c := domain.Contact{
		ID:       item.ItemID,
		Name:     Text(item.Fields, ContactNameField),
		Email:    Text(item.Fields, ContactEmailField),
		Username: Text(item.Fields, ContactUsernameField),
	}
	if c.Name == "" {
		c.Name = item.Title
	}
	if logos := Files(item.Fields, ContactLogoField); len(logos) > 0 {
		c.LogoURL = logos[0].Link
	}
	return c
}

// BuildPackingSpec maps a Packing Spec app item to the domain record.
// Comments are fetched separately and attached by the caller.
func BuildPackingSpec(item *Item) domain.PackingSpec {
	fs := item.Fields

	spec := domain.PackingSpec{
		ID:          item.ItemID,
		Title:       item.Title,
		Description: Text(fs, SpecDescriptionField),
		Status:      MapStatus(statusText(fs)),
		CreatedAt:   ParseTimestamp(item.CreatedOn),
		Details: domain.SpecDetails{
			ProductName:    Text(fs, SpecProductNameField),
			ProductCode:    Text(fs, SpecProductCodeField),
			Barcode:        Text(fs, SpecBarcodeField),
			BarcodeType:    categoryText(fs, SpecBarcodeTypeField),
			ProductionSite: Text(fs, SpecProductionSiteField),

			UnitWeight:  Text(fs, SpecUnitWeightField),
			UnitHeight:  Text(fs, SpecUnitHeightField),
			UnitWidth:   Text(fs, SpecUnitWidthField),
			UnitDepth:   Text(fs, SpecUnitDepthField),
			NetWeight:   Text(fs, SpecNetWeightField),
			GrossWeight: Text(fs, SpecGrossWeightField),

			OuterPackagingType:     categoryText(fs, SpecOuterPackTypeField),
			OuterPackagingMaterial: Text(fs, SpecOuterPackMaterialField),
			InnerPackagingType:     categoryText(fs, SpecInnerPackTypeField),
			InnerPackagingMaterial: Text(fs, SpecInnerPackMaterialField),
			UnitsPerCarton:         Text(fs, SpecUnitsPerCartonField),
			CartonWeight:           Text(fs, SpecCartonWeightField),

			PalletType:           categoryText(fs, SpecPalletTypeField),
			CartonsPerLayer:      Text(fs, SpecCartonsPerLayerField),
			LayersPerPallet:      Text(fs, SpecLayersPerPalletField),
			UnitsPerPallet:       Text(fs, SpecUnitsPerPalletField),
			PalletHeight:         Text(fs, SpecPalletHeightField),
			PalletWeight:         Text(fs, SpecPalletWeightField),
			StackingAllowed:      categoryText(fs, SpecStackingAllowedField),
			TransportTemperature: Text(fs, SpecTransportTempField),
			ShippingMarks:        Text(fs, SpecShippingMarksField),

			LabelFormat:      Text(fs, SpecLabelFormatField),
			LabelMaterial:    Text(fs, SpecLabelMaterialField),
			PrintMethod:      categoryText(fs, SpecPrintMethodField),
			PrintColours:     Text(fs, SpecPrintColoursField),
			ArtworkReference: Text(fs, SpecArtworkField),

			ApprovedBy:       Text(fs, SpecApprovedByField),
			RequestedChanges: Text(fs, SpecRequestedChangesField),
		},
	}

	if d, ok := ExtractValue(fs, SpecApprovalDateField).(string); ok {
		spec.Details.ApprovalDate = d
	}

	if refs := Apps(fs, SpecCustomerField); len(refs) > 0 {
		spec.CustomerID = refs[0].ItemID
	}

	for _, f := range Files(fs, SpecImagesField) {
		spec.Attachments = append(spec.Attachments, domain.Attachment{
			FileID: f.FileID,
			Name:   f.Name,
			Link:   f.Link,
		})
	}
	// Item-level files not bound to a field are attachments too.
	for _, f := range item.Files {
		spec.Attachments = append(spec.Attachments, domain.Attachment{
			FileID: f.FileID,
			Name:   f.Name,
			Link:   f.Link,
		})
	}

	return spec
}

// statusText pulls the status category label, tolerating multi-valued
// category fields by taking the first option.
func statusText(fs []Field) string {
	switch v := ExtractValue(fs, SpecStatusField).(type) {
	case string:
		return v
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// categoryText reads a category field as a single label.
func categoryText(fs []Field, ref string) string {
	switch v := ExtractValue(fs, ref).(type) {
	case string:
		return v
	case []string:
		return strings.Join(v, ", ")
	}
	return ""
}

// BuildComment maps a raw comment, preferring the rich form with markup
// stripped over the plain value.
func BuildComment(rc *RawComment) domain.Comment {
	text := StripHTML(rc.RichValue)
	if text == "" {
		text = rc.Value
	}
	return domain.Comment{
		ID:        rc.CommentID,
		Text:      text,
		Author:    rc.CreatedBy.Name,
		CreatedAt: ParseTimestamp(rc.CreatedOn),
	}
}

// BuildComments maps a comment listing, newest-first order preserved.
func BuildComments(raw []RawComment) []domain.Comment {
	if len(raw) == 0 {
		return nil
	}
	out := make([]domain.Comment, 0, len(raw))
	for i := range raw {
		out = append(out, BuildComment(&raw[i]))
	}
	return out
}

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)

// StripHTML removes markup from a rich comment value.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	s = htmlTagRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	return strings.TrimSpace(s)
}

// UpdateExtra carries the optional attributes of a status update.
type UpdateExtra struct {
	ApprovedBy   string
	ApprovalDate time.Time
}

// BuildUpdatePayload emits the minimal field-update body the item write
// endpoint expects for a status change. Only fields with values are
// included; the platform rejects updates naming fields an app lacks, so
// the payload stays minimal.
func BuildUpdatePayload(status domain.Status, requestedChanges string, extra UpdateExtra) json.RawMessage {
	update := map[string]any{
		SpecStatusField: StatusLabel(status),
	}
	if extra.ApprovedBy != "" {
		update[SpecApprovedByField] = extra.ApprovedBy
	}
	if !extra.ApprovalDate.IsZero() {
		update[SpecApprovalDateField] = map[string]string{
			"start_utc": extra.ApprovalDate.UTC().Format(createdOnLayout),
		}
	}
	if requestedChanges != "" {
		update[SpecRequestedChangesField] = requestedChanges
	}

	body, _ := json.Marshal(map[string]any{"fields": update})
	return body
}
