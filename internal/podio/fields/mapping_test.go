// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 PackPortal Authors

package fields

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/prodflow/packportal/internal/domain"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	if got := ParseTimestamp("2025-03-01 09:30:00"); !got.Equal(want) {
		t.Errorf("ParseTimestamp = %v, want %v", got, want)
	}
	if got := ParseTimestamp("2025-03-01T09:30:00Z"); !got.Equal(want) {
		t.Errorf("ParseTimestamp RFC3339 = %v, want %v", got, want)
	}
	if got := ParseTimestamp(""); !got.IsZero() {
		t.Errorf("ParseTimestamp(empty) = %v, want zero", got)
	}
	if got := ParseTimestamp("next tuesday"); !got.IsZero() {
		t.Errorf("ParseTimestamp(garbage) = %v, want zero", got)
	}
}

func TestBuildContact(t *testing.T) {
	item := &Item{
		ItemID: 7,
		Title:  "Acme Ltd",
		Fields: []Field{
			{ExternalID: ContactNameField, Type: TypeText, Values: rawValues(`{"value":"Acme Limited"}`)},
			{ExternalID: ContactEmailField, Type: TypeEmail, Values: rawValues(`{"value":"ops@acme.test"}`)},
			{ExternalID: ContactUsernameField, Type: TypeText, Values: rawValues(`{"value":"acme"}`)},
			{ExternalID: ContactLogoField, Type: TypeImage, Values: rawValues(`{"value":{"file_id":3,"link":"https://files.test/3"}}`)},
		},
	}

	c := BuildContact(item)
	if c.ID != 7 || c.Name != "Acme Limited" || c.Email != "ops@acme.test" || c.Username != "acme" {
		t.Errorf("BuildContact = %+v", c)
	}
	if c.LogoURL != "https://files.test/3" {
		t.Errorf("LogoURL = %q", c.LogoURL)
	}
}

func TestBuildContactFallsBackToTitle(t *testing.T) {
	c := BuildContact(&Item{ItemID: 7, Title: "Acme Ltd"})
	if c.Name != "Acme Ltd" {
		t.Errorf("Name = %q, want item title", c.Name)
	}
}

func TestBuildPackingSpec(t *testing.T) {
	item := &Item{
		ItemID:    42,
		Title:     "Widget 500g carton",
		CreatedOn: "2025-02-10 08:00:00",
		Fields: []Field{
			{ExternalID: SpecStatusField, Type: TypeCategory, Values: rawValues(`{"value":{"id":2,"text":"Changes Requested"}}`)},
			{ExternalID: SpecCustomerField, Type: TypeApp, Values: rawValues(`{"value":{"item_id":7,"title":"Acme Ltd"}}`)},
			{ExternalID: SpecProductNameField, Type: TypeText, Values: rawValues(`{"value":"Widget"}`)},
			{ExternalID: SpecBarcodeField, Type: TypeText, Values: rawValues(`{"value":"5012345678900"}`)},
			{ExternalID: SpecBarcodeTypeField, Type: TypeCategory, Values: rawValues(`{"value":{"id":1,"text":"EAN-13"}}`)},
			{ExternalID: SpecUnitsPerCartonField, Type: TypeNumber, Values: rawValues(`{"value":"24"}`)},
			{ExternalID: SpecRequestedChangesField, Type: TypeText, Values: rawValues(`{"value":"Fix the barcode quiet zone"}`)},
			{ExternalID: SpecApprovalDateField, Type: TypeDate, Values: rawValues(`{"start":"2025-02-12 10:00:00"}`)},
			{ExternalID: SpecImagesField, Type: TypeImage, Values: rawValues(
				`{"value":{"file_id":11,"name":"front.png","link":"https://files.test/11"}}`,
				`{"value":{"file_id":12,"name":"back.png","link":"https://files.test/12"}}`)},
		},
		Files: []FileRef{{FileID: 20, Name: "artwork.pdf", Link: "https://files.test/20"}},
	}

	spec := BuildPackingSpec(item)

	if spec.ID != 42 || spec.Title != "Widget 500g carton" {
		t.Errorf("identity = %d %q", spec.ID, spec.Title)
	}
	if spec.CustomerID != 7 {
		t.Errorf("CustomerID = %d, want 7", spec.CustomerID)
	}
	if spec.Status != domain.StatusChangesRequested {
		t.Errorf("Status = %q", spec.Status)
	}
	if !spec.CreatedAt.Equal(time.Date(2025, 2, 10, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", spec.CreatedAt)
	}
	if spec.Details.ProductName != "Widget" || spec.Details.Barcode != "5012345678900" {
		t.Errorf("Details = %+v", spec.Details)
	}
	if spec.Details.BarcodeType != "EAN-13" {
		t.Errorf("BarcodeType = %q", spec.Details.BarcodeType)
	}
	if spec.Details.UnitsPerCarton != "24" {
		t.Errorf("UnitsPerCarton = %q", spec.Details.UnitsPerCarton)
	}
	if spec.Details.RequestedChanges != "Fix the barcode quiet zone" {
		t.Errorf("RequestedChanges = %q", spec.Details.RequestedChanges)
	}
	if spec.Details.ApprovalDate != "2025-02-12 10:00:00" {
		t.Errorf("ApprovalDate = %q", spec.Details.ApprovalDate)
	}

	// Field images plus item-level files.
	if len(spec.Attachments) != 3 {
		t.Fatalf("Attachments = %d, want 3", len(spec.Attachments))
	}
	if spec.Attachments[2].FileID != 20 || spec.Attachments[2].Name != "artwork.pdf" {
		t.Errorf("item-level attachment = %+v", spec.Attachments[2])
	}
}

func TestBuildPackingSpecSparseItem(t *testing.T) {
	spec := BuildPackingSpec(&Item{ItemID: 1, Title: "Bare"})
	if spec.Status != domain.StatusPendingApproval {
		t.Errorf("Status = %q, want pending-approval", spec.Status)
	}
	if len(spec.Attachments) != 0 {
		t.Errorf("Attachments = %+v, want none", spec.Attachments)
	}
}

func TestBuildComment(t *testing.T) {
	rc := &RawComment{
		CommentID: 5,
		Value:     "plain text",
		RichValue: `<p>Looks <b>good</b> &amp; ready</p>`,
		CreatedOn: "2025-02-11 12:00:00",
	}
	rc.CreatedBy.Name = "Jo Smith"

	c := BuildComment(rc)
	if c.ID != 5 || c.Author != "Jo Smith" {
		t.Errorf("comment = %+v", c)
	}
	if c.Text != "Looks good & ready" {
		t.Errorf("Text = %q", c.Text)
	}
	if !c.CreatedAt.Equal(time.Date(2025, 2, 11, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", c.CreatedAt)
	}
}

func TestBuildCommentFallsBackToPlainValue(t *testing.T) {
	c := BuildComment(&RawComment{CommentID: 5, Value: "plain only"})
	if c.Text != "plain only" {
		t.Errorf("Text = %q", c.Text)
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"no markup", "no markup"},
		{"<p>para</p>", "para"},
		{"a&nbsp;b &lt;tag&gt;", "a b <tag>"},
		{"  <div> padded </div>  ", "padded"},
	}
	for _, tc := range tests {
		if got := StripHTML(tc.in); got != tc.want {
			t.Errorf("StripHTML(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestBuildUpdatePayloadApproval(t *testing.T) {
	when := time.Date(2025, 2, 12, 10, 0, 0, 0, time.UTC)
	payload := BuildUpdatePayload(domain.StatusApprovedByCustomer, "", UpdateExtra{
		ApprovedBy:   "Jo Smith",
		ApprovalDate: when,
	})

	var body struct {
		Fields map[string]json.RawMessage `json:"fields"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}

	if string(body.Fields[SpecStatusField]) != `"Approved by Customer"` {
		t.Errorf("status field = %s", body.Fields[SpecStatusField])
	}
	if string(body.Fields[SpecApprovedByField]) != `"Jo Smith"` {
		t.Errorf("approved-by field = %s", body.Fields[SpecApprovedByField])
	}

	var date map[string]string
	if err := json.Unmarshal(body.Fields[SpecApprovalDateField], &date); err != nil {
		t.Fatalf("approval date field: %v", err)
	}
	if date["start_utc"] != "2025-02-12 10:00:00" {
		t.Errorf("start_utc = %q", date["start_utc"])
	}

	if _, ok := body.Fields[SpecRequestedChangesField]; ok {
		t.Error("approval payload carries a requested-changes field")
	}
}

func TestBuildUpdatePayloadRequestChanges(t *testing.T) {
	payload := BuildUpdatePayload(domain.StatusChangesRequested, "different pallet type", UpdateExtra{})

	var body struct {
		Fields map[string]json.RawMessage `json:"fields"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}

	if string(body.Fields[SpecStatusField]) != `"Changes Requested"` {
		t.Errorf("status field = %s", body.Fields[SpecStatusField])
	}
	if string(body.Fields[SpecRequestedChangesField]) != `"different pallet type"` {
		t.Errorf("requested-changes field = %s", body.Fields[SpecRequestedChangesField])
	}
	if _, ok := body.Fields[SpecApprovedByField]; ok {
		t.Error("change-request payload carries an approved-by field")
	}
	if _, ok := body.Fields[SpecApprovalDateField]; ok {
		t.Error("change-request payload carries an approval date")
	}
}
