// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 PackPortal Authors

package domain

import "time"

// Status is the approval state of a packing spec.
type Status string

const (
	StatusPendingApproval    Status = "pending-approval"
	StatusApprovedByCustomer Status = "approved-by-customer"
	StatusChangesRequested   Status = "changes-requested"
)

// PackingSpec is a read-mostly copy of a packing specification item.
// Only the status and comments are ever written back.
type PackingSpec struct {
	ID          int64        `json:"id"`
	CustomerID  int64        `json:"customer_id,omitempty"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      Status       `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	Details     SpecDetails  `json:"details"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Comments    []Comment    `json:"comments,omitempty"`
}

// SpecDetails is the bag of optional named attributes of a packing spec.
// Every field is optional; the platform's schemas are configurable and
// absent fields are normal.
type SpecDetails struct {
	// Product
	ProductName    string `json:"product_name,omitempty"`
	ProductCode    string `json:"product_code,omitempty"`
	Barcode        string `json:"barcode,omitempty"`
	BarcodeType    string `json:"barcode_type,omitempty"`
	ProductionSite string `json:"production_site,omitempty"`

	// Unit dimensions and weights
	UnitWeight  string `json:"unit_weight,omitempty"`
	UnitHeight  string `json:"unit_height,omitempty"`
	UnitWidth   string `json:"unit_width,omitempty"`
	UnitDepth   string `json:"unit_depth,omitempty"`
	NetWeight   string `json:"net_weight,omitempty"`
	GrossWeight string `json:"gross_weight,omitempty"`

	// Packaging materials
	OuterPackagingType     string `json:"outer_packaging_type,omitempty"`
	OuterPackagingMaterial string `json:"outer_packaging_material,omitempty"`
	InnerPackagingType     string `json:"inner_packaging_type,omitempty"`
	InnerPackagingMaterial string `json:"inner_packaging_material,omitempty"`
	UnitsPerCarton         string `json:"units_per_carton,omitempty"`
	CartonWeight           string `json:"carton_weight,omitempty"`

	// Shipping and pallet
	PalletType           string `json:"pallet_type,omitempty"`
	CartonsPerLayer      string `json:"cartons_per_layer,omitempty"`
	LayersPerPallet      string `json:"layers_per_pallet,omitempty"`
	UnitsPerPallet       string `json:"units_per_pallet,omitempty"`
	PalletHeight         string `json:"pallet_height,omitempty"`
	PalletWeight         string `json:"pallet_weight,omitempty"`
	StackingAllowed      string `json:"stacking_allowed,omitempty"`
	TransportTemperature string `json:"transport_temperature,omitempty"`
	ShippingMarks        string `json:"shipping_marks,omitempty"`

	// Label and printing
	LabelFormat      string `json:"label_format,omitempty"`
	LabelMaterial    string `json:"label_material,omitempty"`
	PrintMethod      string `json:"print_method,omitempty"`
	PrintColours     string `json:"print_colours,omitempty"`
	ArtworkReference string `json:"artwork_reference,omitempty"`

	// Approval bookkeeping
	ApprovedBy       string `json:"approved_by,omitempty"`
	ApprovalDate     string `json:"approval_date,omitempty"`
	RequestedChanges string `json:"requested_changes,omitempty"`
}

// Attachment is a file or image attached to a packing spec.
type Attachment struct {
	FileID int64  `json:"file_id"`
	Name   string `json:"name,omitempty"`
	Link   string `json:"link,omitempty"`
}
