package models

import (
	"encoding/json"
	"time"
)

// IntegrationItem is the provider-agnostic shape every connector normalizes
// its raw records into. Optional fields are pointers so "absent" and "empty"
// stay distinguishable; only fields that were actually supplied are serialized.
type IntegrationItem struct {
	ID               string     `json:"id,omitempty"`
	Type             string     `json:"type,omitempty"`
	Directory        bool       `json:"directory,omitempty"`
	ParentPathOrName *string    `json:"parent_path_or_name,omitempty"`
	ParentID         *string    `json:"parent_id,omitempty"`
	Name             *string    `json:"name,omitempty"`
	CreationTime     *time.Time `json:"creation_time,omitempty"`
	LastModifiedTime *time.Time `json:"last_modified_time,omitempty"`
	URL              *string    `json:"url,omitempty"`
	Children         []string   `json:"children,omitempty"`
	MimeType         *string    `json:"mime_type,omitempty"`
	Delta            *string    `json:"delta,omitempty"`
	DriveID          *string    `json:"drive_id,omitempty"`

	// Visibility defaults to true and is only serialized when false.
	Visibility bool `json:"-"`

	// CRM / people fields
	Email          *string `json:"email,omitempty"`
	PhoneNumber    *string `json:"phone_number,omitempty"`
	CompanyName    *string `json:"company_name,omitempty"`
	EmploymentRole *string `json:"employment_role,omitempty"`
	LeadStatus     *string `json:"lead_status,omitempty"`
	Location       *string `json:"location,omitempty"`
	Domain         *string `json:"domain,omitempty"`
}

// NewIntegrationItem returns an item with the default flags set.
func NewIntegrationItem(id, itemType string) *IntegrationItem {
	return &IntegrationItem{
		ID:         id,
		Type:       itemType,
		Visibility: true,
	}
}

// ItemID builds the composite id of a native record id and its item type.
func ItemID(nativeID, itemType string) string {
	return nativeID + "_" + itemType
}

// integrationItemJSON shares the field set of IntegrationItem without its methods.
type integrationItemJSON IntegrationItem

type integrationItemWire struct {
	*integrationItemJSON
	Visibility *bool `json:"visibility,omitempty"`
}

// MarshalJSON drops absent fields, directory=false and visibility=true.
func (i IntegrationItem) MarshalJSON() ([]byte, error) {
	wire := integrationItemWire{integrationItemJSON: (*integrationItemJSON)(&i)}
	if !i.Visibility {
		hidden := false
		wire.Visibility = &hidden
	}
	return json.Marshal(wire)
}

// UnmarshalJSON restores the defaults for flags that were dropped on the way out.
func (i *IntegrationItem) UnmarshalJSON(data []byte) error {
	wire := integrationItemWire{integrationItemJSON: (*integrationItemJSON)(i)}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	i.Visibility = wire.Visibility == nil || *wire.Visibility
	return nil
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// TimePtr parses an RFC 3339 timestamp, returning nil for empty or malformed input.
func TimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
