package model

import (
	"fmt"
	"strings"
)

// PIITier is the ordered visibility level for personally identifiable
// information: none < masked < full.
type PIITier int

const (
	PIINone PIITier = iota
	PIIMasked
	PIIFull
)

var piiTierNames = [...]string{"none", "masked", "full"}

func (t PIITier) String() string {
	if t < PIINone || t > PIIFull {
		return "unknown"
	}
	return piiTierNames[t]
}

// ParsePIITier parses "none", "masked" or "full".
func ParsePIITier(s string) (PIITier, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for i, name := range piiTierNames {
		if s == name {
			return PIITier(i), nil
		}
	}
	return PIINone, fmt.Errorf("unknown pii tier %q", s)
}

func (t PIITier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *PIITier) UnmarshalText(b []byte) error {
	v, err := ParsePIITier(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// MaxPIITier returns the highest of the given tiers.
func MaxPIITier(tiers ...PIITier) PIITier {
	max := PIINone
	for _, t := range tiers {
		if t > max {
			max = t
		}
	}
	return max
}

// DataClass is the ordered sensitivity classification of a resource.
type DataClass int

const (
	DataPublic DataClass = iota
	DataInternal
	DataConfidential
	DataRestricted
)

var dataClassNames = [...]string{"public", "internal", "confidential", "restricted"}

func (c DataClass) String() string {
	if c < DataPublic || c > DataRestricted {
		return "unknown"
	}
	return dataClassNames[c]
}

// ParseDataClass parses a data classification name.
func ParseDataClass(s string) (DataClass, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for i, name := range dataClassNames {
		if s == name {
			return DataClass(i), nil
		}
	}
	return DataPublic, fmt.Errorf("unknown data class %q", s)
}

func (c DataClass) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *DataClass) UnmarshalText(b []byte) error {
	v, err := ParseDataClass(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// AtLeast reports whether c is as sensitive as other or more.
func (c DataClass) AtLeast(other DataClass) bool { return c >= other }

// OperationType distinguishes reads from writes.
type OperationType string

const (
	OperationRead  OperationType = "read"
	OperationWrite OperationType = "write"
)

// Channel identifies where an evaluation request originated.
type Channel string

const (
	ChannelUI    Channel = "ui"
	ChannelAPI   Channel = "api"
	ChannelBatch Channel = "batch"
	ChannelAgent Channel = "agent"
)

// ResourceType is the closed set of resource kinds the engine evaluates.
type ResourceType string

const (
	ResourceUnknown   ResourceType = ""
	ResourceVehicle   ResourceType = "vehicle"
	ResourceDriver    ResourceType = "driver"
	ResourceBooking   ResourceType = "booking"
	ResourceIncident  ResourceType = "incident"
	ResourceFinancial ResourceType = "financial"
	ResourceUser      ResourceType = "user"
	ResourceReport    ResourceType = "report"
)

// ParseResourceType returns ResourceUnknown and false for unknown values.
func ParseResourceType(s string) (ResourceType, bool) {
	switch t := ResourceType(strings.TrimSpace(strings.ToLower(s))); t {
	case ResourceVehicle, ResourceDriver, ResourceBooking, ResourceIncident,
		ResourceFinancial, ResourceUser, ResourceReport:
		return t, true
	}
	return ResourceUnknown, false
}

// Valid reports whether t is a known resource type.
func (t ResourceType) Valid() bool {
	_, ok := ParseResourceType(string(t))
	return ok
}

// OwnershipType classifies who owns a fleet vehicle.
type OwnershipType string

const (
	OwnershipUnknown  OwnershipType = ""
	OwnershipXpress   OwnershipType = "xpress_owned"
	OwnershipFleet    OwnershipType = "fleet_owned"
	OwnershipOperator OwnershipType = "operator_owned"
	OwnershipDriver   OwnershipType = "driver_owned"
)

// ParseOwnershipType returns OwnershipUnknown and false for unknown values.
func ParseOwnershipType(s string) (OwnershipType, bool) {
	switch o := OwnershipType(strings.TrimSpace(strings.ToLower(s))); o {
	case OwnershipXpress, OwnershipFleet, OwnershipOperator, OwnershipDriver:
		return o, true
	}
	return OwnershipUnknown, false
}

// Valid reports whether o is a known ownership type.
func (o OwnershipType) Valid() bool {
	_, ok := ParseOwnershipType(string(o))
	return ok
}

// OwnershipAccessLevel is the depth of vehicle data a caller may see.
type OwnershipAccessLevel string

const (
	AccessBasic     OwnershipAccessLevel = "basic"
	AccessLimited   OwnershipAccessLevel = "limited"
	AccessDetailed  OwnershipAccessLevel = "detailed"
	AccessFinancial OwnershipAccessLevel = "financial"
	AccessFull      OwnershipAccessLevel = "full"
)
