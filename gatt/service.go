package gatt

import (
	"github.com/google/uuid"
	"github.com/user/blebus/bleuuid"
)

// Descriptor is a GATT descriptor definition, value-object-only — it
// carries no back-reference, since the only thing that ever looks up
// a descriptor is "give me the descriptor at this handle."
type Descriptor struct {
	UUID  bleuuid.UUID
	Value []byte
}

// Characteristic is a high-level GATT characteristic definition. ID
// is an opaque arena key (not a pointer) so callers can safely hold
// on to it across Bus operations without worrying about the owning
// Service being copied or reallocated — the §9 "arena + ID" strategy
// for cyclic back-references.
type Characteristic struct {
	ID          string
	ServiceID   string
	UUID        bleuuid.UUID
	Properties  Properties
	Value       []byte
	Descriptors []Descriptor
}

// Service is a high-level GATT service definition.
type Service struct {
	ID              string
	UUID            bleuuid.UUID
	Primary         bool
	Characteristics []Characteristic
}

func newArenaID() string { return uuid.NewString() }

// NewService starts a builder for a primary or secondary service.
func NewService(serviceUUID bleuuid.UUID, primary bool) *Service {
	return &Service{ID: newArenaID(), UUID: serviceUUID, Primary: primary}
}

// AddCharacteristic appends a characteristic to the service and
// returns it (with its ID and ServiceID populated) so callers can
// chain further configuration, e.g. adding descriptors.
func (s *Service) AddCharacteristic(charUUID bleuuid.UUID, props Properties, initialValue []byte) *Characteristic {
	c := Characteristic{
		ID:         newArenaID(),
		ServiceID:  s.ID,
		UUID:       charUUID,
		Properties: props,
		Value:      append([]byte{}, initialValue...),
	}
	s.Characteristics = append(s.Characteristics, c)
	return &s.Characteristics[len(s.Characteristics)-1]
}

// AddDescriptor appends a descriptor to the characteristic this
// Service holds with the given ID; it does nothing if there is none.
func (s *Service) AddDescriptor(charID string, descUUID bleuuid.UUID, value []byte) {
	for i := range s.Characteristics {
		if s.Characteristics[i].ID == charID {
			s.Characteristics[i].Descriptors = append(s.Characteristics[i].Descriptors, Descriptor{
				UUID:  descUUID,
				Value: append([]byte{}, value...),
			})
			return
		}
	}
}

// NewGenericAccessService builds the mandatory Generic Access service
// (0x1800), matching teacher wire/gatt/service_builder.go.
func NewGenericAccessService(deviceName string, appearance uint16) *Service {
	s := NewService(bleuuid.From16(0x1800), true)
	s.AddCharacteristic(bleuuid.From16(0x2A00), PropRead, []byte(deviceName))
	s.AddCharacteristic(bleuuid.From16(0x2A01), PropRead, []byte{byte(appearance), byte(appearance >> 8)})
	return s
}

// NewGenericAttributeService builds the mandatory Generic Attribute
// service (0x1801).
func NewGenericAttributeService() *Service {
	s := NewService(bleuuid.From16(0x1801), true)
	s.AddCharacteristic(bleuuid.From16(0x2A05), PropIndicate, []byte{0x00, 0x00, 0x00, 0x00})
	return s
}

// ServiceHandles records the handle range and per-characteristic
// value handle assigned when a Service is built into a Database.
type ServiceHandles struct {
	ServiceHandle Handle
	StartHandle   Handle
	EndHandle     Handle
	CharHandles   map[string]Handle // characteristic ID -> value handle
	CCCDHandles   map[string]Handle // characteristic ID -> CCCD descriptor handle, if any
}

// buildService adds a Service and its characteristics/descriptors to db,
// automatically appending a CCCD descriptor to any notify/indicate
// characteristic that wasn't given one explicitly (Open Question #2
// in DESIGN.md). Returns the handle bookkeeping the Bus needs to
// translate characteristic/descriptor IDs into ATT handles.
func buildService(db *Database, s *Service) *ServiceHandles {
	info := &ServiceHandles{
		CharHandles: make(map[string]Handle),
		CCCDHandles: make(map[string]Handle),
	}

	serviceType := UUIDSecondaryService
	if s.Primary {
		serviceType = UUIDPrimaryService
	}
	info.ServiceHandle = db.Add(serviceType, s.UUID.Bytes(), PermReadable)
	info.StartHandle = info.ServiceHandle

	for _, c := range s.Characteristics {
		declValue := make([]byte, 3+len(c.UUID.Bytes()))
		declValue[0] = byte(c.Properties)
		nextHandle := db.nextHandle + 1
		declValue[1] = byte(nextHandle)
		declValue[2] = byte(nextHandle >> 8)
		copy(declValue[3:], c.UUID.Bytes())
		db.Add(UUIDCharacteristic, declValue, PermReadable)

		perms := permissionsFor(c.Properties)
		valueHandle := db.Add(c.UUID, c.Value, perms)
		info.CharHandles[c.ID] = valueHandle

		hasCCCD := false
		for _, d := range c.Descriptors {
			h := db.Add(d.UUID, d.Value, PermReadable|PermWritable)
			if d.UUID.Equal(UUIDClientCharacteristicConfig) {
				info.CCCDHandles[c.ID] = h
				hasCCCD = true
			}
		}
		if !hasCCCD && c.Properties.Has(PropNotify|PropIndicate) {
			h := db.Add(UUIDClientCharacteristicConfig, []byte{0x00, 0x00}, PermReadable|PermWritable)
			info.CCCDHandles[c.ID] = h
		}
	}

	info.EndHandle = db.nextHandle - 1
	return info
}

func permissionsFor(props Properties) Permissions {
	var perms Permissions
	if props.Has(PropRead) {
		perms |= PermReadable
	}
	if props.Has(PropWrite | PropWriteWithoutResponse) {
		perms |= PermWritable
	}
	return perms
}

// BuildDatabase converts a set of high-level Service definitions into
// an attribute Database plus the per-service handle bookkeeping,
// generalizing the teacher's BuildAttributeDatabase from []Service
// keyed by slice index to services keyed by their arena ID.
func BuildDatabase(services []*Service) (*Database, map[string]*ServiceHandles) {
	db := NewDatabase()
	byServiceID := make(map[string]*ServiceHandles, len(services))
	for _, s := range services {
		byServiceID[s.ID] = buildService(db, s)
	}
	return db, byServiceID
}
