// Package gatt models the GATT attribute table: services,
// characteristics, descriptors, and the handle-indexed database that
// backs attribute read/write/notify operations.
package gatt

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/user/blebus/atterr"
	"github.com/user/blebus/bleuuid"
)

// Well-known GATT declaration/descriptor UUIDs, grounded on the
// teacher's wire/gatt/handles.go table.
var (
	UUIDPrimaryService   = bleuuid.From16(0x2800)
	UUIDSecondaryService = bleuuid.From16(0x2801)
	UUIDInclude          = bleuuid.From16(0x2802)
	UUIDCharacteristic   = bleuuid.From16(0x2803)

	UUIDCharExtProps               = bleuuid.From16(0x2900)
	UUIDCharUserDescription        = bleuuid.From16(0x2901)
	UUIDClientCharacteristicConfig = bleuuid.From16(0x2902) // CCCD
	UUIDServerCharacteristicConfig = bleuuid.From16(0x2903)
	UUIDCharPresentationFormat     = bleuuid.From16(0x2904)
	UUIDCharAggregateFormat        = bleuuid.From16(0x2905)
)

// Characteristic properties (bitmask), transmitted over the air.
type Properties uint8

const (
	PropBroadcast                 Properties = 0x01
	PropRead                      Properties = 0x02
	PropWriteWithoutResponse      Properties = 0x04
	PropWrite                     Properties = 0x08
	PropNotify                    Properties = 0x10
	PropIndicate                  Properties = 0x20
	PropAuthenticatedSignedWrites Properties = 0x40
	PropExtendedProperties        Properties = 0x80
)

func (p Properties) Has(flag Properties) bool { return p&flag != 0 }

// Attribute permissions — server-side only, never transmitted.
type Permissions uint8

const (
	PermReadable     Permissions = 0x01
	PermWritable     Permissions = 0x02
	PermReadEncrypt  Permissions = 0x04
	PermWriteEncrypt Permissions = 0x08
)

func (p Permissions) Has(flag Permissions) bool { return p&flag != 0 }

// Handle is an ATT attribute handle, 1-based; 0 is reserved/invalid.
type Handle uint16

// Attribute is a single row of the flat GATT attribute table.
type Attribute struct {
	Handle      Handle
	Type        bleuuid.UUID
	Value       []byte
	Permissions Permissions
}

// Database manages the GATT attribute table with handle-based access,
// generalized from the teacher's wire/gatt/handles.go
// AttributeDatabase to use bleuuid.UUID instead of raw byte slices.
type Database struct {
	mu         sync.RWMutex
	attributes map[Handle]*Attribute
	nextHandle Handle
}

// NewDatabase creates an empty attribute database.
func NewDatabase() *Database {
	return &Database{
		attributes: make(map[Handle]*Attribute),
		nextHandle: 0x0001,
	}
}

// Add adds an attribute and assigns it the next handle.
func (db *Database) Add(attrType bleuuid.UUID, value []byte, perms Permissions) Handle {
	db.mu.Lock()
	defer db.mu.Unlock()

	h := db.nextHandle
	db.nextHandle++

	db.attributes[h] = &Attribute{
		Handle:      h,
		Type:        attrType,
		Value:       append([]byte{}, value...),
		Permissions: perms,
	}
	return h
}

// Get retrieves a copy of an attribute by handle.
func (db *Database) Get(h Handle) (*Attribute, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	attr, ok := db.attributes[h]
	if !ok {
		return nil, errors.Wrapf(atterr.NewATTError(atterr.ATTInvalidHandle, uint16(h)), "handle 0x%04X", h)
	}
	return &Attribute{
		Handle:      attr.Handle,
		Type:        attr.Type,
		Value:       append([]byte{}, attr.Value...),
		Permissions: attr.Permissions,
	}, nil
}

// SetValue updates an attribute's value in place.
func (db *Database) SetValue(h Handle, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	attr, ok := db.attributes[h]
	if !ok {
		return errors.Wrapf(atterr.NewATTError(atterr.ATTInvalidHandle, uint16(h)), "handle 0x%04X", h)
	}
	attr.Value = append([]byte{}, value...)
	return nil
}

// FindByType returns all handles in [start, end] whose type matches.
func (db *Database) FindByType(start, end Handle, attrType bleuuid.UUID) []Handle {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var handles []Handle
	for h := start; h <= end && h < db.nextHandle; h++ {
		if attr, ok := db.attributes[h]; ok && attr.Type.Equal(attrType) {
			handles = append(handles, h)
		}
	}
	return handles
}

// AllHandles returns every allocated handle, in ascending order.
func (db *Database) AllHandles() []Handle {
	db.mu.RLock()
	defer db.mu.RUnlock()

	handles := make([]Handle, 0, len(db.attributes))
	for h := Handle(0x0001); h < db.nextHandle; h++ {
		if _, ok := db.attributes[h]; ok {
			handles = append(handles, h)
		}
	}
	return handles
}

// Count returns the number of attributes in the database.
func (db *Database) Count() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.attributes)
}
