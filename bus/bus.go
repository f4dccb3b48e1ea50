// Package bus implements EmulatorBus, the single actor that holds
// every piece of shared BLE state — registered managers, discovered
// peripherals, connections, GATT databases, subscriptions — and
// serializes all operations against it through one mailbox goroutine,
// generalizing the teacher's mutex-guarded wire.Wire into a strict
// single-writer actor (§5).
package bus

import (
	"math/rand"
	"net"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/user/blebus/adv"
	"github.com/user/blebus/atterr"
	"github.com/user/blebus/bleuuid"
	"github.com/user/blebus/config"
	"github.com/user/blebus/gatt"
	"github.com/user/blebus/logger"
	"github.com/user/blebus/restore"
	"github.com/user/blebus/transport"
)

// Role is which side of a connection a registered manager plays.
type Role int

const (
	RoleCentral Role = iota
	RolePeripheral
)

// connState mirrors teacher wire.ConnectionState, tracked per ordered
// (centralID, peripheralID) pair.
type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
	stateDisconnecting
)

type connection struct {
	centralID    string
	peripheralID string
	state        connState
	mtu          int
	connectedAt  time.Time
}

func connKey(centralID, peripheralID string) string { return centralID + "->" + peripheralID }

// ScanOptions mirrors the scan-call options a central passes to
// start_scanning: whether it wants every advertisement delivered
// (duplicates allowed) or just the first per peripheral, and which
// solicited-service-UUID filter (if any) to apply (§3, §4.2.2).
type ScanOptions struct {
	AllowDuplicates       bool
	SolicitedServiceUUIDs []bleuuid.UUID
}

// ConnectionEventOptions is the options map
// registerForConnectionEvents(options) accepts. Empty today — the Bus
// fires both peerConnected and peerDisconnected regardless — but kept
// as a named type rather than a bare bool so a future option doesn't
// need a signature change.
type ConnectionEventOptions struct{}

// peripheralRecord is everything the Bus knows about a registered
// peripheral manager: its GATT database, advertising record, and the
// callbacks its façade installed to learn about incoming requests.
type peripheralRecord struct {
	id          string
	db          *gatt.Database
	services    []*gatt.Service
	handles     map[string]*gatt.ServiceHandles // service ID -> handle bookkeeping
	subs        *gatt.SubscriptionRegistry
	advertising bool
	advRecord   adv.Record
	connectable bool

	subscribeCB func(centralID, charID string, subscribed bool)
	readCB      func(centralID, charID string)
	writeCB     func(centralID, charID string, value []byte)
	readyCB     func() // notification back-pressure drain, fired per cap->cap-1 transition
	ancsCB      func(centralID string, authorized bool)

	l2capPSMs  map[uint16]bool
	l2capOpenCB func(centralID string, psm uint16, conn net.Conn)
}

// centralRecord is everything the Bus knows about a registered
// central manager: its active scan and discovered-peripheral cache.
type centralRecord struct {
	id           string
	scanning     bool
	scanFilter   []bleuuid.UUID
	scanOptions  ScanOptions
	discovered   map[string]adv.Record // peripheralID -> last seen record
	delivered    mapset.Set            // peripheralIDs already delivered this scan session
	connected    mapset.Set            // peripheralIDs
	discoverCB   func(peripheralID string, record adv.Record, rssi int)
	connectCB    func(peripheralID string)
	failCB       func(peripheralID string, err error)
	disconnectCB func(peripheralID string, err error)
	wwrReadyCB   func(peripheralID string) // write-without-response back-pressure drain

	connectionEventsRegistered bool
	connectionEventOptions     ConnectionEventOptions
	connectionEventCB          func(peripheralID string, connected bool)

	ancsAuthorized bool
}

// pairingState tracks the simulated (non-cryptographic) pairing set.
type pairingState struct {
	paired mapset.Set // "centralID|peripheralID" pairs
}

// Bus is the EmulatorBus core. Every exported method packages its
// work as a closure, sends it to the mailbox, and blocks on a
// completion channel — Bus itself never takes a lock, satisfying the
// "at most one operation executes at a time" requirement the
// teacher's RWMutex-guarded Wire only approximated.
type Bus struct {
	cfg config.Snapshot
	rng *rand.Rand

	mailbox chan func()
	closed  chan struct{}

	peripherals  map[string]*peripheralRecord
	centrals     map[string]*centralRecord
	connections  map[string]*connection // connKey -> connection
	pairing      *pairingState
	restoreStore restore.Store
	transport    transport.Transport

	tasks map[string]chan struct{} // named cancellable background tasks

	wwrCounters    map[string]int // (centralID,peripheralID) key -> outstanding write-without-response count
	notifyCounters map[string]int // (peripheralID,charID) key -> outstanding notification count

	nextL2CAPPSM uint16
}

// New creates a Bus with the given configuration. If store is nil, an
// in-memory restore.MemoryStore is used. tp may be nil; a non-nil tp is
// stored on the Bus, but no Bus operation sends or receives through it.
func New(cfg config.Snapshot, store restore.Store, tp transport.Transport) *Bus {
	var rng *rand.Rand
	if cfg.Deterministic {
		rng = rand.New(rand.NewSource(cfg.Seed))
	} else {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if store == nil {
		store = restore.NewMemoryStore()
	}

	b := &Bus{
		cfg:            cfg,
		rng:            rng,
		mailbox:        make(chan func(), 256),
		closed:         make(chan struct{}),
		peripherals:    make(map[string]*peripheralRecord),
		centrals:       make(map[string]*centralRecord),
		connections:    make(map[string]*connection),
		pairing:        &pairingState{paired: mapset.NewSet()},
		restoreStore:   store,
		transport:      tp,
		tasks:          make(map[string]chan struct{}),
		wwrCounters:    make(map[string]int),
		notifyCounters: make(map[string]int),
		nextL2CAPPSM:   0x0080, // first dynamic PSM in the BLE L2CAP range
	}
	go b.run()
	return b
}

func (b *Bus) run() {
	for {
		select {
		case fn := <-b.mailbox:
			fn()
		case <-b.closed:
			return
		}
	}
}

// do submits fn to the mailbox and blocks until it has run, returning
// whatever error fn produced. Every public Bus method is built on
// this.
func (b *Bus) do(fn func() error) error {
	done := make(chan error, 1)
	select {
	case b.mailbox <- func() { done <- fn() }:
	case <-b.closed:
		return errors.WithStack(atterr.ErrNotConnected)
	}
	select {
	case err := <-done:
		return err
	case <-b.closed:
		return errors.WithStack(atterr.ErrNotConnected)
	}
}

// doAsync submits fn to the mailbox without waiting for completion —
// used by background tasks and one-shot drain timers that must not
// block their own timer goroutine on the actor.
func (b *Bus) doAsync(fn func()) {
	select {
	case b.mailbox <- fn:
	case <-b.closed:
	}
}

// GetConfiguration returns the Snapshot the Bus was constructed with,
// matching C5's configure/getConfiguration pair (§6.1) on the read
// side — configuration is otherwise immutable for the Bus's lifetime.
func (b *Bus) GetConfiguration() config.Snapshot {
	return b.cfg
}

// GetAllCentrals returns every currently registered central ID, and
// GetAllPeripherals every currently registered peripheral ID (§6.1).
func (b *Bus) GetAllCentrals() []string {
	var out []string
	b.do(func() error {
		for id := range b.centrals {
			out = append(out, id)
		}
		return nil
	})
	return out
}

func (b *Bus) GetAllPeripherals() []string {
	var out []string
	b.do(func() error {
		for id := range b.peripherals {
			out = append(out, id)
		}
		return nil
	})
	return out
}

// Reset cancels every registered background task (scan and advertising
// loops) and clears all connection state, matching §4.2.12 reset
// semantics. Back-pressure drain timers are not registered tasks and are
// not cancelled: any already scheduled still fire, find the cleared
// counters, and do nothing. Registered managers and their
// GATT databases are preserved; only transient/connection state is
// cleared.
func (b *Bus) Reset() error {
	return b.do(func() error {
		for name, stop := range b.tasks {
			close(stop)
			delete(b.tasks, name)
		}
		b.connections = make(map[string]*connection)
		b.wwrCounters = make(map[string]int)
		b.notifyCounters = make(map[string]int)
		b.pairing.paired = mapset.NewSet()
		for _, c := range b.centrals {
			c.scanning = false
			c.discovered = make(map[string]adv.Record)
			c.delivered = mapset.NewSet()
			c.connected = mapset.NewSet()
		}
		for _, p := range b.peripherals {
			p.advertising = false
			p.subs = gatt.NewSubscriptionRegistry()
		}
		return nil
	})
}

// Close stops the actor goroutine and every background task. The Bus
// must not be used afterward.
func (b *Bus) Close() error {
	err := b.Reset()
	close(b.closed)
	return err
}

func (b *Bus) registerTask(name string, stop chan struct{}) {
	if old, ok := b.tasks[name]; ok {
		close(old)
	}
	b.tasks[name] = stop
}

func (b *Bus) cancelTask(name string) {
	if stop, ok := b.tasks[name]; ok {
		close(stop)
		delete(b.tasks, name)
	}
}

func newID() string { return uuid.NewString() }

func (b *Bus) log(tag, format string, args ...interface{}) {
	logger.Debug(tag, format, args...)
}
