// Package config carries the immutable simulation parameters that
// shape how realistic the Bus behaves: timing, MTU bounds, RSSI,
// error-injection rates, back-pressure caps, scan-option honoring,
// and which optional protocol features (pairing, restoration,
// connection events, ANCS) are turned on.
package config

import "time"

// Snapshot is passed to bus.New and never mutated afterward — every
// Bus operation that needs timing or failure-rate parameters reads
// from the same immutable value, matching how the teacher's
// SimulationConfig is handed to NewSimulator once at construction.
type Snapshot struct {
	// MTU bounds (bytes).
	MinMTU     int
	MaxMTU     int
	DefaultMTU int

	// Connection establishment timing.
	MinConnectionDelay   time.Duration
	MaxConnectionDelay   time.Duration
	ConnectionFailureRate float64

	// Discovery/advertising timing.
	AdvertisingInterval        time.Duration
	MinDiscoveryDelay          time.Duration
	MaxDiscoveryDelay          time.Duration
	ServiceDiscoveryDelay      time.Duration
	CharacteristicDiscoveryDelay time.Duration
	DescriptorDiscoveryDelay    time.Duration

	// Scan-option honoring: whether a scan call's own options are
	// allowed to affect matching at all. When false, the corresponding
	// option is ignored and the conservative (no-duplicates,
	// no-solicited-filter) behavior applies regardless of what the
	// caller asked for.
	ScanHonorAllowDuplicates        bool
	ScanHonorSolicitedServiceUUIDs  bool

	// Radio model.
	EnableRSSI   bool
	BaseRSSI     int
	RSSIVariance int

	// Link-layer reliability.
	PacketLossRate float64
	MaxRetries     int
	RetryDelay     time.Duration

	DisconnectingDelay time.Duration
	StateUpdateDelay   time.Duration

	// Attribute-operation timing and error injection.
	ReadDelay             time.Duration
	WriteDelay            time.Duration
	NotificationDelay     time.Duration
	SimulateReadWriteErrors bool
	ReadWriteErrorRate    float64

	// Back-pressure, modeled as a single counter per
	// (central,peripheral) for write-without-response and a single
	// counter per (peripheral,characteristic) for notifications, each
	// capped and drained by a one-shot timer after
	// BackpressureProcessingDelay — matching §4.2.6/§4.2.8's "enqueue,
	// schedule one drain, fire ready on cap→cap-1" shape rather than a
	// periodic sweep.
	SimulateBackpressure         bool
	MaxWriteWithoutResponseQueue int
	MaxNotificationQueue         int
	BackpressureProcessingDelay  time.Duration

	// Pairing/security. Non-goal: no real cryptography is performed;
	// these only gate whether the pairing handshake simulated in bus
	// runs at all and how long it takes.
	RequirePairingForEncryptedAttributes bool
	SimulatePairing                      bool
	PairingDelay                         time.Duration
	PairingFailureRate                   float64

	// Restoration.
	RestorationEnabled bool

	// Connection events and ANCS authorization (§4.2.10).
	EmitConnectionEvents          bool
	FireANCSAuthorizationUpdates  bool

	// When true, the Bus fills in the tx-power-level and is-connectable
	// fields when an application didn't set them explicitly, the way iOS
	// synthesizes some advertisement keys.
	AutoGenerateAdvertisementFields bool

	// Deterministic mode for reproducible test scenarios.
	Deterministic bool
	Seed          int64
}

// Default returns realistic BLE simulation parameters: occasional
// connection failures, small packet loss, non-zero delays. Mirrors
// the teacher's DefaultSimulationConfig profile.
func Default() Snapshot {
	return Snapshot{
		MinMTU:     23,
		MaxMTU:     512,
		DefaultMTU: 185,

		MinConnectionDelay:   30 * time.Millisecond,
		MaxConnectionDelay:   100 * time.Millisecond,
		ConnectionFailureRate: 0.016,

		AdvertisingInterval:          100 * time.Millisecond,
		MinDiscoveryDelay:            100 * time.Millisecond,
		MaxDiscoveryDelay:            1000 * time.Millisecond,
		ServiceDiscoveryDelay:        20 * time.Millisecond,
		CharacteristicDiscoveryDelay: 20 * time.Millisecond,
		DescriptorDiscoveryDelay:     20 * time.Millisecond,

		ScanHonorAllowDuplicates:       true,
		ScanHonorSolicitedServiceUUIDs: true,

		EnableRSSI:   true,
		BaseRSSI:     -50,
		RSSIVariance: 10,

		PacketLossRate: 0.015,
		MaxRetries:     3,
		RetryDelay:     50 * time.Millisecond,

		DisconnectingDelay: 20 * time.Millisecond,
		StateUpdateDelay:   10 * time.Millisecond,

		ReadDelay:               10 * time.Millisecond,
		WriteDelay:              10 * time.Millisecond,
		NotificationDelay:       10 * time.Millisecond,
		SimulateReadWriteErrors: true,
		ReadWriteErrorRate:      0.01,

		SimulateBackpressure:         true,
		MaxWriteWithoutResponseQueue: 32,
		MaxNotificationQueue:         8,
		BackpressureProcessingDelay:  100 * time.Millisecond,

		RequirePairingForEncryptedAttributes: true,
		SimulatePairing:                      true,
		PairingDelay:                         150 * time.Millisecond,
		PairingFailureRate:                   0.01,

		RestorationEnabled: false,

		EmitConnectionEvents:         true,
		FireANCSAuthorizationUpdates: true,

		AutoGenerateAdvertisementFields: true,

		Deterministic: false,
	}
}

// Instant is Default with every failure rate and the connection,
// discovery, disconnect, state-update, read, write, notification and
// pairing delays zeroed out, a 1ms back-pressure drain delay, and
// deterministic randomness — for tests that want immediate behavior.
// AdvertisingInterval, RetryDelay and the back-pressure and pairing
// switches keep their Default values. Mirrors the
// teacher's PerfectSimulationConfig.
func Instant() Snapshot {
	s := Default()
	s.MinConnectionDelay = 0
	s.MaxConnectionDelay = 0
	s.ConnectionFailureRate = 0
	s.MinDiscoveryDelay = 0
	s.MaxDiscoveryDelay = 0
	s.ServiceDiscoveryDelay = 0
	s.CharacteristicDiscoveryDelay = 0
	s.DescriptorDiscoveryDelay = 0
	s.PacketLossRate = 0
	s.DisconnectingDelay = 0
	s.StateUpdateDelay = 0
	s.ReadDelay = 0
	s.WriteDelay = 0
	s.NotificationDelay = 0
	s.SimulateReadWriteErrors = false
	s.ReadWriteErrorRate = 0
	s.PairingDelay = 0
	s.PairingFailureRate = 0
	s.BackpressureProcessingDelay = time.Millisecond
	s.Deterministic = true
	return s
}

// Slow exaggerates timing (long discovery, long connection setup, a
// small MTU, and a tight back-pressure cap) without introducing extra
// failures — for exercising timeout and back-pressure paths.
func Slow() Snapshot {
	s := Default()
	s.MinConnectionDelay = 400 * time.Millisecond
	s.MaxConnectionDelay = 1200 * time.Millisecond
	s.MinDiscoveryDelay = 800 * time.Millisecond
	s.MaxDiscoveryDelay = 3000 * time.Millisecond
	s.ServiceDiscoveryDelay = 300 * time.Millisecond
	s.CharacteristicDiscoveryDelay = 300 * time.Millisecond
	s.DescriptorDiscoveryDelay = 300 * time.Millisecond
	s.ReadDelay = 150 * time.Millisecond
	s.WriteDelay = 150 * time.Millisecond
	s.NotificationDelay = 150 * time.Millisecond
	s.MaxMTU = 64
	s.DefaultMTU = 23
	s.MaxWriteWithoutResponseQueue = 3
	s.MaxNotificationQueue = 3
	s.BackpressureProcessingDelay = 300 * time.Millisecond
	return s
}

// Unreliable exaggerates failure and packet-loss rates without
// changing timing — for exercising retry and error-propagation paths.
func Unreliable() Snapshot {
	s := Default()
	s.ConnectionFailureRate = 0.35
	s.PacketLossRate = 0.25
	s.PairingFailureRate = 0.2
	s.ReadWriteErrorRate = 0.3
	s.MaxRetries = 1
	return s
}
