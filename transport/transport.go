// Package transport defines the optional boundary the Bus can use to
// carry its routed events across process boundaries (§6.5), so two
// EmulatorBus instances in separate processes can still talk to each
// other — the in-process mailbox stays the default, this is strictly
// opt-in.
package transport

// Variant names the kind of event an Envelope carries. Named after
// the Bus operations that produce them.
type Variant string

const (
	VariantDiscovered         Variant = "discovered"
	VariantConnected          Variant = "connected"
	VariantDisconnected       Variant = "disconnected"
	VariantServiceList        Variant = "service_list"
	VariantReadRequest        Variant = "read_request"
	VariantReadResponse       Variant = "read_response"
	VariantWriteRequest       Variant = "write_request"
	VariantWriteResponse      Variant = "write_response"
	VariantSubscriptionChange Variant = "subscription_change"
	VariantNotification       Variant = "notification"
	VariantMTUUpdate          Variant = "mtu_update"
)

// Envelope is the unit of exchange over a Transport.
type Envelope struct {
	TargetID string
	Variant  Variant
	Payload  []byte
}

// Transport is the cross-process boundary a Bus can be attached to.
// Handler is invoked once per received Envelope, on a goroutine owned
// by the Transport implementation. bus.New stores a Transport but the
// Bus itself neither starts it nor sends through it.
type Transport interface {
	Start(selfID string, handler func(Envelope)) error
	Send(env Envelope) error
	Stop() error
}
