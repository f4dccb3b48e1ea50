package transport

import (
	"testing"
	"time"
)

func TestUnixSocketTransportRoundTrip(t *testing.T) {
	dir := t.TempDir()

	received := make(chan Envelope, 1)
	serverTransport := NewUnixSocketTransport(dir)
	if err := serverTransport.Start("server-id", func(env Envelope) {
		received <- env
	}); err != nil {
		t.Fatalf("Start server: %v", err)
	}
	defer serverTransport.Stop()

	clientTransport := NewUnixSocketTransport(dir)
	if err := clientTransport.Start("client-id", func(Envelope) {}); err != nil {
		t.Fatalf("Start client: %v", err)
	}
	defer clientTransport.Stop()

	env := Envelope{TargetID: "server-id", Variant: VariantNotification, Payload: []byte("hello")}
	if err := clientTransport.Send(env); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if got.Variant != VariantNotification || string(got.Payload) != "hello" {
			t.Errorf("unexpected envelope: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}
