package config

import "testing"

func TestInstantHasNoDelaysOrFailures(t *testing.T) {
	s := Instant()
	if s.MinConnectionDelay != 0 || s.MaxConnectionDelay != 0 {
		t.Errorf("Instant should have zero connection delay, got %v/%v", s.MinConnectionDelay, s.MaxConnectionDelay)
	}
	if s.ConnectionFailureRate != 0 || s.PacketLossRate != 0 {
		t.Errorf("Instant should have zero failure rates")
	}
	if !s.Deterministic {
		t.Errorf("Instant should be deterministic")
	}
}

func TestDefaultIsRealistic(t *testing.T) {
	s := Default()
	if s.ConnectionFailureRate <= 0 || s.ConnectionFailureRate >= 1 {
		t.Errorf("expected a small nonzero failure rate, got %v", s.ConnectionFailureRate)
	}
	if s.MinMTU > s.DefaultMTU || s.DefaultMTU > s.MaxMTU {
		t.Errorf("MTU bounds out of order: %d/%d/%d", s.MinMTU, s.DefaultMTU, s.MaxMTU)
	}
}

func TestUnreliableIsMoreLossyThanDefault(t *testing.T) {
	if Unreliable().PacketLossRate <= Default().PacketLossRate {
		t.Errorf("Unreliable should be lossier than Default")
	}
	if Unreliable().ReadWriteErrorRate <= Default().ReadWriteErrorRate {
		t.Errorf("Unreliable should inject more read/write errors than Default")
	}
}

func TestSlowHasTighterBackpressureCapThanDefault(t *testing.T) {
	if Slow().MaxWriteWithoutResponseQueue >= Default().MaxWriteWithoutResponseQueue {
		t.Errorf("Slow should cap write-without-response queue tighter than Default")
	}
	if Slow().MaxNotificationQueue >= Default().MaxNotificationQueue {
		t.Errorf("Slow should cap notification queue tighter than Default")
	}
}
