package events

import (
	"context"
	"errors"
	"testing"

	"github.com/morezero/vault-ipc/pkg/wire"
)

type recordingSender struct {
	sent []*wire.Message
	fail map[string]error
}

func (s *recordingSender) Send(msg *wire.Message) error {
	if err := s.fail[msg.Target]; err != nil {
		return err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func TestNoOpNotifier(t *testing.T) {
	n := &NoOpNotifier{}
	if err := n.NotifyReady(context.Background(), &ReadyEvent{Tag: "wallet"}); err != nil {
		t.Errorf("events:notifier_test - expected no error, got %v", err)
	}
}

func TestCallbackNotifier(t *testing.T) {
	var captured *ReadyEvent
	n := NewCallbackNotifier(func(_ context.Context, event *ReadyEvent) error {
		captured = event
		return nil
	})

	event := &ReadyEvent{Tag: "wallet", Identity: "vault://enclave", Version: "1.2.0", Timestamp: "2025-01-01T00:00:00Z"}
	if err := n.NotifyReady(context.Background(), event); err != nil {
		t.Errorf("events:notifier_test - expected no error, got %v", err)
	}
	if captured == nil {
		t.Fatal("events:notifier_test - expected callback to be called")
	}
	if captured.Tag != "wallet" || captured.Version != "1.2.0" {
		t.Errorf("events:notifier_test - captured = %+v", captured)
	}
}

func TestPeerNotifier_SendsReadyEnvelopeToEachTarget(t *testing.T) {
	sender := &recordingSender{}
	n := NewPeerNotifier(sender, "vault://app", "vault://other")

	if err := n.NotifyReady(context.Background(), &ReadyEvent{Tag: "wallet", Identity: "vault://enclave"}); err != nil {
		t.Fatalf("events:notifier_test - NotifyReady: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("events:notifier_test - sent %d envelopes, want 2", len(sender.sent))
	}
	for i, target := range []string{"vault://app", "vault://other"} {
		msg := sender.sent[i]
		if msg.Target != target {
			t.Errorf("events:notifier_test - sent[%d].Target = %q, want %q", i, msg.Target, target)
		}
		if !msg.IsReady() || msg.ReadyOrigin() != "vault://enclave" {
			t.Errorf("events:notifier_test - sent[%d] is not a ready envelope from vault://enclave: %+v", i, msg)
		}
	}
}

func TestPeerNotifier_TriesAllTargetsAndCombinesErrors(t *testing.T) {
	failure := errors.New("unreachable")
	sender := &recordingSender{fail: map[string]error{"vault://app": failure}}
	n := NewPeerNotifier(sender, "vault://app", "vault://other")

	err := n.NotifyReady(context.Background(), &ReadyEvent{Tag: "wallet", Identity: "vault://enclave"})
	if !errors.Is(err, failure) {
		t.Errorf("events:notifier_test - err = %v, want %v", err, failure)
	}
	if len(sender.sent) != 1 || sender.sent[0].Target != "vault://other" {
		t.Errorf("events:notifier_test - expected the second target to still be notified, sent = %v", sender.sent)
	}
}
