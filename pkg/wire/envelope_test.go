package wire

import (
	"encoding/json"
	"testing"
)

func TestMessage_Shapes(t *testing.T) {
	errText := "boom"
	tests := []struct {
		name         string
		raw          string
		wantRequest  bool
		wantResponse bool
		wantReady    bool
	}{
		{
			name:        "request",
			raw:         `{"target":"vault://wallet","payload":{"call":"sum","args":[1,2],"tag":"wallet"},"callback":"callback-a-0"}`,
			wantRequest: true,
		},
		{
			name:         "result response",
			raw:          `{"target":"vault://app","callback":"callback-a-0","result":3}`,
			wantResponse: true,
		},
		{
			name:         "error response",
			raw:          `{"target":"vault://app","callback":"callback-a-1","error":"` + errText + `"}`,
			wantResponse: true,
		},
		{
			name:         "response without result",
			raw:          `{"target":"vault://app","callback":"callback-a-2"}`,
			wantResponse: true,
		},
		{
			name:      "ready",
			raw:       `{"target":"vault://app","callback":"init-vault://wallet"}`,
			wantReady: true,
		},
		{
			name: "foreign",
			raw:  `{"login":null}`,
		},
		{
			name: "request missing tag",
			raw:  `{"payload":{"call":"sum","args":[]}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("wire:envelope_test - decode: %v", err)
			}
			if m.IsRequest() != tt.wantRequest {
				t.Errorf("wire:envelope_test - IsRequest = %v, want %v", m.IsRequest(), tt.wantRequest)
			}
			if m.IsResponse() != tt.wantResponse {
				t.Errorf("wire:envelope_test - IsResponse = %v, want %v", m.IsResponse(), tt.wantResponse)
			}
			if m.IsReady() != tt.wantReady {
				t.Errorf("wire:envelope_test - IsReady = %v, want %v", m.IsReady(), tt.wantReady)
			}
		})
	}
}

func TestNewRequest_EncodesArgsInOrder(t *testing.T) {
	m, err := NewRequest("vault://wallet", "wallet", "transfer", []interface{}{"alice", 42, json.RawMessage(`{"memo":"x"}`)})
	if err != nil {
		t.Fatalf("wire:envelope_test - NewRequest: %v", err)
	}
	if m.Payload.Tag != "wallet" || m.Payload.Call != "transfer" {
		t.Errorf("wire:envelope_test - payload = %+v", m.Payload)
	}
	want := []string{`"alice"`, `42`, `{"memo":"x"}`}
	if len(m.Payload.Args) != len(want) {
		t.Fatalf("wire:envelope_test - args length = %d, want %d", len(m.Payload.Args), len(want))
	}
	for i, w := range want {
		if string(m.Payload.Args[i]) != w {
			t.Errorf("wire:envelope_test - arg %d = %s, want %s", i, m.Payload.Args[i], w)
		}
	}
}

func TestNewResult_NullForEmpty(t *testing.T) {
	m := NewResult("vault://app", "callback-x-1", nil)
	data, err := Encode(m)
	if err != nil {
		t.Fatalf("wire:envelope_test - encode: %v", err)
	}
	if string(data) != `{"target":"vault://app","callback":"callback-x-1","result":null}` {
		t.Errorf("wire:envelope_test - encoded = %s", data)
	}
	if !m.IsResponse() {
		t.Error("wire:envelope_test - expected a response")
	}
}

func TestNewError_CarriesEmptyString(t *testing.T) {
	m := NewError("vault://app", "callback-x-2", "")
	if m.Error == nil || *m.Error != "" {
		t.Fatalf("wire:envelope_test - expected empty error string to be kept")
	}
	if m.Result != nil {
		t.Error("wire:envelope_test - error response must not carry a result")
	}
}

func TestNewReady(t *testing.T) {
	m := NewReady("vault://app", "vault://wallet")
	if !m.IsReady() {
		t.Fatal("wire:envelope_test - expected ready shape")
	}
	if m.ReadyOrigin() != "vault://wallet" {
		t.Errorf("wire:envelope_test - ReadyOrigin = %q", m.ReadyOrigin())
	}
}

func TestDecodeResult(t *testing.T) {
	var n int
	if err := DecodeResult(json.RawMessage(`7`), &n); err != nil || n != 7 {
		t.Errorf("wire:envelope_test - DecodeResult = %d, %v", n, err)
	}
	n = 3
	if err := DecodeResult(json.RawMessage(`null`), &n); err != nil || n != 3 {
		t.Errorf("wire:envelope_test - null result should leave target untouched, got %d, %v", n, err)
	}
	if err := DecodeResult(json.RawMessage(`"x"`), &n); err == nil {
		t.Error("wire:envelope_test - expected type error")
	}
}
