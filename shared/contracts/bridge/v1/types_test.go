package v1

import (
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ok, err := NewEnvelope(TypePairingCodeRequest, "r1", now, PairingCodeRequestPayload{Number: "15551234567"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}

	cases := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{name: "valid", env: ok},
		{name: "missing version", env: Envelope{Type: TypeClose}, wantErr: true},
		{name: "wrong version", env: Envelope{V: "v2", Type: TypeClose}, wantErr: true},
		{name: "missing type", env: Envelope{V: Version}, wantErr: true},
		{name: "unknown type", env: Envelope{V: Version, Type: "hello"}, wantErr: true},
		{name: "result without id", env: Envelope{V: Version, Type: TypeResult}, wantErr: true},
	}

	for _, tc := range cases {
		err := tc.env.Validate()
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: Validate() err=%v wantErr=%v", tc.name, err, tc.wantErr)
		}
	}

	var p PairingCodeRequestPayload
	if err := ok.DecodePayload(&p); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if p.Number != "15551234567" {
		t.Fatalf("number=%q", p.Number)
	}
}
