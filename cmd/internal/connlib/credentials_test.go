package connlib

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionString_RoundTripKeepsKeys(t *testing.T) {
	t.Parallel()

	in := Credentials{
		ClientID:     "client-1",
		ServerToken:  "srv",
		ClientToken:  "cli",
		EncKey:       []byte{0x01, 0x02, 0xff},
		MacKey:       []byte{0xaa, 0xbb},
		PairingCode:  "ABCD1234",
		Me:           &Contact{ID: "15551234567:3@s.whatsapp.net", Name: "Dev"},
		Registration: json.RawMessage(`{"registrationId":42}`),
		Registered:   true,
	}

	s, err := EncodeSessionString(in)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(s)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, base64.StdEncoding.EncodeToString(in.EncKey), fields["encKey"])
	assert.Nil(t, fields["account"])

	out, err := DecodeSessionString(s)
	require.NoError(t, err)
	assert.Equal(t, in.EncKey, out.EncKey)
	assert.Equal(t, in.MacKey, out.MacKey)
	assert.Equal(t, in.Me, out.Me)
	assert.JSONEq(t, string(in.Registration), string(out.Registration))
	assert.Nil(t, out.Account)
	assert.True(t, out.Registered)
}

func TestSessionString_RequiresRegistration(t *testing.T) {
	t.Parallel()

	_, err := EncodeSessionString(Credentials{ClientID: "x"})
	require.ErrorIs(t, err, ErrNotRegistered)

	_, err = DecodeSessionString("%%%")
	require.Error(t, err)
}
