package crypto

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestSignTxRecoversSigner(t *testing.T) {
	s, err := NewSigner("0x"+testKey, 304)
	require.NoError(t, err)

	info := []byte(`{"MarketIndex":1,"BaseAmount":500000}`)
	sig, err := s.SignTx(14, info)
	require.NoError(t, err)
	assert.Len(t, sig, 2+130)

	addr, err := RecoverTxSigner(304, 14, info, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)

	other, err := RecoverTxSigner(1, 14, info, sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other)

	tampered, err := RecoverTxSigner(304, 14, []byte(`{"MarketIndex":2}`), sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), tampered)
}

func TestNewSignerRejectsBadKey(t *testing.T) {
	_, err := NewSigner("not-hex", 1)
	assert.Error(t, err)
}

var testSlot = Slot{AccountIndex: 281, APIKeyIndex: 3}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "hunter2", testSlot)
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2", testSlot)
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = DecryptKey(blob, "wrong", testSlot)
	assert.Error(t, err)
}

func TestKeyFileRecordsSlotAndAddress(t *testing.T) {
	blob, err := EncryptKey(testKey, "pw", testSlot)
	require.NoError(t, err)

	signer, err := NewSigner(testKey, 1)
	require.NoError(t, err)

	var f map[string]any
	require.NoError(t, json.Unmarshal(blob, &f))
	assert.EqualValues(t, 281, f["account_index"])
	assert.EqualValues(t, 3, f["api_key_index"])
	assert.Equal(t, signer.Address().Hex(), f["address"])
	assert.NotContains(t, string(blob), testKey)
}

func TestDecryptKeyRejectsOtherSlot(t *testing.T) {
	blob, err := EncryptKey(testKey, "pw", testSlot)
	require.NoError(t, err)

	for _, slot := range []Slot{
		{AccountIndex: 282, APIKeyIndex: 3},
		{AccountIndex: 281, APIKeyIndex: 4},
	} {
		_, err := DecryptKey(blob, "pw", slot)
		assert.ErrorIs(t, err, ErrSlotMismatch, slot.String())
	}
}

func TestDecryptKeyRejectsEditedSlot(t *testing.T) {
	blob, err := EncryptKey(testKey, "pw", testSlot)
	require.NoError(t, err)

	var f map[string]any
	require.NoError(t, json.Unmarshal(blob, &f))
	f["api_key_index"] = 9
	edited, err := json.Marshal(f)
	require.NoError(t, err)

	_, err = DecryptKey(edited, "pw", Slot{AccountIndex: 281, APIKeyIndex: 9})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSlotMismatch)
}

func TestEncryptKeyRejectsBadInput(t *testing.T) {
	_, err := EncryptKey(testKey, "", testSlot)
	assert.Error(t, err)

	_, err = EncryptKey("abcd", "pw", testSlot)
	assert.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	k, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKey})
	require.NoError(t, err)
	assert.Equal(t, testKey, k)

	_, err = LoadKey(KeyConfig{RawPrivateKey: "zz"})
	assert.Error(t, err)

	blob, err := EncryptKey(testKey, "pw", testSlot)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	k, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw", Slot: testSlot})
	require.NoError(t, err)
	assert.Equal(t, testKey, k)

	_, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	assert.ErrorIs(t, err, ErrSlotMismatch)

	_, err = LoadKey(KeyConfig{})
	assert.ErrorIs(t, err, ErrNoKeySource)
}
