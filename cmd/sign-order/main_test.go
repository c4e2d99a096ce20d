package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/matchcore/pkg/app/core/transaction"
	"github.com/uhyunpark/matchcore/pkg/crypto"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSignOrderCommand(t *testing.T) {
	signer, err := crypto.GenerateKey()
	require.NoError(t, err)

	out, err := run(t, "order", "--key", signer.PrivateKeyHex(), "--side", "sell", "--tif", "ioc",
		"--price", "101.50", "--qty", "3", "--nonce", "7")
	require.NoError(t, err, out)

	tx, err := transaction.ParseTransaction([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, "101.50", tx.Order.Price)
	assert.Equal(t, transaction.SideSell, tx.Order.Side)
	assert.Equal(t, transaction.TypeIOC, tx.Order.Type)
	assert.Equal(t, uint64(7), tx.Nonce)

	got, err := transaction.NewVerifier(crypto.DefaultDomain()).Verify(tx)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), got)
}

func TestSignCancelCommand(t *testing.T) {
	signer, _ := crypto.GenerateKey()

	out, err := run(t, "cancel", "--key", "0x"+signer.PrivateKeyHex(), "--id", "42", "--nonce", "2")
	require.NoError(t, err, out)

	tx, err := transaction.ParseTransaction([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), tx.Cancel.OrderID)

	_, err = transaction.NewVerifier(crypto.DefaultDomain()).Verify(tx)
	assert.NoError(t, err)
}

func TestKeygenCommand(t *testing.T) {
	out, err := run(t, "keygen")
	require.NoError(t, err)

	var key struct {
		Address    string `json:"address"`
		PrivateKey string `json:"private_key"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &key))

	s, err := crypto.FromPrivateKeyHex(key.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, s.Address().Hex(), key.Address)
}

func TestSignOrderCommand_Errors(t *testing.T) {
	t.Setenv("SIGNER_KEY", "")
	_, err := run(t, "order", "--price", "1")
	assert.Error(t, err, "missing key")

	signer, _ := crypto.GenerateKey()
	_, err = run(t, "order", "--key", signer.PrivateKeyHex(), "--price", "1", "--side", "up")
	assert.Error(t, err)

	_, err = run(t, "order", "--key", signer.PrivateKeyHex())
	assert.Error(t, err, "price is required")
}
