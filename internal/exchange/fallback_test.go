package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeWithFallbackValidJSON(t *testing.T) {
	var out SwapResponse
	err := decodeWithFallback([]byte(`{"status":"success","transactionId":"abc","newBalanceSol":1.25}`), &out, "swap")
	require.NoError(t, err)
	assert.Equal(t, "success", out.Status)
	assert.Equal(t, "abc", out.TransactionID)
	assert.Equal(t, 1.25, out.NewBalanceSol)
}

func TestDecodeWithFallbackMalformedJSON(t *testing.T) {
	// Truncated body: strict decoding fails, the field extractor recovers
	// the flat pairs.
	body := []byte(`{"status":"success","transactionId":"5UfDu3","amountReturnedSol":0.0521,"confirmed":true,`)

	var out ReturnFundsResponse
	err := decodeWithFallback(body, &out, "return_funds")
	require.NoError(t, err)
	assert.Equal(t, "success", out.Status)
	assert.Equal(t, "5UfDu3", out.TransactionID)
	assert.Equal(t, 0.0521, out.AmountReturnedSol)
}

func TestDecodeWithFallbackHopeless(t *testing.T) {
	var out SwapResponse
	err := decodeWithFallback([]byte(`<html>502 Bad Gateway</html>`), &out, "swap")
	require.Error(t, err)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "swap", parseErr.Operation)
}

func TestExtractFieldsQuotedNumbersStayStrings(t *testing.T) {
	fields, ok := extractFields([]byte(`{"inAmount":"100000000","slippageBps":50,`))
	require.True(t, ok)
	assert.Equal(t, "100000000", fields["inAmount"])
	assert.Equal(t, float64(50), fields["slippageBps"])
}
