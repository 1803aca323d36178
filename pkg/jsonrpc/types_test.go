package jsonrpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest_Valid(t *testing.T) {
	req, errObj := ParseRequest([]byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
	require.Nil(t, errObj)
	assert.Equal(t, "initialize", req.Method)
	assert.False(t, req.IsNotification())
}

func TestParseRequest_RejectsBatch(t *testing.T) {
	_, errObj := ParseRequest([]byte(`[{"jsonrpc":"2.0","id":1,"method":"ping"}]`))
	require.NotNil(t, errObj)
	assert.Equal(t, CodeInvalidRequest, errObj.Code)
}

func TestParseRequest_RejectsWrongVersion(t *testing.T) {
	_, errObj := ParseRequest([]byte(`{"jsonrpc":"1.0","id":1,"method":"ping"}`))
	require.NotNil(t, errObj)
	assert.Equal(t, CodeInvalidRequest, errObj.Code)
}

func TestParseRequest_RejectsMissingMethod(t *testing.T) {
	_, errObj := ParseRequest([]byte(`{"jsonrpc":"2.0","id":1}`))
	require.NotNil(t, errObj)
	assert.Equal(t, CodeInvalidRequest, errObj.Code)
}

func TestParseRequest_MalformedJSON(t *testing.T) {
	_, errObj := ParseRequest([]byte(`{not json`))
	require.NotNil(t, errObj)
	assert.Equal(t, CodeParseError, errObj.Code)
}

func TestIsNotification(t *testing.T) {
	req, _ := ParseRequest([]byte(`{"jsonrpc":"2.0","method":"notify"}`))
	assert.True(t, req.IsNotification())
}
