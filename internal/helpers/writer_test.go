package helpers

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixWriter(t *testing.T) {
	var out bytes.Buffer
	pw := NewPrefixWriter(&out, "[migrate] ")

	_, err := pw.Write([]byte("applying 0001\napplying "))
	require.NoError(t, err)
	assert.Equal(t, "[migrate] applying 0001\n", out.String())

	_, err = pw.Write([]byte("0002\n"))
	require.NoError(t, err)
	_, err = pw.Write([]byte("done"))
	require.NoError(t, err)
	require.NoError(t, pw.Flush())

	assert.Equal(t, "[migrate] applying 0001\n[migrate] applying 0002\n[migrate] done\n", out.String())
}
