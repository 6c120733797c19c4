package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCSV(t *testing.T) {
	table := Table{Columns: []string{"action", "actor", "reason"}}
	table.Append(map[string]string{"action": "OVERRIDE_EXCEPTION", "actor": "u-1", "reason": "Board approved, see minutes"})
	table.Append(map[string]string{"action": "AUTO_CLEARED"})

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, table))
	assert.Equal(t, "action,actor,reason\nOVERRIDE_EXCEPTION,u-1,\"Board approved, see minutes\"\nAUTO_CLEARED,,\n", buf.String())
}

func TestWriteCSVRequiresColumns(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WriteCSV(&buf, Table{}))
}
