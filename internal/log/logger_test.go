package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithSessionFields(t *testing.T) {
	var buf bytes.Buffer
	l := WithSession("decoder", "abc").Output(&buf)
	l.Info().Str(FieldCodec, "h264").Msg("configured")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "decoder", entry[FieldComponent])
	assert.Equal(t, "abc", entry[FieldSessionID])
	assert.Equal(t, "h264", entry[FieldCodec])
}
