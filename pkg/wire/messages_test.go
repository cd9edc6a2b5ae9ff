package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope(TypeView, View{TrackID: "42", Zoom: 14})
	require.NoError(t, err)

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "view", decoded.Type)
	assert.Equal(t, "42", decoded.Payload["trackId"])
	assert.NotContains(t, decoded.Payload, "lastPosition")
}

func TestNewEnvelope_Unencodable(t *testing.T) {
	_, err := NewEnvelope(TypeView, make(chan int))
	assert.Error(t, err)
}

func TestTimeOrNil(t *testing.T) {
	assert.Nil(t, TimeOrNil(time.Time{}))

	now := time.Unix(1010, 0).UTC()
	got := TimeOrNil(now)
	require.NotNil(t, got)
	assert.Equal(t, now, *got)
}
