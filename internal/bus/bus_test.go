package bus

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScrapEnvelopeJSONRoundTrip(t *testing.T) {
	env := ScrapEnvelope{
		ScrapData:   `{"hash":"abc"}`,
		MountedPath: "/mnt/upstream/scrap.txt",
		UNCPath:     `\\upstream-server\scraps\scrap.txt`,
	}

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded ScrapEnvelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, env, decoded)
}

func TestCompletionEnvelopeJSONRoundTrip(t *testing.T) {
	env := CompletionEnvelope{ScrapID: 7, Hash: "abc", Status: "PROCESSED"}

	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.Contains(t, string(data), `"scrap_id":7`)

	var decoded CompletionEnvelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, env, decoded)
}
