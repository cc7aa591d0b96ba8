package scrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestToJSONFromJSONRoundTrip(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	class := "aws_key"
	original := Scrap{
		ID:             42,
		Hash:           "abc123",
		Source:         "local",
		Filename:       "dump.txt",
		FilePath:       "/data/dump.txt",
		State:          StateProcessed,
		Class:          &class,
		Timestamp:      &ts,
		OccurrenceTime: &ts,
		Attachments:    []string{"dump.txt.meta"},
	}

	data, err := original.ToJSON()
	require.NoError(t, err)

	roundTripped, err := FromJSON(data)
	require.NoError(t, err)
	require.Equal(t, original.ID, roundTripped.ID)
	require.Equal(t, original.Hash, roundTripped.Hash)
	require.Equal(t, original.Source, roundTripped.Source)
	require.Equal(t, original.Filename, roundTripped.Filename)
	require.Equal(t, original.FilePath, roundTripped.FilePath)
	require.Equal(t, original.State, roundTripped.State)
	require.Equal(t, *original.Class, *roundTripped.Class)
	require.True(t, original.Timestamp.Equal(*roundTripped.Timestamp))
	require.True(t, original.OccurrenceTime.Equal(*roundTripped.OccurrenceTime))
	require.Equal(t, original.Attachments, roundTripped.Attachments)
}

func TestToJSONOmittedFieldsAreNull(t *testing.T) {
	sc := Scrap{State: StateNew}

	data, err := sc.ToJSON()
	require.NoError(t, err)

	require.Contains(t, string(data), `"hash":null`)
	require.Contains(t, string(data), `"class":null`)
	require.Contains(t, string(data), `"timestamp":null`)
}

func TestFromJSONEmptyHashRoundTrips(t *testing.T) {
	data := []byte(`{"id":1,"hash":null,"source":"local","filename":null,"file_path":null,"state":"PROCESSING","class":null,"timestamp":null,"occurrence_time":null,"attachments":null}`)

	sc, err := FromJSON(data)
	require.NoError(t, err)
	require.Equal(t, "", sc.Hash)
	require.Equal(t, StateProcessing, sc.State)
}

func TestStateTerminal(t *testing.T) {
	require.False(t, StateNew.Terminal())
	require.False(t, StateProcessing.Terminal())
	require.True(t, StateProcessed.Terminal())
	require.True(t, StateNoPatternsFound.Terminal())
	require.True(t, StateDuplicateExists.Terminal())
	require.True(t, StateFailed.Terminal())
}
