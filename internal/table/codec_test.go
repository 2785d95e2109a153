package table

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodecPreservesUnevenColumns(t *testing.T) {
	rows := []Row{
		{"id": "q1", "date": "2024-01-05", "magnitude": 4.5, "felt": true},
		{"id": "q2", "date": "2024-01-06"},
	}

	data, err := Encode(rows)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.Equal(t, "q1", got[0]["id"])
	require.Equal(t, 4.5, got[0]["magnitude"])
	require.Equal(t, true, got[0]["felt"])

	// Absent values decode as absent, not as zero values.
	require.NotContains(t, got[1], "magnitude")
	require.NotContains(t, got[1], "felt")
}

func TestCodecMixedTypeColumnDegradesToString(t *testing.T) {
	rows := []Row{
		{"id": "q1", "code": 404},
		{"id": "q2", "code": "not-a-number"},
	}

	data, err := Encode(rows)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.IsType(t, "", got[0]["code"])
	require.IsType(t, "", got[1]["code"])
}

func TestCodecNestedValuesBecomeJSON(t *testing.T) {
	rows := []Row{
		{"id": "q1", "location": map[string]any{"lat": 35.6, "lon": 139.7}},
	}

	data, err := Encode(rows)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	require.JSONEq(t, `{"lat":35.6,"lon":139.7}`, got[0]["location"].(string))
}

func TestColumnsSortedUnion(t *testing.T) {
	cols := Columns([]Row{
		{"b": 1, "a": 2},
		{"c": 3, "a": 4},
	})
	require.Equal(t, []string{"a", "b", "c"}, cols)
}

func TestEncodeEmptyFails(t *testing.T) {
	_, err := Encode(nil)
	require.Error(t, err)
}
