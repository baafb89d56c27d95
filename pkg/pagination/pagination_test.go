package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeLimit(t *testing.T) {
	require.Equal(t, DefaultLimit, NormalizeLimit(0))
	require.Equal(t, DefaultLimit, NormalizeLimit(-3))
	require.Equal(t, 10, NormalizeLimit(10))
	require.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+50))
	require.Equal(t, 11, LimitWithBuffer(10))
}

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 30, 0, 123, time.UTC)
	encoded := EncodeCursor(Cursor{CreatedAt: at, ID: "0195a1b2-0000-7000-8000-000000000001"})

	decoded, err := ParseCursor(encoded)
	require.NoError(t, err)
	require.True(t, decoded.CreatedAt.Equal(at))
	require.Equal(t, "0195a1b2-0000-7000-8000-000000000001", decoded.ID)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	c, err := ParseCursor("  ")
	require.NoError(t, err)
	require.Nil(t, c)

	_, err = ParseCursor("%%%")
	require.Error(t, err)

	_, err = ParseCursor(EncodeCursor(Cursor{CreatedAt: time.Now()}))
	require.Error(t, err)
}
