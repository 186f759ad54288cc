package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseLocation_FixedOffset(t *testing.T) {
	loc, err := ParseLocation("UTC+7")
	require.NoError(t, err)
	_, offset := time.Now().In(loc).Zone()
	require.Equal(t, 7*3600, offset)
}

func TestParseLocation_NegativeOffset(t *testing.T) {
	loc, err := ParseLocation("UTC-3")
	require.NoError(t, err)
	_, offset := time.Now().In(loc).Zone()
	require.Equal(t, -3*3600, offset)
}

func TestParseLocation_Empty(t *testing.T) {
	loc, err := ParseLocation("")
	require.NoError(t, err)
	require.NotNil(t, loc)
}

func TestParseLocation_IANA(t *testing.T) {
	loc, err := ParseLocation("Asia/Bangkok")
	require.NoError(t, err)
	require.Equal(t, "Asia/Bangkok", loc.String())
}

func TestParseLocation_InvalidOffset(t *testing.T) {
	_, err := ParseLocation("UTC!5")
	require.Error(t, err)
}
