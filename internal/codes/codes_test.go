package codes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidBarcode(t *testing.T) {
	cases := map[string]bool{
		"036000291452":   true,
		"4006381333931":  true,
		"4006381333932":  false,
		"12345678901":    false,
		"400638133393a":  false,
		"":               false,
		"00000000000000": true,
	}
	for code, want := range cases {
		assert.Equal(t, want, ValidBarcode(code), code)
	}
}

func TestValidRFIDAndLocation(t *testing.T) {
	assert.True(t, ValidRFID("000000001000"))
	assert.False(t, ValidRFID("00000000100"))
	assert.False(t, ValidRFID("00000000100x"))

	assert.True(t, ValidLocation("3-b-12"))
	assert.False(t, ValidLocation("0-b-12"))
	assert.False(t, ValidLocation("3-b"))
	assert.False(t, ValidLocation("3-4-5"))
}

func TestRFIDSequence(t *testing.T) {
	tags, err := RFIDSequence("000000000998", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"000000000998", "000000000999", "000000001000"}, tags)

	_, err = RFIDSequence("999999999999", 2)
	assert.Error(t, err)

	_, err = RFIDSequence("12", 1)
	assert.Error(t, err)
}
