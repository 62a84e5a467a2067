package wmo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint_Stable(t *testing.T) {
	issued := time.Date(2023, 5, 15, 20, 10, 0, 0, time.UTC)
	a := Fingerprint("KTOP", "TORTOP", issued, "body text")
	b := Fingerprint("KTOP", "TORTOP", issued, "body text")
	assert.Equal(t, a, b)
}

func TestFingerprint_DiffersOnText(t *testing.T) {
	issued := time.Date(2023, 5, 15, 20, 10, 0, 0, time.UTC)
	a := Fingerprint("KTOP", "TORTOP", issued, "body text")
	b := Fingerprint("KTOP", "TORTOP", issued, "different text")
	assert.NotEqual(t, a, b)
}

func TestFingerprint_DiffersOnOffice(t *testing.T) {
	issued := time.Date(2023, 5, 15, 20, 10, 0, 0, time.UTC)
	a := Fingerprint("KTOP", "TORTOP", issued, "body text")
	b := Fingerprint("KICT", "TORTOP", issued, "body text")
	assert.NotEqual(t, a, b)
}
