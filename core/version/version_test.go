package version_test

import (
	"testing"
	"time"

	"github.com/usnistgov/tsbridge/core/testenv"
	"github.com/usnistgov/tsbridge/core/version"
)

var makeAR = testenv.MakeAR

func TestPseudo(t *testing.T) {
	assert, _ := makeAR(t)

	date := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("EST", -5*3600))
	commit := "0123456789abcdef0123456789abcdef01234567"
	assert.Equal("v0.0.0-20260304100607-0123456789ab", version.Pseudo(date, commit, false))
	assert.Equal("v0.0.0-20260304100607-0123456789ab-dirty", version.Pseudo(date, commit, true))
}

func TestCurrent(t *testing.T) {
	assert, _ := makeAR(t)
	assert.NotEmpty(version.V.Version)
	assert.Equal(version.V.Version, version.V.String())
}
