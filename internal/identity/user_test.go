package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShortUserID(t *testing.T) {
	cases := map[string]string{
		"Jane.Doe@Example.com": "jane-doe",
		"a@x":                  "a",
		"john+test@foo.com":    "john-test",
		"___weird___@foo.com":  "weird",
	}
	for email, want := range cases {
		assert.Equal(t, want, ShortUserID(email))
	}
}

func TestLocalPart(t *testing.T) {
	assert.Equal(t, "jane", LocalPart("jane@example.com"))
	assert.Equal(t, "noatsign", LocalPart("noatsign"))
}
