package pii_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memfuse/memfuse/pii"
)

func TestDetectPhoneFormats(t *testing.T) {
	for _, text := range []string{
		"call me at 555-123-4567",
		"call me at 555.123.4567",
		"call me at 5551234567",
	} {
		matches := pii.Detect(text)
		require.Len(t, matches, 1, "text %q", text)
		assert.Equal(t, "phone", matches[0].Type)
		assert.Equal(t, "***-***-****", matches[0].Masked)
		assert.Equal(t, "contact", matches[0].Purpose)
	}
}

func TestDetectNothing(t *testing.T) {
	assert.Empty(t, pii.Detect("Gai Media prefers Friday deliveries"))
	// Order numbers must not trip the phone pattern.
	assert.Empty(t, pii.Detect("what changed on SO-1001?"))
}

func TestFilterMasksAndAnnotates(t *testing.T) {
	safe, matches := pii.Filter("This is urgent, reach Dana at 555-123-4567")
	require.Len(t, matches, 1)
	assert.Equal(t, "urgent", matches[0].Purpose)
	assert.Equal(t, "This is urgent, reach Dana at ***-***-**** (for urgent)", safe)
	assert.NotContains(t, safe, "555")
}

func TestFilterMultipleNumbers(t *testing.T) {
	safe, matches := pii.Filter("remind them on 555-123-4567 or 555-987-6543")
	require.Len(t, matches, 2)
	assert.NotContains(t, safe, "555-123-4567")
	assert.NotContains(t, safe, "555-987-6543")
	assert.Contains(t, safe, "(for reminder)")
}

func TestFilterPlainTextUntouched(t *testing.T) {
	safe, matches := pii.Filter("hello there")
	assert.Empty(t, matches)
	assert.Equal(t, "hello there", safe)
}
