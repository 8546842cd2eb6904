package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "case and padding", input: "  ABC-123 ", expected: "abc123"},
		{name: "internal spacing", input: "555   Database\tLn.", expected: "555 database ln"},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Identifier(tt.input))
		})
	}
}

func TestHeader(t *testing.T) {
	assert.Equal(t, "building id", Header("  Building   Id "))
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "555 northwest databaseer ln", NormalizeAddress("555 Northwest Databaseer Lane"))
	assert.Equal(t, "1 main st ste 4", NormalizeAddress("1 Main Street, Suite 4"))
}

func TestApplyChain_UnknownNormalizerIsIgnored(t *testing.T) {
	assert.Equal(t, "12", ApplyChain("a-1b2", "digits_only", "does_not_exist"))
	assert.Equal(t, "a1b2", ApplyChain("a-1b2", "alphanumeric"))
}

func TestGet(t *testing.T) {
	fn, ok := Get("remove_punctuation")
	assert.True(t, ok)
	assert.Equal(t, "OBrien St", fn("O'Brien St."))

	_, ok = Get("soundex")
	assert.False(t, ok)
}
