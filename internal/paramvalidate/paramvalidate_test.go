package paramvalidate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatPositiveAndNegativeSets(t *testing.T) {
	cases := []struct {
		format   string
		positive []string
		negative []string
	}{
		{"uuid", []string{"123e4567-e89b-12d3-a456-426614174000", "AAAAAAAA-bbbb-CCCC-dddd-eeeeeeeeeeee"}, []string{"not-a-uuid", "123e4567e89b12d3a456426614174000"}},
		{"date", []string{"2024-01-15"}, []string{"2024/01/15", "15-01-2024", "2024-13-01"}},
		{"date-time", []string{"2024-01-15T10:30:00Z", "2024-01-15T10:30:00.123+02:00"}, []string{"2024-01-15", "2024-01-15 10:30:00Z"}},
		{"email", []string{"a@b.com", "user.name@sub.example.org"}, []string{"not-an-email", "@b.com", "a@b", "a@b@c.com"}},
		{"uri", []string{"https://example.com/path", "ftp://host/file"}, []string{"not a url", "/relative/path"}},
		{"ipv4", []string{"192.168.1.1", "0.0.0.0", "255.255.255.255"}, []string{"256.1.1.1", "1.2.3", "1.2.3.4.5"}},
		{"ipv6", []string{"::1", "2001:db8::1", "fe80::1"}, []string{"not:ipv6", "1.2.3.4"}},
		{"hostname", []string{"example.com", "a-b.c"}, []string{"-bad.com", "bad-.com", ""}},
		{"int32", []string{"0", "2147483647", "-2147483648"}, []string{"2147483648", "abc"}},
		{"int64", []string{"0", "9223372036854775807"}, []string{"9223372036854775808", "abc"}},
	}

	for _, tc := range cases {
		t.Run(tc.format, func(t *testing.T) {
			for _, v := range tc.positive {
				assert.NoError(t, Validate("fn", "p", tc.format, nil, v), "expected %q to pass format %q", v, tc.format)
			}
			for _, v := range tc.negative {
				assert.Error(t, Validate("fn", "p", tc.format, nil, v), "expected %q to fail format %q", v, tc.format)
			}
		})
	}
}

func TestEnumValidation(t *testing.T) {
	enum := []string{"a", "b", "c"}

	t.Run("Should accept a member value", func(t *testing.T) {
		require.NoError(t, Validate("fn", "p", "", enum, "b"))
	})

	t.Run("Should reject a non-member value", func(t *testing.T) {
		assert.Error(t, Validate("fn", "p", "", enum, "z"))
	})
}

func TestUnknownFormatPasses(t *testing.T) {
	assert.NoError(t, Validate("fn", "p", "some-api-specific-format", nil, "anything"))
}

func TestValidateStatic(t *testing.T) {
	t.Run("Should accept a default value matching its declared format", func(t *testing.T) {
		assert.NoError(t, ValidateStatic("api_version", "uuid", "123e4567-e89b-12d3-a456-426614174000"))
	})

	t.Run("Should reject a default value that violates its declared format", func(t *testing.T) {
		assert.Error(t, ValidateStatic("api_version", "uuid", "not-a-uuid"))
	})

	t.Run("Should pass through formats with no registered tag", func(t *testing.T) {
		assert.NoError(t, ValidateStatic("api_version", "some-api-specific-format", "anything"))
	})
}
