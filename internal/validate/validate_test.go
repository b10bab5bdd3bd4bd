package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsEncodedHTTPS(t *testing.T) {
	t.Parallel()

	got, err := Validate("https%3A%2F%2Fexample.com%2Fscript.js")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/script.js", got)
}

func TestValidateAcceptsPlainHTTPS(t *testing.T) {
	t.Parallel()

	got, err := Validate("https://example.com/a+b.js")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a+b.js", got, "plus signs are not spaces")
}

func TestValidateRejectsOtherSchemes(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		"ftp://example.com/x.js",
		"http://example.com/x.js",
		"HTTPS://example.com/x.js",
		"example.com/x.js",
		"",
		" https://example.com",
	} {
		_, err := Validate(raw)
		require.ErrorIs(t, err, ErrScheme, raw)
		assert.Equal(t, `URL must start with "https://"`, err.Error())
	}
}

func TestValidateRejectsMalformedEncoding(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"%", "https://example.com/%zz", "%E0%A4%A", "https%3A%2F%2F%FF"} {
		_, err := Validate(raw)
		require.ErrorIs(t, err, ErrDecode, raw)
		assert.NotErrorIs(t, err, ErrScheme)
	}
}

func TestDecodeKeepsUnicode(t *testing.T) {
	t.Parallel()

	got, err := Decode("https://example.com/%E2%9C%93.js")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/✓.js", got)
}
