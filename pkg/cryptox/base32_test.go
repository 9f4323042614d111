package cryptox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeBase32(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{"empty", []byte{}, ""},
		{"f", []byte("f"), "MY"},
		{"fo", []byte("fo"), "MZXQ"},
		{"foo", []byte("foo"), "MZXW6"},
		{"foob", []byte("foob"), "MZXW6YQ"},
		{"fooba", []byte("fooba"), "MZXW6YTB"},
		{"foobar", []byte("foobar"), "MZXW6YTBOI"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, EncodeBase32(tt.input))
		})
	}
}

func TestDecodeBase32(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []byte
	}{
		{"empty", "", []byte{}},
		{"f", "MY", []byte("f")},
		{"foobar", "MZXW6YTBOI", []byte("foobar")},
		{"lowercase accepted", "mzxw6ytboi", []byte("foobar")},
		{"mixed case accepted", "MzXw6YtBoI", []byte("foobar")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeBase32(tt.input)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeBase32_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"digit one", "MZXW1"},
		{"digit zero", "MZXW0"},
		{"digit eight", "MZXW8"},
		{"punctuation", "MZ-XW"},
		{"whitespace", "MZ XW"},
		{"padding char", "MZXQ===="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeBase32(tt.input)
			require.ErrorIs(t, err, ErrInvalidEncoding)
			require.Nil(t, got)
		})
	}
}

func TestBase32Roundtrip(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 4, 5, 10, 20, 33, 64} {
		buf, err := GenerateRandomBytes(n)
		require.NoError(t, err)

		decoded, err := DecodeBase32(EncodeBase32(buf))
		require.NoError(t, err)
		require.Equal(t, buf, decoded)
	}
}
