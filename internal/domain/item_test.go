package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseApparelType(t *testing.T) {
	tests := []struct {
		input    string
		expected ApparelType
		ok       bool
	}{
		{input: "top", expected: ApparelTop, ok: true},
		{input: " Bottom.", expected: ApparelBottom, ok: true},
		{input: `"outerwear"`, expected: ApparelOuterwear, ok: true},
		{input: "full-body", expected: ApparelFullBody, ok: true},
		{input: "Full Body", expected: ApparelFullBody, ok: true},
		{input: "fullbody", expected: ApparelFullBody, ok: true},
		{input: "hat", ok: false},
		{input: PlaceholderText, ok: false},
		{input: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseApparelType(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expected, got)
			}
		})
	}
}

func TestApparelType_Complement(t *testing.T) {
	assert.Equal(t, ApparelBottom, ApparelTop.Complement())
	assert.Equal(t, ApparelBottom, ApparelOuterwear.Complement())
	assert.Equal(t, ApparelTop, ApparelBottom.Complement())
	assert.Equal(t, ApparelTop, ApparelFullBody.Complement())
}

func TestStringArray(t *testing.T) {
	var empty StringArray
	v, err := empty.Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	var scanned StringArray
	require.NoError(t, scanned.Scan([]byte(`["a","b"]`)))
	assert.Equal(t, StringArray{"a", "b"}, scanned)
	assert.True(t, scanned.Contains("b"))
	assert.False(t, scanned.Contains("c"))

	require.NoError(t, scanned.Scan(nil))
	assert.Empty(t, scanned)

	assert.Error(t, scanned.Scan(42))
}

func TestItem_StorageKey(t *testing.T) {
	item := Item{Username: "alice", Filename: "shirt.png"}
	assert.Equal(t, "alice/shirt.png", item.StorageKey())
}
