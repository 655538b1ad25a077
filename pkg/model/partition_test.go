package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePartition(t *testing.T) {
	p, err := ResolvePartition(ReadonlyPartition, "")
	require.NoError(t, err)
	assert.Equal(t, "readonly", p)

	p, err = ResolvePartition(UserPartition, "8c5e1f3a-0b2d-4e6f-9a7b-1c2d3e4f5a6b")
	require.NoError(t, err)
	assert.Equal(t, "user-8c5e1f3a-0b2d-4e6f-9a7b-1c2d3e4f5a6b", p)
	assert.Equal(t, UserPartition, StripAccountID(p))
	assert.Equal(t, ReadonlyPartition, StripAccountID(ReadonlyPartition))

	_, err = ResolvePartition(UserPartition, "")
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	_, err = ResolvePartition("other", "acc")
	assert.ErrorIs(t, err, ErrInvalidPartition)
}

func TestTableName(t *testing.T) {
	name, err := TableName(ReadonlyPartition, "ignored")
	require.NoError(t, err)
	assert.Equal(t, ReadonlyTable, name)

	name, err = TableName(UserPartition, "8C5E1F3A-0b2d-4e6f")
	require.NoError(t, err)
	assert.Equal(t, "user_38433545314633412d306232642d34653666", name)

	name, err = TableName(UserPartition, "bob'; drop table x")
	require.NoError(t, err)
	assert.Regexp(t, `^user_[a-z0-9_]+$`, name)

	_, err = TableName(UserPartition, "")
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestUserTableName_Distinct(t *testing.T) {
	for _, pair := range [][2]string{
		{"AB", "ab"},
		{"a.b", "a_b"},
		{"a-b", "ab"},
		{"8C5E1F3A-0b2d", "8c5e1f3a0b2d"},
	} {
		assert.NotEqual(t, UserTableName(pair[0]), UserTableName(pair[1]), "%q and %q", pair[0], pair[1])
	}
}

func TestValidateDocumentID(t *testing.T) {
	valid := []string{"a", "doc-1", "with\"quote", "ünïcode", "a.b:c"}
	for _, id := range valid {
		assert.NoError(t, ValidateDocumentID(id), id)
	}
	invalid := []string{"", "a/b", `a\b`, "a#b", "a?b", "a b", "tab\t"}
	for _, id := range invalid {
		assert.ErrorIs(t, ValidateDocumentID(id), ErrInvalidDocumentID, id)
	}
}
