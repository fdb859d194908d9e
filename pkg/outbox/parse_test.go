package outbox

import (
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentifier(t *testing.T) {
	t.Parallel()

	ident, err := ParseIdentifier(" public.attestation_outbox ")
	require.NoError(t, err)
	assert.Equal(t, pgx.Identifier{"public", "attestation_outbox"}, ident)
	assert.Equal(t, "public.attestation_outbox", TableLabel(ident))

	ident, err = ParseIdentifier("attestation_outbox")
	require.NoError(t, err)
	assert.Equal(t, pgx.Identifier{"attestation_outbox"}, ident)

	for _, bad := range []string{"", "a.b.c", "public.", "drop table;"} {
		_, err := ParseIdentifier(bad)
		require.ErrorIs(t, err, ErrInvalidConfig, bad)
	}
}

func TestParseIdentifierList(t *testing.T) {
	t.Parallel()

	idents, err := ParseIdentifierList("public.a, ,b")
	require.NoError(t, err)
	assert.Equal(t, []pgx.Identifier{{"public", "a"}, {"b"}}, idents)

	idents, err = ParseIdentifierList("  ")
	require.NoError(t, err)
	assert.Empty(t, idents)

	_, err = ParseIdentifierList("ok,bad-name")
	require.ErrorIs(t, err, ErrInvalidConfig)
}
