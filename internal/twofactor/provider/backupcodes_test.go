package provider

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/authkit-dev/twostep/internal/twofactor/store/drivers/memory"
)

func TestBackupCodes_GenerateAndVerify(t *testing.T) {
	ctx := t.Context()
	p := NewBackupCodes(memory.New().Attributes())

	codes, err := p.Generate(ctx, "u1", 0, ModeReplace)
	require.NoError(t, err)
	require.Len(t, codes, DefaultBackupCodeCount)
	for _, c := range codes {
		require.Len(t, c, backupCodeLength)
	}

	n, err := p.Remaining(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, DefaultBackupCodeCount, n)

	ok, err := p.IsAvailable(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)

	// Using a code consumes exactly that one.
	ok, err = p.Verify(ctx, "u1", codes[3])
	require.NoError(t, err)
	require.True(t, ok)

	n, err = p.Remaining(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, DefaultBackupCodeCount-1, n)

	// The same code cannot be used twice.
	ok, err = p.Verify(ctx, "u1", codes[3])
	require.NoError(t, err)
	require.False(t, ok)

	// The others still work.
	ok, err = p.Verify(ctx, "u1", codes[7])
	require.NoError(t, err)
	require.True(t, ok)
}

func TestBackupCodes_WrongCode(t *testing.T) {
	ctx := t.Context()
	p := NewBackupCodes(memory.New().Attributes())

	_, err := p.Generate(ctx, "u1", 3, ModeReplace)
	require.NoError(t, err)

	ok, err := p.Verify(ctx, "u1", "notacode")
	require.NoError(t, err)
	require.False(t, ok)

	n, err := p.Remaining(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 3, n, "a miss consumes nothing")
}

func TestBackupCodes_ReplaceDiscardsOld(t *testing.T) {
	ctx := t.Context()
	p := NewBackupCodes(memory.New().Attributes())

	old, err := p.Generate(ctx, "u1", 2, ModeReplace)
	require.NoError(t, err)

	_, err = p.Generate(ctx, "u1", 2, ModeReplace)
	require.NoError(t, err)

	ok, err := p.Verify(ctx, "u1", old[0])
	require.NoError(t, err)
	require.False(t, ok, "replaced codes should be dead")
}

func TestBackupCodes_AppendKeepsOld(t *testing.T) {
	ctx := t.Context()
	p := NewBackupCodes(memory.New().Attributes())

	old, err := p.Generate(ctx, "u1", 2, ModeReplace)
	require.NoError(t, err)

	_, err = p.Generate(ctx, "u1", 3, ModeAppend)
	require.NoError(t, err)

	n, err := p.Remaining(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 5, n)

	ok, err := p.Verify(ctx, "u1", old[1])
	require.NoError(t, err)
	require.True(t, ok, "appended batches keep earlier codes alive")
}

func TestBackupCodes_LastCodeExhausts(t *testing.T) {
	ctx := t.Context()
	p := NewBackupCodes(memory.New().Attributes())

	codes, err := p.Generate(ctx, "u1", 1, ModeReplace)
	require.NoError(t, err)

	ok, err := p.Verify(ctx, "u1", codes[0])
	require.NoError(t, err)
	require.True(t, ok)

	available, err := p.IsAvailable(ctx, "u1")
	require.NoError(t, err)
	require.False(t, available)

	summary, err := p.UserSummary(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "No backup codes remaining.", summary)
}

func TestBackupCodes_Clear(t *testing.T) {
	ctx := t.Context()
	p := NewBackupCodes(memory.New().Attributes())

	_, err := p.Generate(ctx, "u1", 5, ModeReplace)
	require.NoError(t, err)

	require.NoError(t, p.Clear(ctx, "u1"))

	n, err := p.Remaining(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, n)
}
