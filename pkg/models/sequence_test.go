package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSequence(t *testing.T) {
	assert.Equal(t, "MVLSPADKTNVKAAWG", NormalizeSequence("mvlspadktnvkaawg"))
	assert.Equal(t, "MVLSPADKTNVKAAWG", NormalizeSequence("MVLSP ADKTN\nVKAAWG\r\n"))
	assert.Equal(t, "", NormalizeSequence("  \n\t "))
}

func TestValidateSequence(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.Empty(t, ValidateSequence("MVLSPADKTNVKAAWG"))
	})

	t.Run("too short", func(t *testing.T) {
		details := ValidateSequence("MVLSP")
		require.Len(t, details, 1)
		assert.Contains(t, details[0], "too short")
	})

	t.Run("too long", func(t *testing.T) {
		details := ValidateSequence(strings.Repeat("A", MaxSequenceLength+1))
		require.Len(t, details, 1)
		assert.Contains(t, details[0], "too long")
	})

	t.Run("invalid residues reported with positions", func(t *testing.T) {
		details := ValidateSequence("INVALID123MVLSPADK")
		require.NotEmpty(t, details)
		// 'I', 'N', 'V', 'A', 'L', 'D' are amino acids; '1' '2' '3' are not.
		assert.Contains(t, details[0], `invalid residue '1'`)
	})

	t.Run("residue errors are capped", func(t *testing.T) {
		details := ValidateSequence("1234567890123456789012345")
		assert.Contains(t, details[len(details)-1], "further errors omitted")
	})
}

func TestSequenceFromFASTA(t *testing.T) {
	t.Run("single record", func(t *testing.T) {
		seq, err := SequenceFromFASTA(">sp|P69905|HBA_HUMAN\nMVLSPADKTN\nVKAAWG\n")
		require.NoError(t, err)
		assert.Equal(t, "MVLSPADKTNVKAAWG", seq)
	})

	t.Run("only first record is used", func(t *testing.T) {
		seq, err := SequenceFromFASTA(">one\nMVLSPADKTN\n>two\nGGGGGGGGGG\n")
		require.NoError(t, err)
		assert.Equal(t, "MVLSPADKTN", seq)
	})

	t.Run("bare sequence without header", func(t *testing.T) {
		seq, err := SequenceFromFASTA("mvlspadktn\nvkaawg")
		require.NoError(t, err)
		assert.Equal(t, "MVLSPADKTNVKAAWG", seq)
	})

	t.Run("empty content", func(t *testing.T) {
		_, err := SequenceFromFASTA(">header only\n")
		assert.Error(t, err)
	})
}
