package models

import (
	"fmt"
	"strings"
)

// Sequence length bounds for a prediction job.
const (
	MinSequenceLength = 10
	MaxSequenceLength = 5000
)

// aminoAcids is the standard 20-letter alphabet.
const aminoAcids = "ACDEFGHIKLMNPQRSTVWY"

// DefaultSequence is used when a stream is opened for a job with no
// registered sequence and no override (hemoglobin subunit alpha fragment).
const DefaultSequence = "MVLSPADKTNVKAAWGKVGAHAGEYGAEALERMFLSF"

// NormalizeSequence uppercases and strips all whitespace from a raw
// sequence string.
func NormalizeSequence(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToUpper(raw) {
		switch r {
		case ' ', '\t', '\r', '\n':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidateSequence checks length bounds and the amino-acid alphabet on an
// already-normalized sequence. It returns every violation found so the
// API can report them together.
func ValidateSequence(seq string) []string {
	var details []string
	if len(seq) < MinSequenceLength {
		details = append(details, fmt.Sprintf("sequence too short: %d residues (minimum %d)", len(seq), MinSequenceLength))
	}
	if len(seq) > MaxSequenceLength {
		details = append(details, fmt.Sprintf("sequence too long: %d residues (maximum %d)", len(seq), MaxSequenceLength))
	}
	for i, r := range seq {
		if !strings.ContainsRune(aminoAcids, r) {
			details = append(details, fmt.Sprintf("invalid residue %q at position %d", r, i+1))
			if len(details) >= 10 {
				details = append(details, "further errors omitted")
				break
			}
		}
	}
	return details
}

// SequenceFromFASTA extracts the first record's sequence from FASTA
// content. Header lines start with '>'; the record ends at the next
// header or EOF. Content without any header is treated as a bare
// sequence.
func SequenceFromFASTA(content string) (string, error) {
	lines := strings.Split(content, "\n")
	var seq strings.Builder
	inRecord := false
	sawHeader := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			if inRecord {
				break
			}
			sawHeader = true
			inRecord = true
			continue
		}
		if strings.HasPrefix(line, ";") {
			// Old-style FASTA comment.
			continue
		}
		if !sawHeader {
			inRecord = true
		}
		if inRecord {
			seq.WriteString(line)
		}
	}
	if seq.Len() == 0 {
		return "", fmt.Errorf("no sequence data in FASTA content")
	}
	return NormalizeSequence(seq.String()), nil
}
