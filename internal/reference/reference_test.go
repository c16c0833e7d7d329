package reference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPatterns(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		want       string
		pattern    string
		confidence float64
	}{
		{"dosar nr", "Re: Dosar nr. 1234/62/2024", "1234/62/2024", "dosar", 0.95},
		{"dosarul without nr", "privind dosarul 567/3/2023 aflat pe rol", "567/3/2023", "dosar", 0.95},
		{"dosar with spaces", "DOSAR NR: 01234 / 62 / 2024", "1234/62/2024", "dosar", 0.95},
		{"bare nr", "Citatie nr. 88/215/2022", "88/215/2022", "nr", 0.8},
		{"bare number", "vezi 4321/1/2021, termen luni", "4321/1/2021", "bare", 0.6},
		{"bare at start", "4321/1/2021 termen", "4321/1/2021", "bare", 0.6},
		{"specific pattern beats earlier bare number", "ref 11/2/2020 si dosar nr. 99/3/2021", "99/3/2021", "dosar", 0.95},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := ExtractText(tt.text)
			require.True(t, ok)
			assert.Equal(t, tt.want, m.Normalized)
			assert.Equal(t, tt.pattern, m.Pattern)
			assert.Equal(t, tt.confidence, m.Confidence)
		})
	}
}

func TestExtractRejectsAdjacentDigitsAndSlashes(t *testing.T) {
	for _, text := range []string{
		"",
		"no reference here",
		"version 2/3/2024/7",
		"path /1234/62/2024",
		"date 12/05/20245",
		"0/0/2024",
	} {
		_, ok := ExtractText(text)
		assert.False(t, ok, text)
	}
}

func TestExtractSourceOrder(t *testing.T) {
	m, ok := Extract(
		Text{Source: SourceSubject, Content: "Intampinare"},
		Text{Source: SourceBody, Content: "Pentru dosarul nr. 10/62/2024 va transmitem"},
		Text{Source: SourceAttachment, Content: "Dosar nr. 20/62/2024"},
	)
	require.True(t, ok)
	assert.Equal(t, "10/62/2024", m.Normalized)
	assert.Equal(t, SourceBody, m.Source)

	m, ok = Extract(
		Text{Source: SourceSubject, Content: ""},
		Text{Source: SourceBody, Content: "fara referinta"},
		Text{Source: SourceAttachment, Content: "Sentinta civila in dosar 20/62/2024"},
	)
	require.True(t, ok)
	assert.Equal(t, SourceAttachment, m.Source)
}

func TestExtractPrefersExplicitReferenceInLaterText(t *testing.T) {
	m, ok := Extract(
		Text{Source: SourceSubject, Content: "Termen 15/03/2025"},
		Text{Source: SourceBody, Content: "Va comunicam termenul in dosarul nr. 1234/62/2024."},
	)
	require.True(t, ok)
	assert.Equal(t, "1234/62/2024", m.Normalized)
	assert.Equal(t, SourceBody, m.Source)
	assert.Equal(t, "dosar", m.Pattern)

	m, ok = Extract(
		Text{Source: SourceSubject, Content: "Termen 15/03/2025"},
		Text{Source: SourceBody, Content: "fara referinta"},
	)
	require.True(t, ok)
	assert.Equal(t, "15/3/2025", m.Normalized)
	assert.Equal(t, SourceSubject, m.Source)
	assert.Equal(t, "bare", m.Pattern)
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"1234/62/2024", "01234/062/2024", " 1234 / 62 / 2024 ", "7/1/1999"}
	for _, in := range inputs {
		once := Normalize(in)
		require.NotEmpty(t, once, in)
		assert.Equal(t, once, Normalize(once), in)
	}
	assert.Equal(t, "1234/62/2024", Normalize("01234 / 62 / 2024"))
	assert.Equal(t, "", Normalize("dosar 1234/62/2024"))
	assert.Equal(t, "", Normalize("abc"))
}
