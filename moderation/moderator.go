package moderation

import (
	"fmt"
	"log/slog"
	"sort"
	"unicode"

	"chat-sync/errors"

	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/samber/lo"
)

// lookalikes folds the digits and signs commonly used to dodge a word list.
var lookalikes = map[rune]rune{
	'4': 'a', '@': 'a',
	'3': 'e', '€': 'e',
	'1': 'i', '!': 'i', '|': 'i',
	'0': 'o',
	'5': 's', '$': 's',
}

// Moderator masks censored words in message content before it is persisted.
// Matching ignores case, punctuation, spacing and look-alikes, so
// "B.4.d.g.€r" is caught by "badger" and all ten runes are masked.
type Moderator struct {
	machine *goahocorasick.Machine
	mask    rune
}

// folded is content reduced to the runes the automaton sees. source[i] is
// the index in the original content of runes[i].
type folded struct {
	runes  []rune
	source []int
}

func fold(content string) folded {
	original := []rune(content)
	f := folded{runes: make([]rune, 0, len(original)), source: make([]int, 0, len(original))}
	for i, r := range original {
		if plain, ok := lookalikes[r]; ok {
			r = plain
		}
		if unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r) {
			continue
		}
		f.runes = append(f.runes, unicode.ToLower(r))
		f.source = append(f.source, i)
	}
	return f
}

// NewModerator builds the automaton from words. Words folding to nothing are
// skipped and words folding to the same runes are kept once.
func NewModerator(words []string, mask rune, log *slog.Logger) (*Moderator, error) {
	patterns := lo.FilterMap(words, func(word string, _ int) ([]rune, bool) {
		f := fold(word)
		return f.runes, len(f.runes) > 0
	})
	patterns = lo.UniqBy(patterns, func(p []rune) string { return string(p) })
	if len(patterns) == 0 {
		return nil, errors.ErrEmptyWords
	}

	machine := new(goahocorasick.Machine)
	if err := machine.Build(patterns); err != nil {
		return nil, fmt.Errorf("unable to build censor automaton: %w", err)
	}
	log.Debug("Censor automaton built", "patterns", len(patterns), "skipped", len(words)-len(patterns))
	return &Moderator{machine: machine, mask: mask}, nil
}

// Censor returns content with every match masked, spacing kept, and the
// matched words in the order they appear in content.
func (m *Moderator) Censor(content string) (string, []string) {
	text := fold(content)
	if len(text.runes) == 0 {
		return content, nil
	}
	hits := m.machine.MultiPatternSearch(text.runes, false)
	if len(hits) == 0 {
		return content, nil
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Pos < hits[j].Pos })

	masked := []rune(content)
	matches := make([]string, 0, len(hits))
	for _, hit := range hits {
		from, to := hit.Pos, hit.Pos+len(hit.Word)
		if from < 0 || to > len(text.source) {
			continue
		}
		for i := text.source[from]; i <= text.source[to-1]; i++ {
			masked[i] = m.mask
		}
		matches = append(matches, string(hit.Word))
	}
	return string(masked), matches
}
