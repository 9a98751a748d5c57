// Package dictionary holds the dialect dictionary data and the import and
// repair jobs that maintain it.
package dictionary

import (
	"context"
	"fmt"
	"strconv"
)

type Lemma struct {
	ID    int64
	Gloss string
}

// Entry is one dialect word attested for a lemma at a place.
type Entry struct {
	Lemma       string
	Trefwoord   string
	Woord       string
	Stad        string
	Kloeke      string
	Toelichting string
}

// Aflevering identifies one installment of the dictionary. Sectie is zero
// for parts without sections.
type Aflevering struct {
	Deel   int
	Sectie int
	Number int
}

func (a Aflevering) String() string {
	sectie := ""
	if a.Sectie != 0 {
		sectie = strconv.Itoa(a.Sectie)
	}
	return fmt.Sprintf("%d/%s/%d", a.Deel, sectie, a.Number)
}

// IsAll reports whether a asks for every known file.
func (a Aflevering) IsAll() bool {
	return a.Deel == 0 && a.Sectie == 0 && a.Number == 0
}

type Repository interface {
	// ReplaceEntries swaps the stored entries of a for entries, creating
	// lemmas as needed.
	ReplaceEntries(ctx context.Context, a Aflevering, entries []Entry) error
	CountEntries(ctx context.Context, a Aflevering) (int64, error)
	Lemmas(ctx context.Context) ([]Lemma, error)
	UpdateGloss(ctx context.Context, id int64, gloss string) error
}
