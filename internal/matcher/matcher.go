// Package matcher suggests which local Product a rogue new_listing event
// (a remote listing nobody's PlatformLink points to) most likely refers to.
// It is advisory only: a suggestion below the confidence threshold leaves
// the event PENDING for operator review rather than auto-creating a link.
package matcher

import (
	"strings"

	"github.com/ettle/strcase"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/tommytoolman/marketsync/internal/model"
)

// MinConfidence is the threshold below which a suggestion is not trusted
// enough to populate SyncEvent.ChangeData.MatchCandidate automatically
// (spec §4.4).
const MinConfidence = 50

// Candidate is one local product considered as a match target.
type Candidate struct {
	Product *model.Product
}

// Suggest scores every candidate against title/brand/model extracted from
// the remote listing's title and returns the best one, if any clears
// MinConfidence. Candidates already linked to another platform under the
// same SKU are still eligible — the suggestion only ever informs, it never
// mutates a PlatformLink itself.
func Suggest(remoteTitle string, candidates []Candidate) (*model.MatchCandidate, bool) {
	return SuggestWithThreshold(remoteTitle, candidates, MinConfidence)
}

// SuggestWithThreshold is Suggest with an operator-tunable confidence floor
// (config.SyncConfig.MatcherConfidenceThreshold) instead of the package
// default.
func SuggestWithThreshold(remoteTitle string, candidates []Candidate, minConfidence int) (*model.MatchCandidate, bool) {
	norm := normalize(remoteTitle)

	best := -1
	var bestCandidate *Candidate
	for i := range candidates {
		c := &candidates[i]
		score := scoreCandidate(norm, c.Product)
		if score > best {
			best = score
			bestCandidate = c
		}
	}
	if bestCandidate == nil || best < minConfidence {
		return nil, false
	}
	return &model.MatchCandidate{
		ProductID:  bestCandidate.Product.ID,
		Confidence: best,
		Reason:     reasonFor(norm, bestCandidate.Product),
	}, true
}

// scoreCandidate blends a fuzzy full-title match with exact
// brand/model-name token hits, each token match worth a fixed bonus so a
// correct brand+model always outweighs a coincidental fuzzy title overlap.
func scoreCandidate(normRemoteTitle string, p *model.Product) int {
	candidateTitle := normalize(p.Title)
	titleScore := fuzzy.RankMatchNormalizedFold(normRemoteTitle, candidateTitle)
	// RankMatchNormalizedFold returns -1 on no match; treat that as zero
	// signal rather than a large negative skew.
	base := 0
	if titleScore >= 0 {
		maxLen := len(normRemoteTitle)
		if len(candidateTitle) > maxLen {
			maxLen = len(candidateTitle)
		}
		if maxLen > 0 {
			base = 60 - (titleScore*60)/maxLen
			if base < 0 {
				base = 0
			}
		}
	}

	tokens := strings.Fields(normRemoteTitle)
	tokenSet := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = true
	}
	bonus := 0
	if tokenSet[normalize(p.Brand)] {
		bonus += 35
	}
	if tokenSet[normalize(p.ModelName)] {
		bonus += 35
	}

	score := base + bonus
	if score > 100 {
		score = 100
	}
	return score
}

func reasonFor(normRemoteTitle string, p *model.Product) string {
	var hits []string
	tokens := strings.Fields(normRemoteTitle)
	tokenSet := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = true
	}
	if tokenSet[normalize(p.Brand)] {
		hits = append(hits, "brand")
	}
	if tokenSet[normalize(p.ModelName)] {
		hits = append(hits, "model")
	}
	if len(hits) == 0 {
		return "fuzzy title match"
	}
	return strings.Join(hits, "+") + " token match"
}

// normalize folds a free-text string to snake_case-joined lowercase tokens
// via ettle/strcase, so "Fender Stratocaster '65" and "fender-stratocaster
// 65" compare equal.
func normalize(s string) string {
	return strings.ReplaceAll(strcase.ToSnake(s), "_", " ")
}
