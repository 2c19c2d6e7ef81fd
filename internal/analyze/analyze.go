// Package analyze scores the polarity of short English texts with a small lexicon.
//
// Scores follow the usual valence layout: Neg, Neu and Pos are the proportions of
// negative, neutral and positive weight in the text and sum to 1; Compound is the
// summed valence normalized into [-1, 1].
package analyze

import (
	"errors"
	"math"
	"strings"
	"unicode"

	"github.com/ygrebnov/workq/pool"
)

// ErrEmptyText is returned for texts without a single word.
var ErrEmptyText = errors.New("analyze: empty text")

// Scores is the polarity breakdown of a text.
type Scores struct {
	Neg      float64 `json:"neg"`
	Neu      float64 `json:"neu"`
	Pos      float64 `json:"pos"`
	Compound float64 `json:"compound"`
}

const (
	// normAlpha approximates the maximum expected summed valence.
	normAlpha = 15.0
	// negationScale flips and dampens the valence of a word following a negation.
	negationScale = -0.74
	// boost is added to the magnitude of a word following an intensifier.
	boost = 0.293
)

var lexicon = map[string]float64{
	"good": 1.9, "great": 3.1, "excellent": 3.2, "love": 3.2, "like": 1.5, "happy": 2.7,
	"nice": 1.8, "awesome": 3.1, "amazing": 2.8, "fast": 1.2, "fun": 2.3, "best": 3.2,
	"wonderful": 2.7, "glad": 2.0, "calm": 1.3, "win": 2.8, "success": 2.7, "helpful": 1.9,
	"bad": -2.5, "terrible": -2.1, "awful": -2.0, "hate": -2.7, "sad": -2.1, "slow": -1.2,
	"worst": -3.1, "horrible": -2.5, "angry": -2.3, "broken": -2.1, "fail": -2.5, "ugly": -2.3,
	"boring": -1.3, "poor": -2.1, "lose": -1.7, "error": -1.3, "dark": -0.9, "fear": -2.2,
}

var negations = map[string]struct{}{
	"not": {}, "no": {}, "never": {}, "none": {}, "nobody": {}, "nothing": {},
	"isn't": {}, "don't": {}, "doesn't": {}, "didn't": {}, "wasn't": {}, "can't": {}, "won't": {},
}

var intensifiers = map[string]struct{}{
	"very": {}, "really": {}, "extremely": {}, "so": {}, "totally": {}, "incredibly": {},
}

// tokens reuses word buffers across calls; Score runs on every worker concurrently.
var tokens = pool.NewDynamic(func() []string { return make([]string, 0, 64) })

// Score returns the polarity of text.
func Score(text string) (Scores, error) {
	words := tokenize(tokens.Get()[:0], text)
	defer func() { tokens.Put(words[:0]) }()
	if len(words) == 0 {
		return Scores{}, ErrEmptyText
	}

	var sum, pos, neg float64
	var neutral int
	for i, w := range words {
		v, ok := lexicon[w]
		if !ok {
			if _, skip := intensifiers[w]; !skip {
				if _, skip = negations[w]; !skip {
					neutral++
				}
			}
			continue
		}
		if i > 0 {
			if _, ok := intensifiers[words[i-1]]; ok {
				v += math.Copysign(boost, v)
			}
		}
		if negatedWithin(words, i, 3) {
			v *= negationScale
		}
		sum += v
		if v > 0 {
			pos += v + 1
		} else {
			neg += v - 1
		}
	}

	total := pos + math.Abs(neg) + float64(neutral)
	if total == 0 {
		return Scores{Neu: 1}, nil
	}
	return Scores{
		Neg:      round3(math.Abs(neg) / total),
		Neu:      round3(float64(neutral) / total),
		Pos:      round3(pos / total),
		Compound: round4(sum / math.Sqrt(sum*sum+normAlpha)),
	}, nil
}

// negatedWithin reports whether one of the n words before i is a negation.
func negatedWithin(words []string, i, n int) bool {
	for j := max(0, i-n); j < i; j++ {
		if _, ok := negations[words[j]]; ok {
			return true
		}
	}
	return false
}

func tokenize(dst []string, text string) []string {
	for _, f := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	}) {
		if f = strings.Trim(f, "'"); f != "" {
			dst = append(dst, f)
		}
	}
	return dst
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
