package slam

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/monoslam/vision/keypoints"
)

// Vocabulary is a flat codebook of binary visual words used to turn a set of
// descriptors into a bag-of-words vector for appearance-based retrieval.
type Vocabulary struct {
	Words keypoints.Descriptors
}

// vocabularyFile is the on-disk JSON layout: each word is a list of 64-bit
// hex strings, one per descriptor word.
type vocabularyFile struct {
	Words [][]string `json:"words"`
}

// LoadVocabulary loads a visual-word vocabulary from a JSON file.
func LoadVocabulary(path string) (*Vocabulary, error) {
	filePath := filepath.Clean(path)
	//nolint:gosec
	vocabFile, err := os.Open(filePath)
	defer utils.UncheckedErrorFunc(vocabFile.Close)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read vocabulary file")
	}
	var raw vocabularyFile
	if err := json.NewDecoder(vocabFile).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "cannot parse vocabulary file")
	}
	if len(raw.Words) == 0 {
		return nil, errors.New("vocabulary has no words")
	}
	words := make(keypoints.Descriptors, len(raw.Words))
	for i, chunks := range raw.Words {
		if len(chunks) == 0 || len(chunks) != len(raw.Words[0]) {
			return nil, errors.Errorf("vocabulary word %d has inconsistent length", i)
		}
		word := make(keypoints.Descriptor, len(chunks))
		for j, chunk := range chunks {
			v, err := strconv.ParseUint(chunk, 16, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "vocabulary word %d chunk %d is not a 64-bit hex value", i, j)
			}
			word[j] = v
		}
		words[i] = word
	}
	return &Vocabulary{Words: words}, nil
}

// NewVocabulary creates a vocabulary directly from a set of words.
func NewVocabulary(words keypoints.Descriptors) (*Vocabulary, error) {
	if len(words) == 0 {
		return nil, errors.New("vocabulary has no words")
	}
	return &Vocabulary{Words: words}, nil
}

// Quantize returns the index of the vocabulary word closest to the
// descriptor in Hamming distance.
func (v *Vocabulary) Quantize(desc keypoints.Descriptor) int {
	best, bestDist := 0, -1
	for i, word := range v.Words {
		d, err := keypoints.HammingDistance(word, desc)
		if err != nil {
			continue
		}
		if bestDist < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// BagOfWords computes the L1-normalized word histogram of a descriptor set.
func (v *Vocabulary) BagOfWords(descs keypoints.Descriptors) map[int]float64 {
	bow := make(map[int]float64)
	if len(descs) == 0 {
		return bow
	}
	for _, desc := range descs {
		bow[v.Quantize(desc)]++
	}
	total := float64(len(descs))
	for word := range bow {
		bow[word] /= total
	}
	return bow
}

// BowSimilarity scores two L1-normalized bag-of-words vectors with the
// histogram intersection, in [0,1].
func BowSimilarity(a, b map[int]float64) float64 {
	score := 0.0
	for word, va := range a {
		if vb, ok := b[word]; ok {
			score += minF(va, vb)
		}
	}
	return score
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
