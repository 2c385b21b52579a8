package onnx

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// DefaultMaxLength is the sequence length MiniLM models are exported with.
const DefaultMaxLength = 128

// Tokenizer handles BERT-style WordPiece tokenization.
type Tokenizer struct {
	vocab    map[string]int
	clsToken int
	sepToken int
	unkToken int
}

// LoadTokenizer reads the vocabulary from a HuggingFace tokenizer.json.
func LoadTokenizer(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokenizer: %w", err)
	}

	var tokenizerData struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &tokenizerData); err != nil {
		return nil, fmt.Errorf("parse tokenizer: %w", err)
	}
	if len(tokenizerData.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer %s has an empty vocabulary", path)
	}
	return NewTokenizer(tokenizerData.Model.Vocab), nil
}

// NewTokenizer creates a tokenizer over vocab. Special tokens fall back to
// the bert-base-uncased ids when vocab does not name them.
func NewTokenizer(vocab map[string]int) *Tokenizer {
	special := func(tok string, def int) int {
		if id, ok := vocab[tok]; ok {
			return id
		}
		return def
	}
	return &Tokenizer{
		vocab:    vocab,
		clsToken: special("[CLS]", 101),
		sepToken: special("[SEP]", 102),
		unkToken: special("[UNK]", 100),
	}
}

// Tokenize converts text to token ids, without special tokens.
func (t *Tokenizer) Tokenize(text string) []int64 {
	var tokens []int64
	for _, word := range basicSplit(strings.ToLower(text)) {
		if id, ok := t.vocab[word]; ok {
			tokens = append(tokens, int64(id))
			continue
		}
		tokens = append(tokens, t.wordPiece(word)...)
	}
	return tokens
}

// Encode builds the three model inputs for text, padded to maxLen:
// [CLS] tokens... [SEP] 0 0 ...
func (t *Tokenizer) Encode(text string, maxLen int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxLen < 2 {
		maxLen = DefaultMaxLength
	}
	inputIDs = make([]int64, maxLen)
	attentionMask = make([]int64, maxLen)
	tokenTypeIDs = make([]int64, maxLen)

	tokens := t.Tokenize(text)
	if len(tokens) > maxLen-2 {
		tokens = tokens[:maxLen-2]
	}

	inputIDs[0] = int64(t.clsToken)
	attentionMask[0] = 1
	for i, tok := range tokens {
		inputIDs[i+1] = tok
		attentionMask[i+1] = 1
	}
	end := len(tokens) + 1
	inputIDs[end] = int64(t.sepToken)
	attentionMask[end] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}

// wordPiece greedily splits word into the longest known subwords.
func (t *Tokenizer) wordPiece(word string) []int64 {
	runes := []rune(word)
	var ids []int64
	start := 0
	for start < len(runes) {
		end := len(runes)
		matched := -1
		for end > start {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if id, ok := t.vocab[sub]; ok {
				matched = id
				break
			}
			end--
		}
		if matched < 0 {
			// BERT maps the whole word to [UNK] when any piece is unknown.
			return []int64{int64(t.unkToken)}
		}
		ids = append(ids, int64(matched))
		start = end
	}
	return ids
}

// basicSplit splits on whitespace and isolates punctuation.
func basicSplit(text string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}
