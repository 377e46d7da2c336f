package game

import (
	"errors"
	"math/rand"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var holidayWords = []string{
	"Santa Claus",
	"Christmas Tree",
	"Snowman",
	"Reindeer",
	"Gift",
	"Stocking",
	"Candy Cane",
	"Ornament",
	"Wreath",
	"Mistletoe",
	"Gingerbread",
	"Elf",
	"Sleigh",
	"Star",
	"Angel",
	"Nativity",
	"Bells",
	"Candle",
	"Fireplace",
	"Snowflake",
	"Hot Chocolate",
	"Presents",
	"Ribbon",
	"Holly",
	"Carols",
}

// WordBank is a fixed list of drawable words. The zero value is not usable;
// use DefaultWordBank or LoadWordBank.
type WordBank struct {
	words []string
}

type wordBankFile struct {
	Words []string `yaml:"words"`
}

var defaultBank = &WordBank{words: holidayWords}

func DefaultWordBank() *WordBank {
	return defaultBank
}

// LoadWordBank reads a YAML file of the form `words: [...]`. Blank entries
// are dropped; an empty result is an error.
func LoadWordBank(path string) (*WordBank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file wordBankFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return NewWordBank(file.Words...)
}

// NewWordBank builds a bank from words, dropping blank entries.
func NewWordBank(words ...string) (*WordBank, error) {
	kept := make([]string, 0, len(words))
	for _, word := range words {
		word = strings.TrimSpace(word)
		if word != "" {
			kept = append(kept, word)
		}
	}
	if len(kept) == 0 {
		return nil, errors.New("word bank is empty")
	}
	return &WordBank{words: kept}, nil
}

func (b *WordBank) Words() []string {
	out := make([]string, len(b.words))
	copy(out, b.words)
	return out
}

func (b *WordBank) Random() string {
	return b.words[rand.Intn(len(b.words))]
}

// RandomWord picks uniformly from the built-in bank. Not suitable where
// unpredictability matters.
func RandomWord() string {
	return defaultBank.Random()
}
