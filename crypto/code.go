package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

const (
	// DefaultCodeWords is the number of words after the nameplate.
	DefaultCodeWords = 2
	// MaxNameplate bounds generated nameplates so codes stay short to type.
	MaxNameplate = 999
	// receivePrefix is accepted in front of pasted codes.
	receivePrefix = "wormhole receive "
)

var (
	// ErrInvalidCode indicates a rendezvous code that cannot be parsed.
	ErrInvalidCode = errors.New("crypto: invalid code")
	// ErrEmptyCode indicates that no code was supplied.
	ErrEmptyCode = errors.New("crypto: no code provided")
)

// Code is a parsed rendezvous code: "<nameplate>-<word>-<word>".
type Code struct {
	Nameplate string
	Words     []string
}

// String renders the code in its canonical typed form.
func (c Code) String() string {
	return c.Nameplate + "-" + strings.Join(c.Words, "-")
}

// GenerateCode returns a fresh random code with the given number of words.
func GenerateCode(words int) (Code, error) {
	if words <= 0 {
		words = DefaultCodeWords
	}

	nameplate, err := rand.Int(rand.Reader, big.NewInt(MaxNameplate))
	if err != nil {
		return Code{}, fmt.Errorf("generate nameplate: %w", err)
	}

	code := Code{
		Nameplate: strconv.FormatInt(nameplate.Int64()+1, 10),
		Words:     make([]string, 0, words),
	}
	limit := big.NewInt(int64(len(wordlist)))
	for i := 0; i < words; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return Code{}, fmt.Errorf("generate code word: %w", err)
		}
		code.Words = append(code.Words, wordlist[idx.Int64()])
	}
	return code, nil
}

// NormalizeInput trims pasted input and strips a leading "wormhole receive " prefix.
func NormalizeInput(raw string) string {
	code := strings.TrimSpace(raw)
	// A bare "wormhole receive" has lost its trailing space to TrimSpace.
	if strings.HasPrefix(code+" ", receivePrefix) {
		code = strings.TrimSpace(code[len(receivePrefix)-1:])
	}
	return code
}

// ParseCode normalises raw input and parses it into a Code.
func ParseCode(raw string) (Code, error) {
	text := NormalizeInput(raw)
	if text == "" {
		return Code{}, ErrEmptyCode
	}

	parts := strings.Split(strings.ToLower(text), "-")
	if len(parts) < 2 {
		return Code{}, fmt.Errorf("%w: %q needs a nameplate and at least one word", ErrInvalidCode, text)
	}

	nameplate := parts[0]
	if n, err := strconv.Atoi(nameplate); err != nil || n <= 0 {
		return Code{}, fmt.Errorf("%w: nameplate %q is not a positive number", ErrInvalidCode, nameplate)
	}
	for _, word := range parts[1:] {
		if word == "" {
			return Code{}, fmt.Errorf("%w: %q has an empty word", ErrInvalidCode, text)
		}
	}

	return Code{Nameplate: nameplate, Words: parts[1:]}, nil
}
