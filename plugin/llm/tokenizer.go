package llm

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/pkoukk/tiktoken-go"
)

const fallbackEncoding = "cl100k_base"

// Tokenizer counts the tokens a model would spend on text.
type Tokenizer interface {
	CountTokens(model, text string) (int, error)
}

// Tiktoken counts tokens with the BPE encoding of the model, falling back to
// cl100k_base for models tiktoken does not know.
type Tiktoken struct {
	encodings sync.Map // model -> *tiktoken.Tiktoken
}

func NewTiktoken() *Tiktoken {
	return &Tiktoken{}
}

func (t *Tiktoken) CountTokens(model, text string) (int, error) {
	encoding, err := t.encoding(model)
	if err != nil {
		return 0, err
	}
	return len(encoding.Encode(text, nil, nil)), nil
}

func (t *Tiktoken) encoding(model string) (*tiktoken.Tiktoken, error) {
	if v, ok := t.encodings.Load(model); ok {
		return v.(*tiktoken.Tiktoken), nil
	}
	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load encoding for %s", model)
		}
	}
	t.encodings.Store(model, encoding)
	return encoding, nil
}
