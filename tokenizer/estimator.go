package tokenizer

// Estimator is a character-count-based token estimator.
// It distinguishes CJK and ASCII characters for better accuracy
// compared to a naive len/4 approach, which matters because CJK
// text tokenizes far denser than English prose.
type Estimator struct {
	model     string
	maxTokens int

	// asciiCharsPerToken and cjkCharsPerToken are the per-script
	// character-to-token ratios.
	asciiCharsPerToken float64
	cjkCharsPerToken   float64
}

// NewEstimator creates a generic estimator for the given model.
// maxTokens <= 0 selects a conservative default context window.
func NewEstimator(model string, maxTokens int) *Estimator {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Estimator{
		model:              model,
		maxTokens:          maxTokens,
		asciiCharsPerToken: 4.0,
		cjkCharsPerToken:   1.5,
	}
}

// WithCharsPerToken overrides the ASCII chars-per-token ratio.
func (e *Estimator) WithCharsPerToken(ratio float64) *Estimator {
	if ratio > 0 {
		e.asciiCharsPerToken = ratio
	}
	return e
}

func (e *Estimator) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}

	cjk, other := 0, 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}

	estimated := int(float64(cjk)/e.cjkCharsPerToken + float64(other)/e.asciiCharsPerToken)
	if estimated == 0 {
		estimated = 1
	}
	return estimated, nil
}

func (e *Estimator) CountMessages(messages []Message) (int, error) {
	total := 0
	for _, msg := range messages {
		// Each message has ~4 tokens of overhead (role markers, separators).
		tokens, err := e.CountTokens(msg.Content)
		if err != nil {
			return 0, err
		}
		total += tokens + 4
	}
	// Conversation-end overhead.
	total += 3
	return total, nil
}

func (e *Estimator) MaxTokens() int {
	return e.maxTokens
}

func (e *Estimator) Name() string {
	return "estimator"
}

// isCJK returns true if the rune is a CJK character.
func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3400 && r <= 0x4DBF) || // CJK Extension A
		(r >= 0x20000 && r <= 0x2A6DF) || // CJK Extension B
		(r >= 0xF900 && r <= 0xFAFF) || // CJK Compatibility Ideographs
		(r >= 0x3000 && r <= 0x303F) || // CJK Symbols and Punctuation
		(r >= 0xFF00 && r <= 0xFFEF) // Halfwidth and Fullwidth Forms
}
