package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/greeting.txt
	greetingRaw string

	//go:embed template/chat_greeting.txt
	chatGreetingRaw string

	//go:embed template/apology.txt
	apologyRaw string

	//go:embed template/hold.txt
	holdRaw string

	//go:embed template/reprompt.txt
	repromptRaw string

	//go:embed template/no_input.txt
	noInputRaw string
)

// PhraseSet holds the fixed lines the engine says on its own behalf.
type PhraseSet struct {
	Greeting     string
	ChatGreeting string
	Apology      string
	Hold         string
	Reprompt     string
	// NoInput closes a call after the caller stays silent too long.
	NoInput string
}

// LoadPhraseSet returns the embedded phrases, trimmed.
func LoadPhraseSet() PhraseSet {
	return PhraseSet{
		Greeting:     strings.TrimSpace(greetingRaw),
		ChatGreeting: strings.TrimSpace(chatGreetingRaw),
		Apology:      strings.TrimSpace(apologyRaw),
		Hold:         strings.TrimSpace(holdRaw),
		Reprompt:     strings.TrimSpace(repromptRaw),
		NoInput:      strings.TrimSpace(noInputRaw),
	}
}
