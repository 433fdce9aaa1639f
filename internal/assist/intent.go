// Package assist holds the pre-model decision logic: intent classification,
// the grounding router, and prompt/reply assembly.
package assist

import "strings"

// Intent labels what a prompt is actually asking for. Meta and navigation
// prompts are answered locally without retrieval or a model call.
type Intent string

const (
	// IntentMeta covers greetings and questions about the assistant itself.
	IntentMeta Intent = "meta"
	// IntentNavigation covers how-do-I-use-this questions about files and uploads.
	IntentNavigation Intent = "navigation"
	// IntentStudy is everything else: a real question for the answering pipeline.
	IntentStudy Intent = "study"
)

// greetings match as the first word of the prompt.
var greetings = map[string]struct{}{
	"hello": {}, "hi": {}, "hey": {}, "yo": {}, "thanks": {}, "thank": {},
	"goodbye": {}, "bye": {},
}

// metaPhrases match anywhere in the prompt.
var metaPhrases = []string{
	"what are you",
	"who are you",
	"how do you work",
	"what can you do",
	"what do you do",
	"are you a bot",
	"are you an ai",
	"your capabilities",
	"what are your capabilities",
	"what is this app",
	"what is this assistant",
}

// navigationPhrases match anywhere in the prompt.
var navigationPhrases = []string{
	"upload",
	"attach",
	"import",
	"add a file",
	"add file",
	"add my notes",
	"add a document",
	"add documents",
	"my files",
	"supported file",
	"file type",
	"file format",
	"remove a file",
	"delete a file",
}

// Classify labels a prompt. Meta patterns win over navigation patterns, and
// every input gets exactly one label, defaulting to study.
func Classify(prompt string) Intent {
	p := strings.ToLower(strings.TrimSpace(prompt))
	if p == "" {
		return IntentStudy
	}

	if first := firstWord(p); first != "" {
		if _, ok := greetings[first]; ok {
			return IntentMeta
		}
	}
	for _, phrase := range metaPhrases {
		if strings.Contains(p, phrase) {
			return IntentMeta
		}
	}
	for _, phrase := range navigationPhrases {
		if strings.Contains(p, phrase) {
			return IntentNavigation
		}
	}
	return IntentStudy
}

func firstWord(p string) string {
	end := len(p)
	for i, r := range p {
		if r == ' ' || r == ',' || r == '!' || r == '.' || r == '?' {
			end = i
			break
		}
	}
	return p[:end]
}

// MetaReply is the fixed local answer for meta prompts.
func MetaReply() string {
	return "I'm your study assistant. I answer questions about the course material " +
		"you've uploaded, citing the pages I used. Upload notes or readings, then " +
		"ask me anything about them — or switch to general mode for open questions."
}

// NavigationReply is the fixed local answer for upload/file-handling prompts.
func NavigationReply() string {
	return "To add material, use the ingest command (or the upload button) with a " +
		"text, PDF, or image file. I'll index it page by page; once a source shows " +
		"as ready, its content is searchable and citable in your questions."
}
