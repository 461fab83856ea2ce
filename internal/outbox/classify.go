package outbox

import "strings"

// Class separates failures worth retrying from authoritative rejections.
type Class int

const (
	Transient Class = iota
	Terminal
)

func (c Class) String() string {
	if c == Terminal {
		return "terminal"
	}
	return "transient"
}

// Classification is the outcome of Classify.
type Classification struct {
	Class  Class
	Reason string
	// InvalidatesRestriction is set when the server's rejection means the
	// cached restriction state is stale.
	InvalidatesRestriction bool
}

// Terminal reports whether the failure must not be retried.
func (c Classification) Terminal() bool {
	return c.Class == Terminal
}

var moderationReasons = []struct {
	reason     string
	invalidate bool
}{
	{"TOXICITY_WARNING", false},
	{"MUTED", true},
	{"BANNED", true},
	{"READONLY", true},
}

// Classify inspects a send failure. Moderation codes anywhere in the error text
// are terminal; everything else is assumed to be a network or server hiccup.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Class: Transient}
	}
	text := err.Error()
	for _, m := range moderationReasons {
		if strings.Contains(text, m.reason) {
			return Classification{Class: Terminal, Reason: m.reason, InvalidatesRestriction: m.invalidate}
		}
	}
	return Classification{Class: Transient}
}
