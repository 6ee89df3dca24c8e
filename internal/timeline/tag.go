package timeline

import "strings"

// Kind discriminates what a timeline is watching.
type Kind int

const (
	KindFixed Kind = iota
	KindPolling
	KindSearch
	KindConversation
)

func (k Kind) String() string {
	switch k {
	case KindFixed:
		return "fixed"
	case KindPolling:
		return "polling"
	case KindSearch:
		return "search"
	case KindConversation:
		return "conversation"
	default:
		return "unknown"
	}
}

// Tag is the registry's view of a timeline. Terms is set only for KindSearch.
type Tag struct {
	Kind  Kind
	Terms []string
}

func Fixed() Tag        { return Tag{Kind: KindFixed} }
func Polling() Tag      { return Tag{Kind: KindPolling} }
func Conversation() Tag { return Tag{Kind: KindConversation} }

// Search tags a column filtering the shared search hub on terms.
func Search(terms []string) Tag {
	return Tag{Kind: KindSearch, Terms: append([]string(nil), terms...)}
}

// IsSearch reports whether the timeline is backed by the search hub.
func (t Tag) IsSearch() bool {
	return t.Kind == KindSearch
}

func (t Tag) String() string {
	if t.Kind == KindSearch {
		return "search(" + strings.Join(t.Terms, "|") + ")"
	}
	return t.Kind.String()
}
