package source

import (
	"errors"
	"regexp"
	"strings"
)

// Ref identifies a chat and an optional topic (forum thread) within it.
type Ref struct {
	Chat  string // numeric ID ("-1002381311281") or public username
	Topic string // topic/thread ID, "" for the whole chat
}

func (r Ref) String() string {
	if r.Topic == "" {
		return r.Chat
	}
	return r.Chat + "/" + r.Topic
}

var (
	privateLinkRe = regexp.MustCompile(`t\.me/c/(\d+)(?:/(\d+))?`)
	webClientRe   = regexp.MustCompile(`web\.telegram\.org/[^#]*#(-?\d+)`)
	publicLinkRe  = regexp.MustCompile(`t\.me/([^/?#]+)(?:/(\d+))?`)
	numericIDRe   = regexp.MustCompile(`^-?\d+$`)
)

// ParseRef accepts the forms users paste from a messaging client:
//
//	https://t.me/c/2381311281/21       private channel 2381311281, topic 21
//	https://web.telegram.org/a/#-100238 web client hash
//	https://t.me/somechannel/5         public channel, topic 5
//	-1002381311281                     raw chat ID
//	@somechannel                       username
//
// Private channel IDs from t.me/c links get the "-100" prefix the platform
// uses for supergroups.
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, errors.New("empty chat reference")
	}

	if m := privateLinkRe.FindStringSubmatch(s); m != nil {
		return Ref{Chat: "-100" + m[1], Topic: m[2]}, nil
	}
	if m := webClientRe.FindStringSubmatch(s); m != nil {
		return Ref{Chat: m[1]}, nil
	}
	if m := publicLinkRe.FindStringSubmatch(s); m != nil {
		return Ref{Chat: m[1], Topic: m[2]}, nil
	}
	if numericIDRe.MatchString(s) {
		return Ref{Chat: s}, nil
	}

	name := strings.TrimPrefix(s, "@")
	if name == "" || strings.ContainsAny(name, " /?#") {
		return Ref{}, errors.New("unrecognized chat reference: " + s)
	}
	return Ref{Chat: name}, nil
}
