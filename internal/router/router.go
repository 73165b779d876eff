package router

import (
	"strconv"
	"strings"

	"github.com/shiftbreak/breakwatch/internal/breaks"
)

// Intent is a parsed instruction extracted from an inbound message.
type Intent interface{ intent() }

// Begin starts a break of the given kind.
type Begin struct{ Kind breaks.Kind }

// End closes the sender's active break.
type End struct{}

// Who lists open sessions in the chat (admin only).
type Who struct{}

// Summary reports the chat's shift totals (admin only).
type Summary struct{}

// SetLimit changes a kind's duration cap (admin only).
type SetLimit struct {
	Kind    breaks.Kind
	Minutes int
}

// SetQuota changes a kind's per-shift count cap (admin only).
type SetQuota struct {
	Kind  breaks.Kind
	Count int
}

// Mute toggles chat-level suppression of routine notices (admin only).
type Mute struct{ Muted bool }

// Start requests the usage explainer.
type Start struct{}

// WhoAmI requests the sender's numeric ID.
type WhoAmI struct{}

// Ping requests a liveness round-trip.
type Ping struct{}

// BadUsage marks a recognized admin command with malformed arguments.
type BadUsage struct{ Command string }

// Unrecognized is any text that matched nothing. The service decides
// whether to answer with a usage prompt.
type Unrecognized struct{}

func (Begin) intent()        {}
func (End) intent()          {}
func (Who) intent()          {}
func (Summary) intent()      {}
func (SetLimit) intent()     {}
func (SetQuota) intent()     {}
func (Mute) intent()         {}
func (Start) intent()        {}
func (WhoAmI) intent()       {}
func (Ping) intent()         {}
func (BadUsage) intent()     {}
func (Unrecognized) intent() {}

// Router turns raw message text into intents. Matching is whole-message
// and case-insensitive; trigger vocabularies mirror the phrasing the
// crews actually type, in Chinese and English.
type Router struct {
	botName  string
	triggers map[string]breaks.Kind
	back     map[string]struct{}
}

// New creates a router. botName is used to accept /cmd@botname forms and
// ignore commands addressed to other bots.
func New(botName string) *Router {
	r := &Router{
		botName:  strings.TrimPrefix(botName, "@"),
		triggers: make(map[string]breaks.Kind),
		back:     make(map[string]struct{}),
	}

	add := func(kind breaks.Kind, words ...string) {
		for _, w := range words {
			r.triggers[strings.ToLower(w)] = kind
		}
	}
	add(breaks.KindToilet, "厕所", "上厕所", "wc", "toilet", "restroom", "washroom", "bathroom", "pee", "loo")
	add(breaks.KindSmoke, "抽", "抽烟", "抽煙", "烟", "煙", "smoke", "smoking", "cigarette")
	add(breaks.KindMeal, "吃", "吃饭", "吃飯", "用餐", "eat", "eating", "meal", "lunch", "dinner", "food")

	for _, w := range []string{"回来", "回", "back", "1"} {
		r.back[w] = struct{}{}
	}

	return r
}

// Parse extracts an intent from a message. A nil result means the
// message is not for this bot at all (for example a command addressed to
// another bot) and must be ignored without any reply.
func (r *Router) Parse(text string) Intent {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if strings.HasPrefix(text, "/") {
		return r.parseCommand(text)
	}

	lower := strings.ToLower(text)
	if kind, ok := r.triggers[lower]; ok {
		return Begin{Kind: kind}
	}
	if _, ok := r.back[lower]; ok {
		return End{}
	}
	return Unrecognized{}
}

func (r *Router) parseCommand(text string) Intent {
	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")

	if at := strings.IndexByte(name, '@'); at >= 0 {
		if r.botName != "" && !strings.EqualFold(name[at+1:], r.botName) {
			return nil
		}
		name = name[:at]
	}

	switch strings.ToLower(name) {
	case "toilet":
		return Begin{Kind: breaks.KindToilet}
	case "smoke":
		return Begin{Kind: breaks.KindSmoke}
	case "meal":
		return Begin{Kind: breaks.KindMeal}
	case "back":
		return End{}
	case "who":
		return Who{}
	case "summary":
		return Summary{}
	case "setlimit":
		kind, value, ok := parseKindValue(fields[1:])
		if !ok {
			return BadUsage{Command: "setlimit"}
		}
		return SetLimit{Kind: kind, Minutes: value}
	case "setcount":
		kind, value, ok := parseKindValue(fields[1:])
		if !ok {
			return BadUsage{Command: "setcount"}
		}
		return SetQuota{Kind: kind, Count: value}
	case "mute":
		return Mute{Muted: true}
	case "unmute":
		return Mute{Muted: false}
	case "start", "help":
		return Start{}
	case "id":
		return WhoAmI{}
	case "ping":
		return Ping{}
	default:
		return Unrecognized{}
	}
}

// kindAliases maps the argument spellings accepted by the admin commands.
var kindAliases = map[string]breaks.Kind{
	"厕所":     breaks.KindToilet,
	"toilet": breaks.KindToilet,
	"抽烟":     breaks.KindSmoke,
	"smoke":  breaks.KindSmoke,
	"吃饭":     breaks.KindMeal,
	"meal":   breaks.KindMeal,
}

func parseKindValue(args []string) (breaks.Kind, int, bool) {
	if len(args) < 2 {
		return "", 0, false
	}
	kind, ok := kindAliases[strings.ToLower(args[0])]
	if !ok {
		return "", 0, false
	}
	value, err := strconv.Atoi(args[1])
	if err != nil || value <= 0 {
		return "", 0, false
	}
	return kind, value, true
}
