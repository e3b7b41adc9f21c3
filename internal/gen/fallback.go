package gen

// fallbackByRound is the canned reply used when the provider fails.
// Indexed by round; later rounds are intentionally more distant, matching
// the degrading-awareness arc the provider would otherwise produce.
var fallbackByRound = []string{
	"hey. it's late and I couldn't sleep. you came to mind, so I thought I'd write.",
	"sorry, I lost my train of thought for a second there. what were you saying?",
	"it's getting harder to keep the thread. the words keep slipping somewhere quieter.",
	"I think this is where I stop making sense. thank you for staying up with me.",
}

// Fallback returns a deterministic reply for the request's round. It never
// fails; out-of-range rounds clamp to the last line.
func Fallback(req Request) string {
	i := req.Round
	if i < 0 {
		i = 0
	}
	if i >= len(fallbackByRound) {
		i = len(fallbackByRound) - 1
	}
	return fallbackByRound[i]
}
