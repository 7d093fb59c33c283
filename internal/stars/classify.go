package stars

import (
	"strings"

	"github.com/dukerupert/starchart/internal/model"
)

type areaRule struct {
	keyword string
	area    model.StarArea
}

// reasonRules are evaluated in order; the first keyword found wins.
var reasonRules = []areaRule{
	{"morning", model.AreaMorning},
	{"bedtime", model.AreaBedtime},
	{"chore", model.AreaChores},
	{"timer", model.AreaTimer},
	{"challenge", model.AreaChallenge},
}

// ClassifyReason guesses the area of a free-text reason by case-insensitive
// keyword match, falling back to bonus. The result is best effort: a reason
// mentioning two keywords lands in whichever rule comes first.
func ClassifyReason(reason string) model.StarArea {
	lower := strings.ToLower(reason)
	for _, r := range reasonRules {
		if strings.Contains(lower, r.keyword) {
			return r.area
		}
	}
	return model.AreaBonus
}
