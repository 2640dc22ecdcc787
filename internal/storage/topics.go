package storage

// topicOrder is the canonical category enumeration. The selection engine's
// fallback rotation walks categories in exactly this order, so the order is
// part of the selection contract, not a presentation detail.
var topicOrder = []string{
	"Education",
	"Health",
	"Housing",
	"Environment",
	"Criminal Justice",
	"Economic Development",
	"Democracy & Governance",
	"Immigration",
	"Transportation",
	"Food Security",
	"Mental Health",
	"Community Development",
	"Technology",
	"Energy",
	"Agriculture",
	"Social Services",
	"Arts & Culture",
	"Youth Development",
	"Senior Services",
	"Public Safety",
	"Infrastructure",
	"Workforce Development",
}

var topicSet = func() map[string]bool {
	m := make(map[string]bool, len(topicOrder))
	for _, t := range topicOrder {
		m[t] = true
	}
	return m
}()

// Topics returns the fixed category list in canonical order.
func Topics() []string {
	out := make([]string, len(topicOrder))
	copy(out, topicOrder)
	return out
}

// ValidTopic reports whether s is one of the enumerated categories.
func ValidTopic(s string) bool {
	return topicSet[s]
}
