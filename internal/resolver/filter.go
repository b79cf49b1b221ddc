package resolver

var (
	baseBlacklist    = []string{"official music video", "music video", "mv", "lyric"}
	variantBlacklist = []string{"remix", "single version", "cover", "live", "tour"}
)

// Filter rejects non-canonical cuts. The variant terms only apply when the
// query does not ask for one of them itself.
type Filter struct {
	blacklist []string
}

// NewFilter builds the filter for q.
func NewFilter(q Query) Filter {
	queryKey := comparisonKey(q.String())
	blacklist := append([]string(nil), baseBlacklist...)

	wantsVariant := false
	for _, term := range variantBlacklist {
		if containsPhrase(queryKey, term) {
			wantsVariant = true
			break
		}
	}
	if !wantsVariant {
		blacklist = append(blacklist, variantBlacklist...)
	}
	return Filter{blacklist: blacklist}
}

// Allows reports whether a candidate titled title may be accepted.
func (f Filter) Allows(title string) bool {
	return f.Reason(title) == ""
}

// Reason returns the blacklisted phrase that rejects title, or "".
func (f Filter) Reason(title string) string {
	key := comparisonKey(title)
	for _, phrase := range f.blacklist {
		if containsPhrase(key, phrase) {
			return phrase
		}
	}
	return ""
}
