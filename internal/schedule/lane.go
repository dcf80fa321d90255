package schedule

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Lane is one column of a salary schedule.
type Lane struct {
	Education Education `json:"education"`
	Credits   int       `json:"credits"`
}

// String renders the "{education}+{credits}" token stored in MaxValuesMetadata.
func (l Lane) String() string {
	return fmt.Sprintf("%s+%d", l.Education, l.Credits)
}

// ParseLane parses a "{education}+{credits}" token.
func ParseLane(tok string) (Lane, error) {
	i := strings.LastIndex(tok, "+")
	if i <= 0 {
		return Lane{}, fmt.Errorf("lane token %q missing credits", tok)
	}
	edu, err := ParseEducation(tok[:i])
	if err != nil {
		return Lane{}, err
	}
	credits, err := strconv.Atoi(tok[i+1:])
	if err != nil || credits < 0 {
		return Lane{}, fmt.Errorf("lane token %q has bad credits", tok)
	}
	return Lane{Education: edu, Credits: credits}, nil
}

// Less orders lanes left to right as they appear on a printed schedule.
func (l Lane) Less(o Lane) bool {
	if l.Education != o.Education {
		return l.Education.Rank() < o.Education.Rank()
	}
	return l.Credits < o.Credits
}

// SortLanes sorts lanes in schedule column order.
func SortLanes(lanes []Lane) {
	sort.Slice(lanes, func(i, j int) bool { return lanes[i].Less(lanes[j]) })
}

var (
	headerSpaceRe = regexp.MustCompile(`\s*\+\s*`)
	headerLaneRe  = regexp.MustCompile(`^([A-Z]+)(?:\+?(\d{1,3}))?$`)
)

var headerEducation = map[string]Education{
	"B": Bachelors, "BA": Bachelors, "BS": Bachelors, "BACH": Bachelors,
	"BACHELOR": Bachelors, "BACHELORS": Bachelors, "BD": Bachelors,
	"M": Masters, "MA": Masters, "MS": Masters, "MED": Masters, "MAST": Masters,
	"MASTER": Masters, "MASTERS": Masters,
	"DOC": Doctorate, "DR": Doctorate, "PHD": Doctorate, "EDD": Doctorate,
	"DOCTORATE": Doctorate, "DOCTORAL": Doctorate, "CAGS": Doctorate, "CAS": Doctorate,
}

// LaneFromHeader maps a schedule column header to a lane using the
// controlled vocabulary: "BA" is Bachelor's+0, "MA+30" is Master's+30 and
// any "DOC"/"CAGS" spelling is Doctorate.
func LaneFromHeader(tok string) (Lane, bool) {
	s := strings.ToUpper(strings.TrimSpace(tok))
	s = strings.NewReplacer(".", "", "'", "", "’", "", "(", "", ")", "").Replace(s)
	s = headerSpaceRe.ReplaceAllString(s, "+")
	s = strings.Join(strings.Fields(s), "")
	if s == "" {
		return Lane{}, false
	}

	// "MA+60/CAGS", "DOC/CAGS": a doctorate alias on either side wins.
	parts := strings.Split(s, "/")
	if len(parts) > 1 {
		for _, p := range parts {
			if l, ok := LaneFromHeader(p); ok && l.Education == Doctorate {
				return Lane{Education: Doctorate}, true
			}
		}
		return LaneFromHeader(parts[0])
	}

	m := headerLaneRe.FindStringSubmatch(s)
	if m == nil {
		return Lane{}, false
	}
	edu, ok := headerEducation[m[1]]
	if !ok {
		return Lane{}, false
	}
	credits := 0
	if m[2] != "" {
		credits, _ = strconv.Atoi(m[2])
	}
	if edu == Doctorate {
		credits = 0
	}
	return Lane{Education: edu, Credits: credits}, true
}

// adjacencyKey ranks a candidate lane as a substitute for target. Lower sorts first:
// same education with fewer credits (nearest first), then same education with
// more credits (nearest first), then other education levels by distance with the
// lower level winning ties, and within a level the closest credit count.
type adjacencyKey struct {
	tier       int
	eduDist    int
	higherEdu  int
	creditDist int
	credits    int
}

func adjacency(target, cand Lane) adjacencyKey {
	creditDist := cand.Credits - target.Credits
	if creditDist < 0 {
		creditDist = -creditDist
	}
	if cand.Education == target.Education {
		tier := 0
		if cand.Credits > target.Credits {
			tier = 1
		}
		return adjacencyKey{tier: tier, creditDist: creditDist, credits: cand.Credits}
	}
	diff := cand.Education.Rank() - target.Education.Rank()
	k := adjacencyKey{tier: 2, creditDist: creditDist, credits: cand.Credits}
	if diff < 0 {
		k.eduDist = -diff
	} else {
		k.eduDist = diff
		k.higherEdu = 1
	}
	return k
}

func (a adjacencyKey) less(b adjacencyKey) bool {
	if a.tier != b.tier {
		return a.tier < b.tier
	}
	if a.eduDist != b.eduDist {
		return a.eduDist < b.eduDist
	}
	if a.higherEdu != b.higherEdu {
		return a.higherEdu < b.higherEdu
	}
	if a.creditDist != b.creditDist {
		return a.creditDist < b.creditDist
	}
	return a.credits < b.credits
}

// FallbackOrder returns candidates ordered by preference as a substitute for
// target. The target itself is dropped.
func FallbackOrder(target Lane, candidates []Lane) []Lane {
	out := make([]Lane, 0, len(candidates))
	for _, c := range candidates {
		if c != target {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return adjacency(target, out[i]).less(adjacency(target, out[j]))
	})
	return out
}

// NearestLane picks the best available substitute for target.
func NearestLane(target Lane, available []Lane) (Lane, bool) {
	order := FallbackOrder(target, available)
	if len(order) == 0 {
		return Lane{}, false
	}
	return order[0], true
}
