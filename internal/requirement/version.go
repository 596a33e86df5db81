package requirement

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var versionRe = regexp.MustCompile(`(?i)^\s*v?` +
	`(?:(?P<epoch>[0-9]+)!)?` +
	`(?P<release>[0-9]+(?:\.[0-9]+)*)` +
	`(?P<pre>[-_.]?(?P<pre_l>alpha|beta|preview|pre|rc|a|b|c)[-_.]?(?P<pre_n>[0-9]+)?)?` +
	`(?P<post>-(?P<post_n1>[0-9]+)|[-_.]?(?P<post_l>post|rev|r)[-_.]?(?P<post_n2>[0-9]+)?)?` +
	`(?P<dev>[-_.]?(?P<dev_l>dev)[-_.]?(?P<dev_n>[0-9]+)?)?` +
	`(?:\+(?P<local>[a-z0-9]+(?:[-_.][a-z0-9]+)*))?\s*$`)

// Version is a parsed PEP 440 version.
type Version struct {
	Epoch   int
	Release []int
	PreL    string // "a", "b", "rc" or ""
	PreN    int
	Post    int // -1 when absent
	Dev     int // -1 when absent
	Local   string
	raw     string
}

// ParseVersion parses s as a PEP 440 version, normalizing alternative spellings.
func ParseVersion(s string) (Version, error) {
	m := versionRe.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("invalid version %q", s)
	}
	group := func(name string) string {
		return m[versionRe.SubexpIndex(name)]
	}

	v := Version{Post: -1, Dev: -1, raw: strings.TrimSpace(s)}
	if e := group("epoch"); e != "" {
		v.Epoch, _ = strconv.Atoi(e)
	}
	for _, part := range strings.Split(group("release"), ".") {
		n, err := strconv.Atoi(part)
		if err != nil {
			return Version{}, fmt.Errorf("invalid release segment %q in %q", part, s)
		}
		v.Release = append(v.Release, n)
	}

	if group("pre") != "" {
		switch strings.ToLower(group("pre_l")) {
		case "a", "alpha":
			v.PreL = "a"
		case "b", "beta":
			v.PreL = "b"
		default:
			v.PreL = "rc"
		}
		v.PreN, _ = strconv.Atoi(group("pre_n"))
	}
	if group("post") != "" {
		n := group("post_n1")
		if n == "" {
			n = group("post_n2")
		}
		v.Post, _ = strconv.Atoi(n)
	}
	if group("dev") != "" {
		v.Dev, _ = strconv.Atoi(group("dev_n"))
	}
	v.Local = strings.ToLower(group("local"))
	return v, nil
}

// IsPrerelease reports alpha, beta, rc and dev versions.
func (v Version) IsPrerelease() bool {
	return v.PreL != "" || v.Dev >= 0
}

// String renders the normalized form, e.g. "1.0rc1.post2.dev3+local".
func (v Version) String() string {
	var b strings.Builder
	if v.Epoch != 0 {
		fmt.Fprintf(&b, "%d!", v.Epoch)
	}
	for i, n := range v.Release {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(n))
	}
	if v.PreL != "" {
		fmt.Fprintf(&b, "%s%d", v.PreL, v.PreN)
	}
	if v.Post >= 0 {
		fmt.Fprintf(&b, ".post%d", v.Post)
	}
	if v.Dev >= 0 {
		fmt.Fprintf(&b, ".dev%d", v.Dev)
	}
	if v.Local != "" {
		b.WriteString("+" + v.Local)
	}
	return b.String()
}

func preRank(l string) int {
	switch l {
	case "a":
		return 0
	case "b":
		return 1
	default:
		return 2
	}
}

// sortKey follows the ordering of the reference "packaging" implementation:
// dev-only releases sort before pre-releases, a missing pre sorts last and a
// missing post sorts first.
func (v Version) sortKey() [3]float64 {
	pre := math.Inf(1)
	switch {
	case v.PreL != "":
		pre = float64(preRank(v.PreL)*1_000_000 + v.PreN)
	case v.Post < 0 && v.Dev >= 0:
		pre = math.Inf(-1)
	}
	post := math.Inf(-1)
	if v.Post >= 0 {
		post = float64(v.Post)
	}
	dev := math.Inf(1)
	if v.Dev >= 0 {
		dev = float64(v.Dev)
	}
	return [3]float64{pre, post, dev}
}

// Compare returns -1, 0 or 1. Local labels only break ties.
func (v Version) Compare(o Version) int {
	if v.Epoch != o.Epoch {
		return cmpInt(v.Epoch, o.Epoch)
	}
	if c := compareRelease(v.Release, o.Release); c != 0 {
		return c
	}
	a, b := v.sortKey(), o.sortKey()
	for i := range a {
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	return strings.Compare(v.Local, o.Local)
}

func compareRelease(a, b []int) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		if x != y {
			return cmpInt(x, y)
		}
	}
	return 0
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Raw returns the version exactly as written.
func (v Version) Raw() string {
	return v.raw
}
