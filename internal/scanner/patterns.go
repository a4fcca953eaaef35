package scanner

import (
	"regexp"
	"strings"
)

// TagRule pairs a pattern tag with a predicate over chunk content. Rules are
// evaluated in order, once per chunk, and are deliberately conservative:
// a missed tag is acceptable, a wrong tag is not.
type TagRule struct {
	Tag   string
	Match func(content string) bool
}

// containsAny builds a predicate matching any of the given substrings.
func containsAny(needles ...string) func(string) bool {
	return func(content string) bool {
		for _, n := range needles {
			if strings.Contains(content, n) {
				return true
			}
		}
		return false
	}
}

// matchesAny builds a predicate from word-boundary regexps, for tokens short
// enough that plain substring search would over-claim.
func matchesAny(patterns ...string) func(string) bool {
	res := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		res[i] = regexp.MustCompile(p)
	}
	return func(content string) bool {
		for _, re := range res {
			if re.MatchString(content) {
				return true
			}
		}
		return false
	}
}

// DefaultTagRules is the declarative pattern table applied to every chunk.
var DefaultTagRules = []TagRule{
	{
		Tag: "error-handling",
		Match: containsAny(
			"if err != nil", "try {", "try:", "except ", "catch (", "catch(",
			"rescue ", "recover()", ".catch(",
		),
	},
	{
		Tag: "async",
		Match: matchesAny(
			`\basync\s`, `\bawait\s`, `\bgo\s+func\b`, `\bchan\s`, `<-\s*\w`,
			`\bPromise\b`, `\bgoroutine\b`,
		),
	},
	{
		Tag: "auth",
		Match: matchesAny(
			`(?i)\bauthenticat`, `(?i)\bauthoriz`, `(?i)\blogin\b`, `(?i)\bjwt\b`,
			`(?i)\boauth\b`, `(?i)\bcredential`,
		),
	},
	{
		Tag: "database",
		Match: containsAny(
			"database/sql", "sql.DB", "SELECT ", "INSERT INTO", "UPDATE ",
			"CREATE TABLE", "mongoose.", "prisma.", "gorm.",
		),
	},
	{
		Tag: "http-api",
		Match: matchesAny(
			`\bhttp\.Handle`, `\bhttp\.ListenAndServe\b`, `\brouter\.`, `\bapp\.(?:get|post|put|delete)\(`,
			`@(?:app|router)\.(?:route|get|post)`, `\bfetch\(`, `\bHandleFunc\b`,
		),
	},
	{
		Tag: "testing",
		Match: containsAny(
			"func Test", "t.Run(", "describe(", "it(", "assert.", "require.",
			"pytest", "unittest",
		),
	},
	{
		Tag: "logging",
		Match: matchesAny(
			`\blog\.(?:Printf|Println|Fatal|Error)`, `\blogger\.`, `\bzerolog\b`,
			`\bconsole\.(?:log|error|warn)\(`, `\bslog\.`,
		),
	},
	{
		Tag: "config",
		Match: containsAny(
			"os.Getenv", "process.env", "os.environ", "viper.", "dotenv",
		),
	},
	{
		Tag: "concurrency",
		Match: matchesAny(
			`\bsync\.(?:Mutex|RWMutex|WaitGroup|Once)\b`, `\batomic\.`, `\berrgroup\b`,
			`\bthreading\.`, `\bmutex\b`,
		),
	},
	{
		Tag: "serialization",
		Match: containsAny(
			"json.Marshal", "json.Unmarshal", "JSON.parse", "JSON.stringify",
			"json.dumps", "json.loads", "yaml.", "proto.Marshal",
		),
	},
}

// ApplyTagRules evaluates every rule against the content and returns the tags
// that matched, in rule order.
func ApplyTagRules(rules []TagRule, content string) []string {
	var tags []string
	for _, r := range rules {
		if r.Match(content) {
			tags = append(tags, r.Tag)
		}
	}
	return tags
}
