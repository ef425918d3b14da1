package settings

import (
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Mode names one of the two visiting loops.
type Mode string

const (
	ModeScheduled Mode = "scheduled"
	ModeRandom    Mode = "random"
)

// Built-in fallbacks used when neither the overrides nor the config file
// provide a usable value.
const (
	DefaultIntervalMinutes = 1.0
	DefaultTotalVisits     = 10
	DefaultWindowSeconds   = 300.0
	DefaultMinDelaySeconds = 1.0
	DefaultMaxDelaySeconds = 5.0
)

// MaxTotalVisits caps random_mode.total_visits. Larger values are treated as
// unusable and fall through to the next source.
const MaxTotalVisits = 100_000

// DefaultURLs is the built-in target list.
var DefaultURLs = []string{
	"https://www.modelscope.cn/studios/llmlearningX/DeepSeek-V3.1-Demo",
	"https://www.modelscope.cn/studios/llmlearningX/Wan2.2-Animate-learning",
}

// DefaultUserAgents is the built-in browser identity pool.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:89.0) Gecko/20100101 Firefox/89.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Edge/91.0.864.59",
}

// Document paths shared by the config file and the override bodies.
const (
	pathInterval   = "scheduled_mode.check_interval_minutes"
	pathVisits     = "random_mode.total_visits"
	pathWindow     = "random_mode.total_time_seconds"
	pathMinDelay   = "realistic_mode.min_delay_seconds"
	pathMaxDelay   = "realistic_mode.max_delay_seconds"
	pathUserAgents = "realistic_mode.user_agents"
	pathURLs       = "urls"
)

// Effective is the fully resolved parameter set for one mode run. It is built
// once when the run starts and not modified afterwards.
type Effective struct {
	Mode      Mode
	Scheduled ScheduledParams
	Random    RandomParams
	Realistic RealisticParams
	URLs      []string
}

// ScheduledParams drive the fixed-interval loop.
type ScheduledParams struct {
	IntervalMinutes float64
}

// Interval converts IntervalMinutes to a duration.
func (p ScheduledParams) Interval() time.Duration {
	return secondsToDuration(p.IntervalMinutes * 60)
}

// RandomParams drive the bounded random loop.
type RandomParams struct {
	TotalVisits   int
	WindowSeconds float64
}

// Window converts WindowSeconds to a duration.
func (p RandomParams) Window() time.Duration {
	return secondsToDuration(p.WindowSeconds)
}

// RealisticParams shape each request and the pause after random-mode visits.
type RealisticParams struct {
	MinDelaySeconds float64
	MaxDelaySeconds float64
	UserAgents      []string
}

// Resolve overlays overrides onto the file document onto the built-in
// defaults, field by field. It never fails: a field that is missing or has
// the wrong type in one source falls through to the next.
func Resolve(mode Mode, overrides, file []byte) Effective {
	sources := [][]byte{overrides, file}
	return Effective{
		Mode: mode,
		Scheduled: ScheduledParams{
			IntervalMinutes: number(sources, pathInterval, DefaultIntervalMinutes, positive),
		},
		Random: RandomParams{
			TotalVisits:   int(number(sources, pathVisits, DefaultTotalVisits, visitCount)),
			WindowSeconds: number(sources, pathWindow, DefaultWindowSeconds, nonNegative),
		},
		Realistic: RealisticParams{
			MinDelaySeconds: number(sources, pathMinDelay, DefaultMinDelaySeconds, nonNegative),
			MaxDelaySeconds: number(sources, pathMaxDelay, DefaultMaxDelaySeconds, nonNegative),
			UserAgents:      stringList(sources, pathUserAgents, DefaultUserAgents, false),
		},
		URLs: stringList(sources, pathURLs, DefaultURLs, true),
	}
}

func positive(v float64) bool    { return v > 0 }
func nonNegative(v float64) bool { return v >= 0 }
func visitCount(v float64) bool  { return v >= 0 && v <= MaxTotalVisits }

func number(sources [][]byte, path string, fallback float64, valid func(float64) bool) float64 {
	for _, doc := range sources {
		if len(doc) == 0 {
			continue
		}
		res := gjson.GetBytes(doc, path)
		var value float64
		switch res.Type {
		case gjson.Number:
			value = res.Float()
		case gjson.String:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(res.Str), 64)
			if err != nil {
				continue
			}
			value = parsed
		default:
			continue
		}
		if valid(value) {
			return value
		}
	}
	return fallback
}

// stringList returns the first array of strings found at path. When allowEmpty
// is false an empty array is treated as absent.
func stringList(sources [][]byte, path string, fallback []string, allowEmpty bool) []string {
	for _, doc := range sources {
		if len(doc) == 0 {
			continue
		}
		res := gjson.GetBytes(doc, path)
		if !res.IsArray() {
			continue
		}
		values := make([]string, 0, len(res.Array()))
		for _, item := range res.Array() {
			if item.Type != gjson.String {
				continue
			}
			if trimmed := strings.TrimSpace(item.Str); trimmed != "" {
				values = append(values, trimmed)
			}
		}
		if len(values) == 0 && !allowEmpty {
			continue
		}
		return values
	}
	return append([]string(nil), fallback...)
}

func secondsToDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
