package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Period is a validated PeriodConfig.
type Period struct {
	Name   string
	Every  time.Duration
	Delay  time.Duration
	Action string
	Source string // "duration" | "hhmm" | "descriptor"
}

const DefaultAction = "log"

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseEvery parses a period length.
//
// Supported forms:
//   - Go duration: "90s", "2h30m"
//   - HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//   - Descriptor: "@every 5m" (parsed by robfig/cron; rounded down to whole seconds)
//
// Optional prefixes "interval:" and "every:" are accepted and ignored.
// Calendar cron expressions ("*/5 * * * *", "@hourly") are rejected: a period
// must have a constant length.
func ParseEvery(raw string) (time.Duration, string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, "", fmt.Errorf("period required")
	}
	low := strings.ToLower(s)
	for _, pfx := range []string{"interval:", "every:"} {
		if strings.HasPrefix(low, pfx) {
			s = strings.TrimSpace(s[len(pfx):])
			low = strings.ToLower(s)
			break
		}
	}

	if strings.HasPrefix(low, "@") {
		sched, err := cron.ParseStandard(s)
		if err != nil {
			return 0, "", fmt.Errorf("invalid descriptor %q: %w", raw, err)
		}
		cd, ok := sched.(cron.ConstantDelaySchedule)
		if !ok {
			return 0, "", fmt.Errorf("descriptor %q is calendar based; use \"@every <duration>\"", raw)
		}
		return cd.Delay, "descriptor", nil
	}
	if strings.ContainsAny(s, " \t\n\r") {
		return 0, "", fmt.Errorf("cron expression %q is not a fixed period; use \"@every <duration>\"", raw)
	}

	if reHHMM.MatchString(s) {
		return parseHHMMDuration(s)
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, "", fmt.Errorf("invalid period %q (use HH:MM like '02:30', duration like '55m', or '@every 55m')", raw)
	}
	if d <= 0 {
		return 0, "", fmt.Errorf("period must be > 0")
	}
	return d, "duration", nil
}

func parseHHMMDuration(v string) (time.Duration, string, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, "", fmt.Errorf("invalid HH:MM %q", v)
	}
	// safe parse: hours up to 999, minutes 0..59
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if mm > 59 {
		return 0, "", fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, "", fmt.Errorf("period must be > 0")
	}
	return d, "hhmm", nil
}

// ResolvePeriods validates and parses every configured period.
func (c *Config) ResolvePeriods() ([]Period, error) {
	if c == nil {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(c.Periods))
	out := make([]Period, 0, len(c.Periods))
	for i, pc := range c.Periods {
		path := fmt.Sprintf("periods[%d]", i)
		name := strings.TrimSpace(pc.Name)
		if name == "" {
			return nil, fmt.Errorf("%s.name required", path)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%s: duplicate period name %q", path, name)
		}
		seen[name] = struct{}{}

		every, src, err := ParseEvery(pc.Every)
		if err != nil {
			return nil, fmt.Errorf("%s.every: %w", path, err)
		}
		delay, err := ParseDurationField(path+".delay", pc.Delay)
		if err != nil {
			return nil, err
		}
		if delay >= every {
			return nil, fmt.Errorf("%s.delay: %s must be shorter than the period %s", path, delay, every)
		}
		action := strings.ToLower(strings.TrimSpace(pc.Action))
		if action == "" {
			action = DefaultAction
		}
		out = append(out, Period{Name: name, Every: every, Delay: delay, Action: action, Source: src})
	}
	return out, nil
}
