package dispatch

import (
	"strconv"
	"strings"

	"github.com/bastionbot/bastion"
)

// parsed holds one invocation's tokens after flag extraction.
type parsed struct {
	pos   []string
	flags map[string]string
}

// parseArgs splits args into positionals and --flags. Flags in valued
// consume the next token unless written as --flag=value; the rest are
// boolean and map to "".
func parseArgs(args []string, valued ...string) *parsed {
	takesValue := map[string]bool{}
	for _, v := range valued {
		takesValue[v] = true
	}
	p := &parsed{flags: map[string]string{}}
	for i := 0; i < len(args); i++ {
		name, ok := strings.CutPrefix(args[i], "--")
		if !ok {
			p.pos = append(p.pos, args[i])
			continue
		}
		key, value, has := strings.Cut(name, "=")
		key = strings.ToLower(key)
		if !has && takesValue[key] && i+1 < len(args) {
			value = args[i+1]
			i++
		}
		p.flags[key] = value
	}
	return p
}

// only rejects flags outside the allowed set.
func (p *parsed) only(allowed ...string) error {
	for k := range p.flags {
		ok := false
		for _, a := range allowed {
			if k == a {
				ok = true
				break
			}
		}
		if !ok {
			return bastion.Argf("unknown flag --%s", k)
		}
	}
	return nil
}

func (p *parsed) has(flag string) bool {
	_, ok := p.flags[flag]
	return ok
}

func (p *parsed) intFlag(flag string, fallback int) (int, error) {
	v, ok := p.flags[flag]
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, bastion.Argf("--%s needs a number, got %q", flag, v)
	}
	return n, nil
}

// rest joins the positional tokens into one needle, for multi-word
// system names.
func (p *parsed) rest(from int) string {
	if from >= len(p.pos) {
		return ""
	}
	return strings.Join(p.pos[from:], " ")
}

// splitList splits a comma-separated list, trimming blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parsePair reads an "a:b" value pair, e.g. a fort --set 4100:200.
func parsePair(s string) (string, string, error) {
	a, b, ok := strings.Cut(s, ":")
	if !ok {
		return "", "", bastion.Argf("expected a:b pair, got %q", s)
	}
	return strings.TrimSpace(a), strings.TrimSpace(b), nil
}

// parseStatusPair reads an "a:b" pair of non-negative integers.
func parseStatusPair(s string) (int, int, error) {
	as, bs, err := parsePair(s)
	if err != nil {
		return 0, 0, err
	}
	a, err := strconv.Atoi(as)
	if err != nil {
		return 0, 0, bastion.Argf("bad amount %q", as)
	}
	b, err := strconv.Atoi(bs)
	if err != nil {
		return 0, 0, bastion.Argf("bad amount %q", bs)
	}
	if a < 0 || b < 0 {
		return 0, 0, bastion.Argf("amounts must be non-negative, got %d:%d", a, b)
	}
	return a, b, nil
}

// parseSignedAmount reads a merit amount, sign and thousands separators
// allowed.
func parseSignedAmount(s string) (int, error) {
	n, err := strconv.Atoi(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return 0, bastion.Argf("bad amount %q", s)
	}
	return n, nil
}

// parsePercent reads "45%", "45", or "0.45" into a [0,1] fraction.
func parsePercent(s string) (float64, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, bastion.Argf("bad percentage %q", s)
	}
	if f > 1 {
		f /= 100
	}
	if f < 0 {
		return 0, bastion.Argf("percentage %q below zero", s)
	}
	return f, nil
}

// codeBlock wraps monospace report text.
func codeBlock(s string) string {
	return "```\n" + strings.TrimRight(s, "\n") + "\n```"
}
