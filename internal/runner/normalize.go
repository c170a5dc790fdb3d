package runner

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
)

var (
	colorFuncRe = regexp.MustCompile(`(?i)rgba?\(\s*([^)]*)\)`)
	hexColorRe  = regexp.MustCompile(`#[0-9a-fA-F]{3,8}\b`)
	wordRe      = regexp.MustCompile(`[A-Za-z]+`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// namedColors covers the keywords browsers report for computed styles plus
// the handful people write by hand.
var namedColors = map[string]string{
	"black":   "#000000",
	"white":   "#ffffff",
	"red":     "#ff0000",
	"green":   "#008000",
	"blue":    "#0000ff",
	"yellow":  "#ffff00",
	"gray":    "#808080",
	"grey":    "#808080",
	"silver":  "#c0c0c0",
	"orange":  "#ffa500",
	"purple":  "#800080",
	"navy":    "#000080",
	"teal":    "#008080",
	"maroon":  "#800000",
	"olive":   "#808000",
	"lime":    "#00ff00",
	"aqua":    "#00ffff",
	"fuchsia": "#ff00ff",
}

// NormalizeCSS rewrites every color in a CSS value to rgb(r, g, b) or
// rgba(r, g, b, a) and collapses whitespace, so "#1877F2" and
// "rgb(24,119,242)" compare equal.
func NormalizeCSS(value string) string {
	v := strings.TrimSpace(value)

	v = colorFuncRe.ReplaceAllStringFunc(v, func(m string) string {
		args := colorFuncRe.FindStringSubmatch(m)[1]
		if out, ok := canonicalFromArgs(args); ok {
			return out
		}
		return m
	})

	v = hexColorRe.ReplaceAllStringFunc(v, func(m string) string {
		if out, ok := canonicalFromHex(m); ok {
			return out
		}
		return m
	})

	v = wordRe.ReplaceAllStringFunc(v, func(m string) string {
		lower := strings.ToLower(m)
		if lower == "transparent" {
			return "rgba(0, 0, 0, 0)"
		}
		if hex, ok := namedColors[lower]; ok {
			out, _ := canonicalFromHex(hex)
			return out
		}
		return m
	})

	return spaceRe.ReplaceAllString(v, " ")
}

func canonicalFromHex(h string) (string, bool) {
	digits := strings.TrimPrefix(h, "#")
	alpha := 1.0

	switch len(digits) {
	case 3, 6:
	case 4, 8:
		n := len(digits) / 4
		a, err := strconv.ParseUint(strings.Repeat(digits[len(digits)-n:], 2/n), 16, 8)
		if err != nil {
			return "", false
		}
		alpha = float64(a) / 255
		digits = digits[:len(digits)-n]
	default:
		return "", false
	}

	c, err := colorful.Hex("#" + digits)
	if err != nil {
		return "", false
	}
	r, g, b := c.RGB255()
	return formatRGBA(int(r), int(g), int(b), alpha), true
}

// canonicalFromArgs accepts the legacy comma form and the space/slash form
// of rgb() and rgba().
func canonicalFromArgs(args string) (string, bool) {
	args = strings.ReplaceAll(args, "/", " ")
	args = strings.ReplaceAll(args, ",", " ")
	parts := strings.Fields(args)
	if len(parts) != 3 && len(parts) != 4 {
		return "", false
	}

	var rgb [3]int
	for i := 0; i < 3; i++ {
		v, ok := parseChannel(parts[i])
		if !ok {
			return "", false
		}
		rgb[i] = v
	}

	alpha := 1.0
	if len(parts) == 4 {
		a, ok := parseAlpha(parts[3])
		if !ok {
			return "", false
		}
		alpha = a
	}
	return formatRGBA(rgb[0], rgb[1], rgb[2], alpha), true
}

func parseChannel(s string) (int, bool) {
	if strings.HasSuffix(s, "%") {
		f, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return 0, false
		}
		return clampByte(math.Round(f * 255 / 100)), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return clampByte(math.Round(f)), true
}

func parseAlpha(s string) (float64, bool) {
	pct := strings.HasSuffix(s, "%")
	f, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return 0, false
	}
	if pct {
		f /= 100
	}
	return math.Max(0, math.Min(1, f)), true
}

func clampByte(f float64) int {
	return int(math.Max(0, math.Min(255, f)))
}

func formatRGBA(r, g, b int, alpha float64) string {
	if alpha >= 1 {
		return fmt.Sprintf("rgb(%d, %d, %d)", r, g, b)
	}
	return fmt.Sprintf("rgba(%d, %d, %d, %s)", r, g, b, strconv.FormatFloat(math.Round(alpha*1000)/1000, 'f', -1, 64))
}
