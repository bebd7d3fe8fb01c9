package pattern

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var binaryOp = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([-+*/])\s*(\d+(?:\.\d+)?)`)

// foldConstants replaces "<number> <op> <number>" with its value until no
// more folds apply. A fold only happens when neither neighbour of the
// expression could bind tighter or extend a number, so "2 * 3 + 4" and
// "x1 + 2" are left alone while "(2 * 3)" becomes "(6)".
func foldConstants(code string) string {
	for {
		next, changed := foldOnce(code)
		if !changed {
			return next
		}
		code = next
	}
}

func foldOnce(code string) (string, bool) {
	var b strings.Builder
	last := 0
	changed := false
	for _, m := range binaryOp.FindAllStringSubmatchIndex(code, -1) {
		start, end := m[0], m[1]
		if !isolated(code, start, end) {
			continue
		}
		value, ok := evaluate(code[m[2]:m[3]], code[m[4]:m[5]], code[m[6]:m[7]])
		if !ok {
			continue
		}
		b.WriteString(code[last:start])
		b.WriteString(value)
		last = end
		changed = true
	}
	if !changed {
		return code, false
	}
	b.WriteString(code[last:])
	return b.String(), true
}

func isolated(code string, start, end int) bool {
	if start > 0 && extendsNumber(code[start-1]) {
		return false
	}
	if end < len(code) && extendsNumber(code[end]) {
		return false
	}
	if p := prevNonSpace(code, start); p >= 0 && (isOperator(code[p]) || extendsNumber(code[p])) {
		return false
	}
	if n := nextNonSpace(code, end); n < len(code) && (isOperator(code[n]) || extendsNumber(code[n])) {
		return false
	}
	return true
}

func prevNonSpace(s string, i int) int {
	i--
	for i >= 0 && isSpace(s[i]) {
		i--
	}
	return i
}

func nextNonSpace(s string, i int) int {
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	return i
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }

func isOperator(c byte) bool {
	switch c {
	case '+', '-', '*', '/', '%', '!', '<', '>', '&', '|', '^', '@':
		return true
	}
	return false
}

// extendsNumber reports whether c could be part of an identifier, number
// or method call adjacent to a literal.
func extendsNumber(c byte) bool {
	return c == '.' || c == '_' || c == '\\' ||
		(c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func evaluate(left, op, right string) (string, bool) {
	if !strings.Contains(left, ".") && !strings.Contains(right, ".") {
		if v, ok := evaluateInt(left, op, right); ok {
			return v, true
		}
	}
	a, err := strconv.ParseFloat(left, 64)
	if err != nil {
		return "", false
	}
	b, err := strconv.ParseFloat(right, 64)
	if err != nil {
		return "", false
	}
	var r float64
	switch op {
	case "+":
		r = a + b
	case "-":
		r = a - b
	case "*":
		r = a * b
	case "/":
		if b == 0 {
			return "", false
		}
		r = a / b
	default:
		return "", false
	}
	if math.IsInf(r, 0) || math.IsNaN(r) || r < 0 {
		return "", false
	}
	return strconv.FormatFloat(r, 'f', -1, 64), true
}

func evaluateInt(left, op, right string) (string, bool) {
	a, err := strconv.ParseInt(left, 10, 64)
	if err != nil {
		return "", false
	}
	b, err := strconv.ParseInt(right, 10, 64)
	if err != nil {
		return "", false
	}
	const limit = 1 << 31
	if a > limit || b > limit {
		return "", false
	}
	var r int64
	switch op {
	case "+":
		r = a + b
	case "-":
		r = a - b
	case "*":
		r = a * b
	case "/":
		if b == 0 || a%b != 0 {
			return "", false
		}
		r = a / b
	default:
		return "", false
	}
	if r < 0 {
		return "", false
	}
	return strconv.FormatInt(r, 10), true
}
