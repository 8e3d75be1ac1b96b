// Package paramvalidate implements the parameter validator: enum
// membership and format checks applied to a parameter's canonical string
// value before any effect is dispatched. Each format rule is hand
// checked rather than expressed as a single generic regular expression,
// so edge cases like the leap-second value 60, label-length limits, and
// octet ranges are drawn precisely instead of approximated.
package paramvalidate

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/alennartz/toolscript/internal/corerr"
	val "github.com/go-playground/validator/v10"
)

// Validate checks a value against its enum membership, then its declared
// format. funcName and paramName are used only to build a precise error
// message.
func Validate(funcName, paramName, format string, enum []string, value string) error {
	if len(enum) > 0 {
		if !contains(enum, value) {
			return corerr.InvalidArgument(
				"%s: parameter %q must be one of %s, got %q",
				funcName, paramName, strings.Join(enum, ", "), value)
		}
	}
	if format == "" {
		return nil
	}
	if ok, detail := checkFormat(format, value); !ok {
		msg := fmt.Sprintf("%s: parameter %q must match format %q, got %q", funcName, paramName, format, value)
		if detail != "" {
			msg += ": " + detail
		}
		return corerr.InvalidArgument("%s", msg)
	}
	return nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// checkFormat dispatches to the per-format rule. Unknown formats pass:
// they are assumed API-specific and are never grounds for rejection.
func checkFormat(format, value string) (ok bool, detail string) {
	switch format {
	case "uuid":
		return isUUID(value), "expected 8-4-4-4-12 hex groups"
	case "date":
		return isDate(value), "expected YYYY-MM-DD"
	case "date-time":
		return isDateTime(value), "expected RFC 3339 date-time"
	case "email":
		return isEmail(value), "expected local@domain"
	case "uri", "url":
		return isAbsoluteURL(value), "expected an absolute URL"
	case "ipv4":
		return isIPv4(value), "expected dotted-decimal IPv4"
	case "ipv6":
		return isIPv6(value), "expected canonical IPv6"
	case "hostname":
		return isHostname(value), "expected a valid hostname"
	case "int32":
		return isInt32(value), "expected a 32-bit integer"
	case "int64":
		return isInt64(value), "expected a 64-bit integer"
	default:
		return true, ""
	}
}

func isUUID(s string) bool {
	groups := []int{8, 4, 4, 4, 12}
	parts := strings.Split(s, "-")
	if len(parts) != len(groups) {
		return false
	}
	for i, p := range parts {
		if len(p) != groups[i] || !isHex(p) {
			return false
		}
	}
	return true
}

func isHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return len(s) > 0
}

func isAllDigits(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// isDate checks YYYY-MM-DD with all-digit components and plausible
// calendar ranges.
func isDate(s string) bool {
	if len(s) != 10 || s[4] != '-' || s[7] != '-' {
		return false
	}
	y, m, d := s[0:4], s[5:7], s[8:10]
	if !isAllDigits(y) || !isAllDigits(m) || !isAllDigits(d) {
		return false
	}
	mm, _ := strconv.Atoi(m)
	dd, _ := strconv.Atoi(d)
	return mm >= 1 && mm <= 12 && dd >= 1 && dd <= 31
}

// isDateTime checks RFC 3339: date + 'T' + time + zone offset.
func isDateTime(s string) bool {
	if len(s) < 20 {
		return false
	}
	tIdx := strings.IndexAny(s, "Tt")
	if tIdx != 10 {
		return false
	}
	if !isDate(s[:10]) {
		return false
	}
	rest := s[11:]

	var zoneIdx int
	if i := strings.IndexAny(rest, "Zz"); i >= 0 {
		zoneIdx = i
	} else if i := strings.LastIndexAny(rest, "+-"); i > 0 {
		zoneIdx = i
	} else {
		return false
	}

	timePart := rest[:zoneIdx]
	zonePart := rest[zoneIdx:]

	if !isValidTimeOfDay(timePart) {
		return false
	}
	return isValidZoneOffset(zonePart)
}

func isValidTimeOfDay(s string) bool {
	// HH:MM:SS[.frac]
	if len(s) < 8 || s[2] != ':' || s[5] != ':' {
		return false
	}
	hh, mm, ss := s[0:2], s[3:5], s[6:8]
	if !isAllDigits(hh) || !isAllDigits(mm) || !isAllDigits(ss) {
		return false
	}
	h, _ := strconv.Atoi(hh)
	m, _ := strconv.Atoi(mm)
	sec, _ := strconv.Atoi(ss)
	if h > 23 || m > 59 || sec > 60 { // allow leap second value 60
		return false
	}
	rest := s[8:]
	if rest == "" {
		return true
	}
	if rest[0] != '.' || len(rest) < 2 {
		return false
	}
	return isAllDigits(rest[1:])
}

func isValidZoneOffset(s string) bool {
	if s == "Z" || s == "z" {
		return true
	}
	if len(s) != 6 || (s[0] != '+' && s[0] != '-') || s[3] != ':' {
		return false
	}
	hh, mm := s[1:3], s[4:6]
	if !isAllDigits(hh) || !isAllDigits(mm) {
		return false
	}
	h, _ := strconv.Atoi(hh)
	m, _ := strconv.Atoi(mm)
	return h <= 23 && m <= 59
}

func isEmail(s string) bool {
	at := strings.IndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return false
	}
	local, domain := s[:at], s[at+1:]
	if local == "" || strings.Contains(domain, "@") || !strings.Contains(domain, ".") {
		return false
	}
	return true
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.IsAbs() && u.Host != ""
}

func isIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 || !isAllDigits(p) {
			return false
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return false
		}
		if len(p) > 1 && p[0] == '0' {
			return false
		}
	}
	return true
}

func isIPv6(s string) bool {
	if !strings.Contains(s, ":") {
		return false
	}
	groups := strings.Split(s, ":")
	if len(groups) < 2 || len(groups) > 8 {
		return false
	}
	doubleColon := strings.Contains(s, "::")
	nonEmpty := 0
	for _, g := range groups {
		if g == "" {
			continue
		}
		nonEmpty++
		if len(g) > 4 || !isHex(g) {
			return false
		}
	}
	if !doubleColon && nonEmpty != 8 {
		return false
	}
	return nonEmpty <= 8
}

func isHostname(s string) bool {
	if len(s) == 0 || len(s) > 253 {
		return false
	}
	labels := strings.Split(s, ".")
	for _, l := range labels {
		if len(l) == 0 || len(l) > 63 {
			return false
		}
		if l[0] == '-' || l[len(l)-1] == '-' {
			return false
		}
		for _, c := range l {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-') {
				return false
			}
		}
	}
	return true
}

func isInt32(s string) bool {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return false
	}
	return n >= -2147483648 && n <= 2147483647
}

func isInt64(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

// Validator is a go-playground/validator/v10 instance with the same
// format checks registered as custom tags, so the catalogue loader can
// reuse these rules to sanity-check default/frozen values at startup.
var Validator = newStructValidator()

func newStructValidator() *val.Validate {
	v := val.New()
	register := func(tag string, fn func(string) bool) {
		_ = v.RegisterValidation(tag, func(fl val.FieldLevel) bool {
			return fn(fl.Field().String())
		})
	}
	register("ts_uuid", isUUID)
	register("ts_date", isDate)
	register("ts_datetime", isDateTime)
	register("ts_email", isEmail)
	register("ts_url", isAbsoluteURL)
	register("ts_ipv4", isIPv4)
	register("ts_ipv6", isIPv6)
	register("ts_hostname", isHostname)
	register("ts_int32", isInt32)
	register("ts_int64", isInt64)
	return v
}

var formatTags = map[string]string{
	"uuid":      "ts_uuid",
	"date":      "ts_date",
	"date-time": "ts_datetime",
	"email":     "ts_email",
	"uri":       "ts_url",
	"url":       "ts_url",
	"ipv4":      "ts_ipv4",
	"ipv6":      "ts_ipv6",
	"hostname":  "ts_hostname",
	"int32":     "ts_int32",
	"int64":     "ts_int64",
}

// ValidateStatic checks a manifest-authored default or frozen value
// against format at catalogue load time, via the same custom tags
// Validator registers, so a malformed manifest value is rejected at
// startup rather than surfacing as a confusing failure on first call.
func ValidateStatic(paramName, format, value string) error {
	tag, ok := formatTags[format]
	if !ok {
		return nil
	}
	if err := Validator.Var(value, tag); err != nil {
		return corerr.InvalidArgument("parameter %q: value %q does not match format %q", paramName, value, format)
	}
	return nil
}
