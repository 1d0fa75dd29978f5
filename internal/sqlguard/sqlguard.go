// Package sqlguard validates, sanitizes, and binds the templated SQL that the
// upstream planner emits. The store is multi-tenant: every statement must
// carry the ownership predicate binding it to the requesting user, and that
// requirement is enforced here structurally, never by convention. Missing it
// is a rejection, not something this package silently repairs.
package sqlguard

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/soulo-online/insight/internal/plan"
)

// Validation errors. All are fatal to the step that carries the statement
// and non-fatal to its sub-question.
var (
	ErrUnsafeQuery                 = errors.New("unsafe query")
	ErrMalformedTemporalExpression = errors.New("malformed temporal expression")
	ErrWriteNotAllowed             = errors.New("write not allowed")
	ErrMissingOwnershipPredicate   = errors.New("missing ownership predicate")
)

// Placeholder is the closed set of substitution points allowed in templated
// SQL. Arbitrary caller-influenced text is never interpolated.
type Placeholder string

const (
	PlaceholderIdentity Placeholder = ":current_user_id"
	PlaceholderStart    Placeholder = ":start_date"
	PlaceholderEnd      Placeholder = ":end_date"
)

// OwnershipPredicate is the textual predicate every statement must contain.
const OwnershipPredicate = "user_id = " + string(PlaceholderIdentity)

var unsafePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i);\s*(insert|update|delete|drop|alter|create|truncate|grant|revoke)\b`),
	regexp.MustCompile(`(?i)\bunion\s+select\b`),
	regexp.MustCompile(`(?i)\b(call|exec|execute)\s+\w`),
	regexp.MustCompile(`(?i)\bpg_(sleep|read_file|terminate_backend|cancel_backend)\b`),
	regexp.MustCompile(`(?i)\bsp_\w+`),
	regexp.MustCompile(`(?i)--`),
	regexp.MustCompile(`/\*`),
}

var writeLeading = regexp.MustCompile(`(?i)^\s*(select|with)\b`)

// temporalComparison matches literals compared against the creation-time
// column so they can be vetted as parseable instants.
var temporalComparison = regexp.MustCompile(`(?i)created_at\s*(?:=|>=|<=|>|<|between)\s*'([^']*)'`)

// naturalPhrase flags planner hallucinations like created_at >= 'last week'.
var naturalPhrase = regexp.MustCompile(`(?i)^(last|this|next|past)\s|\b(yesterday|today|tomorrow|ago|week|month|year)s?\b`)

var doubledTimezone = regexp.MustCompile(`(?i)at\s+time\s+zone\s+'[^']*'\s+at\s+time\s+zone`)

// Sanitize checks one SQL statement and returns its cleaned form. Output is
// sanitized text or a typed error, never partial output.
func Sanitize(sql string) (string, error) {
	cleaned := strings.TrimSpace(sql)
	cleaned = strings.TrimRight(cleaned, "; \t\n")
	if cleaned == "" {
		return "", fmt.Errorf("%w: empty statement", ErrWriteNotAllowed)
	}
	if !writeLeading.MatchString(cleaned) {
		return "", fmt.Errorf("%w: statement must start with SELECT or WITH", ErrWriteNotAllowed)
	}
	for _, pat := range unsafePatterns {
		if pat.MatchString(cleaned) {
			return "", fmt.Errorf("%w: statement matches forbidden pattern %q", ErrUnsafeQuery, pat.String())
		}
	}
	if doubledTimezone.MatchString(cleaned) {
		return "", fmt.Errorf("%w: doubled AT TIME ZONE clause", ErrMalformedTemporalExpression)
	}
	for _, m := range temporalComparison.FindAllStringSubmatch(cleaned, -1) {
		lit := strings.TrimSpace(m[1])
		if lit == "" {
			continue
		}
		if isPlaceholder(lit) || parsesAsInstant(lit) {
			continue
		}
		if naturalPhrase.MatchString(lit) {
			return "", fmt.Errorf("%w: %q is not a timestamp literal", ErrMalformedTemporalExpression, lit)
		}
	}
	if !strings.Contains(cleaned, OwnershipPredicate) {
		return "", fmt.Errorf("%w: statement must filter on %s", ErrMissingOwnershipPredicate, OwnershipPredicate)
	}
	return cleaned, nil
}

// Bind substitutes the allowed placeholders into sanitized SQL. The identity
// is always bound as a quoted literal; start/end are bound only when their
// placeholders are textually present, as quoted instants or explicit NULL.
func Bind(sanitized string, identity string, tr *plan.TimeRange) string {
	bound := strings.ReplaceAll(sanitized, string(PlaceholderIdentity), quoteLiteral(identity))
	if strings.Contains(bound, string(PlaceholderStart)) {
		bound = strings.ReplaceAll(bound, string(PlaceholderStart), instantLiteral(trStart(tr)))
	}
	if strings.Contains(bound, string(PlaceholderEnd)) {
		bound = strings.ReplaceAll(bound, string(PlaceholderEnd), instantLiteral(trEnd(tr)))
	}
	return bound
}

func trStart(tr *plan.TimeRange) *time.Time {
	if tr == nil {
		return nil
	}
	return tr.Start
}

func trEnd(tr *plan.TimeRange) *time.Time {
	if tr == nil {
		return nil
	}
	return tr.End
}

func isPlaceholder(lit string) bool {
	return strings.HasPrefix(lit, ":")
}

func parsesAsInstant(lit string) bool {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if _, err := time.Parse(layout, lit); err == nil {
			return true
		}
	}
	return false
}

func quoteLiteral(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func instantLiteral(t *time.Time) string {
	if t == nil {
		return "NULL"
	}
	return quoteLiteral(t.UTC().Format(time.RFC3339))
}
