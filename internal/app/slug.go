package app

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/neomorfeo/provisioniq/internal/domain"
)

// slugPattern is the shape every allocated slug satisfies: 3-30 chars,
// lowercase alphanumeric plus hyphen, no leading or trailing hyphen.
var slugPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{1,28}[a-z0-9])?$`)

const (
	maxSlugLen      = 30
	maxSuffixProbes = 100
)

// ValidSlug reports whether s is a well-formed subdomain slug. Callers
// may use it to validate externally supplied slugs.
func ValidSlug(s string) bool {
	return slugPattern.MatchString(s)
}

// SlugAllocator derives unique DNS-safe slugs from company display names,
// probing the instance registry for collisions.
type SlugAllocator struct {
	repo domain.InstanceRepository
}

// NewSlugAllocator creates an allocator backed by the given registry.
func NewSlugAllocator(repo domain.InstanceRepository) *SlugAllocator {
	return &SlugAllocator{repo: repo}
}

// Allocate returns a well-formed slug not held by any non-terminated
// instance at the time of the check. It never fails: after 100 suffix
// probes it falls back to a timestamp suffix to guarantee termination.
// The check is not atomic with entity creation; a concurrent allocation
// of the same name can still collide at insert time, and callers must
// treat that as a recoverable error requiring re-allocation.
func (a *SlugAllocator) Allocate(ctx context.Context, displayName string) string {
	base := Slugify(displayName)

	if a.available(ctx, base) {
		return base
	}

	for i := 1; i <= maxSuffixProbes; i++ {
		candidate := withSuffix(base, fmt.Sprintf("-%d", i))
		if a.available(ctx, candidate) {
			return candidate
		}
	}

	// Practically unreachable: a nanosecond suffix will not collide.
	return withSuffix(base, fmt.Sprintf("-%d", time.Now().UnixNano()))
}

// Slugify normalizes a display name into a slug base: lowercase, strip
// everything outside [a-z0-9 -], collapse whitespace and hyphen runs to
// single hyphens, trim hyphens, truncate to 30 characters. Names that
// normalize to nothing (or too short) get a generated fallback base.
func Slugify(displayName string) string {
	s := strings.ToLower(displayName)

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '\t', r == '\n', r == '-':
			b.WriteByte(' ')
		}
	}

	s = strings.Join(strings.Fields(b.String()), "-")
	s = strings.Trim(s, "-")

	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "-")
	}

	if !ValidSlug(s) {
		return fmt.Sprintf("instance-%d", time.Now().UnixNano()%1_000_000_000)
	}
	return s
}

func (a *SlugAllocator) available(ctx context.Context, slug string) bool {
	_, err := a.repo.GetBySlug(ctx, slug)
	return errors.Is(err, domain.ErrInstanceNotFound)
}

// withSuffix appends suffix to base, truncating base so the result stays
// within the slug length limit.
func withSuffix(base, suffix string) string {
	keep := maxSlugLen - len(suffix)
	if len(base) > keep {
		base = strings.TrimRight(base[:keep], "-")
	}
	return base + suffix
}
