package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/buildflow/internal/observability"
	"github.com/odyssey-erp/buildflow/internal/platform/cache"
	"github.com/odyssey-erp/buildflow/internal/shared"
)

// NumberSource finds the most recently created sequential number with prefix.
// It returns "" when the company has none in that period.
type NumberSource interface {
	LastNumber(ctx context.Context, companyID int64, prefix string) (string, error)
}

// Numberer issues PO-YYYY-MM-NNNN numbers. The sequence restarts every month
// and is serialised per company by a redis lock held across the insert.
type Numberer struct {
	source  NumberSource
	locker  *cache.Locker
	metrics *observability.Domain
	logger  *slog.Logger
	now     func() time.Time
}

// NewNumberer constructs Numberer. A nil locker issues numbers unserialised
// and relies on the unique index plus the fallback retry.
func NewNumberer(source NumberSource, locker *cache.Locker, metrics *observability.Domain, logger *slog.Logger) *Numberer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Numberer{source: source, locker: locker, metrics: metrics, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Prefix returns the numbering prefix for t.
func Prefix(t time.Time) string {
	return fmt.Sprintf("PO-%04d-%02d-", t.Year(), int(t.Month()))
}

// fallbackAttempts bounds the timestamp numbers tried once the sequence failed.
const fallbackAttempts = 3

// Issue runs insert with a fresh number. When the sequence cannot be derived,
// or insert reports the number as taken, a timestamp number is used instead.
func (n *Numberer) Issue(ctx context.Context, companyID int64, insert func(ctx context.Context, number string) error) error {
	now := n.now()
	err := n.locker.WithLock(ctx, shared.OrderNumberLockKey(companyID), func(ctx context.Context) error {
		number, err := n.sequential(ctx, companyID, now)
		if err != nil {
			return n.fallback(ctx, companyID, err, insert)
		}
		err = insert(ctx, number)
		if errors.Is(err, shared.ErrConflict) {
			return n.fallback(ctx, companyID, err, insert)
		}
		return err
	})
	if errors.Is(err, cache.ErrLockNotObtained) || errors.Is(err, cache.ErrLockUnavailable) {
		return n.fallback(ctx, companyID, err, insert)
	}
	return err
}

func (n *Numberer) sequential(ctx context.Context, companyID int64, now time.Time) (string, error) {
	prefix := Prefix(now)
	last, err := n.source.LastNumber(ctx, companyID, prefix)
	if err != nil {
		return "", err
	}
	seq := 1
	if last != "" {
		current, err := strconv.Atoi(strings.TrimPrefix(last, prefix))
		if err != nil {
			return "", fmt.Errorf("parse order number %q: %w", last, err)
		}
		seq = current + 1
	}
	return fmt.Sprintf("%s%04d", prefix, seq), nil
}

// fallback issues PO-YYYY-MM-T<unix ms> numbers read from the clock at call
// time. A number already taken is retried with a random suffix.
func (n *Numberer) fallback(ctx context.Context, companyID int64, cause error, insert func(context.Context, string) error) error {
	n.metrics.ObserveNumberFallback()
	var err error
	for attempt := 0; attempt < fallbackAttempts; attempt++ {
		now := n.now()
		number := fmt.Sprintf("%sT%d", Prefix(now), now.UnixMilli())
		if attempt > 0 {
			number += "-" + strings.ToUpper(uuid.NewString()[:8])
		}
		n.logger.Warn("order number fallback",
			slog.Int64("company_id", companyID),
			slog.String("number", number),
			slog.Int("attempt", attempt+1),
			slog.Any("cause", cause),
		)
		err = insert(ctx, number)
		if !errors.Is(err, shared.ErrConflict) {
			return err
		}
		cause = err
	}
	return err
}
