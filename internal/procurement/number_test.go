package procurement

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/buildflow/internal/platform/cache"
	"github.com/odyssey-erp/buildflow/internal/shared"
)

type stubNumbers struct {
	numbers []string
	err     error
}

func (s *stubNumbers) LastNumber(ctx context.Context, companyID int64, prefix string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	for i := len(s.numbers) - 1; i >= 0; i-- {
		n := s.numbers[i]
		if strings.HasPrefix(n, prefix) && !strings.HasPrefix(n, prefix+"T") {
			return n, nil
		}
	}
	return "", nil
}

var march = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestNumberer(t *testing.T, source NumberSource) (*Numberer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := cache.NewLocker(client, time.Second).WithRetry(2, 5*time.Millisecond)
	n := NewNumberer(source, locker, nil, nil)
	n.now = func() time.Time { return march }
	return n, mr
}

func issue(t *testing.T, n *Numberer) string {
	t.Helper()
	var got string
	require.NoError(t, n.Issue(context.Background(), 1, func(ctx context.Context, number string) error {
		got = number
		return nil
	}))
	return got
}

func TestIssueStartsAndContinuesMonthlySequence(t *testing.T) {
	source := &stubNumbers{}
	n, mr := newTestNumberer(t, source)

	require.Equal(t, "PO-2026-03-0001", issue(t, n))

	source.numbers = []string{"PO-2026-03-0041", "PO-2026-03-0042"}
	require.Equal(t, "PO-2026-03-0043", issue(t, n))
	require.False(t, mr.Exists(shared.OrderNumberLockKey(1)))
}

func TestIssueResetsAtMonthBoundary(t *testing.T) {
	source := &stubNumbers{numbers: []string{"PO-2026-02-0117"}}
	n, _ := newTestNumberer(t, source)
	require.Equal(t, "PO-2026-03-0001", issue(t, n))
}

func TestIssueSkipsFallbackNumbers(t *testing.T) {
	source := &stubNumbers{numbers: []string{"PO-2026-03-0009", "PO-2026-03-T1773480600000"}}
	n, _ := newTestNumberer(t, source)
	require.Equal(t, "PO-2026-03-0010", issue(t, n))
}

func TestIssueFallsBackWhenSequenceUnavailable(t *testing.T) {
	n, _ := newTestNumberer(t, &stubNumbers{err: fmt.Errorf("%w: timeout", shared.ErrBackend)})
	require.Equal(t, fmt.Sprintf("PO-2026-03-T%d", march.UnixMilli()), issue(t, n))
}

func TestIssueFallsBackWhenLockHeld(t *testing.T) {
	n, mr := newTestNumberer(t, &stubNumbers{})
	require.NoError(t, mr.Set(shared.OrderNumberLockKey(1), "other-process"))
	require.True(t, strings.HasPrefix(issue(t, n), "PO-2026-03-T"))
}

func TestIssueRetriesOnceWithFallbackOnDuplicate(t *testing.T) {
	n, _ := newTestNumberer(t, &stubNumbers{})
	var attempts []string
	err := n.Issue(context.Background(), 1, func(ctx context.Context, number string) error {
		attempts = append(attempts, number)
		if len(attempts) == 1 {
			return fmt.Errorf("%w: order number taken", shared.ErrConflict)
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	require.Equal(t, "PO-2026-03-0001", attempts[0])
	require.True(t, strings.HasPrefix(attempts[1], "PO-2026-03-T"))
}

func TestIssuePropagatesInsertFailure(t *testing.T) {
	n, _ := newTestNumberer(t, &stubNumbers{})
	err := n.Issue(context.Background(), 1, func(ctx context.Context, number string) error {
		return shared.Validationf("bad draft")
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestFallbackRereadsClockAndRetriesTakenNumbers(t *testing.T) {
	n, _ := newTestNumberer(t, &stubNumbers{err: fmt.Errorf("%w: timeout", shared.ErrBackend)})
	calls := 0
	n.now = func() time.Time {
		calls++
		return march
	}

	var attempts []string
	err := n.Issue(context.Background(), 1, func(ctx context.Context, number string) error {
		attempts = append(attempts, number)
		if len(attempts) < 3 {
			return fmt.Errorf("%w: order number taken", shared.ErrConflict)
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	require.Equal(t, fmt.Sprintf("PO-2026-03-T%d", march.UnixMilli()), attempts[0])
	require.True(t, strings.HasPrefix(attempts[1], attempts[0]+"-"))
	require.True(t, strings.HasPrefix(attempts[2], attempts[0]+"-"))
	require.NotEqual(t, attempts[1], attempts[2])
	require.Equal(t, 4, calls)
}

func TestFallbackGivesUpAsConflict(t *testing.T) {
	n, _ := newTestNumberer(t, &stubNumbers{err: fmt.Errorf("%w: timeout", shared.ErrBackend)})
	calls := 0
	err := n.Issue(context.Background(), 1, func(ctx context.Context, number string) error {
		calls++
		return fmt.Errorf("%w: order number taken", shared.ErrConflict)
	})
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Equal(t, fallbackAttempts, calls)
}
