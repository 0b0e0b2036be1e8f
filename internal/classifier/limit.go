package classifier

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limited bounds calls to an underlying Classifier by a per-minute rate and a
// maximum number of in-flight requests.
type Limited struct {
	next    Classifier
	limiter *rate.Limiter
	sem     *semaphore.Weighted
}

func NewLimited(next Classifier, perMinute, concurrency int) *Limited {
	l := &Limited{next: next}
	if perMinute > 0 {
		l.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
	if concurrency > 0 {
		l.sem = semaphore.NewWeighted(int64(concurrency))
	}
	return l
}

func (l *Limited) acquire(ctx context.Context) (func(), error) {
	if l.sem != nil {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	release := func() {
		if l.sem != nil {
			l.sem.Release(1)
		}
	}
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			release()
			return nil, err
		}
	}
	return release, nil
}

func (l *Limited) Classify(ctx context.Context, text string) (bool, error) {
	release, err := l.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()
	return l.next.Classify(ctx, text)
}

func (l *Limited) Extract(ctx context.Context, text string) (*Fields, error) {
	release, err := l.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.Extract(ctx, text)
}
