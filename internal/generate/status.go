package generate

import (
	"context"
	"sync"
	"time"
)

// rotator cycles progress messages for one request. Stop cancels and joins
// the goroutine, so no update is delivered after Stop returns.
type rotator struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.Mutex
	set    func(string)
}

func startRotation(ctx context.Context, messages []string, interval time.Duration, set func(string)) *rotator {
	ctx, cancel := context.WithCancel(ctx)
	r := &rotator{cancel: cancel, set: set}
	if len(messages) == 0 || set == nil {
		cancel()
		return r
	}

	r.emit(messages[0])
	if len(messages) == 1 || interval <= 0 {
		return r
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		i := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				i = (i + 1) % len(messages)
				select {
				case <-ctx.Done():
					return
				default:
				}
				r.emit(messages[i])
			}
		}
	}()
	return r
}

func (r *rotator) emit(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.set != nil {
		r.set(msg)
	}
}

// Pin stops cycling and shows msg until the request settles.
func (r *rotator) Pin(msg string) {
	r.Stop()
	r.mu.Lock()
	set := r.set
	r.mu.Unlock()
	if set != nil {
		set(msg)
	}
}

func (r *rotator) Stop() {
	r.once.Do(func() {
		r.cancel()
		r.wg.Wait()
	})
}

// Close stops the rotation and drops any later Pin.
func (r *rotator) Close() {
	r.Stop()
	r.mu.Lock()
	r.set = nil
	r.mu.Unlock()
}
