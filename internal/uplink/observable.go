package uplink

import "sync"

// Observable holds a value and pushes every change to subscribers. Each
// subscriber sees the latest value; intermediate values may be skipped if it
// reads slowly.
type Observable[T any] struct {
	mu    sync.Mutex
	value T
	subs  map[int]chan T
	next  int
}

func NewObservable[T any](initial T) *Observable[T] {
	return &Observable[T]{value: initial, subs: make(map[int]chan T)}
}

func (o *Observable[T]) Get() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value
}

func (o *Observable[T]) Set(v T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.value = v
	for _, ch := range o.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

// Subscribe returns a channel primed with the current value and a cancel
// function that closes it.
func (o *Observable[T]) Subscribe() (<-chan T, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.next
	o.next++
	ch := make(chan T, 1)
	ch <- o.value
	o.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			close(ch)
			o.mu.Unlock()
		})
	}
}
