package device

// History capacities.
const (
	SampleHistoryCapacity = 50
	StatusHistoryCapacity = 3
)

// HistoryBuffer is a fixed capacity FIFO. Once full, every append drops the oldest item.
type HistoryBuffer[T any] struct {
	items []T
	cap   int
}

// NewHistoryBuffer returns an empty buffer holding at most capacity items.
func NewHistoryBuffer[T any](capacity int) *HistoryBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}

	return &HistoryBuffer[T]{items: make([]T, 0, capacity), cap: capacity}
}

// Append adds v as the newest item.
func (h *HistoryBuffer[T]) Append(v T) {
	if len(h.items) == h.cap {
		copy(h.items, h.items[1:])
		h.items = h.items[:h.cap-1]
	}

	h.items = append(h.items, v)
}

// Items returns a copy of the buffer, oldest first.
func (h *HistoryBuffer[T]) Items() []T {
	out := make([]T, len(h.items))
	copy(out, h.items)

	return out
}

// Len returns the number of buffered items.
func (h *HistoryBuffer[T]) Len() int { return len(h.items) }

// Cap returns the buffer capacity.
func (h *HistoryBuffer[T]) Cap() int { return h.cap }
