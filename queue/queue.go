package queue

// Queue is an unbounded FIFO. It is not synchronized.
type Queue[T any] struct {
	items []T
}

func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

func (q *Queue[T]) Push(item T) {
	q.items = append(q.items, item)
}

// Pop removes the oldest item; ok is false when the queue is empty.
func (q *Queue[T]) Pop() (item T, ok bool) {
	if len(q.items) == 0 {
		return item, false
	}
	item = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return item, true
}

func (q *Queue[T]) Peek() (item T, ok bool) {
	if len(q.items) == 0 {
		return item, false
	}
	return q.items[0], true
}

func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Drain empties the queue and returns what it held, oldest first.
func (q *Queue[T]) Drain() []T {
	items := q.items
	q.items = nil
	return items
}
