package logocache

import "container/list"

// nameLRU is a small bounded least-recently-used set of channel-name
// strings that have been resolved, kept so API responses (e.g. search
// suggestions) can show recently-seen names without walking the full
// index. It is not part of the resolution hot path.
type nameLRU struct {
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

func newNameLRU(capacity int) *nameLRU {
	if capacity <= 0 {
		capacity = 512
	}
	return &nameLRU{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

func (l *nameLRU) touch(name string) {
	if name == "" {
		return
	}
	if el, ok := l.index[name]; ok {
		l.order.MoveToFront(el)
		return
	}
	el := l.order.PushFront(name)
	l.index[name] = el
	for l.order.Len() > l.capacity {
		oldest := l.order.Back()
		if oldest == nil {
			break
		}
		l.order.Remove(oldest)
		delete(l.index, oldest.Value.(string))
	}
}

func (l *nameLRU) recent(limit int) []string {
	if limit <= 0 || limit > l.order.Len() {
		limit = l.order.Len()
	}
	out := make([]string, 0, limit)
	for el := l.order.Front(); el != nil && len(out) < limit; el = el.Next() {
		out = append(out, el.Value.(string))
	}
	return out
}
