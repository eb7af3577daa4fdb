package board

import "sync"

// notifier is an in-process fan-out of document writes, keyed by canvas id.
// It backs the watch side of the memory and sqlite stores, which have no
// native push channel of their own.
type notifier struct {
	mu        sync.Mutex
	nextToken int
	listeners map[string]map[int]func(Document)
}

func newNotifier() *notifier {
	return &notifier{listeners: map[string]map[int]func(Document){}}
}

func (n *notifier) add(id string, fn func(Document)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextToken++
	token := n.nextToken
	if n.listeners[id] == nil {
		n.listeners[id] = map[int]func(Document){}
	}
	n.listeners[id][token] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.listeners[id], token)
	}
}

func (n *notifier) notify(doc Document) {
	n.mu.Lock()
	fns := make([]func(Document), 0, len(n.listeners[doc.ID]))
	for _, fn := range n.listeners[doc.ID] {
		fns = append(fns, fn)
	}
	n.mu.Unlock()
	for _, fn := range fns {
		fn(doc)
	}
}
