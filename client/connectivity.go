package client

import "sync"

// Connectivity reports network reachability transitions. Frontends hook this
// to whatever the host platform exposes (OS network events, a reachability
// probe); tests and headless tools can drive a Notifier by hand.
type Connectivity interface {
	Online() bool
	Subscribe() <-chan bool
}

// Notifier is a manually driven Connectivity implementation.
type Notifier struct {
	mu     sync.Mutex
	online bool
	subs   []chan bool
}

func NewNotifier() *Notifier {
	return &Notifier{online: true}
}

func (n *Notifier) Online() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

func (n *Notifier) Subscribe() <-chan bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan bool, 4)
	n.subs = append(n.subs, ch)
	return ch
}

// SetOnline records a transition and notifies subscribers. Repeated calls
// with the same value are ignored.
func (n *Notifier) SetOnline(online bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.online == online {
		return
	}
	n.online = online
	for _, ch := range n.subs {
		select {
		case ch <- online:
		default:
		}
	}
}
