// Package progress fans out deployment progress events to connected
// observers. Delivery is best-effort: there is no buffering or replay, and
// an observer that attaches mid-deployment only sees later events.
// Authoritative state lives in the record store, not here.
package progress

import "sync"

// =============================================================================
// Events
// =============================================================================

// Event is a single step/percentage progress notification.
type Event struct {
	DeploymentID string `json:"deployment_id"`
	Step         string `json:"step"`
	Percent      int    `json:"percent"`
}

// AllDeployments subscribes an observer to events from every deployment.
const AllDeployments = "*"

// Subscriber abstracts a connected observer.
type Subscriber interface {
	Send(Event) error
	Close()
}

// =============================================================================
// Hub
// =============================================================================

// Hub routes events to subscribers keyed by deployment id.
type Hub struct {
	subscribers map[string]map[Subscriber]struct{}
	register    chan subscription
	unreg       chan subscription
	broadcast   chan Event
	done        chan struct{}
	once        sync.Once
}

// subscription couples a subscriber with the deployment id it observes.
type subscription struct {
	deploymentID string
	sub          Subscriber
}

// NewHub creates a running hub.
func NewHub() *Hub {
	h := &Hub{
		subscribers: make(map[string]map[Subscriber]struct{}),
		register:    make(chan subscription),
		unreg:       make(chan subscription),
		broadcast:   make(chan Event),
		done:        make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for _, subs := range h.subscribers {
				for s := range subs {
					s.Close()
				}
			}
			h.subscribers = make(map[string]map[Subscriber]struct{})
			return
		case sub := <-h.register:
			if _, ok := h.subscribers[sub.deploymentID]; !ok {
				h.subscribers[sub.deploymentID] = make(map[Subscriber]struct{})
			}
			h.subscribers[sub.deploymentID][sub.sub] = struct{}{}
		case sub := <-h.unreg:
			if subs, ok := h.subscribers[sub.deploymentID]; ok {
				delete(subs, sub.sub)
				if len(subs) == 0 {
					delete(h.subscribers, sub.deploymentID)
				}
			}
		case event := <-h.broadcast:
			h.deliver(event.DeploymentID, event)
			h.deliver(AllDeployments, event)
		}
	}
}

// deliver pushes an event to every subscriber under a key, dropping
// subscribers whose Send fails so a dead observer never blocks the hub.
func (h *Hub) deliver(key string, event Event) {
	subs, ok := h.subscribers[key]
	if !ok {
		return
	}
	for s := range subs {
		if err := s.Send(event); err != nil {
			s.Close()
			delete(subs, s)
		}
	}
	if len(subs) == 0 {
		delete(h.subscribers, key)
	}
}

// Register attaches a subscriber to a deployment's event stream. Use
// AllDeployments to observe every deployment.
func (h *Hub) Register(deploymentID string, sub Subscriber) {
	select {
	case h.register <- subscription{deploymentID: deploymentID, sub: sub}:
	case <-h.done:
	}
}

// Unregister detaches a subscriber.
func (h *Hub) Unregister(deploymentID string, sub Subscriber) {
	select {
	case h.unreg <- subscription{deploymentID: deploymentID, sub: sub}:
	case <-h.done:
	}
}

// Broadcast pushes an event to every observer of the deployment. Events from
// a single caller are delivered in call order; no ordering is promised
// across deployments.
func (h *Hub) Broadcast(deploymentID, step string, percent int) {
	event := Event{DeploymentID: deploymentID, Step: step, Percent: percent}
	select {
	case h.broadcast <- event:
	case <-h.done:
	}
}

// Stop shuts down the hub and closes all subscribers.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })
}
