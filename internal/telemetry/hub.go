// Package telemetry fans real-time deployment events out to subscribers
// (§4.6). Adapted from the teacher's single-purpose log Hub: this one
// carries three typed event kinds instead of raw strings, and adds a
// per-project room alongside the per-deployment one so a project's
// dashboard can watch every deployment in flight without subscribing to
// each individually.
package telemetry

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deploycenter/deploy-center/internal/core/domain"
)

// Event is one message delivered to a subscriber channel.
type Event struct {
	Kind         domain.EventKind `json:"kind"`
	DeploymentID uuid.UUID        `json:"deploymentId"`
	ProjectID    uuid.UUID        `json:"projectId,omitempty"`
	Deployment   *domain.Deployment `json:"deployment,omitempty"`
	Line         string           `json:"line,omitempty"`
	At           time.Time        `json:"at"`
}

// JSON marshals the event for delivery over the websocket transport.
func (e Event) JSON() ([]byte, error) { return json.Marshal(e) }

const subscriberBuffer = 100

// Hub manages active subscribers to deployment and project event streams.
type Hub struct {
	mu sync.RWMutex
	// deployment rooms
	deploymentSubs map[uuid.UUID][]chan Event
	// project rooms, fed every deployment that belongs to that project
	projectSubs map[uuid.UUID][]chan Event
	// deploymentProject lets EmitLog (which only knows the deployment ID)
	// find the right project room; populated by Register.
	deploymentProject map[uuid.UUID]uuid.UUID
}

// NewHub builds an empty Hub.
func NewHub() *Hub {
	return &Hub{
		deploymentSubs:    make(map[uuid.UUID][]chan Event),
		projectSubs:       make(map[uuid.UUID][]chan Event),
		deploymentProject: make(map[uuid.UUID]uuid.UUID),
	}
}

// Register associates a deployment with its project so later EmitLog calls
// (which carry only the deployment ID) can still reach the project room.
// The orchestrator calls this once, when a deployment is created.
func (h *Hub) Register(deploymentID, projectID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deploymentProject[deploymentID] = projectID
}

// Forget drops the deployment-to-project association once a deployment's
// event stream is done, so the map doesn't grow unbounded over server
// lifetime.
func (h *Hub) Forget(deploymentID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.deploymentProject, deploymentID)
}

// SubscribeDeployment adds a client to one deployment's event stream.
func (h *Hub) SubscribeDeployment(deploymentID uuid.UUID) chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Event, subscriberBuffer)
	h.deploymentSubs[deploymentID] = append(h.deploymentSubs[deploymentID], ch)
	return ch
}

// UnsubscribeDeployment removes and closes a deployment-room subscriber.
func (h *Hub) UnsubscribeDeployment(deploymentID uuid.UUID, ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deploymentSubs[deploymentID] = removeChan(h.deploymentSubs[deploymentID], ch)
}

// SubscribeProject adds a client to every deployment event for one project.
func (h *Hub) SubscribeProject(projectID uuid.UUID) chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Event, subscriberBuffer)
	h.projectSubs[projectID] = append(h.projectSubs[projectID], ch)
	return ch
}

// UnsubscribeProject removes and closes a project-room subscriber.
func (h *Hub) UnsubscribeProject(projectID uuid.UUID, ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.projectSubs[projectID] = removeChan(h.projectSubs[projectID], ch)
}

func removeChan(subs []chan Event, target chan Event) []chan Event {
	for i, ch := range subs {
		if ch == target {
			close(ch)
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

// EmitUpdated implements domain.EventBroadcaster.
func (h *Hub) EmitUpdated(deploymentID uuid.UUID, d *domain.Deployment) {
	h.publish(Event{Kind: domain.EventDeploymentUpdated, DeploymentID: deploymentID, ProjectID: d.ProjectID, Deployment: d, At: now()})
}

// EmitLog implements domain.EventBroadcaster.
func (h *Hub) EmitLog(deploymentID uuid.UUID, line string) {
	h.publish(Event{Kind: domain.EventDeploymentLog, DeploymentID: deploymentID, Line: line, At: now()})
}

// EmitCompleted implements domain.EventBroadcaster.
func (h *Hub) EmitCompleted(deploymentID uuid.UUID, d *domain.Deployment) {
	h.publish(Event{Kind: domain.EventDeploymentCompleted, DeploymentID: deploymentID, ProjectID: d.ProjectID, Deployment: d, At: now()})
}

// publish delivers the event to the deployment room and, when the project
// is known (either carried on the event or recorded via Register), to the
// project room too. Slow subscribers never block the caller: a full buffer
// drops the message (§4.6 "best-effort delivery").
func (h *Hub) publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.deploymentSubs[evt.DeploymentID] {
		select {
		case ch <- evt:
		default:
		}
	}

	projectID := evt.ProjectID
	if projectID == uuid.Nil {
		projectID = h.deploymentProject[evt.DeploymentID]
	}
	if projectID == uuid.Nil {
		return
	}
	for _, ch := range h.projectSubs[projectID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

func now() time.Time { return time.Now() }

var _ domain.EventBroadcaster = (*Hub)(nil)
