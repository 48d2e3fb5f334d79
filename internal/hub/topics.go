package hub

import (
	"fmt"
	"strings"
)

// Topic is an outbound broadcast stream.
type Topic string

const (
	TopicStateUpdate      Topic = "state-update"
	TopicDisasterSpawned  Topic = "disaster-spawned"
	TopicNewTask          Topic = "new-task"
	TopicDisasterResolved Topic = "disaster-resolved"
)

// AllTopics lists every broadcast topic.
var AllTopics = []Topic{TopicStateUpdate, TopicDisasterSpawned, TopicNewTask, TopicDisasterResolved}

// Consumer roles and the topics they imply.
var roles = map[string][]Topic{
	"visualization": {TopicStateUpdate, TopicDisasterSpawned, TopicDisasterResolved},
	"decision":      {TopicNewTask},
	"all":           AllTopics,
}

func knownTopic(t Topic) bool {
	for _, k := range AllTopics {
		if k == t {
			return true
		}
	}
	return false
}

// ParseSubscription resolves comma separated role and topic lists into a
// topic set. Both empty means every topic.
func ParseSubscription(roleList, topicList string) (map[Topic]struct{}, error) {
	set := make(map[Topic]struct{})
	for _, r := range split(roleList) {
		ts, ok := roles[strings.ToLower(r)]
		if !ok {
			return nil, fmt.Errorf("unknown role %q", r)
		}
		for _, t := range ts {
			set[t] = struct{}{}
		}
	}
	for _, s := range split(topicList) {
		t := Topic(strings.ToLower(s))
		if !knownTopic(t) {
			return nil, fmt.Errorf("unknown topic %q", s)
		}
		set[t] = struct{}{}
	}
	if len(set) == 0 {
		for _, t := range AllTopics {
			set[t] = struct{}{}
		}
	}
	return set, nil
}

func split(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// registry indexes connected clients by the topics they consume.
type registry struct {
	clients map[*Client]struct{}
	byTopic map[Topic]map[*Client]struct{}
}

func newRegistry() *registry {
	r := &registry{clients: make(map[*Client]struct{}), byTopic: make(map[Topic]map[*Client]struct{})}
	for _, t := range AllTopics {
		r.byTopic[t] = make(map[*Client]struct{})
	}
	return r
}

func (r *registry) add(c *Client) {
	r.clients[c] = struct{}{}
	for t := range c.topics {
		r.byTopic[t][c] = struct{}{}
	}
}

// remove reports whether c was registered.
func (r *registry) remove(c *Client) bool {
	if _, ok := r.clients[c]; !ok {
		return false
	}
	delete(r.clients, c)
	for t := range c.topics {
		delete(r.byTopic[t], c)
	}
	return true
}

func (r *registry) subscribers(t Topic) []*Client {
	subs := r.byTopic[t]
	out := make([]*Client, 0, len(subs))
	for c := range subs {
		out = append(out, c)
	}
	return out
}
