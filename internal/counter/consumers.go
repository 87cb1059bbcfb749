package counter

import (
	"sync"

	"github.com/apitally/apitally-go/pkg/model"
)

// ConsumerRegistry deduplicates consumer identity updates between sync
// drains. The consumers map is retained across drains; only the set of
// identifiers updated since the last drain is cleared.
type ConsumerRegistry struct {
	mu        sync.Mutex
	consumers map[string]model.Consumer
	updated   map[string]struct{}
}

// NewConsumerRegistry creates an empty ConsumerRegistry.
func NewConsumerRegistry() *ConsumerRegistry {
	return &ConsumerRegistry{
		consumers: make(map[string]model.Consumer),
		updated:   make(map[string]struct{}),
	}
}

// AddOrUpdateConsumer registers a consumer identity update. Consumers
// without a name and group are usable as request attributes but are not
// registered as updates. An existing consumer is marked updated only when
// a non-empty name or group actually changed.
func (r *ConsumerRegistry) AddOrUpdateConsumer(consumer *model.Consumer) {
	if consumer == nil || (consumer.Name == "" && consumer.Group == "") {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.consumers[consumer.Identifier]
	if !ok {
		r.consumers[consumer.Identifier] = *consumer
		r.updated[consumer.Identifier] = struct{}{}
		return
	}

	changed := false
	if consumer.Name != "" && consumer.Name != existing.Name {
		existing.Name = consumer.Name
		changed = true
	}
	if consumer.Group != "" && consumer.Group != existing.Group {
		existing.Group = consumer.Group
		changed = true
	}
	if changed {
		r.consumers[consumer.Identifier] = existing
		r.updated[consumer.Identifier] = struct{}{}
	}
}

// GetAndResetUpdatedConsumers returns the current record of every consumer
// updated since the last drain, at most once each, and clears the updated
// set.
func (r *ConsumerRegistry) GetAndResetUpdatedConsumers() []model.Consumer {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.Consumer, 0, len(r.updated))
	for identifier := range r.updated {
		if c, ok := r.consumers[identifier]; ok {
			out = append(out, c)
		}
	}
	r.updated = make(map[string]struct{})
	return out
}
