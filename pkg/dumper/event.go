package dumper

import "sync"

const (
	EventTableExport = "table.export"
	EventTableCreate = "table.create"
	EventTableInsert = "table.insert"
)

// hookEvents maps hook names to the events they subscribe to.
var hookEvents = map[string]string{
	"OnTableExport": EventTableExport,
	"OnTableCreate": EventTableCreate,
	"OnTableInsert": EventTableInsert,
}

// Event is delivered to subscribers. Rows is the exported row count for
// table.export and the affected row count for table.insert.
type Event struct {
	Name  string
	Table string
	Rows  int64
}

type Handler func(Event)

// EventHub delivers events synchronously, in subscription order.
type EventHub struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewEventHub() *EventHub {
	return &EventHub{handlers: make(map[string][]Handler)}
}

// Subscribe registers h for events named name.
func (h *EventHub) Subscribe(name string, fn Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[name] = append(h.handlers[name], fn)
}

// On subscribes through a hook name such as "OnTableExport". It reports
// false for unknown hooks.
func (h *EventHub) On(hook string, fn Handler) bool {
	name, ok := hookEvents[hook]
	if !ok {
		return false
	}
	h.Subscribe(name, fn)
	return true
}

func (h *EventHub) Emit(ev Event) {
	h.mu.RLock()
	handlers := h.handlers[ev.Name]
	h.mu.RUnlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

func (h *EventHub) OnTableExport(fn func(table string, rows int64)) {
	h.Subscribe(EventTableExport, func(ev Event) { fn(ev.Table, ev.Rows) })
}

func (h *EventHub) OnTableCreate(fn func(table string)) {
	h.Subscribe(EventTableCreate, func(ev Event) { fn(ev.Table) })
}

func (h *EventHub) OnTableInsert(fn func(table string, rows int64)) {
	h.Subscribe(EventTableInsert, func(ev Event) { fn(ev.Table, ev.Rows) })
}
