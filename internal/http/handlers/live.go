package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mwilkes/clinicdesk/internal/http/middleware"
	"github.com/mwilkes/clinicdesk/internal/livequery"
	"github.com/mwilkes/clinicdesk/internal/records"
	"github.com/mwilkes/clinicdesk/internal/users"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

// LiveHandler multiplexes live-query subscriptions over one websocket per
// client. Each subscribe message opens a hub subscription; snapshots stream
// back tagged with the client-chosen subscription id.
type LiveHandler struct {
	hub      *livequery.Hub
	upgrader websocket.Upgrader
	logger   *logging.Logger
}

func NewLiveHandler(hub *livequery.Hub, logger *logging.Logger) *LiveHandler {
	if hub == nil {
		panic("handlers: live hub cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &LiveHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Origin is enforced by the CORS allowlist at the router; the
			// token check below gates the upgrade itself.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

type liveClientMsg struct {
	Type  string     `json:"type"` // "subscribe", "unsubscribe"
	ID    string     `json:"id"`
	Query *liveQuery `json:"query,omitempty"`
}

type liveQuery struct {
	Collection string       `json:"collection"`
	DocID      string       `json:"docId,omitempty"`
	Filters    []liveFilter `json:"filters,omitempty"`
	OrderBy    string       `json:"orderBy,omitempty"`
	Desc       bool         `json:"desc,omitempty"`
	Limit      int          `json:"limit,omitempty"`
}

type liveFilter struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

type liveServerMsg struct {
	Type  string            `json:"type"` // "snapshot", "error"
	ID    string            `json:"id"`
	Docs  []json.RawMessage `json:"docs,omitempty"`
	Error string            `json:"error,omitempty"`
}

func (h *LiveHandler) Serve(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := make(chan liveServerMsg, 16)
	var pumps sync.WaitGroup

	// Single writer goroutine; gorilla connections allow one concurrent
	// writer only.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range out {
			if err := conn.WriteJSON(msg); err != nil {
				cancel()
				return
			}
		}
	}()

	subs := make(map[string]context.CancelFunc)
	defer func() {
		cancel()
		pumps.Wait()
		close(out)
		<-writerDone
	}()

	for {
		var msg liveClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "subscribe":
			h.subscribe(ctx, claims, msg, subs, out, &pumps)
		case "unsubscribe":
			if stop, ok := subs[msg.ID]; ok {
				stop()
				delete(subs, msg.ID)
			}
		default:
			h.send(ctx, out, liveServerMsg{Type: "error", ID: msg.ID, Error: "unknown message type"})
		}
	}
}

func (h *LiveHandler) subscribe(ctx context.Context, claims middleware.UserClaims, msg liveClientMsg, subs map[string]context.CancelFunc, out chan<- liveServerMsg, pumps *sync.WaitGroup) {
	if msg.ID == "" {
		h.send(ctx, out, liveServerMsg{Type: "error", Error: "missing subscription id"})
		return
	}
	if _, exists := subs[msg.ID]; exists {
		h.send(ctx, out, liveServerMsg{Type: "error", ID: msg.ID, Error: "subscription id in use"})
		return
	}

	var query *records.Query
	if msg.Query != nil {
		q := toRecordsQuery(*msg.Query)
		if !queryAllowed(claims, q) {
			h.send(ctx, out, liveServerMsg{Type: "error", ID: msg.ID, Error: "forbidden"})
			return
		}
		query = &q
	}

	// The hub detaches the subscription when subCtx ends, covering both
	// explicit unsubscribes and connection teardown.
	subCtx, stop := context.WithCancel(ctx)
	sub := h.hub.Subscribe(subCtx, query)
	if sub.Resolved() {
		// Nil query: resolved immediately with no data and no store read.
		stop()
		h.send(ctx, out, liveServerMsg{Type: "snapshot", ID: msg.ID})
		return
	}
	subs[msg.ID] = stop

	pumps.Add(1)
	go func(id string) {
		defer pumps.Done()
		for {
			select {
			case snap := <-sub.Snapshots():
				resp := liveServerMsg{Type: "snapshot", ID: id, Docs: snap.Docs}
				if snap.Err != nil {
					resp = liveServerMsg{Type: "error", ID: id, Error: "query failed"}
				}
				if !h.send(subCtx, out, resp) {
					return
				}
			case <-subCtx.Done():
				return
			}
		}
	}(msg.ID)
}

func (h *LiveHandler) send(ctx context.Context, out chan<- liveServerMsg, msg liveServerMsg) bool {
	select {
	case out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func toRecordsQuery(q liveQuery) records.Query {
	filters := make([]records.Filter, 0, len(q.Filters))
	for _, f := range q.Filters {
		filters = append(filters, records.Filter{Field: f.Field, Op: f.Op, Value: f.Value})
	}
	return records.Query{
		Collection: q.Collection,
		DocID:      q.DocID,
		Filters:    filters,
		OrderBy:    q.OrderBy,
		Desc:       q.Desc,
		Limit:      q.Limit,
	}
}

// queryAllowed scopes subscriptions by role. Staff may watch anything; a
// patient only documents keyed or filtered to their own id.
func queryAllowed(claims middleware.UserClaims, q records.Query) bool {
	if users.IsStaff(claims.Role) {
		return true
	}
	if claims.Role != users.RolePatient {
		return false
	}
	if q.DocID != "" {
		return q.DocID == claims.UID
	}
	for _, f := range q.Filters {
		if f.Field == "patientId" && f.Op == "==" {
			if v, ok := f.Value.(string); ok && v == claims.UID {
				return true
			}
		}
	}
	return false
}
