package integration_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gorilla/mux"
)

const gatewayAPIKey = "integration-api-key"

// FakeGateway is an in-memory Evolution API. It keeps one record per
// instance and answers the endpoints the evolution client calls.
type FakeGateway struct {
	server *httptest.Server

	mu        sync.Mutex
	instances map[string]*fakeInstance
	requests  map[string]int
	sent      []sentText
	down      bool
}

type fakeInstance struct {
	name       string
	state      string
	qrCount    int
	webhookURL string
	headers    map[string]string
}

type sentText struct {
	Instance string
	Number   string
	Text     string
}

func NewFakeGateway() *FakeGateway {
	g := &FakeGateway{
		instances: make(map[string]*fakeInstance),
		requests:  make(map[string]int),
	}

	r := mux.NewRouter()
	r.Use(g.middleware)
	r.HandleFunc("/instance/create", g.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/instance/connect/{name}", g.handleConnect).Methods(http.MethodGet)
	r.HandleFunc("/instance/connectionState/{name}", g.handleConnectionState).Methods(http.MethodGet)
	r.HandleFunc("/instance/logout/{name}", g.handleLogout).Methods(http.MethodDelete)
	r.HandleFunc("/instance/delete/{name}", g.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/instance/fetchInstances", g.handleFetchInstances).Methods(http.MethodGet)
	r.HandleFunc("/webhook/set/{name}", g.handleSetWebhook).Methods(http.MethodPost)
	r.HandleFunc("/message/sendText/{name}", g.handleSendText).Methods(http.MethodPost)

	g.server = httptest.NewServer(r)
	return g
}

func (g *FakeGateway) URL() string { return g.server.URL }

func (g *FakeGateway) Close() { g.server.Close() }

// SetState changes the connection state reported for an instance.
func (g *FakeGateway) SetState(name, state string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if inst, ok := g.instances[name]; ok {
		inst.state = state
	}
}

// SetDown makes every endpoint answer 503.
func (g *FakeGateway) SetDown(down bool) {
	g.mu.Lock()
	g.down = down
	g.mu.Unlock()
}

func (g *FakeGateway) HasInstance(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.instances[name]
	return ok
}

func (g *FakeGateway) Webhook(name string) (string, map[string]string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	inst, ok := g.instances[name]
	if !ok {
		return "", nil
	}
	return inst.webhookURL, inst.headers
}

func (g *FakeGateway) Sent() []sentText {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentText(nil), g.sent...)
}

// Requests returns how many calls reached the route template, e.g.
// "/instance/connectionState/{name}".
func (g *FakeGateway) Requests(route string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[route]
}

func (g *FakeGateway) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		g.mu.Lock()
		g.requests[route]++
		down := g.down
		g.mu.Unlock()

		if down {
			writeGatewayError(w, http.StatusServiceUnavailable, "gateway unavailable")
			return
		}
		if r.Header.Get("apikey") != gatewayAPIKey {
			writeGatewayError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *FakeGateway) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		InstanceName string `json:"instanceName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.InstanceName == "" {
		writeGatewayError(w, http.StatusBadRequest, "instanceName is required")
		return
	}

	g.mu.Lock()
	if _, exists := g.instances[body.InstanceName]; exists {
		g.mu.Unlock()
		writeGatewayError(w, http.StatusForbidden, fmt.Sprintf("This name %q is already in use.", body.InstanceName))
		return
	}
	inst := &fakeInstance{name: body.InstanceName, state: "connecting", qrCount: 1}
	g.instances[body.InstanceName] = inst
	g.mu.Unlock()

	writeGatewayJSON(w, http.StatusCreated, map[string]interface{}{
		"instance": map[string]interface{}{
			"instanceName": inst.name,
			"instanceId":   "id-" + inst.name,
			"integration":  "WHATSAPP-BAILEYS",
			"status":       "created",
		},
		"hash":   "hash-" + inst.name,
		"qrcode": qrPayload(inst),
	})
}

func (g *FakeGateway) handleConnect(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	inst, ok := g.instances[mux.Vars(r)["name"]]
	if ok {
		inst.qrCount++
	}
	var payload map[string]interface{}
	if ok {
		payload = qrPayload(inst)
	}
	g.mu.Unlock()

	if !ok {
		writeGatewayError(w, http.StatusNotFound, "instance does not exist")
		return
	}
	writeGatewayJSON(w, http.StatusOK, payload)
}

func (g *FakeGateway) handleConnectionState(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	g.mu.Lock()
	inst, ok := g.instances[name]
	var state string
	if ok {
		state = inst.state
	}
	g.mu.Unlock()

	if !ok {
		writeGatewayError(w, http.StatusNotFound, "instance does not exist")
		return
	}
	writeGatewayJSON(w, http.StatusOK, map[string]interface{}{
		"instance": map[string]string{"instanceName": name, "state": state},
	})
}

func (g *FakeGateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	inst, ok := g.instances[mux.Vars(r)["name"]]
	if ok {
		inst.state = "close"
	}
	g.mu.Unlock()

	if !ok {
		writeGatewayError(w, http.StatusNotFound, "instance does not exist")
		return
	}
	writeGatewayJSON(w, http.StatusOK, map[string]string{"status": "SUCCESS"})
}

func (g *FakeGateway) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	g.mu.Lock()
	_, ok := g.instances[name]
	delete(g.instances, name)
	g.mu.Unlock()

	if !ok {
		writeGatewayError(w, http.StatusNotFound, "instance does not exist")
		return
	}
	writeGatewayJSON(w, http.StatusOK, map[string]string{"status": "SUCCESS"})
}

func (g *FakeGateway) handleFetchInstances(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	list := make([]map[string]string, 0, len(g.instances))
	for _, inst := range g.instances {
		list = append(list, map[string]string{"name": inst.name, "connectionStatus": inst.state})
	}
	g.mu.Unlock()

	writeGatewayJSON(w, http.StatusOK, list)
}

func (g *FakeGateway) handleSetWebhook(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Webhook struct {
			URL     string            `json:"url"`
			Headers map[string]string `json:"headers"`
		} `json:"webhook"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeGatewayError(w, http.StatusBadRequest, "invalid webhook body")
		return
	}

	g.mu.Lock()
	inst, ok := g.instances[mux.Vars(r)["name"]]
	if ok {
		inst.webhookURL = body.Webhook.URL
		inst.headers = body.Webhook.Headers
	}
	g.mu.Unlock()

	if !ok {
		writeGatewayError(w, http.StatusNotFound, "instance does not exist")
		return
	}
	writeGatewayJSON(w, http.StatusCreated, body.Webhook)
}

func (g *FakeGateway) handleSendText(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Number string `json:"number"`
		Text   string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeGatewayError(w, http.StatusBadRequest, "invalid message body")
		return
	}
	name := mux.Vars(r)["name"]

	g.mu.Lock()
	inst, ok := g.instances[name]
	open := ok && inst.state == "open"
	if open {
		g.sent = append(g.sent, sentText{Instance: name, Number: body.Number, Text: body.Text})
	}
	id := fmt.Sprintf("BAE5%08d", len(g.sent))
	g.mu.Unlock()

	if !open {
		writeGatewayError(w, http.StatusBadRequest, "Connection Closed")
		return
	}
	writeGatewayJSON(w, http.StatusCreated, map[string]interface{}{
		"key":              map[string]interface{}{"remoteJid": body.Number + "@s.whatsapp.net", "fromMe": true, "id": id},
		"messageTimestamp": "1710072000",
		"status":           "PENDING",
	})
}

// qrPayload must be called with mu held.
func qrPayload(inst *fakeInstance) map[string]interface{} {
	return map[string]interface{}{
		"base64":      fmt.Sprintf("data:image/png;base64,QR-%s-%d", inst.name, inst.qrCount),
		"code":        fmt.Sprintf("2@%s-%d", inst.name, inst.qrCount),
		"pairingCode": "WZYEH1YY",
		"count":       inst.qrCount,
	}
}

func writeGatewayJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeGatewayError(w http.ResponseWriter, status int, message string) {
	writeGatewayJSON(w, status, map[string]interface{}{
		"status":   status,
		"error":    http.StatusText(status),
		"response": map[string]interface{}{"message": []string{message}},
	})
}
