// Package webservice serves the latest market and dispatch state as JSON.
package webservice

import (
	"encoding/json"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/ohowland/cgc_market/internal/pkg/agent/thermostat"
	"github.com/ohowland/cgc_market/internal/pkg/dispatch"
	"github.com/ohowland/cgc_market/internal/pkg/substation"
)

// MarketSource is implemented by substation.Substation
type MarketSource interface {
	Clearing() substation.Clearing
	Aggregate() substation.Aggregate
	Controller(string) (thermostat.Status, bool)
	Controllers() []string
}

// DispatchSource is implemented by consensusdispatch.ConsensusDispatch
type DispatchSource interface {
	Last() dispatch.Dispatch
}

// Config is the webservice configuration
type Config struct {
	Addr string `json:"Addr"`
}

// App serves whichever sources are set. A nil source answers 404.
type App struct {
	Market   MarketSource
	Dispatch DispatchSource
	Config   Config
}

// New reads the webservice configuration at configPath.
func New(configPath string, market MarketSource, d DispatchSource) (*App, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg := Config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return nil, err
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	return &App{Market: market, Dispatch: d, Config: cfg}, nil
}

// Router returns the read API
func (app *App) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", wrapHandler(app.BaseHandler)).Methods("GET")
	r.HandleFunc("/market", wrapHandler(app.ClearingHandler)).Methods("GET")
	r.HandleFunc("/market/aggregate", wrapHandler(app.AggregateHandler)).Methods("GET")
	r.HandleFunc("/controllers", wrapHandler(app.ControllersHandler)).Methods("GET")
	r.HandleFunc("/controllers/{name}", wrapHandler(app.ControllerHandler)).Methods("GET")
	r.HandleFunc("/dispatch", wrapHandler(app.DispatchHandler)).Methods("GET")
	return r
}

// ListenAndServe blocks serving the router on Config.Addr
func (app *App) ListenAndServe() error {
	log.Println("[Webservice] Starting Server on", app.Config.Addr)
	return http.ListenAndServe(app.Config.Addr, app.Router())
}

func wrapHandler(handler func(w http.ResponseWriter, r *http.Request),
) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=UTF-8")
		handler(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Println("[Webservice] malformed JSON:", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Println("[Webservice] write:", err)
	}
}

// BaseHandler answers 200 with no body
func (app *App) BaseHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// ClearingHandler serves the latest clearing
func (app *App) ClearingHandler(w http.ResponseWriter, r *http.Request) {
	if app.Market == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, app.Market.Clearing())
}

// AggregateHandler serves the latest aggregate bid
func (app *App) AggregateHandler(w http.ResponseWriter, r *http.Request) {
	if app.Market == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, app.Market.Aggregate())
}

// ControllersHandler lists the controller names
func (app *App) ControllersHandler(w http.ResponseWriter, r *http.Request) {
	if app.Market == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, app.Market.Controllers())
}

// ControllerHandler serves one thermostat's status
func (app *App) ControllerHandler(w http.ResponseWriter, r *http.Request) {
	if app.Market == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	st, ok := app.Market.Controller(mux.Vars(r)["name"])
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, st)
}

// DispatchHandler serves the last consensus dispatch
func (app *App) DispatchHandler(w http.ResponseWriter, r *http.Request) {
	if app.Dispatch == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, app.Dispatch.Last())
}
