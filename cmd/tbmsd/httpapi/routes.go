// Package httpapi exposes a read-only telemetry view of a running
// driver over HTTP; it has no influence on the driver's own state
// machine.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/evbms/tbms"
)

type moduleView struct {
	Index     int       `json:"index"`
	Voltage   float32   `json:"voltage"`
	Cells     []float32 `json:"cells"`
	Temp1     float32   `json:"temp1"`
	Temp2     float32   `json:"temp2"`
	Balancing byte      `json:"balancing_mask"`
}

// Server wraps a read-only mux.Router serving /healthz and /modules.
type Server struct {
	bms    *tbms.BMS
	router *mux.Router
}

// New builds the telemetry server for the given driver instance.
func New(bms *tbms.BMS) *Server {
	s := &Server{bms: bms, router: mux.NewRouter()}
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/modules", s.handleModules).Methods("GET")
	return s
}

func (s *Server) ListenAndServe(addr string) error {
	log.Infof("[HTTP] telemetry endpoint listening on %s", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"ready":   s.bms.IsReady(),
		"state":   s.bms.State().String(),
		"faults":  s.bms.HasFaults(),
		"modules": s.bms.ModuleCount(),
	})
}

func (s *Server) handleModules(w http.ResponseWriter, r *http.Request) {
	views := make([]moduleView, 0, s.bms.ModuleCount())
	for i := 0; i < tbms.MaxModules; i++ {
		v := s.bms.ModuleVoltage(i)
		if v != v { // NaN marks an unaddressed slot
			continue
		}
		cells := make([]float32, 0, 6)
		for c := 0; c < 6; c++ {
			cells = append(cells, s.bms.ModuleCellVoltage(i, c))
		}
		views = append(views, moduleView{
			Index:   i,
			Voltage: v,
			Cells:   cells,
			Temp1:   s.bms.ModuleTemp1(i),
			Temp2:   s.bms.ModuleTemp2(i),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}
