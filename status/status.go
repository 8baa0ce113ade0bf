// Package status serves the live state of a collection session over HTTP:
// position fix, acquisition loop liveness, calibration state and metrics.
package status

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hb9tf/phenocart/gps"
	"github.com/hb9tf/phenocart/reflectance"
	"github.com/hb9tf/phenocart/worker"
)

// FixReporter is implemented by *gps.Feed.
type FixReporter interface {
	Fix() gps.Fix
	Status() gps.Status
	Running() bool
}

type LoopState struct {
	Name  string `json:"name"`
	Alive bool   `json:"alive"`
	Error string `json:"error,omitempty"`
}

type PairState struct {
	Position     string `json:"position"`
	State        string `json:"state"`
	InvalidBands int    `json:"invalidBands"`
}

type Response struct {
	Identifier  string      `json:"identifier"`
	Uptime      string      `json:"uptime"`
	GPSRunning  bool        `json:"gpsRunning"`
	FixStatus   gps.Status  `json:"fixStatus"`
	Fix         gps.Fix     `json:"fix"`
	Loops       []LoopState `json:"loops"`
	Calibration []PairState `json:"calibration,omitempty"`
}

type Server struct {
	Identifier string
	// Feed is optional.
	Feed     FixReporter
	Workers  *worker.Group
	Pairs    []*reflectance.Pair
	Gatherer prometheus.Gatherer
	Started  time.Time
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/status", s.status)
	r.GET("/healthz", s.healthz)
	if s.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

func (s *Server) loops() []LoopState {
	var loops []LoopState
	if s.Workers == nil {
		return loops
	}
	for _, w := range s.Workers.Workers() {
		l := LoopState{Name: w.Name, Alive: w.Alive()}
		if err := w.Err(); err != nil {
			l.Error = err.Error()
		}
		loops = append(loops, l)
	}
	return loops
}

func (s *Server) status(c *gin.Context) {
	resp := Response{
		Identifier: s.Identifier,
		Uptime:     time.Since(s.Started).Truncate(time.Second).String(),
		FixStatus:  gps.StatusWaiting,
		Fix:        gps.Placeholder(time.Now()),
		Loops:      s.loops(),
	}
	if s.Feed != nil {
		resp.GPSRunning = s.Feed.Running()
		resp.FixStatus = s.Feed.Status()
		if f := s.Feed.Fix(); f.Valid {
			resp.Fix = f
		}
	}
	for _, p := range s.Pairs {
		ps := PairState{Position: string(p.Position), State: p.State().String()}
		if ref, err := p.Reference(); err == nil {
			ps.InvalidBands = len(ref.InvalidBands())
		}
		resp.Calibration = append(resp.Calibration, ps)
	}
	c.JSON(http.StatusOK, resp)
}

// healthz fails as soon as one acquisition loop has stopped.
func (s *Server) healthz(c *gin.Context) {
	var dead []string
	for _, l := range s.loops() {
		if !l.Alive {
			dead = append(dead, l.Name)
		}
	}
	if len(dead) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "stopped": dead})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
