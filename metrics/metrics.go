// Package metrics collects and exposes the Prometheus metrics of the game
// server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the interface the transports report to
type Recorder interface {
	ConnectionOpened(transport string)
	ConnectionClosed(transport string)
	CommandHandled(transport, operation string)
	CommandFailed(transport, operation string)
	SubscriptionStarted(transport string)
	SubscriptionEnded(transport string)
}

// Gauges reads the current size of the in-memory registries
type Gauges interface {
	LobbyUsers() int
	Matches() int
	SessionCount() int
}

// Nop discards everything
type Nop struct{}

func (Nop) ConnectionOpened(string)       {}
func (Nop) ConnectionClosed(string)       {}
func (Nop) CommandHandled(string, string) {}
func (Nop) CommandFailed(string, string)  {}
func (Nop) SubscriptionStarted(string)    {}
func (Nop) SubscriptionEnded(string)      {}

// Collector is the Prometheus implementation of Recorder
type Collector struct {
	connections   *prometheus.GaugeVec
	connTotal     *prometheus.CounterVec
	commands      *prometheus.CounterVec
	commandErrors *prometheus.CounterVec
	subscriptions *prometheus.GaugeVec
}

// NewCollector creates a Collector and registers its metrics on reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tictactoe_connections",
			Help: "Open client connections",
		}, []string{"transport"}),
		connTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tictactoe_connections_total",
			Help: "Accepted client connections",
		}, []string{"transport"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tictactoe_commands_total",
			Help: "Commands handled by operation kind",
		}, []string{"transport", "operation"}),
		commandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tictactoe_command_errors_total",
			Help: "Commands that produced errors",
		}, []string{"transport", "operation"}),
		subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tictactoe_subscriptions",
			Help: "Active subscriptions",
		}, []string{"transport"}),
	}

	reg.MustRegister(
		c.connections,
		c.connTotal,
		c.commands,
		c.commandErrors,
		c.subscriptions,
	)

	return c
}

// RegisterGauges exposes the registry sizes read from g at scrape time
func RegisterGauges(reg prometheus.Registerer, g Gauges) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "tictactoe_lobby_users",
			Help: "Users idle in the lobby",
		}, func() float64 { return float64(g.LobbyUsers()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "tictactoe_matches",
			Help: "Registered matches",
		}, func() float64 { return float64(g.Matches()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "tictactoe_sessions",
			Help: "Stored user sessions",
		}, func() float64 { return float64(g.SessionCount()) }),
	)
}

func (c *Collector) ConnectionOpened(transport string) {
	c.connections.WithLabelValues(transport).Inc()
	c.connTotal.WithLabelValues(transport).Inc()
}

func (c *Collector) ConnectionClosed(transport string) {
	c.connections.WithLabelValues(transport).Dec()
}

func (c *Collector) CommandHandled(transport, operation string) {
	c.commands.WithLabelValues(transport, operation).Inc()
}

func (c *Collector) CommandFailed(transport, operation string) {
	c.commandErrors.WithLabelValues(transport, operation).Inc()
}

func (c *Collector) SubscriptionStarted(transport string) {
	c.subscriptions.WithLabelValues(transport).Inc()
}

func (c *Collector) SubscriptionEnded(transport string) {
	c.subscriptions.WithLabelValues(transport).Dec()
}

// Handler returns the scrape handler for gatherer
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
