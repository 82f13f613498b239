package commands

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_market/internal/lib/thermostat/modbusthermostat"
	"github.com/ohowland/cgc_market/internal/pkg/datastreams/mongodb"
	"github.com/ohowland/cgc_market/internal/pkg/datastreams/mqtt"
	"github.com/ohowland/cgc_market/internal/pkg/datastreams/natshandler"
	"github.com/ohowland/cgc_market/internal/pkg/datastreams/sqldb"
	"github.com/ohowland/cgc_market/internal/pkg/dispatch/consensus"
	"github.com/ohowland/cgc_market/internal/pkg/dispatch/consensusdispatch"
	"github.com/ohowland/cgc_market/internal/pkg/msg"
	"github.com/ohowland/cgc_market/internal/pkg/substation"
	"github.com/ohowland/cgc_market/internal/pkg/webservice"
	"github.com/spf13/cobra"
)

type runOptions struct {
	casePath     string
	metricsDir   string
	metricsRoot  string
	pace         time.Duration
	natsPath     string
	mqttPath     string
	mongoPath    string
	sqlPath      string
	webPath      string
	dispatchPath string
	agentsPath   string
	modbusPaths  []string
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a substation market case",
	Long: `Run steps a substation case file through its market periods: bids at
period-2dt, aggregation, clearing at the period boundary and setpoint
adjustment. Metrics are written on completion.

Measurements arrive over NATS, MQTT or Modbus thermostats and results are
published to the configured handlers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCase(runOpts)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runOpts.casePath, "case", "c", "", "substation case file")
	f.StringVar(&runOpts.metricsDir, "metrics", ".", "directory for metrics files")
	f.StringVar(&runOpts.metricsRoot, "root", "case", "metrics file root name")
	f.DurationVar(&runOpts.pace, "pace", 0, "wall time per step, 0 runs as fast as possible")
	f.StringVar(&runOpts.natsPath, "nats", "", "NATS handler config")
	f.StringVar(&runOpts.mqttPath, "mqtt", "", "MQTT handler config")
	f.StringVar(&runOpts.mongoPath, "mongo", "", "MongoDB handler config")
	f.StringVar(&runOpts.sqlPath, "sql", "", "SQL dispatch history config")
	f.StringVar(&runOpts.webPath, "web", "", "webservice config")
	f.StringVar(&runOpts.dispatchPath, "dispatch", "", "consensus dispatcher config")
	f.StringVar(&runOpts.agentsPath, "agents", "", "consensus case file registering dispatch agents")
	f.StringSliceVar(&runOpts.modbusPaths, "modbus", nil, "modbus thermostat configs")
	runCmd.MarkFlagRequired("case")
	rootCmd.AddCommand(runCmd)
}

func runCase(o runOptions) error {
	log.Println("[Main] Building Substation")
	s, err := substation.New(o.casePath)
	if err != nil {
		return err
	}

	var d *consensusdispatch.ConsensusDispatch
	if o.dispatchPath != "" {
		log.Println("[Main] Building Dispatcher")
		if d, err = buildDispatch(o, s); err != nil {
			return err
		}
	}

	if err := linkHandlers(o, s, d); err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan error, 1)
	go func() {
		done <- s.Process(substation.SimulatedClock(s.Dt(), s.Stop(), o.pace))
	}()

	select {
	case err = <-done:
	case <-sigs:
		log.Println("[Main] Interrupted")
	}
	if err != nil {
		return err
	}

	log.Println("[Main] Writing metrics to", o.metricsDir)
	return s.WriteMetrics(o.metricsDir, o.metricsRoot)
}

func buildDispatch(o runOptions, s *substation.Substation) (*consensusdispatch.ConsensusDispatch, error) {
	d, err := consensusdispatch.New(o.dispatchPath)
	if err != nil {
		return nil, err
	}
	if o.agentsPath != "" {
		c, err := consensus.LoadCase(o.agentsPath)
		if err != nil {
			return nil, err
		}
		agents, err := c.Build()
		if err != nil {
			return nil, err
		}
		for _, a := range agents {
			pid, err := uuid.NewUUID()
			if err != nil {
				return nil, err
			}
			d.UpdateStatus(pid, a)
		}
	}
	ch, err := s.Subscribe(d.PID(), msg.Measurement)
	if err != nil {
		return nil, err
	}
	return d, d.StartProcess(ch)
}

// linkHandlers starts every configured handler
func linkHandlers(o runOptions, s *substation.Substation, d *consensusdispatch.ConsensusDispatch) error {
	if o.natsPath != "" {
		log.Println("[Main] Connecting NATS")
		h, err := natshandler.New(o.natsPath, s, s)
		if err != nil {
			return err
		}
		go logExit("NATS", h.Process)
	}
	if o.mqttPath != "" {
		log.Println("[Main] Connecting MQTT")
		h, err := mqtt.New(o.mqttPath, s)
		if err != nil {
			return err
		}
		go logExit("MQTT", h.Process)
	}
	if o.mongoPath != "" {
		log.Println("[Main] Connecting MongoDB Service")
		h, err := mongodb.New(o.mongoPath, s)
		if err != nil {
			return err
		}
		go logExit("Mongo", h.Process)
	}
	if o.sqlPath != "" {
		if d == nil {
			return fmt.Errorf("--sql requires --dispatch")
		}
		log.Println("[Main] Connecting SQL")
		h, err := sqldb.New(o.sqlPath, d)
		if err != nil {
			return err
		}
		go logExit("SQL", h.Process)
	}
	for _, path := range o.modbusPaths {
		f, err := modbusthermostat.New(path, s)
		if err != nil {
			return err
		}
		log.Println("[Main] Polling Modbus thermostat", f.Name())
		ch, err := s.Subscribe(uuid.New(), msg.Setpoint)
		if err != nil {
			return err
		}
		go f.Process(ch)
	}
	if o.webPath != "" {
		var ds webservice.DispatchSource
		if d != nil {
			ds = d
		}
		app, err := webservice.New(o.webPath, s, ds)
		if err != nil {
			return err
		}
		go logExit("Webservice", app.ListenAndServe)
	}
	return nil
}

func logExit(name string, process func() error) {
	if err := process(); err != nil {
		log.Printf("[Main] %s stopped: %v\n", name, err)
	}
}
