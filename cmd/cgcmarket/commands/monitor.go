package commands

import (
	"log"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_market/internal/pkg/hmi"
	"github.com/ohowland/cgc_market/internal/pkg/msg"
	"github.com/ohowland/cgc_market/internal/pkg/substation"
	"github.com/spf13/cobra"
)

var monitorOpts runOptions

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run a substation case under the terminal monitor",
	RunE: func(cmd *cobra.Command, args []string) error {
		return monitorCase(monitorOpts)
	},
}

func init() {
	f := monitorCmd.Flags()
	f.StringVarP(&monitorOpts.casePath, "case", "c", "", "substation case file")
	f.DurationVar(&monitorOpts.pace, "pace", 0, "wall time per step")
	f.StringVar(&monitorOpts.natsPath, "nats", "", "NATS handler config")
	f.StringVar(&monitorOpts.mqttPath, "mqtt", "", "MQTT handler config")
	monitorCmd.MarkFlagRequired("case")
	rootCmd.AddCommand(monitorCmd)
}

func redirectMsg(chIn <-chan msg.Msg, chOut chan<- msg.Msg) {
	for m := range chIn {
		chOut <- m
	}
}

func monitorCase(o runOptions) error {
	s, err := substation.New(o.casePath)
	if err != nil {
		return err
	}
	if err := linkHandlers(o, s, nil); err != nil {
		return err
	}

	pid, err := uuid.NewUUID()
	if err != nil {
		return err
	}
	inbox := make(chan msg.Msg, 50)
	for _, topic := range []msg.Topic{msg.Clearing, msg.Bid} {
		ch, err := s.Subscribe(pid, topic)
		if err != nil {
			return err
		}
		go redirectMsg(ch, inbox)
	}

	m := hmi.NewMonitor("market")
	go func() {
		if err := s.Process(substation.SimulatedClock(s.Dt(), s.Stop(), o.pace)); err != nil {
			log.Println("[Main]", err)
		}
	}()
	return m.Run(inbox)
}
