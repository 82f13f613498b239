// Package sqldb appends every published dispatch to the dispatch_history
// table of a MySQL or PostgreSQL database.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_market/internal/pkg/dispatch"
	"github.com/ohowland/cgc_market/internal/pkg/msg"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// Supported drivers
const (
	MySQL    = "mysql"
	Postgres = "postgres"
)

const execTimeout = 1 * time.Second

var columns = []string{"time", "converged", "iterations", "escalations", "demand", "mismatch", "setpoints"}

// ErrDriver is returned for a driver other than mysql or postgres
var ErrDriver = errors.New("sqldb: unsupported driver")

// Handler writes dispatch results to a SQL database.
type Handler struct {
	mux    *sync.Mutex
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config Config
	stop   chan bool
}

// Config is the SQL handler configuration. A non-empty DSN is used as is.
type Config struct {
	Driver   string `json:"Driver"`
	DSN      string `json:"DSN"`
	Server   string `json:"Server"`
	Port     int    `json:"Port"`
	Username string `json:"Username"`
	Password string `json:"Password"`
	Database string `json:"Database"`
}

// PID is a getter for the handler PID
func (h Handler) PID() uuid.UUID {
	return h.pid
}

func redirectMsg(chIn <-chan msg.Msg, chOut chan<- msg.Msg) {
	for m := range chIn {
		chOut <- m
	}
}

// New reads the handler configuration at configPath.
func New(configPath string, system msg.Publisher) (Handler, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return Handler{}, err
	}
	cfg := Config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Handler{}, err
	}
	return NewFromConfig(cfg, system)
}

// NewFromConfig subscribes the handler to dispatches on system.
func NewFromConfig(cfg Config, system msg.Publisher) (Handler, error) {
	if cfg.Driver == "" {
		cfg.Driver = MySQL
	}
	if cfg.Driver != MySQL && cfg.Driver != Postgres {
		return Handler{}, fmt.Errorf("%w: %s", ErrDriver, cfg.Driver)
	}

	pid, err := uuid.NewUUID()
	if err != nil {
		return Handler{}, err
	}

	inbox := make(chan msg.Msg, 50)
	ch, err := system.Subscribe(pid, msg.Dispatch)
	if err != nil {
		return Handler{}, err
	}
	go redirectMsg(ch, inbox)

	return Handler{
		mux:    &sync.Mutex{},
		inbox:  inbox,
		pid:    pid,
		config: cfg,
		stop:   make(chan bool),
	}, nil
}

// Stop ends a running Process
func (h *Handler) Stop() {
	h.stop <- true
}

// DSN is the data source name handed to sql.Open
func (h Handler) DSN() string {
	c := h.config
	if c.DSN != "" {
		return c.DSN
	}
	if c.Driver == Postgres {
		return fmt.Sprintf("host=%v port=%v user=%v password=%v dbname=%v sslmode=disable",
			c.Server, c.Port, c.Username, c.Password, c.Database)
	}
	return fmt.Sprintf("%v:%v@tcp(%v:%v)/%v?parseTime=true", c.Username, c.Password, c.Server, c.Port, c.Database)
}

// DB opens the configured database
func (h Handler) DB() (*sql.DB, error) {
	return sql.Open(h.config.Driver, h.DSN())
}

func createStatement(driver string) string {
	id := "id BIGINT AUTO_INCREMENT PRIMARY KEY"
	if driver == Postgres {
		id = "id BIGSERIAL PRIMARY KEY"
	}
	return `CREATE TABLE IF NOT EXISTS dispatch_history(` + id + `, time TIMESTAMP, converged BOOLEAN, ` +
		`iterations INTEGER, escalations INTEGER, demand DOUBLE PRECISION, mismatch DOUBLE PRECISION, setpoints TEXT)`
}

func insertStatement(driver string) string {
	marks := make([]string, len(columns))
	for i := range marks {
		if driver == Postgres {
			marks[i] = fmt.Sprintf("$%d", i+1)
		} else {
			marks[i] = "?"
		}
	}
	return `INSERT INTO dispatch_history (` + strings.Join(columns, ", ") + `) VALUES (` + strings.Join(marks, ", ") + `)`
}

func row(d dispatch.Dispatch) ([]interface{}, error) {
	setpoints, err := json.Marshal(d.Setpoints)
	if err != nil {
		return nil, err
	}
	return []interface{}{d.Time.UTC(), d.Converged, d.Iterations, d.Escalations, d.Demand, d.Mismatch, string(setpoints)}, nil
}

func initDBTables(db *sql.DB, driver string) error {
	_, err := db.Exec(createStatement(driver))
	return err
}

func insertRow(ctx context.Context, db *sql.DB, driver string, d dispatch.Dispatch) error {
	args, err := row(d)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()
	_, err = db.ExecContext(ctx, insertStatement(driver), args...)
	return err
}

// Process opens the database and appends dispatches until Stop is called.
func (h Handler) Process() error {
	db, err := h.DB()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := initDBTables(db, h.config.Driver); err != nil {
		return err
	}
	log.Printf("[SQL] Process Started (%s)\n", h.config.Driver)

loop:
	for {
		select {
		case m := <-h.inbox:
			d, ok := m.Payload().(dispatch.Dispatch)
			if !ok {
				continue
			}
			if err := insertRow(context.Background(), db, h.config.Driver, d); err != nil {
				log.Printf("[SQL] unable to insert dispatch: %v\n", err)
			}
		case <-h.stop:
			break loop
		}
	}
	log.Println("[SQL] Process Shutdown")
	return nil
}
