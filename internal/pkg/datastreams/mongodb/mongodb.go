// Package mongodb persists market results: the latest clearing and aggregate
// bid of each market are upserted and every controller bid is inserted.
package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_market/internal/pkg/msg"
	"github.com/ohowland/cgc_market/internal/pkg/substation"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names
const (
	ClearingCollection  = "clearing"
	AggregateCollection = "aggregate"
	BidCollection       = "controllerBids"
)

const writeTimeout = 2 * time.Second

// ErrPayload is returned for a message the handler does not persist
var ErrPayload = errors.New("mongodb: unsupported payload")

// Handler writes published market results to MongoDB.
type Handler struct {
	mux    *sync.Mutex
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config Config
	stop   chan bool
}

// Config is the MongoDB handler configuration
type Config struct {
	URI      string `json:"URI"`
	Database string `json:"Database"`
	Port     string `json:"Port"`
}

// write is one pending database operation
type write struct {
	collection string
	filter     bson.M
	doc        bson.M
	upsert     bool
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

// NewFromConfig subscribes the handler to clearings, aggregate bids and
// controller bids on system.
func NewFromConfig(cfg Config, system msg.Publisher) (Handler, error) {
	if cfg.Database == "" {
		cfg.Database = "cgc_market"
	}
	pid, err := uuid.NewUUID()
	if err != nil {
		return Handler{}, err
	}

	inbox := make(chan msg.Msg, 50)
	for _, topic := range []msg.Topic{msg.Clearing, msg.AggregateBid, msg.Bid} {
		ch, err := system.Subscribe(pid, topic)
		if err != nil {
			return Handler{}, err
		}
		go redirectMsg(ch, inbox)
	}

	return Handler{
		mux:    &sync.Mutex{},
		inbox:  inbox,
		pid:    pid,
		config: cfg,
		stop:   make(chan bool),
	}, nil
}

// PID is a getter for the handler PID
func (h Handler) PID() uuid.UUID {
	return h.pid
}

// StopProcess ends a running Process
func (h *Handler) StopProcess() {
	h.stop <- true
}

func (h Handler) uri() string {
	if h.config.Port == "" {
		return h.config.URI
	}
	return h.config.URI + ":" + h.config.Port
}

// document converts v to BSON through its JSON field names.
func document(v interface{}) (bson.M, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	doc := bson.M{}
	if err := bson.UnmarshalExtJSON(b, false, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func toWrite(m msg.Msg) (write, error) {
	switch p := m.Payload().(type) {
	case substation.Clearing:
		doc, err := document(p)
		if err != nil {
			return write{}, err
		}
		return write{ClearingCollection, bson.M{"Market": p.Market}, bson.M{"$set": doc}, true}, nil
	case substation.Aggregate:
		doc, err := document(p)
		if err != nil {
			return write{}, err
		}
		return write{AggregateCollection, bson.M{"Market": p.Market}, bson.M{"$set": doc}, true}, nil
	case substation.ControllerBid:
		doc, err := document(p)
		if err != nil {
			return write{}, err
		}
		doc["pid"] = m.PID().String()
		return write{collection: BidCollection, doc: doc}, nil
	}
	return write{}, ErrPayload
}

func (h Handler) apply(ctx context.Context, db *mongo.Database, w write) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	coll := db.Collection(w.collection)
	if w.upsert {
		_, err := coll.UpdateOne(ctx, w.filter, w.doc, options.Update().SetUpsert(true))
		return err
	}
	_, err := coll.InsertOne(ctx, w.doc)
	return err
}

// Process connects to MongoDB and writes results until StopProcess is called.
func (h Handler) Process() error {
	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(h.uri()))
	if err != nil {
		return err
	}
	defer client.Disconnect(ctx)
	db := client.Database(h.config.Database)
	log.Println("[Mongo] Process Started")

loop:
	for {
		select {
		case m := <-h.inbox:
			w, err := toWrite(m)
			if err != nil {
				log.Printf("[Mongo] %v: %T\n", err, m.Payload())
				continue
			}
			if err := h.apply(ctx, db, w); err != nil {
				log.Printf("[Mongo] unable to write %s: %v\n", w.collection, err)
			}
		case <-h.stop:
			break loop
		}
	}
	log.Println("[Mongo] Process Shutdown")
	return nil
}
