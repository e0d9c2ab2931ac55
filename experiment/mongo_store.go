package experiment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoStore keeps one document per experiment. Step maps are stored with
// string keys because BSON documents cannot carry integer field names.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
}

type mongoDoc struct {
	ID             string                      `bson:"_id"`
	Title          string                      `bson:"title"`
	Field          string                      `bson:"field"`
	CurrentStep    int                         `bson:"current_step"`
	AutomationMode string                      `bson:"automation_mode"`
	StepData       map[string]StepRecord       `bson:"step_data"`
	FineTune       map[string]FineTuneSettings `bson:"fine_tune,omitempty"`
	LabNotebook    string                      `bson:"lab_notebook,omitempty"`
	Status         string                      `bson:"status"`
	CreatedAt      time.Time                   `bson:"created_at"`
	UpdatedAt      time.Time                   `bson:"updated_at"`
}

// NewMongoStore connects and verifies reachability.
func NewMongoStore(cfg MongoConfig) (*MongoStore, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "hypatia"
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "experiments"
	}

	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
		timeout:    cfg.Timeout,
	}, nil
}

func toMongoDoc(exp *Experiment) *mongoDoc {
	doc := &mongoDoc{
		ID:             exp.ID,
		Title:          exp.Title,
		Field:          exp.Field,
		CurrentStep:    exp.CurrentStep,
		AutomationMode: string(exp.AutomationMode),
		StepData:       make(map[string]StepRecord, len(exp.StepData)),
		LabNotebook:    exp.LabNotebook,
		Status:         string(exp.Status),
		CreatedAt:      exp.CreatedAt,
		UpdatedAt:      exp.UpdatedAt,
	}
	for n, rec := range exp.StepData {
		doc.StepData[fmt.Sprintf("%d", n)] = rec
	}
	if len(exp.FineTune) > 0 {
		doc.FineTune = make(map[string]FineTuneSettings, len(exp.FineTune))
		for n, ft := range exp.FineTune {
			doc.FineTune[fmt.Sprintf("%d", n)] = ft
		}
	}
	return doc
}

func fromMongoDoc(doc *mongoDoc) (*Experiment, error) {
	exp := &Experiment{
		ID:             doc.ID,
		Title:          doc.Title,
		Field:          doc.Field,
		CurrentStep:    doc.CurrentStep,
		AutomationMode: AutomationMode(doc.AutomationMode),
		StepData:       make(map[int]StepRecord, len(doc.StepData)),
		LabNotebook:    doc.LabNotebook,
		Status:         Status(doc.Status),
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
	for key, rec := range doc.StepData {
		var n int
		if _, err := fmt.Sscanf(key, "%d", &n); err != nil {
			return nil, fmt.Errorf("bad step key %q in document %s", key, doc.ID)
		}
		exp.StepData[n] = rec
	}
	if len(doc.FineTune) > 0 {
		exp.FineTune = make(map[int]FineTuneSettings, len(doc.FineTune))
		for key, ft := range doc.FineTune {
			var n int
			if _, err := fmt.Sscanf(key, "%d", &n); err != nil {
				return nil, fmt.Errorf("bad fine-tune key %q in document %s", key, doc.ID)
			}
			exp.FineTune[n] = ft
		}
	}
	return exp, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*Experiment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var doc mongoDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find experiment %s: %w", id, err)
	}
	return fromMongoDoc(&doc)
}

func (s *MongoStore) Put(ctx context.Context, exp *Experiment) error {
	if exp == nil {
		return ErrInvalidInput
	}
	if err := exp.Validate(); err != nil {
		return err
	}

	exp.UpdatedAt = time.Now().UTC()
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = exp.UpdatedAt
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.collection.ReplaceOne(ctx,
		bson.M{"_id": exp.ID},
		toMongoDoc(exp),
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save experiment %s: %w", exp.ID, err)
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete experiment %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) List(ctx context.Context) ([]*Experiment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cursor, err := s.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.M{"created_at": -1}))
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*Experiment
	for cursor.Next(ctx) {
		var doc mongoDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode experiment document: %w", err)
		}
		exp, err := fromMongoDoc(&doc)
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	return out, cursor.Err()
}

func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}
