package sources

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/ajitpratap0/nightfall/internal/ingest"
	"github.com/ajitpratap0/nightfall/pkg/config"
	"github.com/ajitpratap0/nightfall/pkg/errors"
	"github.com/ajitpratap0/nightfall/pkg/models"
)

func init() {
	Register(config.KindMongo, newMongo)
}

// MongoFetcher reads the documents of a collection whose boundary field
// falls within the requested range, projected to the table's columns.
type MongoFetcher struct {
	name       string
	uri        string
	database   string
	collection string
	boundary   string
	entity     string
	columns    []string
	logger     *zap.Logger

	mu     sync.Mutex
	client *mongo.Client
}

func newMongo(cfg config.SourceConfig, deps Deps) (ingest.Fetcher, error) {
	o := cfg.Options
	if o.URI == "" || o.Database == "" || o.Collection == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "uri, database and collection are required")
	}
	boundary := o.BoundaryField
	if boundary == "" {
		boundary = cfg.Table.BoundaryColumn
	}
	return &MongoFetcher{
		name:       cfg.Name,
		uri:        o.URI,
		database:   o.Database,
		collection: o.Collection,
		boundary:   boundary,
		entity:     cfg.Table.EntityColumn,
		columns:    cfg.Table.ColumnNames(),
		logger:     deps.Logger,
	}, nil
}

func (f *MongoFetcher) conn(ctx context.Context) (*mongo.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client != nil {
		return f.client, nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(f.uri))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to MongoDB")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ping MongoDB")
	}
	f.client = client
	return client, nil
}

// Fetch returns the documents of r in boundary order.
func (f *MongoFetcher) Fetch(ctx context.Context, entity string, r models.Range) (*models.RowBatch, error) {
	batch := models.NewRowBatch(f.name, entity, r, f.columns)
	if r.Empty() {
		return batch, nil
	}

	client, err := f.conn(ctx)
	if err != nil {
		return nil, err
	}

	coll := client.Database(f.database).Collection(f.collection)
	opts := options.Find().
		SetProjection(mongoProjection(f.columns)).
		SetSort(bson.D{{Key: f.boundary, Value: 1}})

	cursor, err := coll.Find(ctx, mongoFilter(f.boundary, f.entity, entity, r), opts)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "collection query failed").WithDetail("range", r.String())
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStructural, "failed to decode document")
		}
		batch.Rows = append(batch.Rows, documentRow(doc, f.columns))
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransient, "collection cursor failed")
	}

	f.logger.Debug("fetched documents", zap.Stringer("range", r), zap.Int("rows", batch.Len()))
	return batch, nil
}

// Close disconnects the client.
func (f *MongoFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := f.client.Disconnect(ctx)
	f.client = nil
	return err
}

func mongoFilter(boundary, entityField, entity string, r models.Range) bson.D {
	filter := bson.D{{Key: boundary, Value: bson.D{
		{Key: "$gte", Value: r.Start},
		{Key: "$lt", Value: r.End},
	}}}
	if entityField != "" && entity != "" {
		filter = append(filter, bson.E{Key: entityField, Value: entity})
	}
	return filter
}

func mongoProjection(columns []string) bson.D {
	proj := bson.D{{Key: "_id", Value: 0}}
	for _, c := range columns {
		proj = append(proj, bson.E{Key: c, Value: 1})
	}
	return proj
}

func documentRow(doc bson.M, columns []string) []any {
	row := make([]any, len(columns))
	for i, c := range columns {
		switch v := doc[c].(type) {
		case primitive.DateTime:
			row[i] = v.Time().UTC()
		case primitive.Decimal128:
			row[i] = v.String()
		case primitive.ObjectID:
			row[i] = v.Hex()
		default:
			row[i] = normalizeValue(v)
		}
	}
	return row
}
