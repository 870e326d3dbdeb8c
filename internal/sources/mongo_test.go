package sources

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ajitpratap0/nightfall/pkg/config"
	"github.com/ajitpratap0/nightfall/pkg/models"
	"github.com/ajitpratap0/nightfall/pkg/testutil"
)

func TestMongoFilter(t *testing.T) {
	r := models.NewRange(testutil.Date(2024, 1, 1), testutil.Date(2024, 2, 1))

	assert.Equal(t, bson.D{
		{Key: "date", Value: bson.D{{Key: "$gte", Value: r.Start}, {Key: "$lt", Value: r.End}}},
	}, mongoFilter("date", "", "", r))

	assert.Equal(t, bson.D{
		{Key: "date", Value: bson.D{{Key: "$gte", Value: r.Start}, {Key: "$lt", Value: r.End}}},
		{Key: "ticker", Value: "AAPL"},
	}, mongoFilter("date", "ticker", "AAPL", r))
}

func TestMongoProjection(t *testing.T) {
	assert.Equal(t, bson.D{
		{Key: "_id", Value: 0},
		{Key: "ticker", Value: 1},
		{Key: "date", Value: 1},
	}, mongoProjection([]string{"ticker", "date"}))
}

func TestDocumentRow(t *testing.T) {
	when := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	id := primitive.NewObjectID()
	doc := bson.M{
		"ticker": "AAPL",
		"date":   primitive.NewDateTimeFromTime(when),
		"volume": int32(100),
		"ref":    id,
	}

	row := documentRow(doc, []string{"ticker", "date", "volume", "ref", "missing"})
	assert.Equal(t, []any{"AAPL", when, int64(100), id.Hex(), nil}, row)
}

func TestMongoRequiresConnectionSettings(t *testing.T) {
	_, err := newMongo(config.SourceConfig{Name: "events", Kind: config.KindMongo}, Deps{})
	assert.Error(t, err)
}
