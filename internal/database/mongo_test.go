package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestMongoDBCloseReleasesClient(t *testing.T) {
	// mongo.Connect does not dial eagerly, so this needs no running server
	client, err := mongo.Connect(context.Background(),
		options.Client().ApplyURI("mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=50"))
	require.NoError(t, err)

	m := &MongoDB{Client: client, DB: client.Database("exchange")}
	assert.NoError(t, m.Close())
}
