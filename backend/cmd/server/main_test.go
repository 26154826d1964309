package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/seimmuc/family-tree/backend/pkg/config"
)

func TestConnectionConfig(t *testing.T) {
	cfg := &config.Config{
		Neo4jURI:         "bolt://graph:7687",
		Neo4jUser:        "neo4j",
		Neo4jPassword:    "secret",
		Neo4jDatabase:    "family",
		Neo4jTxRetryTime: 3 * time.Second,
	}

	got := connectionConfig(cfg)
	assert.Equal(t, "bolt://graph:7687", got.URI)
	assert.Equal(t, "neo4j", got.User)
	assert.Equal(t, "secret", got.Password)
	assert.Equal(t, "family", got.Database)
	assert.Equal(t, 3*time.Second, got.MaxTxRetryTime)
}
