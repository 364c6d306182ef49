package db_test

import (
	"context"
	"testing"

	"jobmate/matching-service/internal/db"
)

func TestNewRedisClient_EmptyURLDisables(t *testing.T) {
	rdb, err := db.NewRedisClient(context.Background(), "")
	if rdb != nil || err != nil {
		t.Errorf("NewRedisClient(\"\") = (%v, %v), want (nil, nil)", rdb, err)
	}
}

func TestNewRedisClient_BadURL(t *testing.T) {
	if _, err := db.NewRedisClient(context.Background(), "not-a-url"); err == nil {
		t.Error("expected parse error")
	}
}

func TestNewPostgresPool_BadURL(t *testing.T) {
	if _, err := db.NewPostgresPool(context.Background(), "postgres://%zz"); err == nil {
		t.Error("expected parse error")
	}
}
