package storage

import (
	"context"
	"errors"
	"testing"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir(), "test-bucket")

	ok, err := store.BucketExists(ctx, true)
	if err != nil || !ok {
		t.Fatalf("bucket creation failed: ok=%v err=%v", ok, err)
	}

	if err := store.Save(ctx, []byte("payload"), "metadata/metadata.json"); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	data, err := store.Load(ctx, "metadata/metadata.json")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("loaded %q", data)
	}

	if err := store.Remove(ctx, "metadata/metadata.json"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := store.Load(ctx, "metadata/metadata.json"); !IsNotFound(err) {
		t.Fatalf("expected not-found after remove, got %v", err)
	}
}

func TestLocalStoreMissingKeyIsTyped(t *testing.T) {
	store := NewLocalStore(t.TempDir(), "test-bucket")
	if _, err := store.BucketExists(context.Background(), true); err != nil {
		t.Fatalf("bucket creation failed: %v", err)
	}

	_, err := store.Load(context.Background(), "does/not/exist")
	if err == nil {
		t.Fatal("expected error for missing key")
	}
	var typed *Error
	if !errors.As(err, &typed) {
		t.Fatalf("expected typed storage error, got %T", err)
	}
	if typed.Code != CodeObjectNotFound {
		t.Fatalf("expected %s, got %s", CodeObjectNotFound, typed.Code)
	}
	if !IsNotFound(err) {
		t.Fatal("IsNotFound should match")
	}
	if IsRetryable(err) {
		t.Fatal("missing object is not retryable")
	}
}

func TestLocalStoreList(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir(), "test-bucket")
	if _, err := store.BucketExists(ctx, true); err != nil {
		t.Fatalf("bucket creation failed: %v", err)
	}

	for _, key := range []string{
		"data/raw_data/2024/2024_raw_data.parquet",
		"data/raw_data/2023/2023_raw_data.parquet",
		"data/runs.parquet",
	} {
		if err := store.Save(ctx, []byte("x"), key); err != nil {
			t.Fatalf("save %s: %v", key, err)
		}
	}

	keys, err := store.List(ctx, "data/raw_data/")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys under prefix, got %d: %v", len(keys), keys)
	}
}

func TestLocalStoreMissingBucket(t *testing.T) {
	store := NewLocalStore(t.TempDir(), "nope")
	ok, err := store.BucketExists(context.Background(), false)
	if err != nil {
		t.Fatalf("exists check errored: %v", err)
	}
	if ok {
		t.Fatal("bucket should not exist without create")
	}
}
