package database

import (
	"context"
	"fmt"
	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"sort"
	"strings"
	"time"
)

const (
	documentPrefix = "documents."
	textPrefix     = "texts."
)

func documentKey(id string) string { return documentPrefix + id }
func textKey(id string) string     { return textPrefix + id }

type RedisStore struct {
	rdb *redis.Client
}

// OpenRedis connects to redis and checks the connection with a ping.
func OpenRedis(ctx context.Context, opts *redis.Options) (*RedisStore, error) {
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("could not connect to redis at %s: %w", opts.Addr, err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) CreateDocument(ctx context.Context, doc Document) error {
	err := s.rdb.HSet(ctx, documentKey(doc.ID), "id", doc.ID, "name", doc.Name, "author", doc.Author).Err()
	if err != nil {
		return fmt.Errorf("error uploading document: %w", err)
	}

	if err := s.SaveText(ctx, doc.ID, Text{}); err != nil {
		if delErr := s.rdb.Del(ctx, documentKey(doc.ID)).Err(); delErr != nil {
			log.Error().Err(delErr).Str("document", doc.ID).Msg("failed to roll back document info")
		}
		return err
	}
	return nil
}

func (s *RedisStore) ListDocuments(ctx context.Context) ([]Document, error) {
	var documents []Document
	iter := s.rdb.Scan(ctx, 0, documentPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), documentPrefix)
		doc, err := s.GetDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		documents = append(documents, doc)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to get document keys: %w", err)
	}

	sort.Slice(documents, func(i, j int) bool { return documents[i].ID < documents[j].ID })
	return documents, nil
}

func (s *RedisStore) GetDocument(ctx context.Context, id string) (Document, error) {
	var doc Document
	err := s.hgetAll(ctx, documentKey(id), &doc)
	return doc, err
}

func (s *RedisStore) DeleteDocument(ctx context.Context, id string) error {
	n, err := s.rdb.Del(ctx, documentKey(id), textKey(id)).Result()
	if err != nil {
		return fmt.Errorf("error deleting document: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) LoadText(ctx context.Context, id string) (Text, error) {
	var text Text
	err := s.hgetAll(ctx, textKey(id), &text)
	return text, err
}

func (s *RedisStore) SaveText(ctx context.Context, id string, text Text) error {
	err := s.rdb.HSet(ctx, textKey(id), "content", text.Content, "version", text.Version).Err()
	if err != nil {
		return fmt.Errorf("error saving document text: %w", err)
	}
	return nil
}

// hgetAll decodes a redis hash into out. Redis returns every field as a
// string, so the decode is weakly typed.
func (s *RedisStore) hgetAll(ctx context.Context, key string, out any) error {
	res, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("error getting %s: %w", key, err)
	}
	if len(res) == 0 {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(res); err != nil {
		return fmt.Errorf("error decoding %s: %w", key, err)
	}
	return nil
}
