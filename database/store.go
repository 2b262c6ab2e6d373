package database

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

type Document struct {
	ID     string `json:"ID" mapstructure:"id"`
	Name   string `json:"name" mapstructure:"name"`
	Author string `json:"author" mapstructure:"author"`
}

// Text is the canonical content of a document and the number of operations
// applied to it.
type Text struct {
	Content string `json:"content" mapstructure:"content"`
	Version int64  `json:"version" mapstructure:"version"`
}

// Store persists document metadata and text for the relay server.
type Store interface {
	CreateDocument(ctx context.Context, doc Document) error
	ListDocuments(ctx context.Context) ([]Document, error)
	GetDocument(ctx context.Context, id string) (Document, error)
	DeleteDocument(ctx context.Context, id string) error
	LoadText(ctx context.Context, id string) (Text, error)
	SaveText(ctx context.Context, id string, text Text) error
}
