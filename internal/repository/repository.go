package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rongwang/groupledger/internal/models"
)

// ErrNotFound is returned by a DocumentStore when no document exists for a key
var ErrNotFound = errors.New("repository: document not found")

// DocumentKind namespaces documents inside a DocumentStore
type DocumentKind string

const (
	KindLedger      DocumentKind = "ledger"
	KindGroupConfig DocumentKind = "group_config"
	KindAuth        DocumentKind = "auth"
)

const authDocumentKey = "global"

// DocumentStore is a key-value store of JSON documents
type DocumentStore interface {
	Get(ctx context.Context, kind DocumentKind, key string) ([]byte, error)
	Put(ctx context.Context, kind DocumentKind, key string, body []byte) error
	Delete(ctx context.Context, kind DocumentKind, key string) error
	Keys(ctx context.Context, kind DocumentKind) ([]string, error)
}

// Repository interface defines the typed document operations used by the service
type Repository interface {
	// Ledger documents
	GetLedger(ctx context.Context, groupID string) (*models.LedgerDocument, error)
	SaveLedger(ctx context.Context, doc *models.LedgerDocument) error
	DeleteLedger(ctx context.Context, groupID string) error

	// Group configuration
	GetGroupConfig(ctx context.Context, groupID string) (*models.GroupConfig, error)
	SaveGroupConfig(ctx context.Context, cfg *models.GroupConfig) error
	ListGroups(ctx context.Context) ([]string, error)

	// Authorization
	GetAuthDocument(ctx context.Context) (*models.AuthDocument, error)
	SaveAuthDocument(ctx context.Context, doc *models.AuthDocument) error
}

// DocumentRepository implements Repository on top of any DocumentStore.
// Defaults are applied here, once, when a document is loaded.
type DocumentRepository struct {
	store     DocumentStore
	operators []string
}

// NewDocumentRepository creates a repository; operators seed the auth document
// of a fresh deployment.
func NewDocumentRepository(store DocumentStore, operators []string) *DocumentRepository {
	normalized := make([]string, 0, len(operators))
	for _, op := range operators {
		if op = models.NormalizePrincipal(op); op != "" {
			normalized = append(normalized, op)
		}
	}
	return &DocumentRepository{store: store, operators: normalized}
}

// Store returns the underlying document store
func (r *DocumentRepository) Store() DocumentStore {
	return r.store
}

func (r *DocumentRepository) GetLedger(ctx context.Context, groupID string) (*models.LedgerDocument, error) {
	doc := models.NewLedgerDocument(groupID)
	found, err := r.load(ctx, KindLedger, groupID, doc)
	if err != nil {
		return nil, err
	}
	if !found {
		return doc, nil
	}
	if doc.Transactions == nil {
		doc.Transactions = []models.Transaction{}
	}
	doc.GroupID = groupID
	return doc, nil
}

func (r *DocumentRepository) SaveLedger(ctx context.Context, doc *models.LedgerDocument) error {
	if doc == nil || doc.GroupID == "" {
		return errors.New("repository: ledger document requires a group id")
	}
	return r.save(ctx, KindLedger, doc.GroupID, doc)
}

func (r *DocumentRepository) DeleteLedger(ctx context.Context, groupID string) error {
	err := r.store.Delete(ctx, KindLedger, groupID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("error deleting ledger %s: %w", groupID, err)
	}
	return nil
}

func (r *DocumentRepository) GetGroupConfig(ctx context.Context, groupID string) (*models.GroupConfig, error) {
	cfg := models.NewGroupConfig(groupID)
	found, err := r.load(ctx, KindGroupConfig, groupID, cfg)
	if err != nil {
		return nil, err
	}
	if !found {
		return cfg, nil
	}
	cfg.GroupID = groupID
	if cfg.Timezone == "" {
		cfg.Timezone = models.DefaultTimezone
	}
	if cfg.RolloverTime == "" {
		cfg.RolloverTime = models.DefaultRolloverTime
	}
	if cfg.FeeRate < 0 || cfg.FeeRate > 100 {
		cfg.FeeRate = 0
	}
	if cfg.ExchangeRate < 0 {
		cfg.ExchangeRate = 0
	}
	return cfg, nil
}

func (r *DocumentRepository) SaveGroupConfig(ctx context.Context, cfg *models.GroupConfig) error {
	if cfg == nil || cfg.GroupID == "" {
		return errors.New("repository: group config requires a group id")
	}
	return r.save(ctx, KindGroupConfig, cfg.GroupID, cfg)
}

// ListGroups returns every group that has a ledger or a configuration document
func (r *DocumentRepository) ListGroups(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	groups := []string{}
	for _, kind := range []DocumentKind{KindGroupConfig, KindLedger} {
		keys, err := r.store.Keys(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("error listing groups: %w", err)
		}
		for _, key := range keys {
			if !seen[key] {
				seen[key] = true
				groups = append(groups, key)
			}
		}
	}
	sort.Strings(groups)
	return groups, nil
}

func (r *DocumentRepository) GetAuthDocument(ctx context.Context) (*models.AuthDocument, error) {
	doc := models.NewAuthDocument()
	found, err := r.load(ctx, KindAuth, authDocumentKey, doc)
	if err != nil {
		return nil, err
	}
	// Bootstrap operators only seed a document that was never saved, so a
	// removal sticks once it is persisted.
	if !found {
		doc.Operators = append(doc.Operators, r.operators...)
	}
	if doc.Level1 == nil {
		doc.Level1 = map[string]models.Grant{}
	}
	if doc.Level2 == nil {
		doc.Level2 = map[string]models.Grant{}
	}
	if doc.Groups == nil {
		doc.Groups = map[string]models.GroupAccess{}
	}

	seen := make(map[string]bool, len(doc.Operators))
	operators := make([]string, 0, len(doc.Operators))
	for _, op := range doc.Operators {
		op = models.NormalizePrincipal(op)
		if op == "" || seen[op] {
			continue
		}
		seen[op] = true
		operators = append(operators, op)
	}
	doc.Operators = operators
	return doc, nil
}

func (r *DocumentRepository) SaveAuthDocument(ctx context.Context, doc *models.AuthDocument) error {
	if doc == nil {
		return errors.New("repository: nil auth document")
	}
	return r.save(ctx, KindAuth, authDocumentKey, doc)
}

func (r *DocumentRepository) load(ctx context.Context, kind DocumentKind, key string, v interface{}) (bool, error) {
	body, err := r.store.Get(ctx, kind, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("error loading %s %s: %w", kind, key, err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return false, fmt.Errorf("error decoding %s %s: %w", kind, key, err)
	}
	return true, nil
}

func (r *DocumentRepository) save(ctx context.Context, kind DocumentKind, key string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error encoding %s %s: %w", kind, key, err)
	}
	if err := r.store.Put(ctx, kind, key, body); err != nil {
		return fmt.Errorf("error saving %s %s: %w", kind, key, err)
	}
	return nil
}
