package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"creditjobs/internal/domain"
)

// Entry is one job in an owner's recovery ledger.
type Entry struct {
	JobID         string             `json:"job_id"`
	OwnerID       string             `json:"owner_id"`
	Category      domain.Category    `json:"category"`
	Status        domain.JobStatus   `json:"status"`
	Cost          int64              `json:"cost"`
	RetryCount    int                `json:"retry_count"`
	MaxRetries    int                `json:"max_retries"`
	FailureReason domain.FailureKind `json:"failure_reason,omitempty"`
	Refunded      bool               `json:"refunded"`
	Progress      int                `json:"progress"`
	RetryAt       *time.Time         `json:"retry_at,omitempty"`
	TrackedAt     time.Time          `json:"tracked_at"`
	FinishedAt    *time.Time         `json:"finished_at,omitempty"`
}

func (en Entry) job() domain.Job {
	return domain.Job{
		ID:            en.JobID,
		OwnerID:       en.OwnerID,
		Category:      en.Category,
		Status:        en.Status,
		Cost:          en.Cost,
		RetryCount:    en.RetryCount,
		MaxRetries:    en.MaxRetries,
		FailureReason: en.FailureReason,
		Refunded:      en.Refunded,
	}
}

// Terminal reports whether the tracked job will not transition again.
func (en Entry) Terminal() bool {
	return en.job().Terminal()
}

// LedgerStore persists ledger entries so timers and unrefunded failures
// survive a restart.
type LedgerStore interface {
	Save(ctx context.Context, en Entry) error
	Delete(ctx context.Context, ownerID, jobID string) error
	Load(ctx context.Context) ([]Entry, error)
}

type nopStore struct{}

func (nopStore) Save(context.Context, Entry) error           { return nil }
func (nopStore) Delete(context.Context, string, string) error { return nil }
func (nopStore) Load(context.Context) ([]Entry, error)        { return nil, nil }

// DefaultLedgerPrefix namespaces ledger keys.
const DefaultLedgerPrefix = "creditjobs:recovery"

// RedisLedgerStore keeps one hash per owner (job id -> JSON entry) and a set
// of owners with entries.
type RedisLedgerStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLedgerStore creates a store. An empty prefix selects DefaultLedgerPrefix.
func NewRedisLedgerStore(client redis.UniversalClient, prefix string) *RedisLedgerStore {
	if prefix == "" {
		prefix = DefaultLedgerPrefix
	}
	return &RedisLedgerStore{client: client, prefix: prefix}
}

func (s *RedisLedgerStore) ownersKey() string {
	return s.prefix + ":owners"
}

func (s *RedisLedgerStore) ledgerKey(ownerID string) string {
	return s.prefix + ":ledger:" + ownerID
}

func (s *RedisLedgerStore) Save(ctx context.Context, en Entry) error {
	body, err := json.Marshal(en)
	if err != nil {
		return fmt.Errorf("encode ledger entry: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.ledgerKey(en.OwnerID), en.JobID, body)
		p.SAdd(ctx, s.ownersKey(), en.OwnerID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save ledger entry %s: %w", en.JobID, err)
	}
	return nil
}

func (s *RedisLedgerStore) Delete(ctx context.Context, ownerID, jobID string) error {
	if err := s.client.HDel(ctx, s.ledgerKey(ownerID), jobID).Err(); err != nil {
		return fmt.Errorf("delete ledger entry %s: %w", jobID, err)
	}
	n, err := s.client.HLen(ctx, s.ledgerKey(ownerID)).Result()
	if err != nil {
		return fmt.Errorf("count ledger entries: %w", err)
	}
	if n == 0 {
		if err := s.client.SRem(ctx, s.ownersKey(), ownerID).Err(); err != nil {
			return fmt.Errorf("drop ledger owner: %w", err)
		}
	}
	return nil
}

// Entries returns one owner's stored entries.
func (s *RedisLedgerStore) Entries(ctx context.Context, ownerID string) ([]Entry, error) {
	raw, err := s.client.HGetAll(ctx, s.ledgerKey(ownerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load ledger for %s: %w", ownerID, err)
	}
	out := make([]Entry, 0, len(raw))
	var errs []error
	for jobID, body := range raw {
		var en Entry
		if err := json.Unmarshal([]byte(body), &en); err != nil {
			errs = append(errs, fmt.Errorf("decode ledger entry %s: %w", jobID, err))
			continue
		}
		out = append(out, en)
	}
	return out, errors.Join(errs...)
}

// Load returns every stored entry. Undecodable entries are skipped and
// reported in the joined error alongside the entries that did decode.
func (s *RedisLedgerStore) Load(ctx context.Context) ([]Entry, error) {
	owners, err := s.client.SMembers(ctx, s.ownersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("load ledger owners: %w", err)
	}
	var out []Entry
	var errs []error
	for _, owner := range owners {
		entries, err := s.Entries(ctx, owner)
		if err != nil {
			errs = append(errs, err)
		}
		out = append(out, entries...)
	}
	return out, errors.Join(errs...)
}

var _ LedgerStore = (*RedisLedgerStore)(nil)
