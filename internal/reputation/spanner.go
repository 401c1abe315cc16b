package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"

	"github.com/amx/backend/internal/core"
	"github.com/amx/backend/internal/runtime"
)

// SpannerStore persists reputation records in Cloud Spanner. Component and
// history state travel as JSON columns; the composite and label are
// first-class columns so dashboards can query them directly.
type SpannerStore struct {
	client *spanner.Client
	logger *log.Logger
}

// NewSpannerStore creates a Spanner-backed reputation store.
func NewSpannerStore(project, instance, dbName string) (*SpannerStore, error) {
	ctx := context.Background()
	dbPath := fmt.Sprintf("projects/%s/instances/%s/databases/%s", project, instance, dbName)

	client, err := spanner.NewClient(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("create spanner client: %w", err)
	}

	return &SpannerStore{
		client: client,
		logger: log.New(log.Writer(), "[SPANNER-REP] ", log.LstdFlags),
	}, nil
}

func (ss *SpannerStore) Get(ctx context.Context, identity core.AgentID) (*ReputationRecord, error) {
	row, err := ss.client.Single().ReadRow(ctx, "Reputation", spanner.Key{string(identity)},
		[]string{"Identity", "CompositeScore", "TierLabel", "TierBoost", "Components", "History", "CreatedAt", "UpdatedAt"},
	)
	if err != nil {
		if spanner.ErrCode(err) == codes.NotFound {
			return nil, runtime.ErrNotFound
		}
		return nil, fmt.Errorf("read reputation %s: %w", identity, err)
	}

	var (
		id             string
		score          int64
		label          string
		boost          float64
		componentsJSON string
		historyJSON    string
		createdAt      time.Time
		updatedAt      time.Time
	)
	if err := row.Columns(&id, &score, &label, &boost, &componentsJSON, &historyJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	rec := &ReputationRecord{
		Identity:       core.AgentID(id),
		CompositeScore: int(score),
		TierLabel:      TierLabel(label),
		TierBoost:      boost,
		Components:     make(map[Component]*ComponentState),
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}
	if err := json.Unmarshal([]byte(componentsJSON), &rec.Components); err != nil {
		return nil, fmt.Errorf("decode components for %s: %w", identity, err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &rec.History); err != nil {
		return nil, fmt.Errorf("decode history for %s: %w", identity, err)
	}
	return rec, nil
}

func (ss *SpannerStore) Put(ctx context.Context, rec *ReputationRecord) error {
	componentsJSON, err := json.Marshal(rec.Components)
	if err != nil {
		return err
	}
	historyJSON, err := json.Marshal(rec.History)
	if err != nil {
		return err
	}

	_, err = ss.client.Apply(ctx, []*spanner.Mutation{
		spanner.InsertOrUpdate("Reputation",
			[]string{"Identity", "CompositeScore", "TierLabel", "TierBoost", "Components", "History", "CreatedAt", "UpdatedAt"},
			[]interface{}{
				string(rec.Identity), int64(rec.CompositeScore), string(rec.TierLabel), rec.TierBoost,
				string(componentsJSON), string(historyJSON), rec.CreatedAt, rec.UpdatedAt,
			},
		),
	})
	if err != nil {
		return fmt.Errorf("write reputation %s: %w", rec.Identity, err)
	}
	return nil
}

func (ss *SpannerStore) List(ctx context.Context) ([]core.AgentID, error) {
	stmt := spanner.Statement{SQL: `SELECT Identity FROM Reputation`}

	iter := ss.client.Single().Query(ctx, stmt)
	defer iter.Stop()

	var ids []core.AgentID
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var id string
		if err := row.Columns(&id); err != nil {
			return nil, err
		}
		ids = append(ids, core.AgentID(id))
	}
	return ids, nil
}

func (ss *SpannerStore) Close() error {
	ss.client.Close()
	return nil
}
