// Package notion appends transactions as pages of a Notion database.
package notion

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/finance-sync/internal/configstore"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/sink"
)

// Target is the run target name of this sink.
const Target = "notion"

// maxFilterConditions is the Notion limit on conditions in one compound filter.
const maxFilterConditions = 100

// Settings is the sinks.notion block.
type Settings struct {
	Token      string `json:"token"`
	DatabaseID string `json:"databaseId"`
}

// Sink writes pages into a Notion database. Notion offers no write
// preconditions, so appends never report conflicts.
type Sink struct {
	svc        Service
	databaseID string
}

// Factory builds the sink from the configuration document.
func Factory(ctx context.Context, doc *configstore.Document) (sink.Sink, error) {
	var s Settings
	if err := doc.SinkSettings(Target, &s); err != nil {
		return nil, err
	}
	if s.Token == "" || s.DatabaseID == "" {
		return nil, fmt.Errorf("notion: sinks.%s needs token and databaseId", Target)
	}
	return New(NewClient(s.Token), s.DatabaseID), nil
}

// New returns a sink writing to databaseID through svc.
func New(svc Service, databaseID string) *Sink {
	return &Sink{svc: svc, databaseID: databaseID}
}

// Name implements sink.Sink.
func (s *Sink) Name() string { return Target }

// Close implements sink.Sink.
func (s *Sink) Close() error { return nil }

// Snapshot implements sink.Sink.
func (s *Sink) Snapshot(ctx context.Context) (sink.Snapshot, error) {
	return snapshot{s}, nil
}

type snapshot struct{ s *Sink }

// Existing queries pages whose Transaction ID matches one of ids, in chunks
// small enough for a single compound filter.
func (sn snapshot) Existing(ctx context.Context, ids []string) (map[string]bool, error) {
	found := make(map[string]bool)
	for start := 0; start < len(ids); start += maxFilterConditions {
		end := min(start+maxFilterConditions, len(ids))
		pages, err := sn.s.queryAll(ctx, idFilter(ids[start:end]))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrSinkUnavailable, err)
		}
		for _, p := range pages {
			if id := transactionID(p); id != "" {
				found[id] = true
			}
		}
	}
	return found, nil
}

func (sn snapshot) Append(ctx context.Context, txns []domain.Transaction) error {
	log := logger.FromContext(ctx)
	for i, t := range txns {
		props, exact := TransactionProperties(t)
		if !exact {
			log.Warn().
				Str("transaction_id", t.ID).
				Str("amount", t.Amount.String()).
				Msg("Amount loses precision as a Notion number")
		}
		if _, err := sn.s.svc.CreatePage(ctx, sn.s.databaseID, props); err != nil {
			log.Error().Err(err).
				Int("created", i).
				Int("total", len(txns)).
				Msg("Failed to create Notion page")
			return fmt.Errorf("%w: creating page for %s: %v", domain.ErrSinkUnavailable, t.ID, err)
		}
	}
	log.Info().Int("created", len(txns)).Msg("Created Notion pages")
	return nil
}

func idFilter(ids []string) notionapi.Filter {
	or := make(notionapi.OrCompoundFilter, 0, len(ids))
	for _, id := range ids {
		or = append(or, notionapi.PropertyFilter{
			Property: PropTransactionID,
			RichText: &notionapi.TextFilterCondition{Equals: id},
		})
	}
	return or
}

// queryAll pages through every result of a filtered database query.
func (s *Sink) queryAll(ctx context.Context, filter notionapi.Filter) ([]notionapi.Page, error) {
	var all []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			Filter:   filter,
			PageSize: 100,
		}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := s.svc.QueryDatabase(ctx, s.databaseID, req)
		if err != nil {
			return nil, err
		}
		all = append(all, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}
	return all, nil
}
