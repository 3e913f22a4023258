package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/genji-bot/internal/domain"
	"github.com/tbourn/genji-bot/internal/repo"
)

// PlaytestAdder opens playtests for relayed submissions.
type PlaytestAdder interface {
	AddFromRelay(ctx context.Context, sub domain.MapSubmission) (int64, error)
}

// Archiver flips the archived flag on maps.
type Archiver interface {
	SetArchived(ctx context.Context, codes []string, archived bool) (int64, error)
}

// Outcomes recorded in genji_relay_messages_total.
const (
	OutcomeHandled   = "handled"
	OutcomeTestMode  = "test_mode"
	OutcomeDuplicate = "duplicate"
	OutcomeDropped   = "dropped"
	OutcomeFailed    = "failed"
)

// Dispatcher routes envelopes to the services by tag. Deliveries with an
// id are processed at most once.
type Dispatcher struct {
	DB        *gorm.DB
	Playtests PlaytestAdder
	Archive   Archiver
}

// Handle processes one envelope and returns the outcome. A non-nil error
// means the delivery should be retried.
func (d *Dispatcher) Handle(ctx context.Context, env Envelope) (string, error) {
	tr := otel.Tracer("relay/Dispatcher")
	ctx, span := tr.Start(ctx, "Handle",
		trace.WithAttributes(
			attribute.String("relay.tag", env.Tag),
			attribute.String("relay.message_id", env.ID),
		),
	)
	defer span.End()

	outcome, err := d.handle(ctx, env)
	relayMessages.WithLabelValues(env.Tag, outcome).Inc()
	if err != nil {
		span.RecordError(err)
	}
	return outcome, err
}

func (d *Dispatcher) handle(ctx context.Context, env Envelope) (string, error) {
	if env.TestMode {
		return OutcomeTestMode, nil
	}
	switch env.Tag {
	case TagPlaytest, TagBulkArchive, TagBulkUnarchive:
	case TagLegacy:
		return OutcomeHandled, nil
	default:
		log.Warn().Str("event", "relay_unknown_tag").Str("tag", env.Tag).Msg("dropping message with unknown tag")
		return OutcomeDropped, nil
	}

	if env.ID != "" && d.DB != nil {
		if err := repo.ReserveMessage(ctx, d.DB, env.ID, env.Tag); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return OutcomeDuplicate, nil
			}
			return OutcomeFailed, err
		}
	}

	err := d.route(ctx, env)
	if err == nil {
		return OutcomeHandled, nil
	}
	if errors.Is(err, ErrDecode) {
		// redelivery cannot fix a malformed body
		log.Error().Err(err).Str("event", "relay_decode_failed").Str("tag", env.Tag).Msg("dropping malformed message")
		return OutcomeDropped, nil
	}
	if env.ID != "" && d.DB != nil {
		if rerr := repo.ReleaseMessage(ctx, d.DB, env.ID); rerr != nil {
			log.Error().Err(rerr).Str("message_id", env.ID).Msg("release relay message failed")
		}
	}
	return OutcomeFailed, err
}

func (d *Dispatcher) route(ctx context.Context, env Envelope) error {
	switch env.Tag {
	case TagPlaytest:
		var m MapModel
		if err := json.Unmarshal(env.Body, &m); err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		sub, err := m.Submission()
		if err != nil {
			return err
		}
		threadID, err := d.Playtests.AddFromRelay(ctx, sub)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidMapCode) {
				return fmt.Errorf("%w: %v", ErrDecode, err)
			}
			return err
		}
		log.Info().Str("event", "relay_playtest").Str("map_code", sub.Code).Int64("thread_id", threadID).Msg("playtest opened from relay")
		return nil

	case TagBulkArchive, TagBulkUnarchive:
		var rows []BulkArchiveMapBody
		if err := json.Unmarshal(env.Body, &rows); err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		codes := make([]string, 0, len(rows))
		for _, r := range rows {
			codes = append(codes, r.MapCode)
		}
		n, err := d.Archive.SetArchived(ctx, codes, env.Tag == TagBulkArchive)
		if err != nil {
			return err
		}
		log.Info().Str("event", "relay_"+env.Tag).Int64("maps", n).Msg("archive flags updated from relay")
		return nil
	}
	return nil
}
