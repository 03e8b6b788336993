package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stitchline/storefront-backend/api/responses"
	"github.com/stitchline/storefront-backend/pkg/db/models"
	pkgerrors "github.com/stitchline/storefront-backend/pkg/errors"
	"github.com/stitchline/storefront-backend/pkg/logger"
	"github.com/stitchline/storefront-backend/pkg/outbox"
)

// DeadLetterQueue is the admin view over notification events the publisher gave up on.
type DeadLetterQueue interface {
	List(ctx context.Context, limit int) ([]models.OutboxDLQ, error)
	Requeue(ctx context.Context, eventID uuid.UUID) error
}

type deadLetterView struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	AggregateType string    `json:"aggregate_type"`
	AggregateID   string    `json:"aggregate_id"`
	Reason        string    `json:"reason"`
	Error         string    `json:"error,omitempty"`
	Attempts      int       `json:"attempts"`
	FailedAt      time.Time `json:"failed_at"`
}

func AdminListDeadLetters(dlq DeadLetterQueue, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "limit must be a positive integer"))
				return
			}
			limit = n
		}

		rows, err := dlq.List(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list dead letters"))
			return
		}
		views := make([]deadLetterView, 0, len(rows))
		for _, row := range rows {
			v := deadLetterView{
				EventID:       row.EventID.String(),
				EventType:     string(row.EventType),
				AggregateType: string(row.AggregateType),
				AggregateID:   row.AggregateID.String(),
				Reason:        string(row.ErrorReason),
				Attempts:      row.AttemptCount,
				FailedAt:      row.FailedAt.UTC(),
			}
			if row.ErrorMessage != nil {
				v.Error = *row.ErrorMessage
			}
			views = append(views, v)
		}
		responses.WriteSuccess(w, views)
	}
}

func AdminRequeueDeadLetter(dlq DeadLetterQueue, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID, err := uuid.Parse(chi.URLParam(r, "eventID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "event id must be a uuid"))
			return
		}

		switch err := dlq.Requeue(r.Context(), eventID); {
		case errors.Is(err, outbox.ErrDLQEntryNotFound):
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "dead-lettered event not found"))
		case errors.Is(err, outbox.ErrAlreadyPublished):
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "event was already published"))
		case err != nil:
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "requeue dead letter"))
		default:
			if logg != nil {
				logg.Info(logg.WithField(r.Context(), "event_id", eventID.String()), "dead-lettered event requeued")
			}
			responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"event_id": eventID.String(), "status": "requeued"})
		}
	}
}
