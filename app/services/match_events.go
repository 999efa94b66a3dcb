package services

import (
	"context"
	"log"

	"github.com/communitrade/matching-engine/models"
)

// Match event types handed to the notification layer.
const (
	MatchEventHot    = "hot_match"
	MatchEventMutual = "mutual_match"
)

// MatchEvent is the plain record-shaped payload for the notification
// collaborator. The engine never formats or sends anything itself.
type MatchEvent struct {
	Type     string              `json:"type"`
	TenantID string              `json:"tenant_id"`
	Record   *models.MatchRecord `json:"record"`
}

// MatchEventSink receives hot/mutual match events. Delivery is best-effort;
// the scoring pass never fails because a sink did.
type MatchEventSink interface {
	EmitMatchEvent(ctx context.Context, event MatchEvent) error
}

// LogMatchEventSink writes events to the process log. It stands in until a
// real notification transport is attached.
type LogMatchEventSink struct{}

// NewLogMatchEventSink creates a logging event sink
func NewLogMatchEventSink() MatchEventSink {
	return &LogMatchEventSink{}
}

// EmitMatchEvent logs the event
func (s *LogMatchEventSink) EmitMatchEvent(ctx context.Context, event MatchEvent) error {
	if event.Record == nil {
		return nil
	}
	log.Printf("match event: type=%s tenant=%s record=%s score=%d users=%d/%d",
		event.Type, event.TenantID, event.Record.UUID, event.Record.MatchScore,
		event.Record.User1ID, event.Record.User2ID)
	return nil
}
