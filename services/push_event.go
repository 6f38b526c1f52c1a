package services

import (
	"github.com/Shyp/go-types"
	"go.uber.org/zap"

	"github.com/arkstead/keepsake/models"
	"github.com/arkstead/keepsake/runner"
)

// An EventPusher records version changes reported by an external system,
// such as migration tooling writing directly to the repository. Pushed
// events enter the same ledger as import-produced ones and appear in the
// activity stream identically, but carry no job id.
type EventPusher struct {
	Ledger runner.Ledger
	Logger *zap.Logger
}

func (p *EventPusher) Push(group, fromVersion, toVersion string, deleted bool) (*models.ArchivalGroupEvent, error) {
	if group == "" {
		return nil, models.NewValidation("An archival group is required")
	}
	if !deleted && toVersion == "" {
		return nil, models.NewValidation("A target version is required")
	}
	ev, err := p.Ledger.Append(group, fromVersion, toVersion, deleted, types.PrefixUUID{})
	if err != nil {
		return nil, err
	}
	p.Logger.Info("external event recorded",
		zap.Int64("event_id", ev.ID),
		zap.String("archival_group", group),
		zap.String("to_version", toVersion),
		zap.Bool("deleted", deleted))
	return ev, nil
}
