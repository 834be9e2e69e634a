// Package projection turns ledger events into the per-account activity feed.
package projection

import (
	"context"
	"fmt"

	"github.com/brokerdesk/platform/shared/events"
	"github.com/brokerdesk/platform/shared/models"
	"github.com/sirupsen/logrus"
)

// FeedWriter is satisfied by *redis.Feed[models.ActivityItem].
type FeedWriter interface {
	Push(ctx context.Context, key string, item models.ActivityItem) error
}

type ActivityProjector struct {
	feed FeedWriter
	log  *logrus.Entry
}

func NewActivityProjector(feed FeedWriter, log *logrus.Entry) *ActivityProjector {
	return &ActivityProjector{feed: feed, log: log}
}

// Handle is an events.Handler. Unknown event types are acknowledged and
// ignored; a payload that does not decode is returned as an error so the
// entry stays pending in the consumer group.
func (p *ActivityProjector) Handle(ctx context.Context, event events.Event) error {
	items, err := p.itemsFor(event)
	if err != nil {
		return err
	}
	for key, item := range items {
		item.Type = event.Type
		item.CreatedAt = event.Timestamp
		if err := p.feed.Push(ctx, key, item); err != nil {
			return err
		}
	}
	return nil
}

func (p *ActivityProjector) itemsFor(event events.Event) (map[string]models.ActivityItem, error) {
	switch event.Type {
	case events.AccountCreated:
		var e events.AccountCreatedEvent
		if err := events.DecodeData(event, &e); err != nil {
			return nil, err
		}
		return map[string]models.ActivityItem{
			e.AccountID: {Message: "Welcome " + e.FullName + ", your account is open", RefID: e.AccountID},
		}, nil

	case events.ReferralAwarded:
		var e events.ReferralAwardedEvent
		if err := events.DecodeData(event, &e); err != nil {
			return nil, err
		}
		return map[string]models.ActivityItem{
			e.ReferrerID: {Message: fmt.Sprintf("Referral bonus of %s credited", e.Amount.StringFixed(2)), RefID: e.ReferredID},
		}, nil

	case events.RequestCreated:
		var e events.RequestCreatedEvent
		if err := events.DecodeData(event, &e); err != nil {
			return nil, err
		}
		msg := "KYC documents submitted"
		if models.RequestKind(e.Kind).HasAmount() {
			msg = fmt.Sprintf("%s request of %s submitted", label(e.Kind), e.Amount.StringFixed(2))
		}
		return map[string]models.ActivityItem{e.AccountID: {Message: msg, RefID: e.RequestID}}, nil

	case events.RequestResolved:
		var e events.RequestResolvedEvent
		if err := events.DecodeData(event, &e); err != nil {
			return nil, err
		}
		msg := fmt.Sprintf("%s request %s", label(e.Kind), e.Status)
		if e.NewBalance != nil {
			msg += fmt.Sprintf(", balance now %s", e.NewBalance.StringFixed(2))
		}
		return map[string]models.ActivityItem{e.AccountID: {Message: msg, RefID: e.RequestID}}, nil

	case events.PositionOpened:
		var e events.PositionOpenedEvent
		if err := events.DecodeData(event, &e); err != nil {
			return nil, err
		}
		return map[string]models.ActivityItem{
			e.AccountID: {Message: fmt.Sprintf("Opened %s position %s for %s", e.Kind, e.Ref, e.Amount.StringFixed(2)), RefID: e.PositionID},
		}, nil

	case events.BalanceAdjusted:
		var e events.BalanceAdjustedEvent
		if err := events.DecodeData(event, &e); err != nil {
			return nil, err
		}
		return map[string]models.ActivityItem{
			e.AccountID: {Message: fmt.Sprintf("Balance adjusted by %s to %s", e.Change.StringFixed(2), e.NewBalance.StringFixed(2))},
		}, nil

	case events.TradingPermitted:
		var e events.TradingPermissionEvent
		if err := events.DecodeData(event, &e); err != nil {
			return nil, err
		}
		msg := "Trading disabled"
		if e.Enabled {
			msg = "Trading enabled"
		}
		return map[string]models.ActivityItem{e.AccountID: {Message: msg}}, nil
	}

	p.log.WithField("event", event.Type).Debug("no activity for event")
	return nil, nil
}

func label(kind string) string {
	switch models.RequestKind(kind) {
	case models.KindDeposit:
		return "Deposit"
	case models.KindWithdrawal:
		return "Withdrawal"
	case models.KindCredit:
		return "Credit"
	case models.KindKYC:
		return "KYC"
	}
	return kind
}
