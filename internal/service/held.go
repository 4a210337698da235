package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"etalase/backend/internal/domain"
	"etalase/backend/internal/store"
	"etalase/backend/internal/xid"
)

func (s *Service) HoldOrder(ctx context.Context, req domain.HoldOrderRequest) (domain.HeldOrderResponse, error) {
	req.TerminalID = strings.TrimSpace(req.TerminalID)
	req.Note = strings.TrimSpace(req.Note)
	if req.TerminalID == "" {
		return domain.HeldOrderResponse{}, store.ErrInvalidRequest
	}
	lines, err := normalizeLines(req.Lines)
	if err != nil {
		return domain.HeldOrderResponse{}, err
	}
	if len(lines) == 0 {
		return domain.HeldOrderResponse{}, store.ErrInvalidRequest
	}

	actor, _ := ActorFromContext(ctx)
	order := domain.HeldOrder{
		ID:              xid.New("hold"),
		Outlet:          req.Outlet,
		TerminalID:      req.TerminalID,
		CashierUsername: actor.Username,
		Note:            req.Note,
		Lines:           lines,
		HeldAt:          s.clock().UTC(),
	}
	if err := s.held.Save(ctx, order, s.heldTTL); err != nil {
		return domain.HeldOrderResponse{}, err
	}

	s.logAudit(ctx, "order_hold", "held_order", order.ID, fmt.Sprintf("outlet=%s,terminal=%s,lines=%d", order.Outlet.Key(), order.TerminalID, len(order.Lines)))
	return domain.HeldOrderResponse{HeldOrder: order}, nil
}

func (s *Service) ListHeldOrders(ctx context.Context, outlet domain.OutletScope, terminalID string) (domain.HeldOrderListResponse, error) {
	items, err := s.held.List(ctx, outlet, strings.TrimSpace(terminalID))
	if err != nil {
		return domain.HeldOrderListResponse{}, err
	}
	if items == nil {
		items = []domain.HeldOrder{}
	}
	return domain.HeldOrderListResponse{Items: items}, nil
}

// ResumeHeldOrder takes the order off hold and prices it against current
// stock and promos. Stale is set when the cart can no longer be sold as held.
func (s *Service) ResumeHeldOrder(ctx context.Context, id string) (domain.ResumeHeldOrderResponse, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.ResumeHeldOrderResponse{}, store.ErrInvalidRequest
	}

	order, err := s.held.Take(ctx, id)
	if err != nil {
		return domain.ResumeHeldOrderResponse{}, err
	}

	snap, err := s.snapshot(ctx, order.Outlet)
	if err != nil {
		if saveErr := s.held.Save(ctx, *order, s.heldTTL); saveErr != nil {
			s.logger.Error("restore held order failed", zap.String("held_order_id", order.ID), zap.Error(saveErr))
		}
		return domain.ResumeHeldOrderResponse{}, err
	}

	quote := quoteCart(snap, order.Lines, s.now())
	s.logAudit(ctx, "order_resume", "held_order", order.ID, fmt.Sprintf("lines=%d,stale=%t", len(order.Lines), !quote.AllAvailable))
	return domain.ResumeHeldOrderResponse{
		HeldOrder: *order,
		Quote:     quote,
		Stale:     !quote.AllAvailable,
	}, nil
}

func (s *Service) DiscardHeldOrder(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return store.ErrInvalidRequest
	}
	if err := s.held.Delete(ctx, id); err != nil {
		return err
	}

	s.logAudit(ctx, "order_discard", "held_order", id, "discarded")
	return nil
}
