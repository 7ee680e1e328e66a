// Package inventory is the admission-control gate for daily lunch orders:
// one capacity record per calendar date, orders claim portions against it.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ms-lunch/internal/identity"
	"ms-lunch/internal/logger"
	"ms-lunch/internal/models"
)

type DBLayer interface {
	EnsureDay(ctx context.Context, date string) (*models.Day, error)
	DayByDate(ctx context.Context, date string) (*models.Day, error)
	DayByID(ctx context.Context, id string) (*models.Day, error)
	ListDays(ctx context.Context) ([]models.Day, error)
	UpdateQuantity(ctx context.Context, dayID string, quantity int) error
	UpdateMenu(ctx context.Context, dayID string, menu string) error
	OrderedQuantity(ctx context.Context, dayID string) (int, error)
	InsertOrderChecked(ctx context.Context, order *models.Order, capacity int) error
	OrdersForDay(ctx context.Context, dayID string) ([]models.Order, error)
	OrderByID(ctx context.Context, id string) (*models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order) error
	DeleteOrder(ctx context.Context, id string) error
}

type EventPublisher interface {
	PublishOrderCreated(order models.Order) error
}

type InfoCache interface {
	GetTodayInfo(ctx context.Context) (*models.DayInfo, bool)
	SetTodayInfo(ctx context.Context, info *models.DayInfo)
	Invalidate(ctx context.Context)
}

type Service struct {
	DB     DBLayer
	Events EventPublisher
	Cache  InfoCache
	log    *logger.Logger
}

func NewService(db DBLayer, events EventPublisher, cache InfoCache, log *logger.Logger) *Service {
	return &Service{DB: db, Events: events, Cache: cache, log: log}
}

// DateString renders a time as the calendar-date key used by day records.
func DateString(t time.Time) string {
	return t.Format("2006-01-02")
}

// EnsureToday returns today's day record, creating it lazily on first
// access.
func (s *Service) EnsureToday(ctx context.Context) (*models.Day, error) {
	return s.DB.EnsureDay(ctx, DateString(time.Now()))
}

// TodayInfo returns today's menu, capacity and remaining stock.
func (s *Service) TodayInfo(ctx context.Context) (*models.DayInfo, error) {
	if s.Cache != nil {
		if info, ok := s.Cache.GetTodayInfo(ctx); ok {
			return info, nil
		}
	}

	day, err := s.EnsureToday(ctx)
	if err != nil {
		return nil, err
	}

	info, err := s.dayInfo(ctx, day)
	if err != nil {
		return nil, err
	}

	if s.Cache != nil {
		s.Cache.SetTodayInfo(ctx, info)
	}
	return info, nil
}

func (s *Service) dayInfo(ctx context.Context, day *models.Day) (*models.DayInfo, error) {
	ordered, err := s.DB.OrderedQuantity(ctx, day.ID)
	if err != nil {
		return nil, err
	}

	remaining := day.Quantity - ordered
	if remaining < 0 {
		remaining = 0
	}

	return &models.DayInfo{
		ID:        day.ID,
		Date:      day.Date,
		Menu:      day.MenuPayload(),
		Quantity:  day.Quantity,
		Ordered:   ordered,
		Remaining: remaining,
		Price:     day.Price,
	}, nil
}

// Remaining returns a day's unclaimed portions, floored at zero.
func (s *Service) Remaining(ctx context.Context, dayID string) (int, error) {
	day, err := s.DB.DayByID(ctx, dayID)
	if err != nil {
		return 0, err
	}
	ordered, err := s.DB.OrderedQuantity(ctx, day.ID)
	if err != nil {
		return 0, err
	}
	remaining := day.Quantity - ordered
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// AdmitOrder validates and admits a new order against today's capacity.
// The capacity check and the insert run in one database transaction, so
// concurrent submissions for the last portion cannot both succeed.
func (s *Service) AdmitOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	name := identity.Normalize(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: customer name is required", models.ErrInvalidInput)
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", models.ErrInvalidInput)
	}

	day, err := s.EnsureToday(ctx)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:           uuid.New().String(),
		DayID:        day.ID,
		CustomerName: name,
		MatchKey:     identity.MatchKey(name),
		Quantity:     req.Quantity,
		Description:  req.Description,
		CreatedAt:    time.Now(),
	}

	if err := s.DB.InsertOrderChecked(ctx, order, day.Quantity); err != nil {
		return nil, err
	}

	s.log.LogOrder("ADMIT", name, fmt.Sprintf("%d portion(s) on %s", order.Quantity, day.Date))

	if s.Cache != nil {
		s.Cache.Invalidate(ctx)
	}
	if s.Events != nil {
		if err := s.Events.PublishOrderCreated(*order); err != nil {
			s.log.Error("KAFKA", fmt.Sprintf("Failed to publish order created event: %v", err))
		}
	}

	return order, nil
}

// TodayOrders lists today's orders oldest-first.
func (s *Service) TodayOrders(ctx context.Context) ([]models.Order, error) {
	day, err := s.EnsureToday(ctx)
	if err != nil {
		return nil, err
	}
	return s.DB.OrdersForDay(ctx, day.ID)
}

// SetQuantity is the admin capacity override. It takes effect immediately
// and keeps no history.
func (s *Service) SetQuantity(ctx context.Context, dayID string, quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("%w: quantity must not be negative", models.ErrInvalidInput)
	}
	if err := s.DB.UpdateQuantity(ctx, dayID, quantity); err != nil {
		return err
	}
	if s.Cache != nil {
		s.Cache.Invalidate(ctx)
	}
	return nil
}

// SetMenu is the admin menu override; the payload is stored opaquely.
func (s *Service) SetMenu(ctx context.Context, dayID string, menu string) error {
	if menu == "" {
		return fmt.Errorf("%w: menu must not be empty", models.ErrInvalidInput)
	}
	if err := s.DB.UpdateMenu(ctx, dayID, menu); err != nil {
		return err
	}
	if s.Cache != nil {
		s.Cache.Invalidate(ctx)
	}
	return nil
}

// AllDays returns every day with its order totals, newest first.
func (s *Service) AllDays(ctx context.Context) ([]models.DayInfo, error) {
	days, err := s.DB.ListDays(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]models.DayInfo, 0, len(days))
	for i := range days {
		info, err := s.dayInfo(ctx, &days[i])
		if err != nil {
			return nil, err
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

// DayDetails returns one day's info plus its order list.
func (s *Service) DayDetails(ctx context.Context, date string) (*models.DayDetails, error) {
	day, err := s.DB.DayByDate(ctx, date)
	if err != nil {
		return nil, err
	}

	info, err := s.dayInfo(ctx, day)
	if err != nil {
		return nil, err
	}

	orders, err := s.DB.OrdersForDay(ctx, day.ID)
	if err != nil {
		return nil, err
	}

	return &models.DayDetails{Day: *info, Orders: orders}, nil
}

// EditOrder applies an admin correction to an existing order.
func (s *Service) EditOrder(ctx context.Context, id string, update models.OrderUpdate) (*models.Order, error) {
	order, err := s.DB.OrderByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		name := identity.Normalize(*update.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: customer name is required", models.ErrInvalidInput)
		}
		order.CustomerName = name
		order.MatchKey = identity.MatchKey(name)
	}
	if update.Quantity != nil {
		if *update.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive", models.ErrInvalidInput)
		}
		order.Quantity = *update.Quantity
	}
	if update.Description != nil {
		order.Description = *update.Description
	}

	if err := s.DB.UpdateOrder(ctx, order); err != nil {
		return nil, err
	}

	if s.Cache != nil {
		s.Cache.Invalidate(ctx)
	}
	return order, nil
}

// DeleteOrder removes an order entirely, releasing its portions.
func (s *Service) DeleteOrder(ctx context.Context, id string) error {
	if err := s.DB.DeleteOrder(ctx, id); err != nil {
		return err
	}
	if s.Cache != nil {
		s.Cache.Invalidate(ctx)
	}
	return nil
}
