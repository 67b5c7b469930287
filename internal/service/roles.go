package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/shopbot/internal/model"
)

// IsAdmin сообщает, является ли пользователь администратором.
func (s *Service) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	return s.repo.HasRole(ctx, userID, model.RoleAdmin)
}

func (s *Service) requireAdmin(ctx context.Context, actorID int64) error {
	ok, err := s.repo.HasRole(ctx, actorID, model.RoleAdmin)
	if err != nil {
		return fmt.Errorf("check admin role: %w", err)
	}
	if !ok {
		return model.ErrForbidden
	}
	return nil
}

// EnsureAdmin выдаёт роль администратора пользователю из конфигурации при старте.
func (s *Service) EnsureAdmin(ctx context.Context, userID int64) error {
	if userID == 0 {
		return nil
	}
	if _, err := s.repo.UpsertUser(ctx, userID, ""); err != nil {
		return fmt.Errorf("register bootstrap admin: %w", err)
	}
	if err := s.repo.GrantRole(ctx, userID, model.RoleAdmin); err != nil {
		return fmt.Errorf("grant bootstrap admin: %w", err)
	}
	return nil
}

// AddAdmin выдаёт роль администратора.
func (s *Service) AddAdmin(ctx context.Context, actorID, userID int64) error {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return err
	}
	if err := s.repo.GrantRole(ctx, userID, model.RoleAdmin); err != nil {
		return err
	}
	s.logger.Info("admin added", zap.Int64("user_id", userID), zap.Int64("actor_id", actorID))
	return nil
}

// RemoveAdmin отзывает роль администратора. Администратор не может снять роль с себя.
func (s *Service) RemoveAdmin(ctx context.Context, actorID, userID int64) error {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return err
	}
	if actorID == userID {
		return fmt.Errorf("%w: cannot remove own admin role", model.ErrValidation)
	}
	if err := s.repo.RevokeRole(ctx, userID, model.RoleAdmin); err != nil {
		return err
	}
	s.logger.Info("admin removed", zap.Int64("user_id", userID), zap.Int64("actor_id", actorID))
	return nil
}

// AddCourier регистрирует пользователя курьером или обновляет его данные.
func (s *Service) AddCourier(ctx context.Context, actorID int64, c model.Courier) (*model.Courier, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	u, err := s.repo.GetUser(ctx, c.UserID)
	if err != nil {
		return nil, err
	}
	if c.Username == "" {
		c.Username = u.Username
	}
	c.IsActive = true

	res, err := s.repo.UpsertCourier(ctx, c)
	if err != nil {
		return nil, err
	}
	s.logger.Info("courier added", zap.Int64("user_id", c.UserID), zap.Int64("courier_id", res.ID))
	return res, nil
}

// SetCourierActive включает или отключает курьера. Отключённый курьер не получает новые заказы.
func (s *Service) SetCourierActive(ctx context.Context, actorID, userID int64, active bool) error {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return err
	}
	return s.repo.SetCourierActive(ctx, userID, active)
}

// ListCouriers возвращает активных курьеров.
func (s *Service) ListCouriers(ctx context.Context, actorID int64) ([]model.Courier, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	return s.repo.ActiveCouriers(ctx)
}

// BanUser блокирует пользователя.
func (s *Service) BanUser(ctx context.Context, actorID, userID int64) error {
	return s.setBanned(ctx, actorID, userID, true)
}

// UnbanUser снимает блокировку пользователя.
func (s *Service) UnbanUser(ctx context.Context, actorID, userID int64) error {
	return s.setBanned(ctx, actorID, userID, false)
}

func (s *Service) setBanned(ctx context.Context, actorID, userID int64, banned bool) error {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return err
	}
	if err := s.repo.SetUserBanned(ctx, userID, banned); err != nil {
		return err
	}
	s.logger.Info("user ban changed", zap.Int64("user_id", userID), zap.Bool("banned", banned))
	return nil
}

// LoyaltyOverride содержит новые значения профиля лояльности.
type LoyaltyOverride struct {
	Stamps              int
	Level               model.LoyaltyLevel
	TotalItemsPurchased int
}

// OverrideLoyalty перезаписывает профиль лояльности пользователя.
func (s *Service) OverrideLoyalty(ctx context.Context, actorID, userID int64, o LoyaltyOverride) (model.LoyaltyCard, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return model.LoyaltyCard{}, err
	}
	if o.Stamps < 0 || o.Stamps > 5 {
		return model.LoyaltyCard{}, fmt.Errorf("%w: stamps must be in 0..5", model.ErrValidation)
	}
	if !o.Level.Valid() {
		return model.LoyaltyCard{}, fmt.Errorf("%w: unknown loyalty level %q", model.ErrValidation, o.Level)
	}
	if o.TotalItemsPurchased < 0 {
		return model.LoyaltyCard{}, fmt.Errorf("%w: total items must not be negative", model.ErrValidation)
	}

	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return model.LoyaltyCard{}, err
	}
	u.Stamps = o.Stamps
	u.LoyaltyLevel = o.Level
	u.TotalItemsPurchased = o.TotalItemsPurchased

	if err := s.repo.UpdateUserLoyalty(ctx, *u); err != nil {
		return model.LoyaltyCard{}, err
	}
	s.logger.Info("loyalty overridden",
		zap.Int64("user_id", userID),
		zap.Int64("actor_id", actorID),
		zap.Int("stamps", o.Stamps),
		zap.String("level", string(o.Level)),
	)
	return s.GetLoyalty(ctx, userID)
}
