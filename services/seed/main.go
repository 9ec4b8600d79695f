// Seed creates the default dev accounts: two admin users and one regular
// user, each with a profile and a support chat.
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/supportchat/internal/config"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/repository"
	"github.com/supportchat/internal/startup"
)

var seedUsers = []struct {
	username string
	role     model.Role
}{
	{"visa", model.RoleVisaAdmin},
	{"mastercard", model.RoleMasterAdmin},
	{"user1", model.RoleUser},
}

func main() {
	logger.SetPrefix("seed")
	cfg := config.Load()

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	pool := startup.ConnectDBWithRetry(poolCfg, 30*time.Second, "seed: ")
	defer pool.Close()

	userRepo := repository.NewUserRepository(pool)
	chatRepo := repository.NewChatRepository(pool)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, su := range seedUsers {
		user, err := userRepo.GetByUsername(ctx, su.username)
		switch {
		case err == nil:
			logger.Infof("user %s already exists", su.username)
		case errors.Is(err, repository.ErrNotFound):
			user = &model.User{
				ID:        uuid.New().String(),
				Username:  su.username,
				CreatedAt: time.Now().UTC(),
			}
			if err := userRepo.Create(ctx, user); err != nil {
				logger.Errorf("create user %s: %v", su.username, err)
				os.Exit(1)
			}
			logger.Infof("created user %s", su.username)
		default:
			logger.Errorf("lookup user %s: %v", su.username, err)
			os.Exit(1)
		}

		profile := &model.Profile{
			ID:        uuid.New().String(),
			UserID:    user.ID,
			UserType:  su.role,
			CreatedAt: time.Now().UTC(),
		}
		if err := userRepo.CreateProfile(ctx, profile); err != nil {
			logger.Errorf("create profile %s: %v", su.username, err)
			os.Exit(1)
		}

		if _, err := chatRepo.GetOrCreate(ctx, user.ID); err != nil {
			logger.Errorf("create chat for %s: %v", su.username, err)
			os.Exit(1)
		}
	}
	logger.Info("seed complete")
}
