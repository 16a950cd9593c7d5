package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"marcaje/internal/attendance"
	"marcaje/internal/config"
)

// OpenRepository connects the backend named by cfg.StoreBackend and returns
// the repository together with a function that releases its connections.
func OpenRepository(ctx context.Context, cfg config.App) (attendance.Repository, func(context.Context) error, error) {
	switch cfg.StoreBackend {
	case "postgres", "":
		db, err := NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		log.Info().Msg("postgres store ready")
		return attendance.NewPostgresRepository(db), func(context.Context) error { return db.Close() }, nil

	case "mongo":
		mdb, err := NewMongo(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		repo := attendance.NewMongoRepository(mdb)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = mdb.Client().Disconnect(ctx)
			return nil, nil, fmt.Errorf("mongo indexes: %w", err)
		}
		log.Info().Str("database", cfg.MongoDB).Msg("mongo store ready")
		return repo, mdb.Client().Disconnect, nil

	case "memory":
		log.Warn().Msg("using in-memory store; data is lost on restart")
		return attendance.NewMemoryRepository(), func(context.Context) error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
}
