package builder

import (
	"github.com/Egham-7/letterpress/internal/config"
	"github.com/Egham-7/letterpress/internal/models"
	"github.com/gofiber/fiber/v2"
)

// FromYAML loads envFiles (first wins) and then the YAML config at path.
func FromYAML(path string, envFiles []string) (*Builder, error) {
	if len(envFiles) > 0 {
		config.LoadEnvFiles(envFiles)
	}

	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	return builderFromConfig(cfg), nil
}

func builderFromConfig(cfg *config.Config) *Builder {
	if cfg.Credits.Costs == nil {
		cfg.Credits.Costs = make(map[models.OperationType]int64)
	}
	if cfg.Credits.Tiers == nil {
		cfg.Credits.Tiers = make(map[string]int64)
	}
	return &Builder{
		cfg:         cfg,
		middlewares: []fiber.Handler{},
	}
}
