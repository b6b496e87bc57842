package builder

import "github.com/Egham-7/letterpress/internal/models"

func (b *Builder) WithDatabase(cfg models.DatabaseConfig) *Builder {
	b.cfg.Database = &cfg
	return b
}

// WithAnalytics mirrors ledger entries into a ClickHouse database.
func (b *Builder) WithAnalytics(cfg models.DatabaseConfig, workers int) *Builder {
	cfg.Type = models.ClickHouse
	b.cfg.Analytics = &models.AnalyticsConfig{Database: cfg, Workers: workers}
	return b
}

func (b *Builder) WithRedis(url string) *Builder {
	if b.cfg.Redis == nil {
		b.cfg.Redis = &models.RedisConfig{}
	}
	b.cfg.Redis.URL = url
	return b
}
