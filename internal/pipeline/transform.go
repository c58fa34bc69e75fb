package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/weather-etl/internal/domain"
)

// WeatherTransformer implements Transformer using the domain transform.
type WeatherTransformer struct {
	logger *slog.Logger
}

// NewTransformer creates a WeatherTransformer.
func NewTransformer(logger *slog.Logger) *WeatherTransformer {
	return &WeatherTransformer{logger: logger}
}

func (t *WeatherTransformer) Transform(_ context.Context, raw []byte) (domain.WeatherRecord, error) {
	rec, err := domain.TransformJSON(raw)
	if err != nil {
		return domain.WeatherRecord{}, err
	}
	t.logger.Debug("weather payload transformed",
		"city", rec.City,
		"description", rec.Description,
		"time_of_record", rec.TimeOfRecord,
	)
	return rec, nil
}
