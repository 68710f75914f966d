package database

import (
	"database/sql"
	"time"

	"github.com/jgoulah/gridcache/internal/interval"
	"github.com/jgoulah/gridcache/pkg/models"
)

type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return interval.Format(t)
}

func channelOrDefault(channel string) string {
	if channel == "" {
		return models.DefaultChannel
	}
	return channel
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
