package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// Connect establishes a connection to the database
func Connect(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)

	return &DB{db}, nil
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(migrationsDir string) error {
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	// Filter and sort SQL files
	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		fmt.Printf("Running migration: %s\n", filename)

		filePath := filepath.Join(migrationsDir, filename)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	fmt.Println("All migrations completed successfully")
	return nil
}

// upsertDailyAQIQuery takes the average as float8 ($3) and the extremes as
// int4 ($4). Each parameter keeps a single type across its uses.
const upsertDailyAQIQuery = `
		INSERT INTO daily_aqi (location, date, avg_aqi, min_aqi, max_aqi, sample_count)
		VALUES ($1, $2::date, $3::double precision, $4::integer, $4::integer, 1)
		ON CONFLICT (location, date) DO UPDATE
		SET avg_aqi = (daily_aqi.avg_aqi * daily_aqi.sample_count + EXCLUDED.avg_aqi)
		              / (daily_aqi.sample_count + 1),
		    min_aqi = LEAST(daily_aqi.min_aqi, EXCLUDED.min_aqi),
		    max_aqi = GREATEST(daily_aqi.max_aqi, EXCLUDED.max_aqi),
		    sample_count = daily_aqi.sample_count + 1,
		    updated_at = CURRENT_TIMESTAMP
	`

// UpsertDailyAQI folds one reading into the location's running daily
// average.
func (db *DB) UpsertDailyAQI(ctx context.Context, location string, day time.Time, value int) error {
	if _, err := db.ExecContext(ctx, upsertDailyAQIQuery, location, day.Format(DateLayout), float64(value), value); err != nil {
		return fmt.Errorf("failed to upsert daily aqi for %s: %w", location, err)
	}
	return nil
}

// GetDailyAQI returns a location's daily aggregates for from..to inclusive,
// oldest first. Days without readings are absent.
func (db *DB) GetDailyAQI(ctx context.Context, location string, from, to time.Time) ([]*DailyAQI, error) {
	query := `
		SELECT location, date, avg_aqi, min_aqi, max_aqi, sample_count, updated_at
		FROM daily_aqi
		WHERE location = $1 AND date BETWEEN $2::date AND $3::date
		ORDER BY date
	`

	rows, err := db.QueryContext(ctx, query, location, from.Format(DateLayout), to.Format(DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily aqi: %w", err)
	}
	defer rows.Close()

	var days []*DailyAQI
	for rows.Next() {
		var d DailyAQI
		if err := rows.Scan(
			&d.Location,
			&d.Date,
			&d.AvgAQI,
			&d.MinAQI,
			&d.MaxAQI,
			&d.SampleCount,
			&d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		days = append(days, &d)
	}

	return days, rows.Err()
}

// DeleteDailyAQIBefore removes aggregates older than cutoff and returns the
// number of rows removed.
func (db *DB) DeleteDailyAQIBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM daily_aqi WHERE date < $1::date`, cutoff.Format(DateLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old daily aqi: %w", err)
	}
	return result.RowsAffected()
}
