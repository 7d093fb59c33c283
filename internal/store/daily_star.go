package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/starchart/internal/model"
)

// DailyStarStore is the hub-side daily_stars table.
type DailyStarStore struct {
	db *sql.DB
}

func NewDailyStarStore(db *sql.DB) *DailyStarStore {
	return &DailyStarStore{db: db}
}

const dailyStarCols = `child_id, day_date, star_area_id, stars, reason, updated_at`

// updatedAtLayout is fixed width so stored timestamps compare as text.
const updatedAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

func scanDailyStar(scanner interface{ Scan(...any) error }) (*model.DailyStarRow, error) {
	var r model.DailyStarRow
	var area, updatedAt string

	err := scanner.Scan(&r.ChildID, &r.DayDate, &area, &r.Stars, &r.Reason, &updatedAt)
	if err != nil {
		return nil, err
	}

	r.StarAreaID = model.StarArea(area)
	r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at %q: %w", updatedAt, err)
	}
	return &r, nil
}

// Upsert inserts the row or, when it is strictly newer, overwrites the
// existing row with the same (child_id, day_date, star_area_id). It returns
// the stored row and whether this write changed it.
func (s *DailyStarStore) Upsert(r model.DailyStarRow) (*model.DailyStarRow, bool, error) {
	res, err := s.db.Exec(
		`INSERT INTO daily_stars (`+dailyStarCols+`) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(child_id, day_date, star_area_id) DO UPDATE SET
		   stars = excluded.stars,
		   reason = excluded.reason,
		   updated_at = excluded.updated_at
		 WHERE excluded.updated_at > daily_stars.updated_at`,
		r.ChildID, r.DayDate, string(r.StarAreaID), r.Stars, r.Reason, r.UpdatedAt.UTC().Format(updatedAtLayout),
	)
	if err != nil {
		return nil, false, fmt.Errorf("upsert daily stars: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("upsert daily stars: %w", err)
	}
	saved, err := s.Get(r.ChildID, r.DayDate, r.StarAreaID)
	if err != nil {
		return nil, false, err
	}
	return saved, n > 0, nil
}

func (s *DailyStarStore) Get(childID, dayDate string, area model.StarArea) (*model.DailyStarRow, error) {
	row := s.db.QueryRow(
		`SELECT `+dailyStarCols+` FROM daily_stars WHERE child_id = ? AND day_date = ? AND star_area_id = ?`,
		childID, dayDate, string(area),
	)
	r, err := scanDailyStar(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get daily stars: %w", err)
	}
	return r, nil
}

// ListByChild returns every row for a child, oldest day first.
func (s *DailyStarStore) ListByChild(childID string) ([]model.DailyStarRow, error) {
	rows, err := s.db.Query(
		`SELECT `+dailyStarCols+` FROM daily_stars WHERE child_id = ? ORDER BY day_date ASC, star_area_id ASC`,
		childID,
	)
	if err != nil {
		return nil, fmt.Errorf("list daily stars: %w", err)
	}
	defer rows.Close()

	result := []model.DailyStarRow{}
	for rows.Next() {
		r, err := scanDailyStar(rows)
		if err != nil {
			return nil, fmt.Errorf("scan daily stars: %w", err)
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

// ListChildIDs returns the distinct children that have rows.
func (s *DailyStarStore) ListChildIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT child_id FROM daily_stars ORDER BY child_id`)
	if err != nil {
		return nil, fmt.Errorf("list child ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan child id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
