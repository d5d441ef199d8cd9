package store

import (
	"context"
	"fmt"
)

// DefaultLanguages are the locales shipped with the dashboard.
var DefaultLanguages = []Language{
	{Code: "fr", Name: "Français", ISOCode: "fr", Status: true},
	{Code: "en", Name: "English", ISOCode: "us", Status: true},
}

func (s *Store) SeedLanguages(ctx context.Context, languages []Language) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM languages;`); err != nil {
		return fmt.Errorf("truncate languages: %w", err)
	}
	for _, language := range languages {
		if _, err := tx.ExecContext(ctx, `INSERT INTO languages (code, name, iso_code, status) VALUES (?, ?, ?, ?);`,
			language.Code, language.Name, language.ISOCode, language.Status); err != nil {
			return fmt.Errorf("insert language: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit languages: %w", err)
	}
	return nil
}

func (s *Store) ListLanguages(ctx context.Context) ([]Language, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, name, iso_code, status FROM languages WHERE status = 1 ORDER BY rowid;`)
	if err != nil {
		return nil, fmt.Errorf("list languages: %w", err)
	}
	defer rows.Close()

	var languages []Language
	for rows.Next() {
		var language Language
		if err := rows.Scan(&language.Code, &language.Name, &language.ISOCode, &language.Status); err != nil {
			return nil, fmt.Errorf("list languages: %w", err)
		}
		languages = append(languages, language)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list languages: %w", err)
	}
	return languages, nil
}
