// Copyright 2026 MatchKeep Contributors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"database/sql"
	"fmt"
	"sync"
)

// tableColumns caches PRAGMA table_info results per store. The cache lives on
// the Store rather than in a package-level singleton so separate stores (and
// tests) never observe each other's schema.
type tableColumns struct {
	cache map[string][]string
	sets  map[string]map[string]struct{}
	mutex sync.RWMutex
}

func (s *Store) columns(table string) ([]string, error) {
	s.cols.mutex.RLock()
	if names, ok := s.cols.cache[table]; ok {
		s.cols.mutex.RUnlock()
		return names, nil
	}
	s.cols.mutex.RUnlock()

	s.cols.mutex.Lock()
	defer s.cols.mutex.Unlock()
	if names, ok := s.cols.cache[table]; ok {
		return names, nil
	}

	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to get table info for %s: %w", table, err)
	}
	defer rows.Close()

	var names []string
	set := make(map[string]struct{})
	for rows.Next() {
		var cid, notNull, pk int
		var name, declaredType string
		var defaultValue sql.NullString
		if err := rows.Scan(&cid, &name, &declaredType, &notNull, &defaultValue, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		names = append(names, name)
		set[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("table %s does not exist", table)
	}

	s.cols.cache[table] = names
	s.cols.sets[table] = set
	return names, nil
}

func (s *Store) hasColumn(table, column string) (bool, error) {
	if _, err := s.columns(table); err != nil {
		return false, err
	}
	s.cols.mutex.RLock()
	defer s.cols.mutex.RUnlock()
	_, ok := s.cols.sets[table][column]
	return ok, nil
}
