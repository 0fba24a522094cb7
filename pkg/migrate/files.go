package migrate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

var (
	fileNameRe  = regexp.MustCompile(`^(\d{14})_([a-z0-9]+(?:_[a-z0-9]+)*)\.sql$`)
	nonSlugRe   = regexp.MustCompile(`[^a-z0-9]+`)
	errNoUp     = errors.New(`missing "-- +goose Up"`)
	errNoDown   = errors.New(`missing "-- +goose Down"`)
	errUnpaired = errors.New("unbalanced StatementBegin/StatementEnd")
)

// Validate checks every .sql file in fsys: a 14-digit version prefix, a
// snake_case name, unique versions, both directions, and paired statement blocks.
func Validate(fsys fs.FS) error {
	files, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return errors.New("no migrations found")
	}
	seen := make(map[string]string, len(files))
	for _, name := range files {
		m := fileNameRe.FindStringSubmatch(name)
		if m == nil {
			return fmt.Errorf("migration %q: expected YYYYMMDDHHMMSS_snake_name.sql", name)
		}
		if prev, dup := seen[m[1]]; dup {
			return fmt.Errorf("migration %q reuses version %s from %q", name, m[1], prev)
		}
		seen[m[1]] = name

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read %q: %w", name, err)
		}
		if err := checkBody(string(body)); err != nil {
			return fmt.Errorf("migration %q: %w", name, err)
		}
	}
	return nil
}

func checkBody(sql string) error {
	up := strings.Index(sql, "-- +goose Up")
	down := strings.Index(sql, "-- +goose Down")
	switch {
	case up < 0:
		return errNoUp
	case down < 0:
		return errNoDown
	case down < up:
		return errors.New("down section precedes up")
	}
	if strings.Count(sql, "-- +goose StatementBegin") != strings.Count(sql, "-- +goose StatementEnd") {
		return errUnpaired
	}
	return nil
}

// Create writes an empty migration into dir and returns its path. The version is
// the current UTC second, bumped past the newest existing file so two quick
// invocations never collide.
func Create(dir, name string, now time.Time) (string, error) {
	slug := strings.Trim(nonSlugRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "", fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %q: %w", dir, err)
	}

	version := now.UTC()
	if latest, ok, err := latestVersion(dir); err != nil {
		return "", err
	} else if ok && !version.After(latest) {
		version = latest.Add(time.Second)
	}

	path := filepath.Join(dir, version.Format(versionLayout)+"_"+slug+".sql")
	body := "-- +goose Up\n-- +goose StatementBegin\n\n-- +goose StatementEnd\n\n" +
		"-- +goose Down\n-- +goose StatementBegin\n\n-- +goose StatementEnd\n"
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(body); err != nil {
		return "", fmt.Errorf("write migration: %w", err)
	}
	return path, nil
}

func latestVersion(dir string) (time.Time, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read %q: %w", dir, err)
	}
	var versions []int64
	for _, e := range entries {
		if m := fileNameRe.FindStringSubmatch(e.Name()); m != nil {
			v, _ := strconv.ParseInt(m[1], 10, 64)
			versions = append(versions, v)
		}
	}
	if len(versions) == 0 {
		return time.Time{}, false, nil
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	t, err := time.Parse(versionLayout, strconv.FormatInt(versions[len(versions)-1], 10))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse version: %w", err)
	}
	return t, true, nil
}
