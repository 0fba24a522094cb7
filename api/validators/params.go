package validators

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/evrent-backend/pkg/errors"
	"github.com/angelmondragon/evrent-backend/pkg/pagination"
)

// ParseUUIDParam reads a chi path parameter as a uuid.
func ParseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, name+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name)
	}
	return id, nil
}

// IntRange describes an optional integer query parameter.
type IntRange struct {
	Default, Min, Max int
}

// QueryInt reads ?key= within the bounds of rng. A missing value yields the
// default; a repeated one is rejected.
func QueryInt(r *http.Request, key string, rng IntRange) (int, error) {
	values := r.URL.Query()[key]
	switch len(values) {
	case 0:
		return rng.Default, nil
	case 1:
	default:
		return 0, fieldError(key, "must be given once")
	}
	raw := strings.TrimSpace(values[0])
	if raw == "" {
		return rng.Default, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fieldError(key, "must be an integer")
	}
	if n < rng.Min || n > rng.Max {
		return 0, fieldError(key, "must be between "+strconv.Itoa(rng.Min)+" and "+strconv.Itoa(rng.Max))
	}
	return n, nil
}

// ParsePagination reads ?limit= and ?cursor=. The cursor is decoded later by
// the service, which owns the sort key.
func ParsePagination(r *http.Request) (pagination.Params, error) {
	limit, err := QueryInt(r, "limit", IntRange{Default: pagination.DefaultLimit, Min: 1, Max: pagination.MaxLimit})
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{
		Limit:  limit,
		Cursor: SanitizeString(r.URL.Query().Get("cursor"), 256),
	}, nil
}

func fieldError(field, msg string) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid query parameter").
		WithDetails(map[string]string{field: msg})
}
