package sqlite

import (
	"database/sql"
	"encoding/json"

	"mixbridge/internal/domain"
)

// ============================================================================
// Null Type Conversion Helpers
// ============================================================================

// nullToString safely converts sql.NullString to string
func nullToString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// stringToNull safely converts string to sql.NullString
func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// intToNull stores zero as NULL
func intToNull(n int) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(n), Valid: true}
}

// ============================================================================
// JSON Marshaling Helpers
// ============================================================================

// unmarshalJSONField safely unmarshals JSON from nullable string into target
func unmarshalJSONField(ns sql.NullString, target interface{}) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), target)
}

// marshalValues stores empty value maps as NULL
func marshalValues(values map[string][]float64) (sql.NullString, error) {
	if len(values) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// ============================================================================
// Row Scanners
// ============================================================================
//
// Column order must match between the *Columns constant, scanArgs() and
// every SELECT using it.

const endpointColumns = `id, protocol, host, port, capacity`

type endpointRow struct {
	ID       string
	Protocol string
	Host     sql.NullString
	Port     sql.NullInt64
	Capacity int
}

func (r *endpointRow) scanArgs() []interface{} {
	return []interface{}{&r.ID, &r.Protocol, &r.Host, &r.Port, &r.Capacity}
}

func (r *endpointRow) toDomain() domain.Endpoint {
	return domain.Endpoint{
		ID:       domain.EndpointID(r.ID),
		Protocol: domain.ProtocolID(r.Protocol),
		Host:     nullToString(r.Host),
		Port:     int(r.Port.Int64),
		Capacity: r.Capacity,
	}
}

const entityColumns = `id, kind, address, coms_mode, name, param_values`

type entityRow struct {
	ID         int64
	Kind       string
	Address    int
	ComsMode   int
	Name       sql.NullString
	ValuesJSON sql.NullString
}

func (r *entityRow) scanArgs() []interface{} {
	return []interface{}{&r.ID, &r.Kind, &r.Address, &r.ComsMode, &r.Name, &r.ValuesJSON}
}

func (r *entityRow) toDomain() (domain.Entity, error) {
	e := domain.Entity{
		ID:       domain.ProcessorID(r.ID),
		Kind:     domain.ProcessorKind(r.Kind),
		Address:  r.Address,
		ComsMode: domain.ComsMode(r.ComsMode),
		Name:     nullToString(r.Name),
	}
	if err := unmarshalJSONField(r.ValuesJSON, &e.Values); err != nil {
		return domain.Entity{}, err
	}
	return e, nil
}

func entityInsertArgs(e domain.Entity) ([]interface{}, error) {
	values, err := marshalValues(e.Values)
	if err != nil {
		return nil, err
	}
	return []interface{}{int64(e.ID), string(e.Kind), e.Address, int(e.ComsMode), stringToNull(e.Name), values}, nil
}
